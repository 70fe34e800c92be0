package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/storage"
	"github.com/jo-hoe/mediascribe/internal/util"
)

var (
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrStorageWrite     = errors.New("storage write failed")
	ErrQueueUnavailable = errors.New("processing queue unavailable")
)

// QueueUnavailableReason is stored on jobs that could not be scheduled.
const QueueUnavailableReason = "queue unavailable"

// Dispatcher hands a job to the background pipeline without blocking.
type Dispatcher interface {
	Enqueue(item jobs.WorkItem) error
}

// Upload is one incoming media file.
type Upload struct {
	Kind        jobs.Kind
	Filename    string
	ContentType string
	Body        io.Reader
}

// Receipt is returned as soon as the job is scheduled.
type Receipt struct {
	JobID       string
	Filename    string
	ContentType string
	Size        int64
}

// Ingestor stores uploads, creates their job record and schedules them.
type Ingestor struct {
	Log        *slog.Logger
	Store      jobs.Store
	Uploader   *storage.Uploader
	Layout     storage.Layout
	Dispatcher Dispatcher

	newID func() string
	now   func() time.Time
}

func New(log *slog.Logger, store jobs.Store, uploader *storage.Uploader, layout storage.Layout, d Dispatcher) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		Log:        log,
		Store:      store,
		Uploader:   uploader,
		Layout:     layout,
		Dispatcher: d,
		newID:      util.NewID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates the media type before touching storage, persists the
// bytes, and only then creates the record. The pipeline is scheduled last;
// if that fails the record is marked failed and ErrQueueUnavailable returned
// together with the receipt.
func (in *Ingestor) Ingest(ctx context.Context, up Upload) (Receipt, error) {
	if up.Kind != jobs.KindAudio && up.Kind != jobs.KindVideo {
		return Receipt{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMediaType, up.Kind)
	}
	if up.Body == nil {
		return Receipt{}, fmt.Errorf("%w: empty body", ErrStorageWrite)
	}
	filename := filepath.Base(up.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = ""
	}

	mediaType, body, err := resolveMediaType(up.Kind, up.ContentType, filename, up.Body)
	if err != nil {
		return Receipt{}, err
	}

	id := in.newID()
	ext := storage.PickExtension(mediaType, filename)
	path := in.Layout.AudioPath(id, ext)
	if up.Kind == jobs.KindVideo {
		path = in.Layout.VideoPath(id, ext)
	}
	log := in.Log.With(common.LogKeyJobID, id, common.LogKeyKind, up.Kind)

	n, err := in.Uploader.Save(path, body)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	job := &jobs.Job{
		ID:               id,
		OriginalFilename: up.Filename,
		ContentType:      mediaType,
		Kind:             up.Kind,
		Status:           jobs.StatusUploaded,
		SourcePath:       path,
		CreatedAt:        in.now(),
	}
	if err := in.Store.CreateJob(ctx, job); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn("remove upload without record", common.LogKeyPath, path, common.LogKeyErr, rmErr)
		}
		return Receipt{}, fmt.Errorf("%w: create record: %w", ErrStorageWrite, err)
	}
	log.Info("upload stored", common.LogKeyPath, path, "bytes", n, "content_type", mediaType)

	receipt := Receipt{JobID: id, Filename: up.Filename, ContentType: mediaType, Size: n}
	if err := in.Dispatcher.Enqueue(jobs.WorkItem{JobID: id, Kind: up.Kind, SourcePath: path}); err != nil {
		log.Error("schedule job", common.LogKeyErr, err)
		if uErr := in.Store.UpdateStatus(context.WithoutCancel(ctx), id, jobs.StatusUpdate{
			Status:        jobs.StatusFailed,
			FailureReason: QueueUnavailableReason,
		}); uErr != nil {
			log.Error("mark unscheduled job failed", common.LogKeyErr, uErr)
		}
		return receipt, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return receipt, nil
}
