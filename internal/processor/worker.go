package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/config"
	"github.com/jo-hoe/mediascribe/internal/engine"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/media"
	"github.com/jo-hoe/mediascribe/internal/storage"
)

const (
	statusWriteTimeout = 10 * time.Second
	maxReasonLen       = 1000
)

// errRecordGone stops a pipeline whose job record disappeared.
var errRecordGone = errors.New("job record missing")

// Worker implements jobs.Processor. It owns every status write after a job
// has been created.
type Worker struct {
	Log       *slog.Logger
	Store     jobs.Store
	Engine    engine.Engine // nil when the engine failed to initialise
	Extractor media.Extractor
	Layout    storage.Layout
	Language  string
	TempExt   string // extension of audio extracted from video

	now func() time.Time
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, cfg *config.Config, store jobs.Store, eng engine.Engine, ex media.Extractor) *Worker {
	if log == nil {
		log = slog.Default()
	}
	ext := cfg.Extractor.Extension
	if ext == "" {
		ext = ".wav"
	}
	return &Worker{
		Log:       log,
		Store:     store,
		Engine:    eng,
		Extractor: ex,
		Layout:    storage.NewLayout(cfg.Server.StorageDir),
		Language:  cfg.Engine.Language,
		TempExt:   ext,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the pipeline matching item.Kind. A panic anywhere below is
// turned into a failed job.
func (w *Worker) Process(ctx context.Context, item jobs.WorkItem) (err error) {
	log := w.Log.With(common.LogKeyJobID, item.JobID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			err = w.fail(ctx, log, item.JobID, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	switch item.Kind {
	case jobs.KindAudio:
		return w.Transcribe(ctx, item.JobID, item.SourcePath)
	case jobs.KindVideo:
		return w.ProcessVideo(ctx, item.JobID, item.SourcePath)
	default:
		return w.fail(ctx, log, item.JobID, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind))
	}
}

// Transcribe moves jobID through processing to completed or failed.
// The returned error is the failure cause, already recorded on the job.
func (w *Worker) Transcribe(ctx context.Context, jobID, audioPath string) error {
	log := w.Log.With(common.LogKeyJobID, jobID)

	if err := w.update(ctx, log, jobID, jobs.StatusUpdate{Status: jobs.StatusProcessing}); err != nil {
		if errors.Is(err, errRecordGone) {
			return nil
		}
		return err
	}

	if w.Engine == nil {
		return w.fail(ctx, log, jobID, ErrEngineUnavailable)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return w.fail(ctx, log, jobID, fmt.Errorf("%w: %s", ErrMissingSourceFile, audioPath))
	}

	start := time.Now()
	res, err := w.Engine.Transcribe(ctx, audioPath, engine.Options{Language: w.Language})
	if err != nil {
		return w.fail(ctx, log, jobID, fmt.Errorf("%w: %w", ErrTranscription, err))
	}
	log.Info("transcription finished", common.LogKeyDuration, time.Since(start), "segments", len(res.Segments))

	path := w.Layout.TranscriptPath(jobID)
	if err := storage.WriteTranscript(path, w.artifact(jobID, res)); err != nil {
		return w.fail(ctx, log, jobID, err)
	}

	// The artifact is durable; only now may transcript_path become visible.
	err = w.update(ctx, log, jobID, jobs.StatusUpdate{Status: jobs.StatusCompleted, TranscriptPath: &path})
	if err != nil {
		w.removeArtifact(log, path)
		if errors.Is(err, errRecordGone) {
			return nil
		}
		return w.fail(ctx, log, jobID, fmt.Errorf("record completion: %w", err))
	}
	return nil
}

func (w *Worker) artifact(jobID string, res engine.Result) *storage.Transcript {
	segs := make([]storage.Segment, len(res.Segments))
	for i, s := range res.Segments {
		segs[i] = storage.Segment{Index: i, StartTime: s.Start, EndTime: s.End, Text: s.Text}
	}
	text := res.Text
	if text == "" {
		text = engine.JoinSegments(res.Segments)
	}
	return &storage.Transcript{
		JobID:     jobID,
		Text:      text,
		Language:  res.Language,
		Segments:  segs,
		CreatedAt: w.now(),
	}
}

// update performs one status write. Writes are detached from ctx so a
// shutdown cannot leave a job between states. A missing record is logged and
// reported as errRecordGone.
func (w *Worker) update(ctx context.Context, log *slog.Logger, jobID string, upd jobs.StatusUpdate) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	err := w.Store.UpdateStatus(wctx, jobID, upd)
	switch {
	case err == nil:
		log.Info("job status changed", common.LogKeyStatus, upd.Status)
		return nil
	case errors.Is(err, jobs.ErrJobNotFound):
		log.Warn("job record missing; skipping status write", common.LogKeyStatus, upd.Status)
		return errRecordGone
	default:
		log.Error("status write failed", common.LogKeyStatus, upd.Status, common.LogKeyErr, err)
		return err
	}
}

// fail records cause on the job and returns it.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, jobID string, cause error) error {
	log.Error("job failed", common.LogKeyErr, cause)
	_ = w.update(ctx, log, jobID, jobs.StatusUpdate{Status: jobs.StatusFailed, FailureReason: truncateReason(cause.Error())})
	return cause
}

// truncateReason caps s at maxReasonLen bytes without splitting a rune.
func truncateReason(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (w *Worker) removeArtifact(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("remove orphaned transcript", common.LogKeyPath, path, common.LogKeyErr, err)
	}
}
