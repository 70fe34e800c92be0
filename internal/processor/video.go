package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jo-hoe/mediascribe/internal/common"
	"github.com/jo-hoe/mediascribe/internal/jobs"
	"github.com/jo-hoe/mediascribe/internal/media"
)

// ProcessVideo extracts the audio track of videoPath and hands it to
// Transcribe. The temporary audio is removed on every exit path.
func (w *Worker) ProcessVideo(ctx context.Context, jobID, videoPath string) error {
	log := w.Log.With(common.LogKeyJobID, jobID, common.LogKeyKind, jobs.KindVideo)

	if err := w.update(ctx, log, jobID, jobs.StatusUpdate{Status: jobs.StatusProcessing}); err != nil {
		if errors.Is(err, errRecordGone) {
			return nil
		}
		return err
	}

	tmp := w.Layout.TempAudioPath(jobID, w.TempExt)
	defer func() {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			log.Warn("remove temporary audio", common.LogKeyPath, tmp, common.LogKeyErr, err)
		}
	}()

	if w.Extractor == nil {
		return w.fail(ctx, log, jobID, fmt.Errorf("%w: no extractor configured", media.ErrExtraction))
	}
	if _, err := os.Stat(videoPath); err != nil {
		return w.fail(ctx, log, jobID, fmt.Errorf("%w: %s", ErrMissingSourceFile, videoPath))
	}
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return w.fail(ctx, log, jobID, fmt.Errorf("%w: temp dir: %v", media.ErrExtraction, err))
	}

	if err := w.Extractor.ExtractAudio(ctx, videoPath, tmp); err != nil {
		return w.fail(ctx, log, jobID, err)
	}
	log.Info("audio extracted", common.LogKeyPath, tmp)

	return w.Transcribe(ctx, jobID, tmp)
}
