package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jo-hoe/mediascribe/internal/common"
)

// Failure reasons stored on jobs that never reached a terminal state.
const (
	WatchdogReason = "watchdog timeout"
	ShutdownReason = "interrupted by shutdown"
	RestartReason  = "interrupted by restart"
)

// Watchdog fails jobs that sat in uploaded or processing for longer than
// Timeout. It also catches jobs orphaned by a previous crash, since the first
// sweep runs immediately.
type Watchdog struct {
	Store    Store
	Timeout  time.Duration
	Interval time.Duration
	Log      *slog.Logger

	now func() time.Time
}

func NewWatchdog(store Store, timeout, interval time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watchdog{
		Store:    store,
		Timeout:  timeout,
		Interval: interval,
		Log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once, then every Interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	if w.Timeout <= 0 {
		return
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.Log.Warn("watchdog sweep failed", common.LogKeyErr, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep marks every stale job failed and returns how many it changed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	return FailUnfinished(ctx, w.Store, w.now().Add(-w.Timeout), WatchdogReason, w.Log)
}

// FailUnfinished marks jobs still uploaded or processing whose last update is
// before cutoff as failed with reason. It runs at startup and after shutdown
// whether or not the watchdog is enabled.
func FailUnfinished(ctx context.Context, store Store, cutoff time.Time, reason string, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	stale, err := store.ListStale(ctx, []Status{StatusUploaded, StatusProcessing}, cutoff)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, job := range stale {
		err := store.UpdateStatus(ctx, job.ID, StatusUpdate{Status: StatusFailed, FailureReason: reason})
		switch {
		case err == nil:
			failed++
			log.Warn("unfinished job failed", common.LogKeyJobID, job.ID, common.LogKeyStatus, job.Status,
				"reason", reason, "age", time.Since(job.UpdatedAt).Round(time.Second))
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrJobNotFound):
			// finished or vanished between the scan and the update
		default:
			log.Error("fail unfinished job", common.LogKeyJobID, job.ID, common.LogKeyErr, err)
		}
	}
	return failed, nil
}
