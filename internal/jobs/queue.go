package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jo-hoe/mediascribe/internal/common"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// WorkItem identifies one pipeline run. Workers re-read the record from the
// store, so only the handle and the stored upload travel through the queue.
type WorkItem struct {
	JobID      string
	Kind       Kind
	SourcePath string
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	closed     bool
	mu         sync.Mutex
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		workers: workers,
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
// Workers keep ctx's values but not its cancellation: only Shutdown stops them,
// so a cancelled parent still lets buffered items drain.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	if q.closed {
		return ErrQueueClosed
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item, ok := <-q.ch:
			if !ok {
				log.Debug("queue closed, worker exiting")
				return
			}
			if ctx.Err() != nil {
				log.Warn("shutdown deadline passed; leaving job unprocessed", common.LogKeyJobID, item.JobID)
				return
			}
			q.run(ctx, log, p, item)
		}
	}
}

// run executes one item; a panicking processor is logged and the worker lives on.
func (q *Queue) run(ctx context.Context, log *slog.Logger, p Processor, item WorkItem) {
	jobLog := log.With(common.LogKeyJobID, item.JobID, common.LogKeyKind, item.Kind)
	jobLog.Info("processing job")
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("processor panic: %v", r)
				jobLog.Error("processor panic", "stack", string(debug.Stack()))
			}
		}()
		return p.Process(ctx, item)
	}()
	if err != nil {
		jobLog.Error("job processing failed", common.LogKeyErr, err, common.LogKeyDuration, time.Since(start))
		return
	}
	jobLog.Info("job processed", common.LogKeyDuration, time.Since(start))
}

// Enqueue adds a WorkItem to the queue without blocking.
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if !q.started {
		return errors.New("queue not started")
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of items waiting for a worker.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Shutdown stops accepting work and lets workers drain buffered items up to
// deadline (0 waits indefinitely). After the deadline running items see their
// context cancelled and remaining items are left unprocessed; callers fail
// those records with FailUnfinished.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			q.stop()
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; cancelling running jobs")
		}
		q.stop()
	})
}

func (q *Queue) stop() {
	if q.cancel != nil {
		q.cancel()
	}
}
