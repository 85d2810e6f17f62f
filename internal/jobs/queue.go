package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jo-hoe/reelsmith/internal/common"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
	ErrAlreadyQueued   = errors.New("job already queued or running")
)

// WorkItem identifies a job to run through the pipeline.
type WorkItem struct {
	JobID string
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// FailureRecorder persists failures the processor could not record itself (panics).
type FailureRecorder interface {
	RecordFailure(ctx context.Context, jobID string, err error)
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool. It supervises
// each run: at most one run per job id is admitted and panics are captured as job failures.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	mu         sync.Mutex
	inflight   map[string]struct{}
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	return &Queue{
		log:      logger,
		ch:       make(chan WorkItem, capacity),
		workers:  workers,
		inflight: make(map[string]struct{}),
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
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
			jobLog := log.With("job_id", item.JobID)
			jobLog.Info("processing job")
			start := time.Now()
			if err := q.run(ctx, p, item); err != nil {
				jobLog.Error("job processing failed", "err", err, "duration", time.Since(start))
			} else {
				jobLog.Info("job processed", "duration", time.Since(start))
			}
			q.release(item.JobID)
		}
	}
}

func (q *Queue) run(ctx context.Context, p Processor, item WorkItem) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
			q.log.Error("recovered processor panic", "job_id", item.JobID, "panic", rec, "stack", string(debug.Stack()))
		}
		if err != nil && ctx.Err() == nil {
			if rec, ok := p.(FailureRecorder); ok {
				rec.RecordFailure(ctx, item.JobID, err)
			}
		}
	}()
	return p.Process(ctx, item)
}

// Enqueue adds a WorkItem to the queue (non-blocking if capacity allows).
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return ErrQueueNotStarted
	}
	if _, busy := q.inflight[item.JobID]; busy {
		return ErrAlreadyQueued
	}
	select {
	case q.ch <- item:
		q.inflight[item.JobID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of admitted items that have not finished yet.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *Queue) release(jobID string) {
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
}

// Shutdown gracefully stops accepting work and waits for workers to finish current items up to the provided deadline.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.started = false
		q.mu.Unlock()

		if q.cancel != nil {
			q.cancel()
		}
		close(q.ch)

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; workers may still be running")
		}
	})
}
