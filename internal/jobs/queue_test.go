package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type noopProcessor struct {
	count   int32
	fail    bool
	panics  bool
	block   chan struct{}
	mu      sync.Mutex
	failed  []string
	started chan struct{}
}

func (p *noopProcessor) Process(ctx context.Context, item WorkItem) error {
	atomic.AddInt32(&p.count, 1)
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	if p.panics {
		panic("boom")
	}
	if p.fail {
		return errors.New("fail")
	}
	return nil
}

func (p *noopProcessor) RecordFailure(ctx context.Context, jobID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, jobID+": "+err.Error())
}

func (p *noopProcessor) failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestQueue_StartEnqueueShutdown(t *testing.T) {
	q := NewQueue(testLogger(), 2, 1)
	p := &noopProcessor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, p); err != nil {
		t.Fatalf("queue start: %v", err)
	}

	if err := q.Enqueue(WorkItem{JobID: "id1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&p.count) >= 1 && q.Pending() == 0 })

	q.Shutdown(2 * time.Second)
	if err := q.Enqueue(WorkItem{JobID: "id2"}); !errors.Is(err, ErrQueueNotStarted) {
		t.Fatalf("enqueue after shutdown err = %v", err)
	}
}

func TestQueue_EnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)
	if err := q.Enqueue(WorkItem{JobID: "x"}); !errors.Is(err, ErrQueueNotStarted) {
		t.Fatalf("enqueue before start should error, got %v", err)
	}
}

func TestQueue_RejectsDuplicateInflightJob(t *testing.T) {
	q := NewQueue(testLogger(), 4, 1)
	p := &noopProcessor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Shutdown(time.Second)

	if err := q.Enqueue(WorkItem{JobID: "same"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	<-p.started
	if err := q.Enqueue(WorkItem{JobID: "same"}); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate enqueue err = %v", err)
	}
	close(p.block)
	waitFor(t, func() bool { return q.Pending() == 0 })
	if err := q.Enqueue(WorkItem{JobID: "same"}); err != nil {
		t.Fatalf("re-enqueue after finish: %v", err)
	}
}

func TestQueue_RecordsFailuresAndPanics(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    *noopProcessor
		want string
	}{
		{name: "error", p: &noopProcessor{fail: true}, want: "j1: fail"},
		{name: "panic", p: &noopProcessor{panics: true}, want: "j1: pipeline panic: boom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQueue(testLogger(), 1, 1)
			if err := q.Start(context.Background(), tc.p); err != nil {
				t.Fatalf("start: %v", err)
			}
			defer q.Shutdown(time.Second)
			if err := q.Enqueue(WorkItem{JobID: "j1"}); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			waitFor(t, func() bool { return len(tc.p.failures()) == 1 })
			if got := tc.p.failures()[0]; got != tc.want {
				t.Fatalf("failure = %q, want %q", got, tc.want)
			}
		})
	}
}
