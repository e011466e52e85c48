package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_DefaultSize(t *testing.T) {
	p := NewWorkerPool(0)
	if got := p.MaxWorkers(); got != DefaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", got, DefaultMaxWorkers)
	}
	if got := p.Available(); got != DefaultMaxWorkers {
		t.Errorf("Available = %d, want %d", got, DefaultMaxWorkers)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)

	var running, peak int32
	task := func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	errs := p.Run(context.Background(), []Task{task, task, task, task, task})
	for i, err := range errs {
		if err != nil {
			t.Errorf("task %d: unexpected error %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	if got := p.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after Run = %d, want 0", got)
	}
}

func TestWorkerPool_NoFailFast(t *testing.T) {
	p := NewWorkerPool(3)
	boom := errors.New("boom")

	var finished int32
	tasks := []Task{
		func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return nil
		},
		func(ctx context.Context) error { atomic.AddInt32(&finished, 1); return boom },
		func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return nil
		},
	}

	errs := p.Run(context.Background(), tasks)
	if got := atomic.LoadInt32(&finished); got != 3 {
		t.Errorf("finished = %d, want 3", got)
	}
	if errs[0] != nil || errs[2] != nil {
		t.Errorf("unexpected sibling errors: %v", errs)
	}
	if !errors.Is(errs[1], boom) {
		t.Errorf("errs[1] = %v, want boom", errs[1])
	}
}

func TestWorkerPool_PanicBecomesError(t *testing.T) {
	p := NewWorkerPool(1)
	errs := p.Run(context.Background(), []Task{
		func(ctx context.Context) error { panic("bad table") },
		func(ctx context.Context) error { return nil },
	})
	if errs[0] == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if errs[1] != nil {
		t.Errorf("errs[1] = %v, want nil", errs[1])
	}
	if got := p.Available(); got != 1 {
		t.Errorf("Available after panic = %d, want 1", got)
	}
}

func TestWorkerPool_CancelledContextStillRunsQueuedTasks(t *testing.T) {
	p := NewWorkerPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	task := func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
	results := p.Run(ctx, []Task{task, task, task})

	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	for i, err := range results {
		if err != nil {
			t.Errorf("results[%d] = %v, want nil", i, err)
		}
	}
	if st := p.Status(); st.Active != 0 || st.Pending != 0 {
		t.Errorf("status after run = %+v, want idle", st)
	}
}

func waitActive(t *testing.T, p *WorkerPool, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for p.ActiveCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveCount never reached %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerPool_WaitForDrain(t *testing.T) {
	p := NewWorkerPool(1)
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), []Task{func(ctx context.Context) error { <-release; return nil }})
		close(done)
	}()

	waitActive(t, p, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.WaitForDrain(ctx); err != context.DeadlineExceeded {
		t.Errorf("WaitForDrain while busy = %v, want DeadlineExceeded", err)
	}

	close(release)
	<-done
	if err := p.WaitForDrain(context.Background()); err != nil {
		t.Errorf("WaitForDrain after completion = %v", err)
	}

	st := p.Status()
	if st.Active != 0 || st.Pending != 0 || st.Available != 1 || st.MaxWorkers != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}
