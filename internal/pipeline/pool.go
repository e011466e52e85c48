package pipeline

// pool.go bounds how many table jobs run at once.
//
// Every submitted task gets its own goroutine immediately; the semaphore
// decides how many of them do work concurrently. The pool is shared by every
// batch an Orchestrator handles, so the bound applies per process rather than
// per batch. WaitForDrain supports graceful shutdown.

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultMaxWorkers is the default number of concurrently running table jobs.
const DefaultMaxWorkers = 15

// Task is one unit of work submitted to the pool.
type Task func(ctx context.Context) error

// WorkerPool runs tasks with bounded concurrency using a semaphore.
type WorkerPool struct {
	semaphore chan struct{}

	mu      sync.RWMutex
	active  int
	pending int
}

// NewWorkerPool creates a pool allowing at most maxWorkers running tasks.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &WorkerPool{semaphore: make(chan struct{}, maxWorkers)}
}

// Run starts every task and waits for all of them. The returned slice is
// index-aligned with tasks; a nil entry means the task succeeded. A failing
// or panicking task never cancels its siblings, and a submitted task always
// runs even if ctx is done before a slot frees up.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) []error {
	results := make([]error, len(tasks))

	p.mu.Lock()
	p.pending += len(tasks)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			p.acquire()
			defer p.release()
			results[i] = runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("table job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (p *WorkerPool) acquire() {
	p.semaphore <- struct{}{}
	p.mu.Lock()
	p.pending--
	p.active++
	p.mu.Unlock()
}

func (p *WorkerPool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	<-p.semaphore
}

// ActiveCount returns the number of running tasks.
func (p *WorkerPool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// MaxWorkers returns the concurrency bound.
func (p *WorkerPool) MaxWorkers() int {
	return cap(p.semaphore)
}

// Available returns the number of free slots.
func (p *WorkerPool) Available() int {
	return cap(p.semaphore) - len(p.semaphore)
}

// WaitForDrain blocks until no task is running or waiting, or ctx is done.
func (p *WorkerPool) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.RLock()
		idle := p.active == 0 && p.pending == 0
		p.mu.RUnlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PoolStatus is a snapshot of the pool.
type PoolStatus struct {
	Active     int `json:"active"`
	Pending    int `json:"pending"`
	Available  int `json:"available"`
	MaxWorkers int `json:"max_workers"`
}

// Status returns the current pool state for monitoring.
func (p *WorkerPool) Status() PoolStatus {
	p.mu.RLock()
	active, pending := p.active, p.pending
	p.mu.RUnlock()

	return PoolStatus{
		Active:     active,
		Pending:    pending,
		Available:  cap(p.semaphore) - len(p.semaphore),
		MaxWorkers: cap(p.semaphore),
	}
}
