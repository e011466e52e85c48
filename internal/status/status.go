// Package status reports batch lifecycle transitions to whatever tracks
// batch progress downstream. Updates are fire-and-forget: a sink never
// fails the pipeline.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is a batch lifecycle state.
type Status string

const (
	Processing Status = "PROCESSING"
	Completed  Status = "COMPLETED"
	Error      Status = "ERROR"
)

// Terminal reports whether s ends a batch.
func (s Status) Terminal() bool {
	return s == Completed || s == Error
}

// Update is one status transition.
type Update struct {
	BatchID    string    `json:"batch_id"`
	Status     Status    `json:"status"`
	Historical bool      `json:"is_historical"`
	At         time.Time `json:"at"`
}

// Sink receives status transitions.
type Sink interface {
	Update(ctx context.Context, batchID string, s Status, historical bool)
}

// LogSink writes each transition as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink using logger, or slog.Default if nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Update(ctx context.Context, batchID string, st Status, historical bool) {
	s.logger.InfoContext(ctx, "batch status update",
		"batch_id", batchID,
		"status", st,
		"is_historical", historical,
	)
}

// Recorder keeps every update in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Update(_ context.Context, batchID string, st Status, historical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{BatchID: batchID, Status: st, Historical: historical, At: time.Now()})
}

// Updates returns a copy of the recorded updates in arrival order.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// Count returns how many updates with status st were recorded.
func (r *Recorder) Count(st Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Status == st {
			n++
		}
	}
	return n
}
