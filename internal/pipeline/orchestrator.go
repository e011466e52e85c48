package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/status"
)

// Event is the invocation payload. IsHistorical is the raw string sent by
// the caller; only "true" selects historical processing.
type Event struct {
	TableType     string `json:"table_type"`
	IsHistorical  string `json:"is_historical"`
	BatchID       string `json:"batch_id,omitempty"`
	QueueURL      string `json:"queueUrl"`
	ReceiptHandle string `json:"receiptHandle"`

	// Extra holds any fields not listed above.
	Extra map[string]json.RawMessage `json:"-"`
}

var eventFields = []string{"table_type", "is_historical", "batch_id", "queueUrl", "receiptHandle"}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, f := range eventFields {
		delete(all, f)
	}
	*e = Event(p)
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// Historical reports whether the event asks for historical processing.
func (e Event) Historical() bool {
	return e.IsHistorical == "true"
}

// Jobs returns the table jobs named by the event.
func (e Event) Jobs() []Job {
	return []Job{{Table: e.TableType, Historical: e.Historical()}}
}

// Output echoes the event back to the caller: the routing fields plus any
// unknown fields, unchanged.
type Output struct {
	BatchID       string `json:"batch_id"`
	QueueURL      string `json:"queueUrl"`
	ReceiptHandle string `json:"receiptHandle"`
	IsHistorical  string `json:"is_historical"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON writes the routing fields and merges Extra at the top level.
func (o Output) MarshalJSON() ([]byte, error) {
	type plain Output
	known, err := json.Marshal(plain(o))
	if err != nil || len(o.Extra) == 0 {
		return known, err
	}

	fields := make(map[string]json.RawMessage, len(o.Extra)+len(eventFields))
	for k, v := range o.Extra {
		fields[k] = v
	}
	var named map[string]json.RawMessage
	if err := json.Unmarshal(known, &named); err != nil {
		return nil, err
	}
	for k, v := range named {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// OutputFor builds the echo for ev.
func OutputFor(ev Event) Output {
	return Output{
		BatchID:       ev.BatchID,
		QueueURL:      ev.QueueURL,
		ReceiptHandle: ev.ReceiptHandle,
		IsHistorical:  ev.IsHistorical,
		Extra:         ev.Extra,
	}
}

// Orchestrator fans a batch out to table jobs and reports its terminal status.
type Orchestrator struct {
	processor TableProcessor
	status    status.Sink
	pool      *WorkerPool
}

// NewOrchestrator creates an orchestrator running jobs on pool.
func NewOrchestrator(processor TableProcessor, sink status.Sink, pool *WorkerPool) *Orchestrator {
	if pool == nil {
		pool = NewWorkerPool(DefaultMaxWorkers)
	}
	return &Orchestrator{processor: processor, status: sink, pool: pool}
}

// Pool returns the shared worker pool.
func (o *Orchestrator) Pool() *WorkerPool { return o.pool }

// Handle processes one invocation. An event without a batch id is echoed
// back without doing any work.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) (Output, error) {
	out := OutputFor(ev)
	log := logging.FromContext(ctx)
	log.Info("initiating manifest process", "batch_id", ev.BatchID, "table_type", ev.TableType)

	if ev.BatchID == "" {
		log.Info("no batch id in event, nothing to process")
		return out, nil
	}
	if ev.TableType == "" {
		err := errs.Wrapf(errs.CodeInvalidEvent, "batch %s: table_type is required", ev.BatchID)
		log.Error("invalid event", "batch_id", ev.BatchID, "error", err)
		o.status.Update(ctx, ev.BatchID, status.Error, ev.Historical())
		batchRunsTotal.WithLabelValues(string(status.Error)).Inc()
		return out, err
	}

	if err := o.Run(ctx, ev.BatchID, ev.Historical(), ev.Jobs()); err != nil {
		return out, err
	}
	log.Info("completed manifest process", "batch_id", ev.BatchID)
	return out, nil
}

// Run executes every job, waits for all of them and returns the first failure
// in submission order. Exactly one terminal status is reported.
func (o *Orchestrator) Run(ctx context.Context, batchID string, historical bool, jobs []Job) error {
	log := logging.WithFields(ctx, "batch_id", batchID, "is_historical", historical)

	tasks := make([]Task, len(jobs))
	for i, job := range jobs {
		tasks[i] = func(ctx context.Context) error {
			return o.processor.ProcessTable(ctx, batchID, job)
		}
	}

	var first error
	for i, err := range o.pool.Run(ctx, tasks) {
		if err == nil {
			continue
		}
		if _, ok := err.(*TableError); !ok {
			err = &TableError{BatchID: batchID, Table: jobs[i].Table, Historical: jobs[i].Historical, Err: err}
		}
		log.Error("table job failed", "table", jobs[i].Table, "code", errs.CodeOf(err), "error", err)
		if first == nil {
			first = err
		}
	}

	if first != nil {
		log.Error("error occurred while processing batch", "jobs", len(jobs), "error", first)
		o.status.Update(ctx, batchID, status.Error, historical)
		batchRunsTotal.WithLabelValues(string(status.Error)).Inc()
		return fmt.Errorf("batch %s: %w", batchID, first)
	}

	o.status.Update(ctx, batchID, status.Completed, historical)
	batchRunsTotal.WithLabelValues(string(status.Completed)).Inc()
	return nil
}
