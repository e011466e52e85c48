package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []Job
	fail  map[string]error
}

func (f *fakeProcessor) ProcessTable(_ context.Context, _ string, job Job) error {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()
	return f.fail[job.Table]
}

func TestEvent_UnmarshalKeepsUnknownFields(t *testing.T) {
	raw := `{"table_type":"orders","is_historical":"true","batch_id":"B1","queueUrl":"q","receiptHandle":"r","source":"etl"}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, "orders", ev.TableType)
	assert.True(t, ev.Historical())
	assert.Equal(t, "B1", ev.BatchID)
	assert.Equal(t, json.RawMessage(`"etl"`), ev.Extra["source"])
	assert.NotContains(t, ev.Extra, "batch_id")
}

func TestEvent_Historical(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"True", false},
		{"false", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (Event{IsHistorical: tt.raw}).Historical(); got != tt.want {
			t.Errorf("Historical(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestHandle_NoBatchIDEchoesOnly(t *testing.T) {
	proc := &fakeProcessor{}
	sink := &status.Recorder{}
	o := NewOrchestrator(proc, sink, NewWorkerPool(2))

	ev := Event{TableType: "orders", IsHistorical: "false", QueueURL: "https://q", ReceiptHandle: "rh"}
	out, err := o.Handle(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, Output{BatchID: "", QueueURL: "https://q", ReceiptHandle: "rh", IsHistorical: "false"}, out)
	assert.Empty(t, proc.calls)
	assert.Empty(t, sink.Updates())
}

func TestHandle_MissingTableType(t *testing.T) {
	proc := &fakeProcessor{}
	sink := &status.Recorder{}
	o := NewOrchestrator(proc, sink, nil)

	_, err := o.Handle(context.Background(), Event{BatchID: "B1", IsHistorical: "true"})
	assert.Equal(t, errs.CodeInvalidEvent, errs.CodeOf(err))

	assert.Empty(t, proc.calls)
	require.Len(t, sink.Updates(), 1)
	assert.Equal(t, status.Error, sink.Updates()[0].Status)
	assert.Equal(t, "B1", sink.Updates()[0].BatchID)
	assert.True(t, sink.Updates()[0].Historical)
}

func TestOutput_EchoesUnknownFields(t *testing.T) {
	raw := `{"table_type":"orders","is_historical":"false","batch_id":"B1","queueUrl":"q","receiptHandle":"r","source":"etl","attempt":2}`
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	data, err := json.Marshal(OutputFor(ev))
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":"B1","queueUrl":"q","receiptHandle":"r","is_historical":"false","source":"etl","attempt":2}`, string(data))
}

func TestOutput_WithoutExtraHasFourFields(t *testing.T) {
	data, err := json.Marshal(Output{BatchID: "B1", IsHistorical: "true"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch_id":"B1","queueUrl":"","receiptHandle":"","is_historical":"true"}`, string(data))
}

func TestHandle_Success(t *testing.T) {
	proc := &fakeProcessor{}
	sink := &status.Recorder{}
	o := NewOrchestrator(proc, sink, nil)

	out, err := o.Handle(context.Background(), Event{
		TableType: "orders", IsHistorical: "true", BatchID: "B1", QueueURL: "q", ReceiptHandle: "r",
	})
	require.NoError(t, err)

	assert.Equal(t, "B1", out.BatchID)
	assert.Equal(t, "true", out.IsHistorical)
	assert.Equal(t, []Job{{Table: "orders", Historical: true}}, proc.calls)
	require.Len(t, sink.Updates(), 1)
	assert.Equal(t, status.Completed, sink.Updates()[0].Status)
	assert.True(t, sink.Updates()[0].Historical)
}

func TestRun_ReturnsFirstFailureAfterAllJobsFinish(t *testing.T) {
	failure := errors.New("download refused")
	proc := &fakeProcessor{fail: map[string]error{
		"t2": &TableError{BatchID: "B1", Table: "t2", Err: errs.Wrap(errs.CodeTransfer, failure)},
	}}
	sink := &status.Recorder{}
	o := NewOrchestrator(proc, sink, NewWorkerPool(3))

	err := o.Run(context.Background(), "B1", false, []Job{{Table: "t1"}, {Table: "t2"}, {Table: "t3"}})
	require.Error(t, err)

	assert.Len(t, proc.calls, 3)
	assert.ErrorIs(t, err, failure)
	var te *TableError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "t2", te.Table)
	assert.Equal(t, errs.CodeTransfer, errs.CodeOf(err))

	assert.Equal(t, 1, sink.Count(status.Error))
	assert.Equal(t, 0, sink.Count(status.Completed))
}

func TestRun_CancelledContextRunsEveryJob(t *testing.T) {
	proc := &fakeProcessor{}
	sink := &status.Recorder{}
	o := NewOrchestrator(proc, sink, NewWorkerPool(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, o.Run(ctx, "B1", false, []Job{{Table: "t1"}, {Table: "t2"}, {Table: "t3"}}))
	assert.Len(t, proc.calls, 3)
	assert.Equal(t, 1, sink.Count(status.Completed))
}

func TestRun_FirstFailureInSubmissionOrder(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]error{
		"t2": errors.New("second"),
		"t3": errors.New("third"),
	}}
	o := NewOrchestrator(proc, &status.Recorder{}, NewWorkerPool(1))

	err := o.Run(context.Background(), "B1", false, []Job{{Table: "t1"}, {Table: "t2"}, {Table: "t3"}})
	var te *TableError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "t2", te.Table)
	assert.ErrorContains(t, err, "second")
}

func TestRun_SharesPoolAcrossBatches(t *testing.T) {
	pool := NewWorkerPool(4)
	o := NewOrchestrator(&fakeProcessor{}, &status.Recorder{}, pool)
	assert.Same(t, pool, o.Pool())

	require.NoError(t, o.Run(context.Background(), "B1", false, []Job{{Table: "a"}}))
	require.NoError(t, o.Run(context.Background(), "B2", false, []Job{{Table: "b"}}))
	assert.Equal(t, 4, pool.Available())
}
