package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

// recorder collects values written from the pump goroutine and read from the
// test goroutine, guarded by a mutex.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func newTestPump(t *testing.T, partitionID string, store Store, transport Transport, handlers *handlerSet) *pump {
	t.Helper()
	partitionCtx := PartitionContext{Namespace: "ns", EventHub: "hub", ConsumerGroup: "$Default", PartitionID: partitionID}
	reader := newPartitionReader(transport, logr.Discard(), "$Default", partitionID, EarliestEventPosition(), ConsumerOptions{}, DefaultRetryOptions())
	return newPump(partitionCtx, store, reader, handlers, ProcessorOptions{MaximumWaitTime: 50 * time.Millisecond}, logr.Discard())
}

func TestPumpDeliversEventsAndCheckpoints(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"}).withBatches("0", []Event{
		{Offset: 1, SequenceNumber: 1},
		{Offset: 2, SequenceNumber: 2},
	})

	delivered := &recorder[int64]{}
	handlers := &handlerSet{
		onEvent: func(partitionCtx PartitionContext, event Event, checkpoint CheckpointFunc) error {
			delivered.add(event.SequenceNumber)
			return checkpoint()
		},
		onError: func(partitionCtx *PartitionContext, operation string, err error) {},
	}

	p := newTestPump(t, "0", store, transport, handlers)
	ctx, cancel := context.WithCancel(context.Background())
	p.start(ctx)

	deadline := time.After(2 * time.Second)
	for len(delivered.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", delivered.snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-p.done

	got := delivered.snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("delivered = %v, want [1 2]", got)
	}
	cp, ok := store.checkpoints["0"]
	if !ok || cp.SequenceNumber != 2 {
		t.Fatalf("checkpoint = %+v, ok=%v, want sequence number 2", cp, ok)
	}
}

func TestPumpStopsOnOnEventError(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"}).withBatches("0", []Event{{Offset: 1, SequenceNumber: 1}})

	wantErr := errors.New("handler refuses this event")
	reported := &recorder[error]{}
	handlers := &handlerSet{
		onEvent: func(partitionCtx PartitionContext, event Event, checkpoint CheckpointFunc) error {
			return wantErr
		},
		onError: func(partitionCtx *PartitionContext, operation string, err error) {
			reported.add(err)
		},
	}

	p := newTestPump(t, "0", store, transport, handlers)
	p.start(context.Background())

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after onEvent error")
	}

	got := reported.snapshot()
	if len(got) == 0 || (!errors.Is(got[0], wantErr) && got[0].Error() != wantErr.Error()) {
		t.Errorf("reported errors = %v, want one matching %v", got, wantErr)
	}
	if p.completionError() == nil {
		t.Error("completionError() = nil, want the onEvent error")
	}
}

func TestPumpRecoversOnEventPanic(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"}).withBatches("0", []Event{{Offset: 1, SequenceNumber: 1}})

	handlers := &handlerSet{
		onEvent: func(partitionCtx PartitionContext, event Event, checkpoint CheckpointFunc) error {
			panic("boom")
		},
		onError: func(partitionCtx *PartitionContext, operation string, err error) {},
	}

	p := newTestPump(t, "0", store, transport, handlers)
	p.start(context.Background())

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after onEvent panic")
	}
	if p.completionError() == nil {
		t.Error("completionError() = nil, want a panic-derived error")
	}
}

func TestPumpCheckpointOnEmptyEventFails(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"}).withBatches("0", []Event{{}})

	checkpointErrs := &recorder[error]{}
	handlers := &handlerSet{
		onEvent: func(partitionCtx PartitionContext, event Event, checkpoint CheckpointFunc) error {
			checkpointErrs.add(checkpoint())
			return nil
		},
		onError: func(partitionCtx *PartitionContext, operation string, err error) {},
	}

	p := newTestPump(t, "0", store, transport, handlers)
	p.start(context.Background())
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.stop(stopCtx, CloseReasonShutdown)
	}()

	deadline := time.After(2 * time.Second)
	for len(checkpointErrs.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for checkpoint attempt")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := checkpointErrs.snapshot()[0]; !errors.Is(got, ErrEmptyCheckpoint) {
		t.Errorf("checkpoint() error = %v, want ErrEmptyCheckpoint", got)
	}
}
