package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestProcessor(store Store, transport Transport) *Processor {
	options := ProcessorOptions{
		LoadBalanceUpdate:   20 * time.Millisecond,
		OwnershipExpiration: 100 * time.Millisecond,
		MaximumWaitTime:     20 * time.Millisecond,
	}
	return NewProcessor("ns", "hub", "$Default", store, transport, options, logr.Discard())
}

func TestStartFailsWithoutMandatoryHandlers(t *testing.T) {
	p := newTestProcessor(newFakeStore(), newFakeTransport([]string{"0"}))
	if err := p.Start(context.Background()); err != ErrMissingHandler {
		t.Fatalf("Start() = %v, want ErrMissingHandler", err)
	}
}

func TestSetOnEventTwiceFails(t *testing.T) {
	p := newTestProcessor(newFakeStore(), newFakeTransport([]string{"0"}))
	fn := func(PartitionContext, Event, CheckpointFunc) error { return nil }
	if err := p.SetOnEvent(fn); err != nil {
		t.Fatalf("first SetOnEvent() = %v, want nil", err)
	}
	if err := p.SetOnEvent(fn); err != ErrDuplicateHandler {
		t.Fatalf("second SetOnEvent() = %v, want ErrDuplicateHandler", err)
	}
}

func TestStartIsIdempotentAndStopTearsDownPumps(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0", "1"}).
		withBatches("0", []Event{{Offset: 1, SequenceNumber: 1}}).
		withBatches("1", []Event{{Offset: 1, SequenceNumber: 1}})

	p := newTestProcessor(store, transport)
	if err := p.SetOnEvent(func(PartitionContext, Event, CheckpointFunc) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOnError(func(*PartitionContext, string, error) {}); err != nil {
		t.Fatal(err)
	}
	closed := &recorder[string]{}
	if err := p.SetOnPartitionClosing(func(partitionCtx PartitionContext, reason CloseReason) {
		closed.add(partitionCtx.PartitionID)
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start() = %v, want nil (idempotent)", err)
	}
	if !p.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	deadline := time.After(2 * time.Second)
	for store.ownershipCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both partitions to be claimed, got %d", store.ownershipCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
	if p.IsRunning() {
		t.Fatal("IsRunning() = true after Stop")
	}
	if got := closed.snapshot(); len(got) != 2 {
		t.Fatalf("onPartitionClosing called for %v after Stop, want both partitions", got)
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop() = %v, want nil (idempotent)", err)
	}
}

func TestNextPartitionClientReturnsAcquiredPartition(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"})

	p := newTestProcessor(store, transport)
	if err := p.SetOnEvent(func(PartitionContext, Event, CheckpointFunc) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := p.SetOnError(func(*PartitionContext, string, error) {}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(stopCtx)
	}()

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pc := p.NextPartitionClient(waitCtx)
	if pc == nil {
		t.Fatal("NextPartitionClient returned nil before timeout")
	}
	if pc.PartitionID() != "0" {
		t.Errorf("PartitionID() = %q, want %q", pc.PartitionID(), "0")
	}
}
