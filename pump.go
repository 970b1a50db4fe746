package eventprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kestrelstream/eventprocessor/internal/metrics"
)

// pump wraps one partitionReader, invokes user callbacks per event, and
// relays checkpoint requests to the Store. It runs on its own goroutine and
// communicates completion back to the load balancer only through pump
// state — it never calls back into the loop directly.
type pump struct {
	partitionCtx PartitionContext
	store        Store
	reader       *partitionReader
	handlers     *handlerSet
	options      ProcessorOptions
	log          logr.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	err        error   // non-nil if the pump terminated because onEvent or a read failed
	reason     CloseReason
	reasonSet  bool
}

func newPump(partitionCtx PartitionContext, store Store, reader *partitionReader, handlers *handlerSet, options ProcessorOptions, log logr.Logger) *pump {
	return &pump{
		partitionCtx: partitionCtx,
		store:        store,
		reader:       reader,
		handlers:     handlers,
		options:      options,
		log:          log.WithValues("partition", partitionCtx.PartitionID),
	}
}

// start launches the pump's goroutine against a context derived from parent.
func (p *pump) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// stopped reports whether the pump's goroutine has exited, without blocking.
func (p *pump) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// completionError returns the error that terminated the pump, if any. Only
// meaningful once stopped() is true.
func (p *pump) completionError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// stop requests the pump terminate with the given reason and waits for it
// to do so, or for ctx to be cancelled (in which case it returns ctx.Err()
// and the pump keeps draining in the background).
func (p *pump) stop(ctx context.Context, reason CloseReason) error {
	p.mu.Lock()
	if !p.reasonSet {
		p.reason = reason
		p.reasonSet = true
	}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pump) run(ctx context.Context) {
	defer close(p.done)

	startTime := time.Now()
	defer func() {
		metrics.PumpDurationSeconds.WithLabelValues(p.partitionCtx.PartitionID).Observe(time.Since(startTime).Seconds())
	}()

	start, err := p.initialize(ctx)
	if err != nil {
		p.finish(err, CloseReasonProcessingError)
		p.invokeClosing()
		return
	}
	p.reader.position = start

	runErr := p.loop(ctx)
	if runErr != nil {
		p.finish(runErr, CloseReasonProcessingError)
	}
	_ = p.reader.close(context.Background())
	p.invokeClosing()
}

// initialize runs onPartitionInitializing then overrides the result with
// any existing checkpoint — checkpoint wins.
func (p *pump) initialize(ctx context.Context) (EventPosition, error) {
	def := EarliestEventPosition()
	if p.handlers.onPartitionInitializing != nil {
		p.safeInvoke(func() error {
			p.handlers.onPartitionInitializing(p.partitionCtx, &def)
			return nil
		}, "onPartitionInitializing")
	}

	checkpoints, err := p.store.ListCheckpoints(ctx, p.partitionCtx.Namespace, p.partitionCtx.EventHub, p.partitionCtx.ConsumerGroup)
	if err != nil {
		p.reportError(OpListCheckpoints, err)
		return def, nil // proceed with handler's default; checkpoint read failure isn't fatal to starting
	}
	for _, cp := range checkpoints {
		if cp.PartitionID == p.partitionCtx.PartitionID {
			return FromSequenceNumber(cp.SequenceNumber, false), nil
		}
	}
	return def, nil
}

func (p *pump) loop(ctx context.Context) error {
	maxWait := p.options.MaximumWaitTime
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		events, err := p.reader.receive(ctx, 100, maxWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.reportError(OpReadEvents, err)
			if epErr, ok := err.(*Error); ok && epErr.Kind == ErrorKindPermanent {
				return err
			}
			return err // retries are exhausted inside receive(); treat as pump crash, restarted next cycle
		}

		if len(events) > 0 {
			if lep, ok := p.reader.lastEnqueuedEventProperties(); ok {
				p.partitionCtx.LastEnqueuedEventProperties = &lep
			}
		}

		for _, event := range events {
			if err := p.deliver(ctx, event); err != nil {
				return err
			}
		}
	}
}

// deliver invokes onEvent for a single event, recovering from panics and
// translating them into a pump-terminating error.
func (p *pump) deliver(ctx context.Context, event Event) (err error) {
	checkpointFn := func() error {
		if !event.hasPosition() {
			return ErrEmptyCheckpoint
		}
		err := p.store.UpdateCheckpoint(ctx, Checkpoint{
			FullyQualifiedNamespace: p.partitionCtx.Namespace,
			EventHubName:            p.partitionCtx.EventHub,
			ConsumerGroup:           p.partitionCtx.ConsumerGroup,
			PartitionID:             p.partitionCtx.PartitionID,
			Offset:                  event.Offset,
			SequenceNumber:          event.SequenceNumber,
		})
		if err != nil {
			metrics.CheckpointsWrittenTotal.WithLabelValues("error").Inc()
		} else {
			metrics.CheckpointsWrittenTotal.WithLabelValues("ok").Inc()
		}
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("onEvent panicked: %v", r)
		}
	}()
	return p.handlers.onEvent(p.partitionCtx, event, checkpointFn)
}

func (p *pump) invokeClosing() {
	if p.handlers.onPartitionClosing == nil {
		return
	}
	p.mu.Lock()
	reason := p.reason
	p.mu.Unlock()
	p.safeInvoke(func() error {
		p.handlers.onPartitionClosing(p.partitionCtx, reason)
		return nil
	}, "onPartitionClosing")
}

func (p *pump) finish(err error, reason CloseReason) {
	p.mu.Lock()
	p.err = err
	if !p.reasonSet {
		p.reason = reason
		p.reasonSet = true
	}
	p.mu.Unlock()
	p.reportError(OpReadEvents, err)
}

func (p *pump) reportError(operation string, err error) {
	if p.handlers.onError == nil || err == nil {
		return
	}
	func() {
		defer func() { _ = recover() }() // onError panics are swallowed
		ctx := p.partitionCtx
		p.handlers.onError(&ctx, operation, err)
	}()
}

// safeInvoke runs a user callback, swallowing panics (with the exception of
// onEvent, which has its own recover in deliver so its error can terminate
// the pump deliberately).
func (p *pump) safeInvoke(fn func() error, label string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Info("recovered panic in user callback", "callback", label, "panic", r)
		}
	}()
	_ = fn()
}
