package eventprocessor

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Processor is the external object that owns the load-balancer loop,
// registers user callbacks, and exposes Start/Stop. Lifecycle states
// are Idle -> Running -> Idle; Start and Stop are each idempotent.
type Processor struct {
	namespace     string
	eventHub      string
	consumerGroup string
	identifier    string

	store     Store
	transport Transport
	options   ProcessorOptions
	log       logr.Logger

	mu       sync.Mutex
	handlers handlerSet
	running  bool
	stopping bool

	lb     *loadBalancer
	cancel context.CancelFunc
	stopped chan struct{}
}

// NewProcessor creates a Processor bound to one (namespace, eventHub,
// consumerGroup). store and transport are the two external interfaces this
// package depends on; they are never constructed by the core itself.
func NewProcessor(namespace, eventHub, consumerGroup string, store Store, transport Transport, options ProcessorOptions, log logr.Logger) *Processor {
	options = options.withDefaults()
	return &Processor{
		namespace:     namespace,
		eventHub:      eventHub,
		consumerGroup: consumerGroup,
		identifier:    options.Identifier,
		store:         store,
		transport:     transport,
		options:       options,
		log:           log.WithName("eventprocessor"),
	}
}

// Namespace is the fully-qualified event hub namespace.
func (p *Processor) Namespace() string { return p.namespace }

// EventHub is the event hub name.
func (p *Processor) EventHub() string { return p.eventHub }

// ConsumerGroup is the consumer group name.
func (p *Processor) ConsumerGroup() string { return p.consumerGroup }

// Identifier is this instance's owner id in the Store.
func (p *Processor) Identifier() string { return p.identifier }

// IsRunning reports whether the processor is currently in the Running state.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetOnEvent registers the mandatory per-event callback. Must be called
// while Idle; fails with ErrDuplicateHandler if already set.
func (p *Processor) SetOnEvent(fn OnEventFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrStopInProgress
	}
	if p.handlers.onEvent != nil {
		return ErrDuplicateHandler
	}
	p.handlers.onEvent = fn
	return nil
}

// SetOnError registers the mandatory error callback.
func (p *Processor) SetOnError(fn OnErrorFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrStopInProgress
	}
	if p.handlers.onError != nil {
		return ErrDuplicateHandler
	}
	p.handlers.onError = fn
	return nil
}

// SetOnPartitionInitializing registers the optional initialization callback.
func (p *Processor) SetOnPartitionInitializing(fn OnPartitionInitializingFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrStopInProgress
	}
	if p.handlers.onPartitionInitializing != nil {
		return ErrDuplicateHandler
	}
	p.handlers.onPartitionInitializing = fn
	return nil
}

// SetOnPartitionClosing registers the optional close callback.
func (p *Processor) SetOnPartitionClosing(fn OnPartitionClosingFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrStopInProgress
	}
	if p.handlers.onPartitionClosing != nil {
		return ErrDuplicateHandler
	}
	p.handlers.onPartitionClosing = fn
	return nil
}

// Start begins the load-balancer loop. It is idempotent: calling Start
// while already Running is a no-op. Starting without both onEvent and
// onError registered fails with ErrMissingHandler and the loop never
// starts.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	if p.stopping {
		p.mu.Unlock()
		return ErrStopInProgress
	}
	if p.handlers.onEvent == nil || p.handlers.onError == nil {
		p.mu.Unlock()
		return ErrMissingHandler
	}

	handlers := p.handlers // snapshot; registration is now locked out by p.running
	lb := newLoadBalancer(p.namespace, p.eventHub, p.consumerGroup, p.identifier, p.store, p.transport, p.options, &handlers, p.log)
	loopCtx, cancel := context.WithCancel(context.Background())
	p.lb = lb
	p.cancel = cancel
	p.stopped = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	go func() {
		defer close(p.stopped)
		lb.run(loopCtx)
	}()
	return nil
}

// Stop cancels the load-balancer loop, awaits its termination, then stops
// every active pump in parallel with reason Shutdown, then clears
// in-memory ownership. Leases are not explicitly surrendered — they
// expire. Stop is idempotent. If ctx is cancelled mid-stop, Stop returns
// ctx.Err() and the processor remains Running.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	cancel := p.cancel
	stopped := p.stopped
	lb := p.lb
	p.mu.Unlock()

	cancel()
	select {
	case <-stopped:
	case <-ctx.Done():
		p.mu.Lock()
		p.stopping = false
		p.mu.Unlock()
		return ctx.Err()
	}

	lb.stopAll(ctx)
	if ctx.Err() != nil {
		p.mu.Lock()
		p.stopping = false
		p.mu.Unlock()
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.stopping = false
	p.lb = nil
	p.mu.Unlock()
	return nil
}

// NextPartitionClient returns a handle for the next pump this instance
// starts (for a newly claimed partition or a restarted pump), or nil if ctx
// is cancelled first or the processor is not running. This is an alternate,
// lower-level entry point alongside the callback surface: it surfaces
// partition-acquisition notifications (partition identity, a Done channel,
// and a passthrough checkpoint write) for callers that want to react to
// ownership changes without parsing onPartitionInitializing calls — it
// does not grant an independent event stream; onEvent remains the only
// path events are delivered on.
func (p *Processor) NextPartitionClient(ctx context.Context) *ProcessorPartitionClient {
	p.mu.Lock()
	lb := p.lb
	p.mu.Unlock()
	if lb == nil {
		return nil
	}
	select {
	case pc := <-lb.partitionClients:
		return pc
	case <-ctx.Done():
		return nil
	}
}

// ProcessorPartitionClient is the handle returned by NextPartitionClient.
type ProcessorPartitionClient struct {
	partitionCtx PartitionContext
	store        Store
	done         <-chan struct{}
}

// PartitionID is the partition this handle was acquired for.
func (c *ProcessorPartitionClient) PartitionID() string { return c.partitionCtx.PartitionID }

// Done is closed when the owning pump stops, for any reason.
func (c *ProcessorPartitionClient) Done() <-chan struct{} { return c.done }

// UpdateCheckpoint writes a checkpoint for this partition directly,
// bypassing the onEvent checkpoint closure — useful for callers driving
// their own bookkeeping off NextPartitionClient.
func (c *ProcessorPartitionClient) UpdateCheckpoint(ctx context.Context, offset, sequenceNumber int64) error {
	return c.store.UpdateCheckpoint(ctx, Checkpoint{
		FullyQualifiedNamespace: c.partitionCtx.Namespace,
		EventHubName:            c.partitionCtx.EventHub,
		ConsumerGroup:           c.partitionCtx.ConsumerGroup,
		PartitionID:             c.partitionCtx.PartitionID,
		Offset:                  offset,
		SequenceNumber:          sequenceNumber,
	})
}
