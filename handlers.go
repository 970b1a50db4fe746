package eventprocessor

// OnEventFunc is the mandatory per-event callback. checkpoint captures
// the event's offset/sequence number and persists them via the Store when
// called.
type OnEventFunc func(partitionCtx PartitionContext, event Event, checkpoint CheckpointFunc) error

// OnErrorFunc is the mandatory error callback. It is invoked
// fire-and-forget; exceptions from the handler itself are swallowed.
// partitionCtx is nil for errors that are not partition-scoped (e.g. a
// ListOwnership failure during the load-balancer cycle).
type OnErrorFunc func(partitionCtx *PartitionContext, operation string, err error)

// OnPartitionInitializingFunc is invoked once before the first event for a
// partition. defaultStartingPosition may be mutated by the handler; any
// existing Checkpoint for the partition then overrides it (checkpoint wins).
type OnPartitionInitializingFunc func(partition PartitionContext, defaultStartingPosition *EventPosition)

// OnPartitionClosingFunc is invoked once after the last event for a
// partition, for any stop reason.
type OnPartitionClosingFunc func(partition PartitionContext, reason CloseReason)

// handlerSet holds the four registered callbacks. Registration is guarded
// by Processor's own mutex and "not running" check; handlerSet itself
// does no locking.
type handlerSet struct {
	onEvent                 OnEventFunc
	onError                 OnErrorFunc
	onPartitionInitializing OnPartitionInitializingFunc
	onPartitionClosing      OnPartitionClosingFunc
}
