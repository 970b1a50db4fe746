package eventprocessor

import (
	"context"
	"time"
)

// PartitionOwnership is a lease record: at most one exists per (namespace,
// hub, group, partition). It is active iff now - LastModified is less than
// the processor's OwnershipExpiration.
type PartitionOwnership struct {
	FullyQualifiedNamespace string
	EventHubName            string
	ConsumerGroup           string
	PartitionID             string

	// OwnerID is the owner identifier of the processor instance holding
	// this lease. Empty means no one currently holds it.
	OwnerID string

	// LastModified is stamped by the Store at write time — expiration
	// arithmetic must always use this clock, never the local one.
	LastModified time.Time

	// ETag is the opaque version token used for optimistic concurrency.
	// Empty on a record that has never been written.
	ETag string
}

// Checkpoint is a durable (offset, sequence) position. One record exists per
// (group, partition); writes are unconditional (last-writer-wins).
type Checkpoint struct {
	FullyQualifiedNamespace string
	EventHubName            string
	ConsumerGroup           string
	PartitionID             string
	Offset                  int64
	SequenceNumber          int64
}

// Store is the durable external key/value surface used for both ownership
// leases and per-partition checkpoints. Implementations must provide
// optimistic-concurrency semantics on ClaimOwnership via the ETag token.
//
// Callers are responsible for retrying transient Store failures; Store
// implementations classify their own errors as *Error with
// ErrorKindTransient or ErrorKindPermanent.
type Store interface {
	// ListOwnership returns every ownership record for (ns, hub, group),
	// active or expired.
	ListOwnership(ctx context.Context, namespace, eventHub, consumerGroup string) ([]PartitionOwnership, error)

	// ClaimOwnership attempts an atomic compare-and-set per element: it
	// succeeds iff the stored ETag equals the one presented (or no record
	// exists and the presented ETag is empty). Successful entries are
	// returned with a fresh ETag and LastModified; failed entries are
	// silently omitted — partial success is normal.
	ClaimOwnership(ctx context.Context, ownerships []PartitionOwnership) ([]PartitionOwnership, error)

	// ListCheckpoints returns every checkpoint for (ns, hub, group).
	ListCheckpoints(ctx context.Context, namespace, eventHub, consumerGroup string) ([]Checkpoint, error)

	// UpdateCheckpoint is an unconditional write.
	UpdateCheckpoint(ctx context.Context, checkpoint Checkpoint) error
}

// Transport is consumed from the broker client, not implemented by the core.
// It exposes the partition set and opens per-partition consumers.
type Transport interface {
	// GetPartitionIDs returns the current partition id set of the event hub.
	GetPartitionIDs(ctx context.Context) ([]string, error)

	// OpenConsumer opens a reader for one partition starting at position.
	OpenConsumer(ctx context.Context, consumerGroup, partitionID string, position EventPosition, options ConsumerOptions) (PartitionReader, error)
}

// ConsumerOptions configures a Transport.OpenConsumer call.
type ConsumerOptions struct {
	Prefetch                          int
	TrackLastEnqueuedEventProperties  bool
}

// PartitionReader is a lazy, finite-or-cancelled sequence of Events opened
// against one partition.
type PartitionReader interface {
	// ReceiveEvents returns up to maxBatch events, or an empty batch after
	// maxWait elapses with no events (not an error). Transport errors are
	// returned to the caller for retry classification.
	ReceiveEvents(ctx context.Context, maxBatch int, maxWait time.Duration) ([]Event, error)

	// LastEnqueuedEventProperties reports the partition's tail metadata, if
	// the reader was opened with tracking enabled.
	LastEnqueuedEventProperties() (LastEnqueuedEventProperties, bool)

	// Close releases the link.
	Close(ctx context.Context) error
}
