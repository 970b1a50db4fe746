package eventprocessor

import "time"

// Event is the payload surfaced to the user handler. Once delivered, an
// Event is immutable.
type Event struct {
	Body           []byte
	Offset         int64
	SequenceNumber int64
	EnqueuedTime   time.Time
	PartitionKey   *string
	Properties     map[string]any
}

// hasPosition reports whether any of the event's offset, sequence number or
// enqueued time is set, i.e. whether it originated from the transport rather
// than being a synthetic/empty event. Zero-value Events (never delivered)
// cannot be checkpointed.
func (e Event) hasPosition() bool {
	return e.SequenceNumber != 0 || e.Offset != 0 || !e.EnqueuedTime.IsZero()
}

// CloseReason explains why a partition pump stopped, delivered to
// onPartitionClosing.
type CloseReason int

const (
	// CloseReasonShutdown means the processor (or the owning pump slot) was
	// stopped deliberately.
	CloseReasonShutdown CloseReason = iota
	// CloseReasonOwnershipLost means another instance claimed the partition.
	CloseReasonOwnershipLost
	// CloseReasonProcessingError means the user's onEvent handler panicked
	// or returned an error, or a read from the partition failed, and the
	// pump terminated.
	CloseReasonProcessingError
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "Shutdown"
	case CloseReasonOwnershipLost:
		return "OwnershipLost"
	case CloseReasonProcessingError:
		return "ProcessingError"
	default:
		return "Unknown"
	}
}

// LastEnqueuedEventProperties carries the partition's tail metadata, only
// populated when ProcessorOptions.TrackLastEnqueuedEventProperties is set.
type LastEnqueuedEventProperties struct {
	SequenceNumber int64
	Offset         int64
	EnqueuedTime   time.Time
	RetrievalTime  time.Time
}

// PartitionContext identifies the partition a pump/event belongs to and
// exposes the subset of load-balancer state a handler may need.
type PartitionContext struct {
	Namespace     string
	EventHub      string
	ConsumerGroup string
	PartitionID   string

	// LastEnqueuedEventProperties is non-nil only when tracking was
	// requested and the transport has reported tail metadata at least once.
	LastEnqueuedEventProperties *LastEnqueuedEventProperties
}

// CheckpointFunc captures an event's position and, when called, persists it
// as a Checkpoint via the Store. Calling it on an event with no position
// returns ErrEmptyCheckpoint.
type CheckpointFunc func() error
