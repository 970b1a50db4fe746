package eventprocessor

import "fmt"

// ErrorKind classifies an error surfaced by the processor, per the error
// handling design: transient errors are retried by the caller, permanent
// operational errors are reported but do not stop the processor, and
// configuration/logic errors are returned synchronously to the caller that
// triggered them.
type ErrorKind string

const (
	// ErrorKindTransient covers timeouts, socket errors and throttling. The
	// partition reader retries transient transport errors per the retry
	// policy and surfaces them to onError only on exhaustion. Store calls are
	// not retried by the core: a failure during a load-balancer cycle or a
	// pump start is reported to onError at once, and a failed checkpoint
	// write is returned to the calling handler.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent covers invalid credentials, resource-not-found and
	// quota-exceeded. The loop keeps running; the user decides whether to stop.
	ErrorKindPermanent ErrorKind = "permanent"

	// ErrorKindConfiguration covers missing/duplicate handler registration
	// and starting while a stop is in progress. Returned synchronously.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindLogic covers a checkpoint request on an event with no
	// position to persist. Returned synchronously to the calling handler.
	ErrorKindLogic ErrorKind = "logic"
)

// Operation tags used when classifying errors delivered to onError, one per
// store/transport operation that can fail.
const (
	OpListOwnership  = "ListOwnership"
	OpClaimOwnership = "ClaimOwnership"
	OpRenewOwnership = "RenewOwnership"
	OpListCheckpoints = "ListCheckpoints"
	OpUpdateCheckpoint = "UpdateCheckpoint"
	OpGetPartitionIDs = "GetPartitionIds"
	OpReadEvents      = "ReadEvents"
)

// Error is the error type surfaced by the processor's core components. It
// carries an ErrorKind for callers that want to branch on it and the
// operation tag that produced it, and wraps the underlying cause.
type Error struct {
	Kind      ErrorKind
	Operation string
	Partition string // empty when the error is not partition-scoped
	Err       error
}

func (e *Error) Error() string {
	if e.Partition != "" {
		return fmt.Sprintf("eventprocessor: %s (%s, partition %s): %v", e.Kind, e.Operation, e.Partition, e.Err)
	}
	return fmt.Sprintf("eventprocessor: %s (%s): %v", e.Kind, e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, operation string, partition string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Partition: partition, Err: err}
}

// ErrEmptyCheckpoint is the logic error returned when a checkpoint is
// requested for a synthetic/empty event that carries no offset or sequence
// number to persist.
var ErrEmptyCheckpoint = fmt.Errorf("eventprocessor: cannot checkpoint an event with no offset")

// ErrMissingHandler is the configuration error returned by Start when a
// mandatory callback (onEvent or onError) was never registered.
var ErrMissingHandler = fmt.Errorf("eventprocessor: onEvent and onError handlers are mandatory before Start")

// ErrDuplicateHandler is the configuration error returned when a callback is
// registered twice without being cleared first.
var ErrDuplicateHandler = fmt.Errorf("eventprocessor: handler already registered")

// ErrStopInProgress is the configuration error returned by Start when it is
// called while a Stop is already in progress, and by the SetOn* handler
// registration methods when they are called while the processor is not Idle.
var ErrStopInProgress = fmt.Errorf("eventprocessor: stop already in progress")
