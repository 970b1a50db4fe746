package eventprocessor

import "fmt"

// TransportError is the error type Transport/PartitionReader implementations
// should return so partitionReader can classify it for retry. Errors that
// don't implement retryableError are treated as non-retryable.
type TransportError struct {
	Op        string
	Retry     bool
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eventprocessor transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable implements retryableError.
func (e *TransportError) Retryable() bool { return e.Retry }

// NewTransientTransportError wraps err as a retryable transport error.
func NewTransientTransportError(op string, err error) error {
	return &TransportError{Op: op, Retry: true, Err: err}
}

// NewPermanentTransportError wraps err as a non-retryable transport error.
func NewPermanentTransportError(op string, err error) error {
	return &TransportError{Op: op, Retry: false, Err: err}
}
