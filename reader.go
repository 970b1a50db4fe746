package eventprocessor

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
)

// partitionReader wraps one Transport-level PartitionReader and
// transparently reopens the link at the
// current position when a retryable error occurs, so that callers observe
// no gap in the event sequence. Non-retryable errors are surfaced.
type partitionReader struct {
	transport     Transport
	log           logr.Logger
	consumerGroup string
	partitionID   string
	options       ConsumerOptions
	retry         RetryOptions

	position EventPosition // current position; advances past each delivered event
	inner    PartitionReader
}

func newPartitionReader(transport Transport, log logr.Logger, consumerGroup, partitionID string, start EventPosition, options ConsumerOptions, retry RetryOptions) *partitionReader {
	return &partitionReader{
		transport:     transport,
		log:           log.WithValues("partition", partitionID),
		consumerGroup: consumerGroup,
		partitionID:   partitionID,
		options:       options,
		retry:         retry,
		position:      start,
	}
}

func (r *partitionReader) open(ctx context.Context) error {
	pr, err := r.transport.OpenConsumer(ctx, r.consumerGroup, r.partitionID, r.position, r.options)
	if err != nil {
		return err
	}
	r.inner = pr
	return nil
}

// receive returns the next batch of events, retrying transparently on
// retryable transport errors by reopening the link just after the sequence
// number of the last successfully-delivered event. An empty batch with a nil error means "no
// events yet", not an error.
func (r *partitionReader) receive(ctx context.Context, maxBatch int, maxWait time.Duration) ([]Event, error) {
	attempt := 0
	for {
		if r.inner == nil {
			if err := r.open(ctx); err != nil {
				if !isRetryable(err) {
					return nil, newError(ErrorKindPermanent, OpReadEvents, r.partitionID, err)
				}
				if attempt >= r.retry.MaxRetries {
					return nil, newError(ErrorKindTransient, OpReadEvents, r.partitionID, err)
				}
				attempt++
				if waitBackoff(ctx, r.retry.backoff(attempt)) != nil {
					return nil, ctx.Err()
				}
				continue
			}
		}

		tryCtx := ctx
		var cancel context.CancelFunc
		if r.retry.TryTimeout > 0 {
			tryCtx, cancel = context.WithTimeout(ctx, r.retry.TryTimeout)
		}
		events, err := r.inner.ReceiveEvents(tryCtx, maxBatch, maxWait)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Read-timeout: treated as "no events yet", not an error.
				return nil, nil
			}
			if !isRetryable(err) {
				return nil, newError(ErrorKindPermanent, OpReadEvents, r.partitionID, err)
			}
			// Retryable: back off and reopen the link at the current position.
			_ = r.inner.Close(ctx)
			r.inner = nil
			attempt++
			if attempt > r.retry.MaxRetries {
				return nil, newError(ErrorKindTransient, OpReadEvents, r.partitionID, err)
			}
			r.log.V(1).Info("retryable read error, reopening link", "attempt", attempt, "error", err)
			if waitBackoff(ctx, r.retry.backoff(attempt)) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		attempt = 0
		if len(events) > 0 {
			last := events[len(events)-1]
			r.position = FromSequenceNumber(last.SequenceNumber, false)
		}
		return events, nil
	}
}

func (r *partitionReader) lastEnqueuedEventProperties() (LastEnqueuedEventProperties, bool) {
	if r.inner == nil {
		return LastEnqueuedEventProperties{}, false
	}
	return r.inner.LastEnqueuedEventProperties()
}

func (r *partitionReader) close(ctx context.Context) error {
	if r.inner == nil {
		return nil
	}
	err := r.inner.Close(ctx)
	r.inner = nil
	return err
}

// retryableError is implemented by transport errors that know their own
// retry classification. Transports that don't implement it are treated as
// non-retryable by default — conservative, since surfacing unexpectedly is
// safer than silently looping on a permanent error.
type retryableError interface {
	Retryable() bool
}

func isRetryable(err error) bool {
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
