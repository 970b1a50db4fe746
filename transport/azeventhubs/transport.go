// Package azeventhubs adapts an Azure Event Hubs consumer client to the
// core's Transport interface. It opens an azeventhubs.ConsumerClient and
// reads partitions through it directly, without azeventhubs.Processor: the
// load-balancing and checkpointing it layers on top live entirely in this
// module's own core, and only the low-level consumer client (partition
// enumeration + per-partition receive) is reused.
package azeventhubs

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/v2"

	eventprocessor "github.com/kestrelstream/eventprocessor"
)

// Transport wraps an *azeventhubs.ConsumerClient to satisfy
// eventprocessor.Transport.
type Transport struct {
	client *azeventhubs.ConsumerClient
}

// New wraps an existing consumer client. The caller owns the client's
// lifecycle (including Close).
func New(client *azeventhubs.ConsumerClient) *Transport {
	return &Transport{client: client}
}

// GetPartitionIDs implements eventprocessor.Transport.
func (t *Transport) GetPartitionIDs(ctx context.Context) ([]string, error) {
	props, err := t.client.GetEventHubProperties(ctx, nil)
	if err != nil {
		return nil, classify(eventprocessor.OpGetPartitionIDs, err)
	}
	return props.PartitionIDs, nil
}

// OpenConsumer implements eventprocessor.Transport.
func (t *Transport) OpenConsumer(ctx context.Context, consumerGroup, partitionID string, position eventprocessor.EventPosition, options eventprocessor.ConsumerOptions) (eventprocessor.PartitionReader, error) {
	pc, err := t.client.NewPartitionClient(partitionID, &azeventhubs.PartitionClientOptions{
		StartPosition: toStartPosition(position),
	})
	if err != nil {
		return nil, classify(eventprocessor.OpReadEvents, err)
	}
	return &partitionReader{
		client:         pc,
		consumerClient: t.client,
		partitionID:    partitionID,
		trackTail:      options.TrackLastEnqueuedEventProperties,
	}, nil
}

func toStartPosition(p eventprocessor.EventPosition) azeventhubs.StartPosition {
	if p.IsEarliest() {
		return azeventhubs.StartPosition{Earliest: boolPtr(true)}
	}
	if p.IsLatest() {
		return azeventhubs.StartPosition{Latest: boolPtr(true)}
	}
	if off, ok := p.Offset(); ok {
		return azeventhubs.StartPosition{Offset: int64Ptr(off)}
	}
	if seq, inclusive, ok := p.SequenceNumber(); ok {
		return azeventhubs.StartPosition{SequenceNumber: int64Ptr(seq), Inclusive: inclusive}
	}
	if t, ok := p.EnqueuedTime(); ok {
		return azeventhubs.StartPosition{EnqueuedTime: &t}
	}
	return azeventhubs.StartPosition{Earliest: boolPtr(true)}
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }

// partitionReader adapts *azeventhubs.PartitionClient to
// eventprocessor.PartitionReader. When trackTail is set, it refreshes
// lastTail from the consumer client's partition metadata after every
// non-empty batch — the raw PartitionClient carries no tail annotations of
// its own, unlike azeventhubs.Processor's ProcessorPartitionClient.
type partitionReader struct {
	client         *azeventhubs.PartitionClient
	consumerClient *azeventhubs.ConsumerClient
	partitionID    string
	trackTail      bool
	lastTail       *eventprocessor.LastEnqueuedEventProperties
}

func (r *partitionReader) ReceiveEvents(ctx context.Context, maxBatch int, maxWait time.Duration) ([]eventprocessor.Event, error) {
	receiveCtx := ctx
	var cancel context.CancelFunc
	if maxWait > 0 {
		receiveCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	received, err := r.client.ReceiveEvents(receiveCtx, maxBatch, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil // read-timeout: no events yet, not an error
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(eventprocessor.OpReadEvents, err)
	}

	events := make([]eventprocessor.Event, 0, len(received))
	for _, e := range received {
		var key *string
		if e.PartitionKey != nil {
			key = e.PartitionKey
		}
		props := map[string]any{}
		for k, v := range e.Properties {
			props[k] = v
		}
		events = append(events, eventprocessor.Event{
			Body:           e.Body,
			Offset:         e.Offset,
			SequenceNumber: e.SequenceNumber,
			EnqueuedTime:   valueOrZero(e.EnqueuedTime),
			PartitionKey:   key,
			Properties:     props,
		})
	}

	if r.trackTail && len(events) > 0 {
		r.refreshLastTail(ctx)
	}
	return events, nil
}

// refreshLastTail asks the consumer client for the partition's current tail
// metadata. Best-effort: a failure here leaves the previous lastTail (or nil)
// in place rather than failing the receive.
func (r *partitionReader) refreshLastTail(ctx context.Context) {
	props, err := r.consumerClient.GetPartitionProperties(ctx, r.partitionID, nil)
	if err != nil {
		return
	}
	r.lastTail = &eventprocessor.LastEnqueuedEventProperties{
		SequenceNumber: props.LastEnqueuedSequenceNumber,
		Offset:         props.LastEnqueuedOffset,
		EnqueuedTime:   props.LastEnqueuedOnUTC,
		RetrievalTime:  time.Now(),
	}
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (r *partitionReader) LastEnqueuedEventProperties() (eventprocessor.LastEnqueuedEventProperties, bool) {
	if r.lastTail == nil {
		return eventprocessor.LastEnqueuedEventProperties{}, false
	}
	return *r.lastTail, true
}

func (r *partitionReader) Close(ctx context.Context) error {
	return r.client.Close(ctx)
}

// classify wraps an azeventhubs error as transient or permanent based on
// its reported error code, the way pkg/ingestor/cloud/azure/source.go
// switches on azeventhubs.Error.Code.
func classify(op string, err error) error {
	var ehErr *azeventhubs.Error
	if errors.As(err, &ehErr) {
		switch ehErr.Code {
		case azeventhubs.ErrorCodeConnectionLost,
			azeventhubs.ErrorCodeServiceBusy,
			azeventhubs.ErrorCodeTimeout:
			return eventprocessor.NewTransientTransportError(op, err)
		case azeventhubs.ErrorCodeOwnershipLost:
			return eventprocessor.NewPermanentTransportError(op, err)
		}
	}
	return eventprocessor.NewPermanentTransportError(op, err)
}
