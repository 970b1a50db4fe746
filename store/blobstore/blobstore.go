// Package blobstore is a reference Checkpoint/Ownership Store: it maps
// each ownership record and each checkpoint to a distinct empty-body blob
// carrying typed metadata, keyed
// "<ns>/<hub>/<group>/ownership/<partition>" and
// "<ns>/<hub>/<group>/checkpoint/<partition>", using the blob's ETag as the
// opaque version token for optimistic concurrency.
//
// It follows the checkpoint-store wiring pattern of
// container.NewClient + checkpoints.NewBlobStore, and the older lease/ETag
// compare-and-set idiom from the azure-event-hubs-go storage package.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/go-logr/logr"

	eventprocessor "github.com/kestrelstream/eventprocessor"
)

// Metadata keys: ownership blobs carry "ownerid"; checkpoint blobs
// carry "sequencenumber" and "offset". No body bytes are stored.
const (
	metaOwnerID        = "ownerid"
	metaSequenceNumber = "sequencenumber"
	metaOffset         = "offset"
)

// Store is a Store implementation backed by an Azure Blob Storage
// container.
type Store struct {
	client *container.Client
	log    logr.Logger
}

// New wraps an existing container client. The container is assumed to
// already exist; callers provision it out of band (e.g. via infrastructure
// as code).
func New(client *container.Client, log logr.Logger) *Store {
	return &Store{client: client, log: log.WithName("blobstore")}
}

func ownershipBlobName(ns, hub, group, partition string) string {
	return fmt.Sprintf("%s/%s/%s/ownership/%s", ns, hub, group, partition)
}

func checkpointBlobName(ns, hub, group, partition string) string {
	return fmt.Sprintf("%s/%s/%s/checkpoint/%s", ns, hub, group, partition)
}

// ListOwnership lists every ownership blob under the (ns, hub, group)
// prefix and reconstructs PartitionOwnership records from blob metadata.
func (s *Store) ListOwnership(ctx context.Context, namespace, eventHub, consumerGroup string) ([]eventprocessor.PartitionOwnership, error) {
	prefix := fmt.Sprintf("%s/%s/%s/ownership/", namespace, eventHub, consumerGroup)
	var result []eventprocessor.PartitionOwnership

	pager := s.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:  &prefix,
		Include: container.ListBlobsInclude{Metadata: true},
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("ListOwnership", err)
		}
		for _, item := range page.Segment.BlobItems {
			partitionID := strings.TrimPrefix(*item.Name, prefix)
			ownership := eventprocessor.PartitionOwnership{
				FullyQualifiedNamespace: namespace,
				EventHubName:            eventHub,
				ConsumerGroup:           consumerGroup,
				PartitionID:             partitionID,
			}
			if item.Properties != nil && item.Properties.LastModified != nil {
				ownership.LastModified = *item.Properties.LastModified
			}
			if item.Properties != nil && item.Properties.ETag != nil {
				ownership.ETag = string(*item.Properties.ETag)
			}
			if v, ok := item.Metadata[metaOwnerID]; ok && v != nil {
				ownership.OwnerID = *v
			}
			result = append(result, ownership)
		}
	}
	return result, nil
}

// ClaimOwnership attempts a compare-and-set write per element: IfMatch the
// presented ETag when non-empty, IfNoneMatch "*" when empty (first claim).
// Conflicting elements are silently omitted from the result — partial
// success is normal.
func (s *Store) ClaimOwnership(ctx context.Context, ownerships []eventprocessor.PartitionOwnership) ([]eventprocessor.PartitionOwnership, error) {
	var claimed []eventprocessor.PartitionOwnership
	for _, o := range ownerships {
		name := ownershipBlobName(o.FullyQualifiedNamespace, o.EventHubName, o.ConsumerGroup, o.PartitionID)
		blobClient := s.client.NewBlockBlobClient(name)

		accessConditions := &blob.AccessConditions{ModifiedAccessConditions: &blob.ModifiedAccessConditions{}}
		if o.ETag == "" {
			any := azcore.ETagAny
			accessConditions.ModifiedAccessConditions.IfNoneMatch = &any
		} else {
			etag := azcore.ETag(o.ETag)
			accessConditions.ModifiedAccessConditions.IfMatch = &etag
		}

		ownerID := o.OwnerID
		resp, err := blobClient.Upload(ctx, nopSeeker(), &blockblob.UploadOptions{
			Metadata:         map[string]*string{metaOwnerID: &ownerID},
			AccessConditions: accessConditions,
		})
		if err != nil {
			if isConditionNotMet(err) {
				continue // lost the race; silently omitted
			}
			return claimed, classify("ClaimOwnership", err)
		}

		next := o
		if resp.ETag != nil {
			next.ETag = string(*resp.ETag)
		}
		if resp.LastModified != nil {
			next.LastModified = *resp.LastModified
		} else {
			next.LastModified = time.Now().UTC()
		}
		claimed = append(claimed, next)
	}
	return claimed, nil
}

// ListCheckpoints lists every checkpoint blob under the (ns, hub, group)
// prefix and reconstructs Checkpoint records from blob metadata.
func (s *Store) ListCheckpoints(ctx context.Context, namespace, eventHub, consumerGroup string) ([]eventprocessor.Checkpoint, error) {
	prefix := fmt.Sprintf("%s/%s/%s/checkpoint/", namespace, eventHub, consumerGroup)
	var result []eventprocessor.Checkpoint

	pager := s.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:  &prefix,
		Include: container.ListBlobsInclude{Metadata: true},
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("ListCheckpoints", err)
		}
		for _, item := range page.Segment.BlobItems {
			partitionID := strings.TrimPrefix(*item.Name, prefix)
			cp := eventprocessor.Checkpoint{
				FullyQualifiedNamespace: namespace,
				EventHubName:            eventHub,
				ConsumerGroup:           consumerGroup,
				PartitionID:             partitionID,
			}
			if v, ok := item.Metadata[metaSequenceNumber]; ok && v != nil {
				cp.SequenceNumber, _ = strconv.ParseInt(*v, 10, 64)
			}
			if v, ok := item.Metadata[metaOffset]; ok && v != nil {
				cp.Offset, _ = strconv.ParseInt(*v, 10, 64)
			}
			result = append(result, cp)
		}
	}
	return result, nil
}

// UpdateCheckpoint is an unconditional write (last-writer-wins).
func (s *Store) UpdateCheckpoint(ctx context.Context, checkpoint eventprocessor.Checkpoint) error {
	name := checkpointBlobName(checkpoint.FullyQualifiedNamespace, checkpoint.EventHubName, checkpoint.ConsumerGroup, checkpoint.PartitionID)
	blobClient := s.client.NewBlockBlobClient(name)

	seq := strconv.FormatInt(checkpoint.SequenceNumber, 10)
	off := strconv.FormatInt(checkpoint.Offset, 10)
	_, err := blobClient.Upload(ctx, nopSeeker(), &blockblob.UploadOptions{
		Metadata: map[string]*string{
			metaSequenceNumber: &seq,
			metaOffset:         &off,
		},
	})
	if err != nil {
		return classify("UpdateCheckpoint", err)
	}
	return nil
}

// nopSeeker returns an empty ReadSeekCloser — ownership and checkpoint
// blobs carry no body bytes, only metadata.
func nopSeeker() *bytesReadSeekCloser {
	return &bytesReadSeekCloser{Reader: bytes.NewReader(nil)}
}

type bytesReadSeekCloser struct {
	*bytes.Reader
}

func (b *bytesReadSeekCloser) Close() error { return nil }

func isConditionNotMet(err error) bool {
	return bloberror.HasCode(err, bloberror.ConditionNotMet)
}

// classify wraps a blob-store error as transient or permanent depending on
// the HTTP status, the way the core's retry policy expects.
func classify(op string, err error) *eventprocessor.Error {
	kind := eventprocessor.ErrorKindPermanent
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			kind = eventprocessor.ErrorKindTransient
		}
	}
	return &eventprocessor.Error{Kind: kind, Operation: op, Err: err}
}
