package blobstore

import (
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	eventprocessor "github.com/kestrelstream/eventprocessor"
)

func TestBlobNaming(t *testing.T) {
	if got, want := ownershipBlobName("ns", "hub", "$Default", "3"), "ns/hub/$Default/ownership/3"; got != want {
		t.Errorf("ownershipBlobName = %q, want %q", got, want)
	}
	if got, want := checkpointBlobName("ns", "hub", "$Default", "3"), "ns/hub/$Default/checkpoint/3"; got != want {
		t.Errorf("checkpointBlobName = %q, want %q", got, want)
	}
}

func TestIsConditionNotMet(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"condition not met response error", &azcore.ResponseError{ErrorCode: string(bloberror.ConditionNotMet)}, true},
		{"unrelated response error", &azcore.ResponseError{ErrorCode: string(bloberror.BlobNotFound)}, false},
		{"non-response error", errors.New("connection refused"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isConditionNotMet(c.err); got != c.want {
				t.Errorf("isConditionNotMet(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	transient := classify("ListOwnership", &azcore.ResponseError{StatusCode: 503})
	if transient.Kind != eventprocessor.ErrorKindTransient {
		t.Errorf("classify(503) Kind = %v, want %v", transient.Kind, eventprocessor.ErrorKindTransient)
	}
	permanent := classify("ListOwnership", &azcore.ResponseError{StatusCode: 404})
	if permanent.Kind != eventprocessor.ErrorKindPermanent {
		t.Errorf("classify(404) Kind = %v, want %v", permanent.Kind, eventprocessor.ErrorKindPermanent)
	}
	notAResponseError := classify("ListOwnership", errors.New("dial tcp: timeout"))
	if notAResponseError.Kind != eventprocessor.ErrorKindPermanent {
		t.Errorf("classify(non-response error) Kind = %v, want %v (default to permanent)", notAResponseError.Kind, eventprocessor.ErrorKindPermanent)
	}
}
