package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestLoadBalancer(t *testing.T, identifier string, store Store, transport Transport, options ProcessorOptions) *loadBalancer {
	t.Helper()
	handlers := &handlerSet{
		onEvent: func(PartitionContext, Event, CheckpointFunc) error { return nil },
		onError: func(*PartitionContext, string, error) {},
	}
	options = options.withDefaults()
	options.Identifier = identifier
	return newLoadBalancer("ns", "hub", "$Default", identifier, store, transport, options, handlers, logr.Discard())
}

func TestClaimOneClaimsAnUnclaimedPartition(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0", "1", "2"})
	lb := newTestLoadBalancer(t, "instance-a", store, transport, ProcessorOptions{})

	ctx := context.Background()
	all, active, ok := lb.observe(ctx)
	if !ok {
		t.Fatal("observe returned ok=false")
	}
	if len(all) != 0 || len(active) != 0 {
		t.Fatalf("expected empty ownership on first cycle, got all=%v active=%v", all, active)
	}

	lb.claimOne(ctx, []string{"0", "1", "2"}, all, active)

	if len(lb.instanceOwnership) != 1 {
		t.Fatalf("instanceOwnership = %v, want exactly one claimed partition", lb.instanceOwnership)
	}
}

func TestClaimOneRespectsMinPerOwner(t *testing.T) {
	store := newFakeStore()
	// Two instances already own one partition each out of three; a third
	// instance has none and three partitions exist, so minPerOwner = 1 and
	// the claimant is eligible.
	now := time.Now()
	store.ownership["0"] = PartitionOwnership{PartitionID: "0", OwnerID: "instance-a", LastModified: now, ETag: "1"}
	store.ownership["1"] = PartitionOwnership{PartitionID: "1", OwnerID: "instance-b", LastModified: now, ETag: "1"}

	transport := newFakeTransport([]string{"0", "1", "2"})
	lb := newTestLoadBalancer(t, "instance-c", store, transport, ProcessorOptions{})

	ctx := context.Background()
	all, active, ok := lb.observe(ctx)
	if !ok {
		t.Fatal("observe returned ok=false")
	}
	lb.claimOne(ctx, []string{"0", "1", "2"}, all, active)

	if _, claimed := lb.instanceOwnership["2"]; !claimed {
		t.Fatalf("instance-c should have claimed the only unclaimed partition, got %v", lb.instanceOwnership)
	}
}

func TestClaimOneClaimsNothingWhenAlreadyBalanced(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	// Two instances, two partitions: already perfectly balanced.
	store.ownership["0"] = PartitionOwnership{PartitionID: "0", OwnerID: "instance-a", LastModified: now, ETag: "1"}
	store.ownership["1"] = PartitionOwnership{PartitionID: "1", OwnerID: "instance-b", LastModified: now, ETag: "1"}

	transport := newFakeTransport([]string{"0", "1"})
	lb := newTestLoadBalancer(t, "instance-b", store, transport, ProcessorOptions{})
	lb.instanceOwnership["1"] = store.ownership["1"]

	ctx := context.Background()
	all, active, ok := lb.observe(ctx)
	if !ok {
		t.Fatal("observe returned ok=false")
	}
	lb.claimOne(ctx, []string{"0", "1"}, all, active)

	if len(lb.instanceOwnership) != 1 {
		t.Fatalf("instance-b should not have claimed an additional partition, got %v", lb.instanceOwnership)
	}
}

func TestSelectClaimTargetPresentsExpiredETagForUnclaimedPartition(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"})
	lb := newTestLoadBalancer(t, "instance-a", store, transport, ProcessorOptions{})

	// Partition "0" was previously owned but its lease has expired, so it's
	// absent from active but present in all with a real ETag.
	all := map[string]PartitionOwnership{
		"0": {PartitionID: "0", OwnerID: "instance-b", ETag: "stale-etag"},
	}
	active := map[string]PartitionOwnership{}

	target, ownership := lb.selectClaimTarget([]string{"0"}, all, active, map[string]int{"instance-a": 0}, 1, 2, 0)
	if target != "0" {
		t.Fatalf("target = %q, want 0", target)
	}
	if ownership.ETag != "stale-etag" {
		t.Errorf("ETag = %q, want the expired record's ETag to be presented for compare-and-set", ownership.ETag)
	}
}

func TestRenewDropsPartitionOnFailedRenewal(t *testing.T) {
	store := newFakeStore()
	transport := newFakeTransport([]string{"0"})
	lb := newTestLoadBalancer(t, "instance-a", store, transport, ProcessorOptions{})

	// instanceOwnership believes it holds "0" with a stale ETag that the
	// store will reject.
	lb.instanceOwnership["0"] = PartitionOwnership{PartitionID: "0", OwnerID: "instance-a", ETag: "stale"}
	store.ownership["0"] = PartitionOwnership{PartitionID: "0", OwnerID: "instance-a", ETag: "current"}

	lb.renew(context.Background())

	if _, ok := lb.instanceOwnership["0"]; ok {
		t.Error("instanceOwnership should have dropped partition 0 after a failed renewal")
	}
}
