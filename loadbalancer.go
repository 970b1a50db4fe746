package eventprocessor

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-logr/logr"

	"github.com/kestrelstream/eventprocessor/internal/metrics"
)

// loadBalancer runs a single periodic task per processor instance that
// renews owned leases, observes peers' state, claims or steals partitions
// to converge distribution, and starts/stops pumps accordingly.
//
// loadBalancer exclusively owns instanceOwnership (no locking required,
// single task) and activePumps (a plain map touched only by the loop and,
// once the loop has exited, by stopAll; pump goroutines complete
// independently and are observed here through each pump's done channel).
type loadBalancer struct {
	namespace     string
	eventHub      string
	consumerGroup string
	identifier    string

	store     Store
	transport Transport
	options   ProcessorOptions
	handlers  *handlerSet
	log       logr.Logger
	rng       *rand.Rand

	instanceOwnership map[string]PartitionOwnership // partition id -> lease held by this instance
	activePumps       map[string]*pump              // partition id -> running pump

	partitionClients chan *ProcessorPartitionClient // fed whenever a pump starts (Phases C and F); see NextPartitionClient
}

func newLoadBalancer(namespace, eventHub, consumerGroup, identifier string, store Store, transport Transport, options ProcessorOptions, handlers *handlerSet, log logr.Logger) *loadBalancer {
	seed := time.Now().UnixNano() ^ int64(hashString(identifier))
	return &loadBalancer{
		namespace:         namespace,
		eventHub:          eventHub,
		consumerGroup:     consumerGroup,
		identifier:        identifier,
		store:             store,
		transport:         transport,
		options:           options,
		handlers:          handlers,
		log:               log.WithName("loadbalancer"),
		rng:               rand.New(rand.NewSource(seed)),
		instanceOwnership: make(map[string]PartitionOwnership),
		activePumps:       make(map[string]*pump),
		partitionClients:  make(chan *ProcessorPartitionClient, 16),
	}
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// run drives the cycle loop until ctx is cancelled.
func (lb *loadBalancer) run(ctx context.Context) {
	for {
		cycleStart := time.Now()
		lb.cycle(ctx)
		metrics.CycleDurationSeconds.Observe(time.Since(cycleStart).Seconds())
		metrics.OwnedPartitions.Set(float64(len(lb.instanceOwnership)))
		metrics.ActivePumps.Set(float64(len(lb.activePumps)))

		elapsed := time.Since(cycleStart)
		sleep := lb.options.LoadBalanceUpdate - elapsed // Phase G
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// cycle runs one iteration: renew, reap, heal, observe, enumerate, claim.
func (lb *loadBalancer) cycle(ctx context.Context) {
	lb.renew(ctx)     // Phase A
	lb.reap(ctx)      // Phase B
	lb.heal(ctx)      // Phase C

	all, active, ok := lb.observe(ctx) // Phase D
	if !ok {
		return
	}
	partitions, ok := lb.enumeratePartitions(ctx) // Phase E
	if !ok {
		return
	}
	lb.claimOne(ctx, partitions, all, active) // Phase F
}

// renew is Phase A: re-submit every owned lease through ClaimOwnership.
// Failed renewals are dropped from instanceOwnership — another processor
// has taken over.
func (lb *loadBalancer) renew(ctx context.Context) {
	if len(lb.instanceOwnership) == 0 {
		return
	}
	batch := make([]PartitionOwnership, 0, len(lb.instanceOwnership))
	for _, o := range lb.instanceOwnership {
		batch = append(batch, o)
	}
	renewed, err := lb.store.ClaimOwnership(ctx, batch)
	if err != nil {
		lb.reportError(OpRenewOwnership, err)
		return // surface and proceed with the old view
	}
	renewedSet := make(map[string]PartitionOwnership, len(renewed))
	for _, o := range renewed {
		renewedSet[o.PartitionID] = o
	}
	for id := range lb.instanceOwnership {
		if o, ok := renewedSet[id]; ok {
			lb.instanceOwnership[id] = o
			metrics.ClaimAttemptsTotal.WithLabelValues("renewed").Inc()
		} else {
			delete(lb.instanceOwnership, id)
			metrics.ClaimAttemptsTotal.WithLabelValues("renew_failed").Inc()
			lb.log.V(1).Info("lease renewal failed, partition lost", "partition", id)
		}
	}
}

// reap is Phase B: stop pumps for partitions no longer in instanceOwnership.
func (lb *loadBalancer) reap(ctx context.Context) {
	for id, p := range lb.activePumps {
		if _, owned := lb.instanceOwnership[id]; !owned {
			lb.stopPump(ctx, id, p, CloseReasonOwnershipLost)
		}
	}
}

// heal is Phase C: start pumps for owned partitions with no running (or
// completed) pump, after clearing any stale entry.
func (lb *loadBalancer) heal(ctx context.Context) {
	for id := range lb.instanceOwnership {
		p, exists := lb.activePumps[id]
		if exists && !p.stopped() {
			continue
		}
		if exists {
			if err := p.completionError(); err != nil {
				lb.log.V(1).Info("pump crashed, restarting", "partition", id, "error", err)
			}
			delete(lb.activePumps, id)
		}
		lb.startPump(ctx, id)
	}
}

// observe is Phase D: read the full cross-processor ownership view,
// returning every record keyed by partition (active or expired, so a later
// claim on an unclaimed-but-previously-owned partition can still present
// the last-known ETag) and the subset that is currently active.
func (lb *loadBalancer) observe(ctx context.Context) (all map[string]PartitionOwnership, active map[string]PartitionOwnership, ok bool) {
	records, err := lb.store.ListOwnership(ctx, lb.namespace, lb.eventHub, lb.consumerGroup)
	if err != nil {
		lb.reportError(OpListOwnership, err)
		return nil, nil, false
	}
	all = make(map[string]PartitionOwnership, len(records))
	active = make(map[string]PartitionOwnership, len(records))
	now := time.Now()
	for _, o := range records {
		all[o.PartitionID] = o
		if o.OwnerID == "" {
			continue
		}
		if now.Sub(o.LastModified) < lb.options.OwnershipExpiration {
			active[o.PartitionID] = o
		}
	}
	return all, active, true
}

// enumeratePartitions is Phase E.
func (lb *loadBalancer) enumeratePartitions(ctx context.Context) ([]string, bool) {
	ids, err := lb.transport.GetPartitionIDs(ctx)
	if err != nil {
		lb.reportError(OpGetPartitionIDs, err)
		return nil, false
	}
	return ids, true
}

// claimOne is Phase F: compute the target distribution and, if eligible,
// claim at most one partition.
func (lb *loadBalancer) claimOne(ctx context.Context, partitions []string, all map[string]PartitionOwnership, active map[string]PartitionOwnership) {
	owners := map[string]int{}
	for _, o := range active {
		owners[o.OwnerID]++
	}
	if _, self := owners[lb.identifier]; !self {
		owners[lb.identifier] = 0
	}

	P := len(partitions)
	O := len(owners)
	if O == 0 {
		return
	}
	minPerOwner := P / O
	maxPerOwner := minPerOwner + 1

	mine := 0
	for id := range lb.instanceOwnership {
		if o, ok := active[id]; ok && o.OwnerID == lb.identifier {
			mine++
		}
	}

	eligible := mine < minPerOwner
	if !eligible && mine == minPerOwner {
		eligible = true
		for owner, count := range owners {
			if owner == lb.identifier {
				continue
			}
			if count < minPerOwner {
				eligible = false
				break
			}
		}
	}
	if !eligible {
		return
	}

	target, tokenOwnership := lb.selectClaimTarget(partitions, all, active, owners, minPerOwner, maxPerOwner, mine)
	if target == "" {
		return
	}

	candidate := PartitionOwnership{
		FullyQualifiedNamespace: lb.namespace,
		EventHubName:            lb.eventHub,
		ConsumerGroup:           lb.consumerGroup,
		PartitionID:             target,
		OwnerID:                 lb.identifier,
		ETag:                    tokenOwnership.ETag,
	}
	claimed, err := lb.store.ClaimOwnership(ctx, []PartitionOwnership{candidate})
	if err != nil {
		lb.reportError(OpClaimOwnership, err)
		metrics.ClaimAttemptsTotal.WithLabelValues("lost").Inc()
		return
	}
	if len(claimed) == 0 {
		metrics.ClaimAttemptsTotal.WithLabelValues("lost").Inc()
		return // another instance won the race; re-evaluate next cycle
	}

	metrics.ClaimAttemptsTotal.WithLabelValues("won").Inc()
	lb.instanceOwnership[target] = claimed[0]
	lb.startPump(ctx, target)
}

// selectClaimTarget runs a three-tier selection: prefer unclaimed
// partitions, then steal from owners over maxPerOwner, then steal to reach
// minPerOwner from owners at exactly maxPerOwner.
func (lb *loadBalancer) selectClaimTarget(partitions []string, all map[string]PartitionOwnership, active map[string]PartitionOwnership, owners map[string]int, minPerOwner, maxPerOwner, mine int) (string, PartitionOwnership) {
	var unclaimed []string
	for _, p := range partitions {
		if _, ok := active[p]; !ok {
			unclaimed = append(unclaimed, p)
		}
	}
	if len(unclaimed) > 0 {
		p := unclaimed[lb.rng.Intn(len(unclaimed))]
		// Present the most recent (possibly expired) record's ETag, if
		// one exists, else a zero value (empty ETag — first claim).
		return p, all[p]
	}

	var overQuota []string
	for p, o := range active {
		if owners[o.OwnerID] > maxPerOwner {
			overQuota = append(overQuota, p)
		}
	}
	if len(overQuota) > 0 {
		p := overQuota[lb.rng.Intn(len(overQuota))]
		return p, active[p]
	}

	if mine < minPerOwner {
		var atMax []string
		for p, o := range active {
			if owners[o.OwnerID] == maxPerOwner {
				atMax = append(atMax, p)
			}
		}
		if len(atMax) > 0 {
			p := atMax[lb.rng.Intn(len(atMax))]
			return p, active[p]
		}
	}
	return "", PartitionOwnership{}
}

func (lb *loadBalancer) startPump(ctx context.Context, partitionID string) {
	ownership := lb.instanceOwnership[partitionID]
	partitionCtx := PartitionContext{
		Namespace:     lb.namespace,
		EventHub:      lb.eventHub,
		ConsumerGroup: lb.consumerGroup,
		PartitionID:   partitionID,
	}
	consumerOpts := ConsumerOptions{TrackLastEnqueuedEventProperties: lb.options.TrackLastEnqueuedEventProperties}
	reader := newPartitionReader(lb.transport, lb.log, lb.consumerGroup, partitionID, EarliestEventPosition(), consumerOpts, lb.options.RetryOptions)
	p := newPump(partitionCtx, lb.store, reader, lb.handlers, lb.options, lb.log)
	p.start(ctx)
	lb.activePumps[partitionID] = p
	_ = ownership

	select {
	case lb.partitionClients <- &ProcessorPartitionClient{partitionCtx: partitionCtx, store: lb.store, done: p.done}:
	default:
		// NextPartitionClient consumers are optional; never block the loop.
	}
}

func (lb *loadBalancer) stopPump(ctx context.Context, partitionID string, p *pump, reason CloseReason) {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = p.stop(stopCtx, reason)
	delete(lb.activePumps, partitionID)
}

// stopAll stops every active pump in parallel with reason Shutdown,
// respecting ctx.
func (lb *loadBalancer) stopAll(ctx context.Context) {
	type result struct{}
	done := make(chan result, len(lb.activePumps))
	for id, p := range lb.activePumps {
		go func(id string, p *pump) {
			_ = p.stop(ctx, CloseReasonShutdown)
			done <- result{}
		}(id, p)
	}
	for range lb.activePumps {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	lb.activePumps = make(map[string]*pump)
}

func (lb *loadBalancer) reportError(operation string, err error) {
	if lb.handlers.onError == nil || err == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		lb.handlers.onError(nil, operation, err)
	}()
	if epErr, ok := err.(*Error); ok {
		metrics.StoreErrorsTotal.WithLabelValues(operation, string(epErr.Kind)).Inc()
	} else {
		metrics.StoreErrorsTotal.WithLabelValues(operation, "unknown").Inc()
	}
}
