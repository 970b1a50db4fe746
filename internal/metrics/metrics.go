// Package metrics holds the Prometheus collectors for the event processor
// core. Collectors are registered against the default registry in init so
// any importer gets them for free on a standard promhttp handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CycleDurationSeconds is the wall-clock time of one load-balancer cycle.
	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eventprocessor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one load-balancer cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ClaimAttemptsTotal is the total number of ClaimOwnership attempts,
	// partitioned by outcome.
	ClaimAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Name:      "claim_attempts_total",
			Help:      "Ownership claim attempts by outcome.",
		},
		[]string{"outcome"}, // won, lost, renewed, renew_failed
	)

	// OwnedPartitions is the current number of partitions this instance owns.
	OwnedPartitions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventprocessor",
			Name:      "owned_partitions",
			Help:      "Partitions currently owned by this processor instance.",
		},
	)

	// ActivePumps is the current number of running partition pumps.
	ActivePumps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventprocessor",
			Name:      "active_pumps",
			Help:      "Partition pumps currently running.",
		},
	)

	// CheckpointsWrittenTotal is the total number of checkpoint writes.
	CheckpointsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Name:      "checkpoints_written_total",
			Help:      "Checkpoint writes, by result.",
		},
		[]string{"result"}, // ok, error
	)

	// PumpDurationSeconds is how long a pump ran before terminating.
	PumpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventprocessor",
			Name:      "pump_duration_seconds",
			Help:      "Lifetime of a partition pump before it terminated.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"partition"},
	)

	// StoreErrorsTotal is the total number of failures reported by the
	// load balancer (Store operations and partition enumeration), by
	// operation and error kind.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventprocessor",
			Name:      "store_errors_total",
			Help:      "Load-balancer Store and partition-enumeration failures, by operation and kind.",
		},
		[]string{"operation", "kind"},
	)
)

func init() {
	prometheus.MustRegister(
		CycleDurationSeconds,
		ClaimAttemptsTotal,
		OwnedPartitions,
		ActivePumps,
		CheckpointsWrittenTotal,
		PumpDurationSeconds,
		StoreErrorsTotal,
	)
}
