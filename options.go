package eventprocessor

import (
	"time"

	"github.com/google/uuid"
)

// RetryMode selects the backoff shape used between retry attempts.
type RetryMode int

const (
	RetryModeExponential RetryMode = iota
	RetryModeFixed
)

// RetryOptions configures how transient Store/Transport errors are retried
// before being surfaced as exhausted.
type RetryOptions struct {
	Mode       RetryMode
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
	// TryTimeout bounds a single read attempt before it counts as a timeout.
	TryTimeout time.Duration
}

// DefaultRetryOptions gives a capped doubling delay with five retries.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Mode:       RetryModeExponential,
		MaxRetries: 5,
		Delay:      time.Second,
		MaxDelay:   60 * time.Second,
		TryTimeout: 60 * time.Second,
	}
}

// backoff returns the delay before retry attempt n (1-indexed).
func (r RetryOptions) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var d time.Duration
	switch r.Mode {
	case RetryModeFixed:
		d = r.Delay
	default:
		d = r.Delay
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > r.MaxDelay {
				d = r.MaxDelay
				break
			}
		}
	}
	if d > r.MaxDelay {
		d = r.MaxDelay
	}
	return d
}

// ConnectionOptions holds transport-level settings. The core does not read
// them or pass them to the Transport; setting them on ProcessorOptions has
// no effect on the connection.
type ConnectionOptions struct {
	TLSMinVersion  string
	ProxyURL       string
	ProtocolVersion string
}

const (
	// DefaultLoadBalanceUpdate is the load-balancer cycle cadence.
	DefaultLoadBalanceUpdate = 10 * time.Second
	// DefaultOwnershipExpiration is the lease TTL.
	DefaultOwnershipExpiration = 30 * time.Second
)

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// Identifier is the processor's owner id in the Store. Defaults to a
	// random UUID (per-instance; must vary to avoid colliding PRNG seeds
	// and tie-break choices across peers started simultaneously).
	Identifier string

	// LoadBalanceUpdate is the load-balancer cycle cadence.
	LoadBalanceUpdate time.Duration

	// OwnershipExpiration is the lease TTL. Must be >= 2x LoadBalanceUpdate
	// so a single missed cycle does not drop a lease; values that violate
	// this are clamped up rather than rejected.
	OwnershipExpiration time.Duration

	// MaximumWaitTime bounds a single ReceiveEvents call when no events are
	// available. Zero means 60 seconds.
	MaximumWaitTime time.Duration

	// TrackLastEnqueuedEventProperties requests partition tail metadata.
	TrackLastEnqueuedEventProperties bool

	RetryOptions      RetryOptions
	ConnectionOptions ConnectionOptions
}

// withDefaults fills unset fields and clamps misconfigured expiration,
// returning a sanitized copy. The clamp direction (raise OwnershipExpiration
// rather than reject) follows the Open Question decision recorded in
// DESIGN.md: treat it as misconfiguration but keep the processor usable.
func (o ProcessorOptions) withDefaults() ProcessorOptions {
	out := o
	if out.Identifier == "" {
		out.Identifier = uuid.NewString()
	}
	if out.LoadBalanceUpdate <= 0 {
		out.LoadBalanceUpdate = DefaultLoadBalanceUpdate
	}
	if out.OwnershipExpiration <= 0 {
		out.OwnershipExpiration = DefaultOwnershipExpiration
	}
	if out.OwnershipExpiration < 2*out.LoadBalanceUpdate {
		out.OwnershipExpiration = 2 * out.LoadBalanceUpdate
	}
	if out.RetryOptions.MaxRetries == 0 && out.RetryOptions.Delay == 0 {
		out.RetryOptions = DefaultRetryOptions()
	}
	return out
}
