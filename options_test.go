package eventprocessor

import (
	"testing"
	"time"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	out := ProcessorOptions{}.withDefaults()
	if out.Identifier == "" {
		t.Error("Identifier should be generated when unset")
	}
	if out.LoadBalanceUpdate != DefaultLoadBalanceUpdate {
		t.Errorf("LoadBalanceUpdate = %v, want %v", out.LoadBalanceUpdate, DefaultLoadBalanceUpdate)
	}
	if out.OwnershipExpiration != DefaultOwnershipExpiration {
		t.Errorf("OwnershipExpiration = %v, want %v", out.OwnershipExpiration, DefaultOwnershipExpiration)
	}
	if out.RetryOptions.MaxRetries != DefaultRetryOptions().MaxRetries {
		t.Errorf("RetryOptions not defaulted: %+v", out.RetryOptions)
	}
}

func TestWithDefaultsClampsShortOwnershipExpiration(t *testing.T) {
	out := ProcessorOptions{
		LoadBalanceUpdate:   10 * time.Second,
		OwnershipExpiration: 5 * time.Second, // below 2x LoadBalanceUpdate
	}.withDefaults()

	want := 20 * time.Second
	if out.OwnershipExpiration != want {
		t.Errorf("OwnershipExpiration = %v, want clamped to %v", out.OwnershipExpiration, want)
	}
}

func TestWithDefaultsPreservesExplicitIdentifier(t *testing.T) {
	out := ProcessorOptions{Identifier: "fixed-id"}.withDefaults()
	if out.Identifier != "fixed-id" {
		t.Errorf("Identifier = %q, want it preserved", out.Identifier)
	}
}

func TestRetryOptionsBackoffCapsAtMaxDelay(t *testing.T) {
	r := RetryOptions{Mode: RetryModeExponential, Delay: time.Second, MaxDelay: 4 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
	}
	for _, c := range cases {
		if got := r.backoff(c.attempt); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryOptionsFixedBackoff(t *testing.T) {
	r := RetryOptions{Mode: RetryModeFixed, Delay: 2 * time.Second, MaxDelay: 10 * time.Second}
	if got := r.backoff(5); got != 2*time.Second {
		t.Errorf("backoff(5) = %v, want 2s (fixed mode)", got)
	}
}
