package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProviderAllowedByDefault(t *testing.T) {
	tr := New(DefaultConfig())
	require.True(t, tr.Allowed("anthropic"))
}

func TestQuarantineAfterAllowedFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedFails = 3
	cfg.WindowSeconds = 60
	cfg.CooldownSeconds = 120
	tr := New(cfg)

	tr.RecordFailure("openai")
	tr.RecordFailure("openai")
	require.True(t, tr.Allowed("openai"), "below allowedFails must not quarantine")

	tr.RecordFailure("openai")
	require.False(t, tr.Allowed("openai"), "reaching allowedFails must quarantine")
}

func TestSuccessClearsFailureCounter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedFails = 3
	tr := New(cfg)

	tr.RecordFailure("openai")
	tr.RecordFailure("openai")
	tr.RecordSuccess("openai")
	tr.RecordFailure("openai")

	require.True(t, tr.Allowed("openai"), "success must reset the failure count")
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	cfg := Config{AllowedFails: 2, WindowSeconds: 0, CooldownSeconds: 60}
	tr := New(cfg)
	tr.cfg.WindowSeconds = 1

	tr.RecordFailure("openai")
	time.Sleep(1100 * time.Millisecond)
	tr.RecordFailure("openai")

	require.True(t, tr.Allowed("openai"), "failures outside the rolling window must not accumulate")
}

// Cooldown fairness: spec.md §8 property. A provider's quarantine never
// affects any other provider's availability.
func TestCooldownFairnessAcrossProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedFails = 1
	tr := New(cfg)

	tr.RecordFailure("openai")
	require.False(t, tr.Allowed("openai"))
	require.True(t, tr.Allowed("anthropic"), "one provider's quarantine must not affect another's")
}

func TestAnyAllowedReflectsQuarantineState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedFails = 1
	tr := New(cfg)

	tr.RecordFailure("openai")
	tr.RecordFailure("anthropic")

	require.False(t, tr.AnyAllowed([]string{"openai", "anthropic"}))
	require.True(t, tr.AnyAllowed([]string{"openai", "anthropic", "google"}))
}
