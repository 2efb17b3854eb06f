package downgrade

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyIsReferentiallyTransparent(t *testing.T) {
	cfg := DefaultConfig()
	r1 := Apply("claude-opus-4-6", 90, cfg)
	r2 := Apply("claude-opus-4-6", 90, cfg)
	require.Equal(t, r1, r2)
}

func TestApplyNoOpBelowTrigger(t *testing.T) {
	cfg := DefaultConfig()
	r := Apply("claude-opus-4-6", 50, cfg)
	require.False(t, r.Downgraded)
	require.Equal(t, "claude-opus-4-6", r.NewModel)
}

func TestApplyNoOpWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	r := Apply("claude-opus-4-6", 99, cfg)
	require.False(t, r.Downgraded)
}

func TestApplyNoOpWhenNoMappingExists(t *testing.T) {
	cfg := DefaultConfig()
	r := Apply("some-unmapped-model", 99, cfg)
	require.False(t, r.Downgraded)
	require.Equal(t, "some-unmapped-model", r.NewModel)
}

// Budget downgrade path: spec.md §8 scenario 4. At or above the
// configured trigger percentage, an expensive model is swapped for its
// configured cheaper counterpart.
func TestBudgetDowngradePathSwapsModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerPercent = 80

	r := Apply("claude-opus-4-6", 85, cfg)
	require.True(t, r.Downgraded)
	require.Equal(t, "claude-sonnet-4-6", r.NewModel)
	require.Equal(t, "claude-opus-4-6", r.OriginalModel)
}

func TestApplyExactlyAtThresholdTriggers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerPercent = 80
	r := Apply("gpt-5", 80, cfg)
	require.True(t, r.Downgraded)
	require.Equal(t, "gpt-5-mini", r.NewModel)
}
