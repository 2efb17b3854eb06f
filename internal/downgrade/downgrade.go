// Package downgrade implements the pure auto-downgrade rule spec.md §4.5
// describes: above a configured budget-utilization percentage, expensive
// models are swapped for a cheaper model from the same family.
package downgrade

// Config controls when auto-downgrade applies and which model each
// expensive model maps to.
type Config struct {
	Enabled          bool
	TriggerPercent   float64 // daily budget utilization percent that activates downgrade
	Mapping          map[string]string
}

// DefaultMapping is the expensive -> cheaper model table, with entries for
// the Anthropic, OpenAI and Google model families.
func DefaultMapping() map[string]string {
	return map[string]string{
		"claude-opus-4-6":    "claude-sonnet-4-6",
		"claude-opus-4-5":    "claude-sonnet-4-5",
		"claude-sonnet-4-6":  "claude-haiku-4-6",
		"claude-sonnet-4-5":  "claude-haiku-4-5",
		"gpt-5":              "gpt-5-mini",
		"gpt-5-mini":         "gpt-5-nano",
		"gpt-4.1":            "gpt-4.1-mini",
		"gpt-4.1-mini":       "gpt-4.1-nano",
		"gemini-2.5-pro":     "gemini-2.5-flash",
		"gemini-2.5-flash":   "gemini-2.5-flash-lite",
	}
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		TriggerPercent: 80,
		Mapping:        DefaultMapping(),
	}
}

// Result reports what Apply decided, always including the original and
// (possibly identical) final model so callers need not branch on
// Downgraded to log the outcome.
type Result struct {
	Downgraded    bool
	OriginalModel string
	NewModel      string
	Reason        string
}

// Apply is a pure function: the same (model, budgetUtilizationPct, cfg)
// always produces the same Result. It never inspects global state, a
// clock, or any store.
func Apply(model string, budgetUtilizationPct float64, cfg Config) Result {
	result := Result{OriginalModel: model, NewModel: model}

	if !cfg.Enabled {
		return result
	}
	if budgetUtilizationPct < cfg.TriggerPercent {
		return result
	}

	target, ok := cfg.Mapping[model]
	if !ok {
		result.Reason = "no mapping available"
		return result
	}

	result.Downgraded = true
	result.NewModel = target
	result.Reason = "daily budget utilization at or above the downgrade threshold"
	return result
}
