// Package router implements route selection: alias/suffix/override
// resolution, and the three router modes (passthrough, complexity,
// cascade) spec.md §4.7 describes.
package router

import "github.com/RelayPlane/proxy/internal/classifier"

type Mode string

const (
	ModePassthrough Mode = "passthrough"
	ModeComplexity  Mode = "complexity"
	ModeCascade     Mode = "cascade"
)

// ComplexityTierModels maps a classifier tier to the model that mode
// "complexity" forwards to.
type ComplexityTierModels map[classifier.Tier]string

func DefaultComplexityTierModels() ComplexityTierModels {
	return ComplexityTierModels{
		classifier.TierSimple:   "claude-haiku-4-6",
		classifier.TierModerate: "claude-sonnet-4-6",
		classifier.TierComplex:  "claude-opus-4-6",
	}
}

// Config controls one Router instance.
type Config struct {
	Mode              Mode
	Aliases           AliasTable
	Overrides         map[string]string
	ComplexityModels  ComplexityTierModels
	CascadeModels     []string // ordered, cheapest/fastest first
	MaxEscalations    int
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModePassthrough,
		Aliases:          DefaultAliases(),
		Overrides:        map[string]string{},
		ComplexityModels: DefaultComplexityTierModels(),
		MaxEscalations:   2,
	}
}

// Decision is the router's verdict for one request.
type Decision struct {
	Model          string
	PreferenceHint Suffix
	Mode           Mode
	CascadeIdx     int // meaningful only when Mode == ModeCascade
}

// Route resolves the model to forward to for one incoming request.
// requestedModel is the raw model string from the client; tier is only
// consulted in complexity mode.
func Route(requestedModel string, tier classifier.Tier, cfg Config) Decision {
	resolved, hint := Resolve(requestedModel, cfg.Aliases, cfg.Overrides)

	switch cfg.Mode {
	case ModeComplexity:
		if target, ok := cfg.ComplexityModels[tier]; ok {
			resolved = target
		}
		return Decision{Model: resolved, PreferenceHint: hint, Mode: ModeComplexity}

	case ModeCascade:
		models := cfg.CascadeModels
		if len(models) == 0 {
			models = []string{resolved}
		}
		return Decision{Model: models[0], PreferenceHint: hint, Mode: ModeCascade, CascadeIdx: 0}

	default:
		return Decision{Model: resolved, PreferenceHint: hint, Mode: ModePassthrough}
	}
}

// NextCascadeModel returns the model at idx in cfg.CascadeModels, falling
// back to the last configured model if idx runs past the end.
func (cfg Config) NextCascadeModel(idx int) string {
	if idx < 0 || len(cfg.CascadeModels) == 0 {
		return ""
	}
	if idx >= len(cfg.CascadeModels) {
		idx = len(cfg.CascadeModels) - 1
	}
	return cfg.CascadeModels[idx]
}
