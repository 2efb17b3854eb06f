package router

import "strings"

// Suffix is a routing-preference hint stripped from the requested model
// name before any alias/override/complexity logic runs.
type Suffix string

const (
	SuffixNone    Suffix = ""
	SuffixCost    Suffix = "cost"
	SuffixFast    Suffix = "fast"
	SuffixQuality Suffix = "quality"
)

var knownSuffixes = []Suffix{SuffixCost, SuffixFast, SuffixQuality}

// AliasTable maps the fixed RelayPlane aliases to concrete models. It is
// populated from config at startup; these are the default targets when a
// deployment hasn't overridden them.
type AliasTable map[string]string

func DefaultAliases() AliasTable {
	return AliasTable{
		"rp:best":         "claude-opus-4-6",
		"rp:fast":         "claude-haiku-4-6",
		"rp:cheap":        "gpt-5-nano",
		"rp:balanced":     "claude-sonnet-4-6",
		"relayplane:auto": "claude-sonnet-4-6",
		"rp:auto":         "claude-sonnet-4-6",
	}
}

// StripSuffix removes a trailing ":cost"/":fast"/":quality" suffix from
// model and returns the bare model name plus the recorded hint.
func StripSuffix(model string) (bare string, hint Suffix) {
	for _, s := range knownSuffixes {
		suffix := ":" + string(s)
		if strings.HasSuffix(model, suffix) {
			return strings.TrimSuffix(model, suffix), s
		}
	}
	return model, SuffixNone
}

// ResolveAlias returns the concrete model an alias maps to, or model
// itself with ok=false when it isn't a known alias.
func (a AliasTable) ResolveAlias(model string) (resolved string, ok bool) {
	target, found := a[model]
	if !found {
		return model, false
	}
	return target, true
}

// Resolve applies alias resolution before suffix stripping, exactly as
// spec.md §4.7 specifies ("aliases... resolve to concrete models before
// any other logic; routing suffixes are stripped"). Alias resolution is
// tried against the full requested model first, since a known alias can
// itself end in what looks like a routing suffix (e.g. "rp:fast") — only
// once that lookup misses does StripSuffix run, and alias resolution is
// retried against whatever remains.
func Resolve(requestedModel string, aliases AliasTable, overrides map[string]string) (model string, hint Suffix) {
	if resolved, ok := aliases.ResolveAlias(requestedModel); ok {
		return applyOverride(resolved, overrides), SuffixNone
	}

	bare, hint := StripSuffix(requestedModel)
	if resolved, ok := aliases.ResolveAlias(bare); ok {
		bare = resolved
	}
	return applyOverride(bare, overrides), hint
}

func applyOverride(model string, overrides map[string]string) string {
	if override, ok := overrides[model]; ok {
		return override
	}
	return model
}
