package providers

import (
	"strings"

	"github.com/RelayPlane/proxy/internal/providers/catalog"
)

// WireShape is the request/response format an egress target expects.
type WireShape string

const (
	WireAnthropic WireShape = "anthropic"
	WireOpenAI    WireShape = "openai"
)

// Target describes where and how to forward a resolved model.
type Target struct {
	ProviderID string // "anthropic", "openai", "google", or a catalog provider id
	BaseURL    string
	Shape      WireShape
	AuthHeader string // header name the credential goes on
	AuthPrefix string // e.g. "Bearer " for an Authorization header
	SupportsOAuth bool
}

var anthropicNativeTarget = Target{
	ProviderID: "anthropic",
	BaseURL:    "https://api.anthropic.com/v1/messages",
	Shape:      WireAnthropic,
	AuthHeader: "x-api-key",
	SupportsOAuth: true,
}

var openaiNativeTarget = Target{
	ProviderID: "openai",
	BaseURL:    "https://api.openai.com/v1/chat/completions",
	Shape:      WireOpenAI,
	AuthHeader: "Authorization",
	AuthPrefix: "Bearer ",
}

// googleCompatTarget uses Google's OpenAI-compatible endpoint so Gemini
// models can reuse the OpenAI wire translator instead of a bespoke one.
var googleCompatTarget = Target{
	ProviderID: "google",
	BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions",
	Shape:      WireOpenAI,
	AuthHeader: "Authorization",
	AuthPrefix: "Bearer ",
}

// ResolveTarget maps a resolved model name to the concrete egress target:
// first the three first-party APIs by model-name prefix, then the
// OpenAI-compatible catalog for anything else (openrouter, deepseek, groq,
// moonshot, xai, or any operator-added provider).
func ResolveTarget(model string) (Target, bool) {
	lower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(lower, "claude"):
		return anthropicNativeTarget, true
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4"):
		return openaiNativeTarget, true
	case strings.HasPrefix(lower, "gemini"):
		return googleCompatTarget, true
	}

	ids := catalog.AllowedProviderIDsForModel(model)
	for _, id := range ids {
		info, _, _, ok := catalog.GetRuntimeProvider(id)
		if !ok || !info.RuntimeEnabled {
			continue
		}
		return Target{
			ProviderID: info.ID,
			BaseURL:    info.BaseURL,
			Shape:      WireOpenAI,
			AuthHeader: "Authorization",
			AuthPrefix: "Bearer ",
		}, true
	}

	return Target{}, false
}

// ModelSupportsOAuth reports whether model's target accepts a RelayPlane
// Max / Claude subscription OAuth token directly, for the Auth Resolver.
func ModelSupportsOAuth(model string) bool {
	target, ok := ResolveTarget(model)
	return ok && target.SupportsOAuth
}
