package config

import "os"

// RecognizedEnvVars is the list spec.md §6 names plus RELAYPLANE_VERBOSE.
var RecognizedEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"XAI_API_KEY",
	"OPENROUTER_API_KEY",
	"DEEPSEEK_API_KEY",
	"GROQ_API_KEY",
	"MOONSHOT_API_KEY",
	"RELAYPLANE_PROXY_HOST",
	"RELAYPLANE_PROXY_PORT",
	"RELAYPLANE_CONFIG_PATH",
	"RELAYPLANE_API_URL",
	"RELAYPLANE_TELEMETRY_DB",
	"RELAYPLANE_VERBOSE",
}

// providerKeyEnvVars is every recognized env var that holds a provider API
// key, native or OpenAI-compatible.
var providerKeyEnvVars = []string{
	"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "XAI_API_KEY",
	"OPENROUTER_API_KEY", "DEEPSEEK_API_KEY", "GROQ_API_KEY", "MOONSHOT_API_KEY",
}

// HasAnyProviderAPIKey reports whether at least one provider key is
// present, the exit-code-1 startup condition spec.md §6 names.
func (e EnvSnapshot) HasAnyProviderAPIKey() bool {
	for _, envVar := range providerKeyEnvVars {
		if e[envVar] != "" {
			return true
		}
	}
	return false
}

// ProviderAPIKeyEnvVars maps a model family to the env var holding its
// native API key, used by the Auth Resolver (internal/authresolve) when
// an OAuth token must be substituted for a non-OAuth model.
var ProviderAPIKeyEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// EnvSnapshot captures every recognized env var present at startup, used
// by Exit code 1 ("no API keys") detection and by /health reporting.
type EnvSnapshot map[string]string

// ReadEnv captures the current value of every recognized env var that is
// actually set.
func ReadEnv() EnvSnapshot {
	snap := make(EnvSnapshot)
	for _, name := range RecognizedEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			snap[name] = v
		}
	}
	return snap
}
