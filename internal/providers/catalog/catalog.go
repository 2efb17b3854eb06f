// Package catalog is the OpenAI-compatible provider registry: compiled-in
// defaults for the well-known aggregators (OpenRouter, DeepSeek, Groq,
// Moonshot, xAI) layered with an optional YAML file at
// ~/.relayplane/providers.yaml, with env vars able to override the base
// URL, API key, static headers and timeout at runtime. Credential resolution prefers each provider's own
// widely-documented env var name (OPENROUTER_API_KEY, DEEPSEEK_API_KEY,
// ...) over a RelayPlane-specific one, so a deployment that already has
// these set for other tooling doesn't need a duplicate.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CapabilityOpenAIChat      = "openai.chat"
	CapabilityOpenAIResponses = "openai.responses"

	ModelScopeAllModels         = "all_models"
	ModelScopeUnknownPrefixOnly = "unknown_prefix_only"

	AuthModeBearer = "bearer"

	defaultTimeout = 180 * time.Second
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	ID            string            `yaml:"id"`
	Enabled       *bool             `yaml:"enabled"`
	BaseURL       string            `yaml:"base_url"`
	AuthMode      string            `yaml:"auth_mode"`
	ModelScope    string            `yaml:"model_scope"`
	Capabilities  []string          `yaml:"capabilities"`
	StaticHeaders map[string]string `yaml:"static_headers"`
	Timeout       string            `yaml:"timeout"`
}

type ProviderInfo struct {
	ID             string            `json:"id"`
	Enabled        bool              `json:"enabled"`
	RuntimeEnabled bool              `json:"runtime_enabled"`
	BaseURL        string            `json:"base_url"`
	AuthMode       string            `json:"auth_mode"`
	ModelScope     string            `json:"model_scope"`
	Capabilities   []string          `json:"capabilities"`
	StaticHeaders  map[string]string `json:"static_headers,omitempty"`
	APIKeyEnv      string            `json:"api_key_env,omitempty"`
	BaseURLEnv     string            `json:"base_url_env,omitempty"`
}

type runtimeProvider struct {
	info    ProviderInfo
	apiKey  string
	timeout time.Duration
}

var (
	stateMu      sync.RWMutex
	initialized  bool
	providerByID map[string]runtimeProvider
	providerList []string
)

// InitFromEnvAndConfig loads the compiled-in defaults, layers any
// providers.yaml entries on top by ID, and applies env var overrides.
func InitFromEnvAndConfig() error {
	providers, err := loadProviders()

	stateMu.Lock()
	defer stateMu.Unlock()

	providerByID = make(map[string]runtimeProvider)
	providerList = providerList[:0]
	for _, p := range providers {
		providerByID[p.info.ID] = p
		providerList = append(providerList, p.info.ID)
	}
	initialized = true
	return err
}

func ensureInitialized() {
	stateMu.RLock()
	ok := initialized
	stateMu.RUnlock()
	if ok {
		return
	}
	_ = InitFromEnvAndConfig()
}

// ResetForTest resets in-memory state so tests can force reload.
func ResetForTest() {
	stateMu.Lock()
	defer stateMu.Unlock()
	initialized = false
	providerByID = nil
	providerList = nil
}

// GetProviders returns configured OpenAI-compatible providers.
func GetProviders() []ProviderInfo {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	result := make([]ProviderInfo, 0, len(providerList))
	for _, id := range providerList {
		entry, ok := providerByID[id]
		if !ok {
			continue
		}
		result = append(result, cloneInfo(entry.info))
	}
	return result
}

// IsOpenAICompatProvider returns whether a provider is declared and enabled in config.
func IsOpenAICompatProvider(id string) bool {
	provider, ok := GetProvider(id)
	return ok && provider.Enabled
}

// GetProvider returns provider metadata by ID.
func GetProvider(id string) (ProviderInfo, bool) {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	entry, ok := providerByID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, false
	}
	return cloneInfo(entry.info), true
}

// GetRuntimeProvider returns provider runtime fields required for upstream calls.
func GetRuntimeProvider(id string) (ProviderInfo, string, time.Duration, bool) {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	entry, ok := providerByID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, "", 0, false
	}
	return cloneInfo(entry.info), entry.apiKey, entry.timeout, true
}

func cloneInfo(info ProviderInfo) ProviderInfo {
	info.Capabilities = append([]string(nil), info.Capabilities...)
	if len(info.StaticHeaders) > 0 {
		cp := make(map[string]string, len(info.StaticHeaders))
		for k, v := range info.StaticHeaders {
			cp[k] = v
		}
		info.StaticHeaders = cp
	}
	return info
}

// ProviderIDsByCapability returns enabled provider IDs that declare a capability.
func ProviderIDsByCapability(capability string) []string {
	capability = strings.TrimSpace(strings.ToLower(capability))
	if capability == "" {
		return nil
	}

	providers := GetProviders()
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		for _, c := range p.Capabilities {
			if strings.EqualFold(strings.TrimSpace(c), capability) {
				ids = append(ids, p.ID)
				break
			}
		}
	}
	return ids
}

// SupportsCapability returns whether provider declares capability.
func SupportsCapability(providerID, capability string) bool {
	provider, ok := GetProvider(providerID)
	if !ok || !provider.Enabled {
		return false
	}
	capability = strings.TrimSpace(strings.ToLower(capability))
	for _, c := range provider.Capabilities {
		if strings.EqualFold(strings.TrimSpace(c), capability) {
			return true
		}
	}
	return false
}

// AllowedProviderIDsForModel returns enabled provider IDs that are selectable for a client model.
func AllowedProviderIDsForModel(clientModel string) []string {
	providers := GetProviders()
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		if isModelAllowedForScope(clientModel, p.ModelScope) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func isModelAllowedForScope(clientModel, modelScope string) bool {
	scope := strings.TrimSpace(strings.ToLower(modelScope))
	switch scope {
	case "", ModelScopeAllModels:
		return true
	case ModelScopeUnknownPrefixOnly:
		return !hasKnownPrefix(clientModel)
	default:
		return false
	}
}

func hasKnownPrefix(clientModel string) bool {
	m := strings.ToLower(strings.TrimSpace(clientModel))
	return strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "gemini") || strings.HasPrefix(m, "claude")
}

// loadProviders starts from the compiled-in defaults and layers
// providers.yaml entries on top by ID: a file entry with an ID matching a
// default replaces it outright (the file is authoritative for that
// provider), while a new ID is appended. A deployment that only wants to
// add one aggregator doesn't have to restate the whole default set.
func loadProviders() ([]runtimeProvider, error) {
	fileProviders, fileErr := loadConfigProviders()
	merged := mergeProviderConfigs(defaultProviders(), fileProviders, fileErr)

	providers := make([]runtimeProvider, 0, len(merged.configs))
	for _, cfg := range merged.configs {
		runtimeEntry, ok := normalizeConfig(cfg)
		if !ok {
			continue
		}
		providers = append(providers, runtimeEntry)
	}

	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].info.ID < providers[j].info.ID
	})

	return providers, merged.err
}

type mergedProviderConfigs struct {
	configs []ProviderConfig
	err     error
}

func mergeProviderConfigs(defaults []ProviderConfig, fileProviders []ProviderConfig, fileErr error) mergedProviderConfigs {
	byID := make(map[string]ProviderConfig, len(defaults)+len(fileProviders))
	order := make([]string, 0, len(defaults)+len(fileProviders))

	for _, cfg := range defaults {
		id := normalizeProviderID(cfg.ID)
		byID[id] = cfg
		order = append(order, id)
	}
	for _, cfg := range fileProviders {
		id := normalizeProviderID(cfg.ID)
		if _, existed := byID[id]; !existed {
			order = append(order, id)
		}
		byID[id] = cfg
	}

	out := make([]ProviderConfig, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return mergedProviderConfigs{configs: out, err: fileErr}
}

func loadConfigProviders() ([]ProviderConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}

	return cfg.Providers, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("RELAYPLANE_PROVIDERS_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/providers.yaml",
		"./config/providers.yaml",
		"/etc/relayplane/providers.yaml",
		"/opt/homebrew/etc/relayplane/providers.yaml",
		"/usr/local/etc/relayplane/providers.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".relayplane", "providers.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// envField resolves a runtime value against an ordered list of candidate
// env vars, falling back to configured when none are set. It returns
// which candidate (if any) actually supplied the value, so callers that
// report api_key_env/base_url_env back to an operator point at the env
// var that is actually live rather than just the first candidate name.
func envField(configured string, candidates ...string) (value, matchedEnv string) {
	for _, name := range candidates {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, name
		}
	}
	return configured, ""
}

func normalizeConfig(cfg ProviderConfig) (runtimeProvider, bool) {
	id := normalizeProviderID(cfg.ID)
	if !providerIDRegexp.MatchString(id) {
		return runtimeProvider{}, false
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	authMode := strings.TrimSpace(strings.ToLower(cfg.AuthMode))
	if authMode == "" {
		authMode = AuthModeBearer
	}
	if authMode != AuthModeBearer {
		return runtimeProvider{}, false
	}

	modelScope := strings.TrimSpace(strings.ToLower(cfg.ModelScope))
	if modelScope == "" {
		modelScope = ModelScopeAllModels
	}

	capabilities := normalizeCapabilities(cfg.Capabilities)
	if len(capabilities) == 0 {
		capabilities = []string{CapabilityOpenAIChat}
	}

	baseURLEnv := providerEnvName(id, "BASE_URL")
	baseURL, _ := envField(strings.TrimSpace(cfg.BaseURL), baseURLEnv)

	candidateKeyEnvs := credentialEnvCandidates(id)
	apiKey, apiKeyEnv := envField("", candidateKeyEnvs...)
	if apiKeyEnv == "" {
		// nothing set yet: report the preferred candidate so a health
		// check or /control listing tells an operator which var to set.
		apiKeyEnv = candidateKeyEnvs[0]
	}

	staticHeaders := normalizeHeaders(cfg.StaticHeaders)
	if envHeaders := strings.TrimSpace(os.Getenv(providerEnvName(id, "STATIC_HEADERS"))); envHeaders != "" {
		fromEnv := map[string]string{}
		if err := json.Unmarshal([]byte(envHeaders), &fromEnv); err == nil {
			for k, v := range normalizeHeaders(fromEnv) {
				staticHeaders[k] = v
			}
		}
	}

	timeout := defaultTimeout
	if raw := strings.TrimSpace(cfg.Timeout); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			timeout = parsed
		}
	}
	if raw, _ := envField("", providerEnvName(id, "TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			timeout = parsed
		}
	}

	info := ProviderInfo{
		ID:             id,
		Enabled:        enabled,
		RuntimeEnabled: enabled && strings.TrimSpace(baseURL) != "" && apiKey != "",
		BaseURL:        strings.TrimSpace(baseURL),
		AuthMode:       authMode,
		ModelScope:     modelScope,
		Capabilities:   capabilities,
		StaticHeaders:  staticHeaders,
		APIKeyEnv:      apiKeyEnv,
		BaseURLEnv:     baseURLEnv,
	}

	return runtimeProvider{info: info, apiKey: apiKey, timeout: timeout}, true
}

func normalizeCapabilities(capabilities []string) []string {
	if len(capabilities) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(capabilities))
	result := make([]string, 0, len(capabilities))
	for _, cap := range capabilities {
		normalized := strings.TrimSpace(strings.ToLower(cap))
		if normalized == "" {
			continue
		}
		if _, exists := set[normalized]; exists {
			continue
		}
		set[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func normalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		normalized[key] = value
	}
	return normalized
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func providerEnvName(id, suffix string) string {
	upper := strings.ToUpper(id)
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_")
	upper = replacer.Replace(upper)
	return fmt.Sprintf("RELAYPLANE_%s_%s", upper, suffix)
}

// nativeAPIKeyEnvNames maps well-known providers to the env var name
// their own docs and SDKs use, so a user who already has e.g.
// OPENROUTER_API_KEY set for other tools doesn't need a RelayPlane-
// specific duplicate (spec.md §6 "recognized env vars").
var nativeAPIKeyEnvNames = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"groq":       "GROQ_API_KEY",
	"moonshot":   "MOONSHOT_API_KEY",
	"xai":        "XAI_API_KEY",
}

// credentialEnvCandidates returns the env vars checked for a provider's
// API key, in priority order: its native var first (if it has one known
// to this registry), then the generic RELAYPLANE_<ID>_API_KEY form for
// providers added via config that aren't in the well-known list.
func credentialEnvCandidates(id string) []string {
	generic := providerEnvName(id, "API_KEY")
	if native, ok := nativeAPIKeyEnvNames[id]; ok && native != generic {
		return []string{native, generic}
	}
	return []string{generic}
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:           "openrouter",
			Enabled:      boolPtr(true),
			BaseURL:      "https://openrouter.ai/api/v1",
			AuthMode:     AuthModeBearer,
			ModelScope:   ModelScopeAllModels,
			Capabilities: []string{CapabilityOpenAIChat},
		},
		{
			ID:           "deepseek",
			Enabled:      boolPtr(true),
			BaseURL:      "https://api.deepseek.com/v1",
			AuthMode:     AuthModeBearer,
			ModelScope:   ModelScopeUnknownPrefixOnly,
			Capabilities: []string{CapabilityOpenAIChat},
		},
		{
			ID:           "groq",
			Enabled:      boolPtr(true),
			BaseURL:      "https://api.groq.com/openai/v1",
			AuthMode:     AuthModeBearer,
			ModelScope:   ModelScopeUnknownPrefixOnly,
			Capabilities: []string{CapabilityOpenAIChat},
		},
		{
			ID:           "moonshot",
			Enabled:      boolPtr(true),
			BaseURL:      "https://api.moonshot.cn/v1",
			AuthMode:     AuthModeBearer,
			ModelScope:   ModelScopeUnknownPrefixOnly,
			Capabilities: []string{CapabilityOpenAIChat},
		},
		{
			ID:           "xai",
			Enabled:      boolPtr(true),
			BaseURL:      "https://api.x.ai/v1",
			AuthMode:     AuthModeBearer,
			ModelScope:   ModelScopeUnknownPrefixOnly,
			Capabilities: []string{CapabilityOpenAIChat},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}
