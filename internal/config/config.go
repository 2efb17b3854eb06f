// Package config implements the JSON configuration layer spec.md §6
// describes: atomic tmp+rename+.bak writes, a separate credentials file
// that survives config reset, and env var resolution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	DefaultDirName    = ".relayplane"
	ConfigFileName    = "config.json"
	BackupSuffix      = ".bak"
	CredentialsFile   = "credentials.json"
)

// Config is the full persisted configuration at ~/.relayplane/config.json.
type Config struct {
	ProxyHost string `json:"proxy_host"`
	ProxyPort int    `json:"proxy_port"`

	CacheEnabled bool   `json:"cache_enabled"`
	CacheMode    string `json:"cache_mode"` // "exact" | "aggressive"

	BudgetDailyUSD  float64 `json:"budget_daily_usd"`
	BudgetHourlyUSD float64 `json:"budget_hourly_usd"`
	BudgetOnBreach  string  `json:"budget_on_breach"` // "block" | "warn" | "downgrade" | "alert"

	DowngradeEnabled        bool    `json:"downgrade_enabled"`
	DowngradeTriggerPercent float64 `json:"downgrade_trigger_percent"`

	RouterMode     string            `json:"router_mode"` // "passthrough" | "complexity" | "cascade"
	CascadeModels  []string          `json:"cascade_models"`
	ModelOverrides map[string]string `json:"model_overrides"`

	AlertWebhookURL string `json:"alert_webhook_url"`

	TelemetryDB string `json:"telemetry_db"`
	MeshAPIURL  string `json:"mesh_api_url"`

	Verbose bool `json:"verbose"`
}

// Credentials is the separate, never-mixed-with-config file holding the
// RelayPlane API key; it survives a config reset.
type Credentials struct {
	RelayPlaneAPIKey string `json:"relayplane_api_key"`
}

func Default() Config {
	return Config{
		ProxyHost:               "127.0.0.1",
		ProxyPort:               4100,
		CacheEnabled:            true,
		CacheMode:               "exact",
		BudgetOnBreach:          "block",
		DowngradeEnabled:        true,
		DowngradeTriggerPercent: 80,
		RouterMode:              "passthrough",
		ModelOverrides:          map[string]string{},
	}
}

// Dir resolves the RelayPlane home directory: $RELAYPLANE_CONFIG_PATH's
// parent if set, else ~/.relayplane.
func Dir() (string, error) {
	if explicit := os.Getenv("RELAYPLANE_CONFIG_PATH"); explicit != "" {
		return filepath.Dir(explicit), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultDirName), nil
}

// ConfigPath resolves the config file path, honoring RELAYPLANE_CONFIG_PATH.
func ConfigPath() (string, error) {
	if explicit := os.Getenv("RELAYPLANE_CONFIG_PATH"); explicit != "" {
		return explicit, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

func credentialsPath(dir string) string {
	return filepath.Join(dir, CredentialsFile)
}

// Load reads the config at path, falling back to path+BackupSuffix, and
// finally to a freshly written default (spec.md §6: "if primary is
// missing/unparseable, restore from .bak; if both fail, create a default
// config preserving any existing credentials").
func Load(path string) (Config, error) {
	if cfg, err := readJSON(path); err == nil {
		return cfg, nil
	}
	if cfg, err := readJSON(path + BackupSuffix); err == nil {
		return cfg, nil
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return cfg, fmt.Errorf("create default config: %w", err)
	}
	return cfg, nil
}

func readJSON(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically: marshal, write to a uuid-suffixed
// temp file in the same directory, copy the existing file to .bak, then
// rename the temp file into place. A single .bak is kept, never a chain.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+BackupSuffix, existing, 0o600)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadCredentials reads credentials.json from dir. A missing file
// returns zero-value Credentials with no error: absent credentials are
// a normal first-run state, not a load failure.
func LoadCredentials(dir string) (Credentials, error) {
	data, err := os.ReadFile(credentialsPath(dir))
	if os.IsNotExist(err) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// SaveCredentials writes credentials.json atomically, independent of and
// never touched by config reset.
func SaveCredentials(dir string, creds Credentials) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, credentialsPath(dir))
}

// Reset overwrites the config file at path with defaults, leaving
// credentials.json in dir untouched.
func Reset(path string) error {
	return Save(path, Default())
}
