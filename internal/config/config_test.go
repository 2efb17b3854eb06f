package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := Default()
	cfg.ProxyPort = 9999
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.ProxyPort)
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().ProxyHost, cfg.ProxyHost)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "Load must persist the default it created")
}

func TestLoadFallsBackToBackupWhenPrimaryCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := Default()
	cfg.ProxyPort = 4242
	require.NoError(t, Save(path, cfg))

	// Save again to roll 4242 into .bak, then corrupt the primary.
	cfg2 := Default()
	cfg2.ProxyPort = 1
	require.NoError(t, Save(path, cfg2))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4242, loaded.ProxyPort)
}

func TestSaveKeepsOnlyOneBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	for i := 0; i < 3; i++ {
		cfg := Default()
		cfg.ProxyPort = 1000 + i
		require.NoError(t, Save(path, cfg))
	}

	backupData, err := os.ReadFile(path + BackupSuffix)
	require.NoError(t, err)
	require.Contains(t, string(backupData), "1001")
}

func TestCredentialsSurviveConfigReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	require.NoError(t, SaveCredentials(dir, Credentials{RelayPlaneAPIKey: "rp-test-key"}))
	require.NoError(t, Save(path, Default()))

	require.NoError(t, Reset(path))

	creds, err := LoadCredentials(dir)
	require.NoError(t, err)
	require.Equal(t, "rp-test-key", creds.RelayPlaneAPIKey)
}

func TestLoadCredentialsMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	creds, err := LoadCredentials(dir)
	require.NoError(t, err)
	require.Empty(t, creds.RelayPlaneAPIKey)
}

func TestConfigPathHonorsEnvOverride(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "custom-config.json")
	t.Setenv("RELAYPLANE_CONFIG_PATH", custom)

	path, err := ConfigPath()
	require.NoError(t, err)
	require.Equal(t, custom, path)
}

func TestHasAnyProviderAPIKey(t *testing.T) {
	snap := EnvSnapshot{"ANTHROPIC_API_KEY": "sk-test"}
	require.True(t, snap.HasAnyProviderAPIKey())

	empty := EnvSnapshot{}
	require.False(t, empty.HasAnyProviderAPIKey())
}
