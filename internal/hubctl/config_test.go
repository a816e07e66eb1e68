package hubctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubctl.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("staging", "https://hub.staging.example.com", "rp_abc.secret"))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", loaded.CurrentProfile)

	profile, err := loaded.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "https://hub.staging.example.com", profile.ServerURL)
	assert.Equal(t, "rp_abc.secret", profile.APIKey)
}

func TestConfig_MissingFileYieldsDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Empty(t, cfg.Profiles)
}

func TestConfig_GetProfileNotFound(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.GetProfile("missing")
	assert.Error(t, err)
}

func TestConfig_SavedFileIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubctl.yaml")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("default", "http://localhost:8090", "rp_x.y"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
