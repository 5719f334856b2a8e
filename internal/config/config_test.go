package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://api.oyez.org", cfg.API.BaseURL)
	require.Equal(t, 4, cfg.Harvest.Workers)
	require.Equal(t, 50, cfg.API.PageSize)
	require.Equal(t, "data/cache", cfg.Cache.Dir)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://api.example.org
harvest:
  workers: 8
  terms: ["2021", "2022"]
rate_limit:
  min_delay_ms: 100
  max_delay_ms: 5000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://api.example.org", cfg.API.BaseURL)
	require.Equal(t, 8, cfg.Harvest.Workers)
	require.Equal(t, []string{"2021", "2022"}, cfg.Harvest.Terms)
	require.Equal(t, 100, cfg.RateLimit.MinDelayMs)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Harvest.Workers = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.RateLimit.MaxDelayMs = bad.RateLimit.MinDelayMs - 1
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Cache.Dir = ""
	require.Error(t, bad.Validate())
}
