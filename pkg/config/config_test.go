package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/cbfetch/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "data", cfg.Settings.DataDir)
	assert.Equal(t, filepath.Join("data", "zips"), cfg.GetDestDir())
	assert.Equal(t, filepath.Join("data", "manifest.json"), cfg.GetManifestPath())
	assert.Equal(t, "Updates.md", cfg.GetUpdatesPath())
	assert.Equal(t, DefaultMaxConcurrent, cfg.Settings.MaxConcurrent)
	assert.Equal(t, DefaultUserKeyEnv, cfg.Settings.UserKeyEnv)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultHTTPTimeout, cfg.Settings.HTTPTimeout)
	})

	t.Run("empty path is an error", func(t *testing.T) {
		_, err := LoadConfig("")
		assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		content := `
settings:
  data_dir: /var/lib/cbfetch
  http_timeout: 60s
  max_concurrent_downloads: 8
  rate_limit_bytes: 1048576
`
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/cbfetch", cfg.Settings.DataDir)
		assert.Equal(t, 60*time.Second, cfg.Settings.HTTPTimeout)
		assert.Equal(t, 8, cfg.Settings.MaxConcurrent)
		assert.Equal(t, int64(1048576), cfg.Settings.RateLimit)

		// Unset fields keep defaults.
		assert.Equal(t, DefaultUserAgent, cfg.Settings.UserAgent)
		assert.Equal(t, filepath.Join("/var/lib/cbfetch", "zips"), cfg.GetDestDir())
	})

	t.Run("malformed yaml is a parse error", func(t *testing.T) {
		_, err := LoadConfigFromReader(strings.NewReader("settings: ["))
		assert.ErrorIs(t, err, errors.ErrConfigParse)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := LoadConfigFromReader(strings.NewReader("settings:\n  max_concurrent_downloads: -2\n"))
		assert.ErrorIs(t, err, errors.ErrConfigValidation)
	})
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Settings.MaxConcurrent = 6
	cfg.Settings.DestDir = "/exports/zips"
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Settings.MaxConcurrent)
	assert.Equal(t, "/exports/zips", loaded.GetDestDir())
}

func TestResolveUserKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.UserKeyEnv = "CBFETCH_TEST_KEY"

	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv("CBFETCH_TEST_KEY", "from-env")
		key, err := cfg.ResolveUserKey("from-flag")
		require.NoError(t, err)
		assert.Equal(t, "from-flag", key)
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv("CBFETCH_TEST_KEY", "from-env")
		key, err := cfg.ResolveUserKey("")
		require.NoError(t, err)
		assert.Equal(t, "from-env", key)
	})

	t.Run("missing key fails fast", func(t *testing.T) {
		t.Setenv("CBFETCH_TEST_KEY", "")
		_, err := cfg.ResolveUserKey("")
		assert.ErrorIs(t, err, errors.ErrMissingUserKey)
	})
}
