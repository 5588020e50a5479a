// Package config provides configuration management for cbfetch. It handles
// loading, validating and saving application settings from YAML files and
// provides sensible defaults so the tool works without any configuration.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/cbfetch/pkg/errors"
	"github.com/glorpus-work/cbfetch/pkg/fsutil"
)

// Config represents the application configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// Filesystem layout
	DataDir      string `yaml:"data_dir,omitempty"`      // base directory for downloaded data
	DestDir      string `yaml:"dest_dir,omitempty"`      // archive destination; defaults to <data_dir>/zips
	ManifestPath string `yaml:"manifest_path,omitempty"` // defaults to <data_dir>/manifest.json
	UpdatesPath  string `yaml:"updates_path,omitempty"`  // change log document

	// Network settings
	BaseURL       string        `yaml:"base_url,omitempty"` // endpoint root override for mirrors; empty = canonical
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent_downloads"`
	RateLimit     int64         `yaml:"rate_limit_bytes,omitempty"` // per-download bytes/sec, 0 = unlimited
	UserAgent     string        `yaml:"user_agent"`

	// Credential settings. The key itself is never stored in the config file.
	UserKeyEnv string `yaml:"user_key_env"`

	// Output settings
	LogLevel string `yaml:"log_level"`
}

// Default configuration values.
const (
	// DefaultHTTPTimeout bounds a full archive download.
	DefaultHTTPTimeout = 180 * time.Second

	// DefaultProbeTimeout bounds a one-byte availability probe.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultMaxConcurrent is the default download concurrency bound.
	DefaultMaxConcurrent = 4

	// DefaultUserAgent identifies cbfetch to the export API.
	DefaultUserAgent = "cbfetch/0.1"

	// DefaultUserKeyEnv is the environment variable consulted for the
	// credential when none is passed explicitly.
	DefaultUserKeyEnv = "CRUNCHBASE_USER_KEY"

	// YAMLIndent is the number of spaces to use for YAML indentation.
	YAMLIndent = 2
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			DataDir:       "data",
			UpdatesPath:   "Updates.md",
			HTTPTimeout:   DefaultHTTPTimeout,
			ProbeTimeout:  DefaultProbeTimeout,
			MaxConcurrent: DefaultMaxConcurrent,
			UserAgent:     DefaultUserAgent,
			UserKeyEnv:    DefaultUserKeyEnv,
			LogLevel:      "info",
		},
	}
}

// LoadConfig loads configuration from a file. A missing file yields the
// default configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer func() { _ = file.Close() }()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config data")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves configuration to a file atomically.
func (c *Config) SaveConfig(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	if err := fsutil.EnsureDir(filepath.Dir(absPath)); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tempPath := absPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(YAMLIndent)

	if err := encoder.Encode(c); err != nil {
		_ = file.Close()
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to encode config")
	}

	_ = encoder.Close()
	_ = file.Close()

	if err := os.Rename(tempPath, absPath); err != nil {
		_ = os.Remove(tempPath)
		return errors.Wrap(err, "failed to replace config file")
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.ErrConfigValidation
	}
	if c.Settings.MaxConcurrent < 1 {
		return errors.Wrap(errors.ErrConfigValidation, "max_concurrent_downloads must be at least 1")
	}
	if c.Settings.HTTPTimeout <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_timeout must be positive")
	}
	if c.Settings.RateLimit < 0 {
		return errors.Wrap(errors.ErrConfigValidation, "rate_limit_bytes cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig().Settings
	if c.Settings.DataDir == "" {
		c.Settings.DataDir = def.DataDir
	}
	if c.Settings.UpdatesPath == "" {
		c.Settings.UpdatesPath = def.UpdatesPath
	}
	if c.Settings.HTTPTimeout == 0 {
		c.Settings.HTTPTimeout = def.HTTPTimeout
	}
	if c.Settings.ProbeTimeout == 0 {
		c.Settings.ProbeTimeout = def.ProbeTimeout
	}
	if c.Settings.MaxConcurrent == 0 {
		c.Settings.MaxConcurrent = def.MaxConcurrent
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = def.UserAgent
	}
	if c.Settings.UserKeyEnv == "" {
		c.Settings.UserKeyEnv = def.UserKeyEnv
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = def.LogLevel
	}
}

// GetDestDir returns the archive destination directory.
func (c *Config) GetDestDir() string {
	if c.Settings.DestDir != "" {
		return c.Settings.DestDir
	}
	return filepath.Join(c.Settings.DataDir, "zips")
}

// GetManifestPath returns the manifest file location.
func (c *Config) GetManifestPath() string {
	if c.Settings.ManifestPath != "" {
		return c.Settings.ManifestPath
	}
	return filepath.Join(c.Settings.DataDir, "manifest.json")
}

// GetUpdatesPath returns the change log document location.
func (c *Config) GetUpdatesPath() string {
	return c.Settings.UpdatesPath
}

// ResolveUserKey returns the credential: the explicit value when given,
// otherwise the configured environment variable. An absent credential is a
// startup-time failure, before any network activity.
func (c *Config) ResolveUserKey(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := os.Getenv(c.Settings.UserKeyEnv); key != "" {
		return key, nil
	}
	return "", errors.Wrapf(errors.ErrMissingUserKey, "environment variable %s is not set", c.Settings.UserKeyEnv)
}
