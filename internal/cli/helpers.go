package cli

import (
	"github.com/spf13/afero"

	"github.com/glorpus-work/cbfetch/internal/logger"
	"github.com/glorpus-work/cbfetch/pkg/collection"
	"github.com/glorpus-work/cbfetch/pkg/config"
	"github.com/glorpus-work/cbfetch/pkg/fetch"
	"github.com/glorpus-work/cbfetch/pkg/manifest"
	"github.com/glorpus-work/cbfetch/pkg/probe"
	"github.com/glorpus-work/cbfetch/pkg/verify"
)

// These variables will be set by the main package
var (
	ConfigPath *string
	UserKey    *string
	Verbose    *bool
)

// loadConfig loads the configuration and initializes logging from it.
// This is a bridge function that the CLI commands can use.
func loadConfig() (*config.Config, error) {
	path := DefaultConfigFile
	if ConfigPath != nil && *ConfigPath != "" {
		path = *ConfigPath
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Override config with CLI flags if provided
	if Verbose != nil && *Verbose {
		cfg.Settings.LogLevel = "debug"
	}

	logger.InitLogger(cfg.Settings.LogLevel)
	return cfg, nil
}

// resolveUserKey applies the flag-over-environment precedence for the
// credential.
func resolveUserKey(cfg *config.Config) (string, error) {
	explicit := ""
	if UserKey != nil {
		explicit = *UserKey
	}
	return cfg.ResolveUserKey(explicit)
}

// loadRegistry returns the collection registry, rebuilt against a configured
// mirror endpoint when one is set.
func loadRegistry(cfg *config.Config) []collection.Collection {
	if cfg.Settings.BaseURL != "" {
		return collection.WithBaseURL(cfg.Settings.BaseURL)
	}
	return collection.All()
}

// loadOrchestrator builds the fetch orchestrator and its manifest store.
// An empty destDir falls back to the configured destination.
func loadOrchestrator(cfg *config.Config, destDir string) (*fetch.Orchestrator, *manifest.Store) {
	if destDir == "" {
		destDir = cfg.GetDestDir()
	}
	store := manifest.NewStore(afero.NewOsFs(), cfg.GetManifestPath())
	orch := fetch.New(cfg.Settings.HTTPTimeout, cfg.Settings.UserAgent, destDir, loadRegistry(cfg), store, verify.New())
	return orch, store
}

func loadProber(cfg *config.Config) *probe.Prober {
	return probe.New(cfg.Settings.ProbeTimeout, cfg.Settings.UserAgent)
}
