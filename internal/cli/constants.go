package cli

// Default values for CLI flags and configurations.
const (
	// DefaultConfigFile is consulted when --config is not given. A missing
	// file falls back to built-in defaults.
	DefaultConfigFile = "cbfetch.yaml"
)
