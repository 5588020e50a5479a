package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrMissingUserKey    = fmt.Errorf("user key is required; pass --user-key or set the configured environment variable")

	// Collection errors.
	ErrUnknownCollection = fmt.Errorf("unknown collection")

	// Fetch errors.
	ErrDownloadFailed = fmt.Errorf("download failed")
	ErrInvalidPath    = fmt.Errorf("invalid path")

	// Verification errors.
	ErrArchiveCorrupt = fmt.Errorf("archive failed verification")
	ErrNoPayload      = fmt.Errorf("archive contains no tabular payload")

	// Manifest errors.
	ErrManifestSave = fmt.Errorf("failed to persist manifest")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
