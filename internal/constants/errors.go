package constants

import "errors"

// Configuration errors.
var (
	ErrNoAPIKeyConfigured = errors.New("no API key configured, use 'vt init' or set VT_APIKEY")
	ErrEmptyAPIKey        = errors.New("API key cannot be empty")
	ErrNoConfigPath       = errors.New("could not determine configuration path")
)

// Command errors.
var (
	ErrInvalidParam        = errors.New("invalid --param value, expected key=value")
	ErrUnsupportedFormat   = errors.New("unsupported output format")
	ErrUnsupportedFeedType = errors.New("unsupported feed type")
)
