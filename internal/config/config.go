package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values. Per-source rate limits live with the
// adapters (each source carries defaults reflecting its published limits);
// the values here are the engine-wide knobs.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "imgcatcher"

	// DefaultTimeout is the absolute timeout for one HTTP request.
	// Image board APIs normally answer in well under a second; 30 seconds
	// leaves room for large result pages on a slow link.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts before a request is
	// abandoned and surfaced as a task failure.
	DefaultMaxRetries = 3

	// DefaultPageCeiling is the hard safety limit on pages fetched per
	// search, preventing runaway pagination on endless upstreams.
	DefaultPageCeiling = 100

	// MinTargetCount and MaxTargetCount bound how many images one crawl
	// task may collect. Requests outside this range are rejected at task
	// creation time.
	MinTargetCount = 1
	MaxTargetCount = 1000

	// DefaultTargetCount is used when a task does not specify a limit.
	DefaultTargetCount = 20

	// DefaultListPageSize is the page size for listing collected images.
	DefaultListPageSize = 20
)

// Config holds engine-wide configuration. It is populated from CLI flags
// and the credentials file and passed through the application by handle
// rather than held in global state.
type Config struct {
	// DBDir is the directory for the SQLite datastore.
	// Defaults to the XDG data directory.
	DBDir string

	// DownloadDir is where downloaded image files are written.
	DownloadDir string

	// CredentialsPath is the path to the YAML credentials file. If empty,
	// the default locations are searched (see FindCredentialsFile).
	CredentialsPath string

	// Credentials holds the loaded per-source credentials and overrides.
	Credentials *File

	// Timeout is the absolute per-request timeout.
	Timeout time.Duration

	// MaxRetries is the number of attempts per logical request.
	MaxRetries int

	// PageCeiling is the per-search page safety limit.
	PageCeiling int

	// Verbose enables slog.LevelDebug output.
	Verbose bool
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		DBDir:       XDGDataDir(),
		DownloadDir: filepath.Join(XDGDataDir(), "downloads"),
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
		PageCeiling: DefaultPageCeiling,
	}
}

// XDGDataDir returns the XDG data directory for imgcatcher.
// On Linux: ~/.local/share/imgcatcher
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for imgcatcher.
// On Linux: ~/.config/imgcatcher
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if c.PageCeiling <= 0 {
		return ErrInvalidPageCeiling
	}
	return nil
}

// ValidateTargetCount checks a task's requested image count against the
// accepted range. Exposed here so both the manager and the CLI reject
// out-of-range limits with the same rule.
func ValidateTargetCount(n int) error {
	if n < MinTargetCount || n > MaxTargetCount {
		return ErrInvalidTargetCount
	}
	return nil
}
