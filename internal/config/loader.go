package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCredentialsFile is the default credentials file name.
const DefaultCredentialsFile = "credentials.yaml"

// SourceConfig holds credentials and limit overrides for one image source.
// Zero values mean "use the adapter's defaults".
type SourceConfig struct {
	// Username and APIKey authenticate booru API requests. Danbooru grants
	// higher rate limits to authenticated users.
	Username string `yaml:"username,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`

	// RefreshToken is the Pixiv OAuth refresh token.
	RefreshToken string `yaml:"refresh_token,omitempty"`

	// BaseURL overrides the source's API endpoint. Useful for
	// Danbooru-compatible mirrors and for tests.
	BaseURL string `yaml:"base_url,omitempty"`

	// RateLimitDelay overrides the minimum delay between requests.
	RateLimitDelay time.Duration `yaml:"rate_limit_delay,omitempty"`

	// MaxConcurrent overrides the concurrency ceiling.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}

// File represents the structure of the credentials YAML file:
//
//	sources:
//	  danbooru:
//	    username: alice
//	    api_key: "..."
//	  pixiv:
//	    refresh_token: "..."
//	    rate_limit_delay: 2s
type File struct {
	// Sources maps source type names to their configuration.
	Sources map[string]SourceConfig `yaml:"sources,omitempty"`
}

// Source returns the configuration for the named source, or a zero value
// when the file has no entry for it.
func (f *File) Source(name string) SourceConfig {
	if f == nil {
		return SourceConfig{}
	}
	return f.Sources[name]
}

// LoadCredentialsFile loads per-source credentials from a YAML file.
// If the file does not exist, it returns ErrCredentialsNotFound; callers
// decide whether that is fatal based on whether the path was explicit.
func LoadCredentialsFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialsNotFound
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Sources == nil {
		f.Sources = make(map[string]SourceConfig)
	}
	return &f, nil
}

// FindCredentialsFile searches for the credentials file:
//  1. the explicit path, when given
//  2. credentials.yaml in the current directory
//  3. credentials.yaml in the XDG config directory
//
// It returns the path if found, or an empty string.
func FindCredentialsFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, DefaultCredentialsFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	p := filepath.Join(XDGConfigDir(), DefaultCredentialsFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}

	return ""
}
