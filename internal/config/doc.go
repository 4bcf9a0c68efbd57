// Package config provides configuration for the image collection crawler:
// default limits and timeouts, per-source credentials loaded from a YAML
// file, and validation with sentinel errors.
package config
