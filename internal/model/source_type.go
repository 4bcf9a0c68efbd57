package model

import "fmt"

// SourceType identifies an external image source.
type SourceType string

// Supported image sources.
const (
	// SourceDanbooru is the Danbooru image board (JSON API, no auth required).
	SourceDanbooru SourceType = "danbooru"

	// SourceGelbooru is the Gelbooru image board. It speaks a Danbooru-like
	// API with a different pagination and response shape.
	SourceGelbooru SourceType = "gelbooru"

	// SourcePixiv is the Pixiv illustration community (OAuth required).
	SourcePixiv SourceType = "pixiv"
)

// SourceTypes returns all supported source types in a stable order.
func SourceTypes() []SourceType {
	return []SourceType{SourceDanbooru, SourceGelbooru, SourcePixiv}
}

// ParseSourceType converts a string into a SourceType.
// It returns an error for unknown sources so that invalid task requests
// are rejected before any task object exists.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceDanbooru, SourceGelbooru, SourcePixiv:
		return SourceType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceType, s)
	}
}

// String returns the source type as a string.
func (s SourceType) String() string {
	return string(s)
}
