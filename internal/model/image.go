package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ImageRecord is canonical, source-independent metadata for one discovered
// image. Adapters normalize their upstream response shapes into this type.
//
// Optional fields use pointers so that "unknown" is distinguishable from
// zero: a width of 0 would wrongly fail resolution filters, while an unknown
// width must pass them (enrichment may happen later).
type ImageRecord struct {
	// ID is a deterministic hash of SourceURL. Two records with the same
	// SourceURL always carry the same ID, which is what task-level
	// deduplication relies on.
	ID string `json:"id"`

	// SourceURL is the direct URL of the image file.
	SourceURL string `json:"source_url"`

	// Source identifies which adapter discovered this record.
	Source SourceType `json:"source"`

	// Title is the work title, when the upstream provides one.
	Title string `json:"title,omitempty"`

	// Artist is the creator's name, when known.
	Artist string `json:"artist,omitempty"`

	// Tags are the upstream tags attached to the image.
	Tags []string `json:"tags,omitempty"`

	// Width is the image width in pixels. Nil when the upstream did not
	// report dimensions.
	Width *int `json:"width,omitempty"`

	// Height is the image height in pixels. Nil when unknown.
	Height *int `json:"height,omitempty"`

	// FileSizeBytes is the file size reported by the upstream, 0 if unknown.
	FileSizeBytes int64 `json:"file_size_bytes,omitempty"`

	// FaceCount is the number of detected faces. Nil until face detection
	// has run; records with a nil FaceCount pass face-count filters.
	FaceCount *int `json:"face_count,omitempty"`

	// Score is the upstream popularity score (Danbooru score, Pixiv
	// bookmark count, and so on).
	Score int `json:"score,omitempty"`

	// Rating is the upstream content rating in the source's own vocabulary
	// (e.g. "s", "q", "e" for booru sources).
	Rating string `json:"rating,omitempty"`

	// DiscoveredAt is when the crawler first saw this record.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// DedupeKey returns the deterministic hash of a source URL used both as
// ImageRecord.ID and as the per-task deduplication key.
func DedupeKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// NewImageRecord creates an ImageRecord with its ID derived from sourceURL
// and DiscoveredAt set to now.
func NewImageRecord(sourceURL string, source SourceType) *ImageRecord {
	return &ImageRecord{
		ID:           DedupeKey(sourceURL),
		SourceURL:    sourceURL,
		Source:       source,
		DiscoveredAt: time.Now().UTC(),
	}
}

// IntPtr returns a pointer to v. Helper for populating optional fields.
func IntPtr(v int) *int {
	return &v
}
