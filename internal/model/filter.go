package model

import "fmt"

// FilterCriteria holds the content criteria a crawl task applies to yielded
// records. Zero values mean "no constraint" except for the face bounds,
// which use pointers because 0 is a meaningful bound.
//
// Each adapter additionally interprets the source-specific fields it
// understands (MinScore and FileExt for booru sources, MinBookmarks and Sort
// for Pixiv) when building its queries.
type FilterCriteria struct {
	// MinFaces and MaxFaces bound the detected face count. Records with an
	// unknown face count always pass.
	MinFaces *int `json:"min_faces,omitempty" yaml:"min_faces"`
	MaxFaces *int `json:"max_faces,omitempty" yaml:"max_faces"`

	// MinWidth and MinHeight bound the image resolution in pixels. Records
	// with unknown dimensions always pass.
	MinWidth  int `json:"min_width,omitempty" yaml:"min_width"`
	MinHeight int `json:"min_height,omitempty" yaml:"min_height"`

	// MinScore is the minimum upstream score, appended to booru queries as
	// a "score:>=N" qualifier.
	MinScore int `json:"min_score,omitempty" yaml:"min_score"`

	// Rating restricts results to an upstream content rating, appended to
	// booru queries as a "rating:X" qualifier.
	Rating string `json:"rating,omitempty" yaml:"rating"`

	// FileExt restricts booru results to one file extension (jpg, png, ...).
	FileExt string `json:"file_ext,omitempty" yaml:"file_ext"`

	// MinBookmarks is the minimum Pixiv bookmark count.
	MinBookmarks int `json:"min_bookmarks,omitempty" yaml:"min_bookmarks"`

	// Sort is the upstream sort order ("popular" or "date" for Pixiv,
	// a Danbooru order tag otherwise).
	Sort string `json:"sort,omitempty" yaml:"sort"`
}

// Validate checks the criteria for internal consistency. It returns the
// first problem found; task creation rejects invalid criteria before any
// task object exists.
func (c FilterCriteria) Validate() error {
	if c.MinFaces != nil && *c.MinFaces < 0 {
		return fmt.Errorf("%w: min faces %d", ErrInvalidFaceRange, *c.MinFaces)
	}
	if c.MaxFaces != nil && *c.MaxFaces < 0 {
		return fmt.Errorf("%w: max faces %d", ErrInvalidFaceRange, *c.MaxFaces)
	}
	if c.MinFaces != nil && c.MaxFaces != nil && *c.MinFaces > *c.MaxFaces {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidFaceRange, *c.MinFaces, *c.MaxFaces)
	}
	if c.MinWidth < 0 || c.MinHeight < 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, c.MinWidth, c.MinHeight)
	}
	return nil
}
