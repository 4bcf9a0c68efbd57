package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nekozuka/imgcatcher/internal/config"
	"github.com/nekozuka/imgcatcher/internal/model"
)

// Adapter is the capability set one image source exposes to the crawl
// engine.
type Adapter interface {
	// Name returns the source identifier.
	Name() model.SourceType

	// Search starts a paginated search and returns a Pager delivering
	// records in upstream order. Pagination always starts from page 0;
	// there is no cursor resumption across Pager instances.
	Search(query string, limit int, criteria model.FilterCriteria) Pager

	// DownloadImage fetches the image at url and writes it to dest.
	DownloadImage(ctx context.Context, url, dest string) error
}

// Pager delivers search results one page at a time. Between Next calls the
// caller may pause, persist, or abandon the crawl; each call dispatches at
// most the requests needed for one upstream page.
type Pager interface {
	// Next returns the next non-empty page of records, or (nil, nil) when
	// the search is exhausted (limit reached, upstream dry, or the page
	// safety ceiling hit). Fetch errors that survive all retries and
	// authentication failures are returned as errors.
	Next(ctx context.Context) ([]*model.ImageRecord, error)
}

// ErrAuthentication reports a credential failure (e.g. an OAuth refresh
// that was rejected). It is fatal for the task and never retried.
var ErrAuthentication = errors.New("authentication failed")

// FormatError reports an upstream response that did not match the expected
// shape. The offending page is skipped and the crawl continues.
type FormatError struct {
	// Source is the adapter that hit the malformed response.
	Source model.SourceType

	// Page is the zero-based page index that failed to parse.
	Page int

	// Err is the underlying parse error.
	Err error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: malformed response on page %d: %v", e.Source, e.Page, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *FormatError) Unwrap() error { return e.Err }

// Info describes one source's capabilities for user-facing listings.
type Info struct {
	Name             model.SourceType `json:"name"`
	DisplayName      string           `json:"display_name"`
	Description      string           `json:"description"`
	RequiresAuth     bool             `json:"requires_auth"`
	RateLimit        string           `json:"rate_limit"`
	SupportedFilters []string         `json:"supported_filters"`
}

// Catalog returns the capability listing for all supported sources.
func Catalog() []Info {
	return []Info{
		{
			Name:             model.SourceDanbooru,
			DisplayName:      "Danbooru",
			Description:      "Anime image board with tag search",
			RequiresAuth:     false,
			RateLimit:        "2 requests/second (anonymous)",
			SupportedFilters: []string{"rating", "min_score", "file_ext", "sort"},
		},
		{
			Name:             model.SourceGelbooru,
			DisplayName:      "Gelbooru",
			Description:      "Anime/manga image board (Danbooru-compatible API)",
			RequiresAuth:     false,
			RateLimit:        "2 requests/second",
			SupportedFilters: []string{"rating", "min_score"},
		},
		{
			Name:             model.SourcePixiv,
			DisplayName:      "Pixiv",
			Description:      "Japanese illustration community",
			RequiresAuth:     true,
			RateLimit:        "100 requests/hour",
			SupportedFilters: []string{"sort", "min_bookmarks"},
		},
	}
}

// Options carries engine-wide settings into adapter construction.
type Options struct {
	// Credentials holds the per-source credentials and limit overrides.
	Credentials config.SourceConfig

	// Timeout is the absolute per-request timeout. 0 uses the default.
	Timeout time.Duration

	// MaxRetries is the number of attempts per request. 0 uses the default.
	MaxRetries int

	// PageCeiling is the per-search page safety limit. 0 uses the default.
	PageCeiling int

	// Logger receives adapter diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// New constructs the adapter for sourceType. Unknown source types are
// rejected so callers can validate before creating a task.
func New(sourceType model.SourceType, opts Options) (Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PageCeiling <= 0 {
		opts.PageCeiling = config.DefaultPageCeiling
	}

	switch sourceType {
	case model.SourceDanbooru:
		return newDanbooru(opts), nil
	case model.SourceGelbooru:
		return newGelbooru(opts), nil
	case model.SourcePixiv:
		return newPixiv(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownSourceType, sourceType)
	}
}

// normalizeQuery applies NFKC normalization so full-width and half-width
// variants of the same tag (common in Japanese Pixiv queries) hit the same
// upstream index.
func normalizeQuery(query string) string {
	return norm.NFKC.String(query)
}
