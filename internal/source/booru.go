package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nekozuka/imgcatcher/internal/fetch"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/nekozuka/imgcatcher/internal/ratelimit"
)

// booruAPI is the per-source strategy a booru adapter plugs into the shared
// client: how to build page parameters and how to parse a response page.
// Danbooru and Gelbooru differ in pagination (1-based "page" vs 0-based
// "pid"), endpoint path, and response envelope, but share everything else.
type booruAPI interface {
	// searchPath returns the search endpoint path relative to the base URL.
	searchPath() string

	// searchParams builds the query parameters for one page. page is
	// zero-based; implementations translate to their upstream's scheme.
	searchParams(query string, criteria model.FilterCriteria, pageSize, page int) url.Values

	// parsePage normalizes one response body into records. Entries without
	// a file URL are dropped silently; a body that does not match the
	// expected shape is a parse error.
	parsePage(body []byte) ([]*model.ImageRecord, error)

	// maxPageSize is the upstream's maximum results per page.
	maxPageSize() int
}

// booruClient is the shared low-level client for Danbooru-style sources:
// one fetch client, a base URL, and an injected per-source API strategy.
type booruClient struct {
	name    model.SourceType
	baseURL string
	api     booruAPI
	client  *fetch.Client
	ceiling int
	logger  *slog.Logger
}

// newBooruClient wires a fetch client with the given pacing to a booru API
// strategy.
func newBooruClient(name model.SourceType, baseURL string, api booruAPI, opts Options, defaults ratelimitDefaults) *booruClient {
	delay := defaults.delay
	if opts.Credentials.RateLimitDelay > 0 {
		delay = opts.Credentials.RateLimitDelay
	}
	maxConcurrent := defaults.maxConcurrent
	if opts.Credentials.MaxConcurrent > 0 {
		maxConcurrent = opts.Credentials.MaxConcurrent
	}
	if opts.Credentials.BaseURL != "" {
		baseURL = opts.Credentials.BaseURL
	}

	clientOpts := []fetch.ClientOption{fetch.WithLogger(opts.Logger)}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, fetch.WithTimeout(opts.Timeout))
	}
	if opts.MaxRetries > 0 {
		clientOpts = append(clientOpts, fetch.WithMaxRetries(opts.MaxRetries))
	}

	return &booruClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     api,
		client:  fetch.NewClient(ratelimit.New(delay, maxConcurrent), clientOpts...),
		ceiling: opts.PageCeiling,
		logger:  opts.Logger,
	}
}

// ratelimitDefaults carries a source's conservative default limits.
type ratelimitDefaults struct {
	delay         time.Duration
	maxConcurrent int
}

// booruPager walks a booru search page by page.
type booruPager struct {
	bc        *booruClient
	query     string
	criteria  model.FilterCriteria
	limit     int
	page      int
	delivered int
	done      bool
}

// Search starts a paginated search. The returned pager delivers records in
// upstream order until limit records were delivered, the upstream returns
// an empty page, or the page ceiling is hit.
func (bc *booruClient) Search(query string, limit int, criteria model.FilterCriteria) Pager {
	return &booruPager{
		bc:       bc,
		query:    normalizeQuery(query),
		criteria: criteria,
		limit:    limit,
	}
}

// Next fetches upstream pages until it has records to deliver or the search
// is exhausted. Malformed pages are logged and skipped; fetch errors that
// survive all retries end the search with an error.
func (p *booruPager) Next(ctx context.Context) ([]*model.ImageRecord, error) {
	if p.done {
		return nil, nil
	}

	for p.delivered < p.limit && p.page < p.bc.ceiling {
		pageSize := p.bc.api.maxPageSize()
		if remaining := p.limit - p.delivered; remaining < pageSize {
			pageSize = remaining
		}

		params := p.bc.api.searchParams(p.query, p.criteria, pageSize, p.page)
		resp, err := p.bc.client.Get(ctx, p.bc.baseURL+p.bc.api.searchPath(), &fetch.Options{Query: params})
		if err != nil {
			p.done = true
			return nil, err
		}

		page := p.page
		p.page++

		records, err := p.bc.api.parsePage(resp.Body)
		if err != nil {
			ferr := &FormatError{Source: p.bc.name, Page: page, Err: err}
			p.bc.logger.WarnContext(ctx, "skipping malformed page",
				"source", p.bc.name, "page", page, "error", ferr)
			continue
		}
		if len(records) == 0 {
			p.bc.logger.DebugContext(ctx, "upstream exhausted",
				"source", p.bc.name, "page", page)
			p.done = true
			return nil, nil
		}

		if over := p.delivered + len(records) - p.limit; over > 0 {
			records = records[:len(records)-over]
		}
		p.delivered += len(records)
		return records, nil
	}

	if p.page >= p.bc.ceiling {
		p.bc.logger.WarnContext(ctx, "reached page safety ceiling",
			"source", p.bc.name, "ceiling", p.bc.ceiling)
	}
	p.done = true
	return nil, nil
}

// DownloadImage fetches the image at rawURL and writes it atomically to
// dest, creating parent directories as needed. extraHeader is merged into
// the request (Pixiv requires a Referer).
func (bc *booruClient) downloadImage(ctx context.Context, rawURL, dest string, extraHeader map[string]string) error {
	opt := &fetch.Options{}
	if len(extraHeader) > 0 {
		opt.Header = make(map[string][]string, len(extraHeader))
		for k, v := range extraHeader {
			opt.Header[k] = []string{v}
		}
	}

	resp, err := bc.client.Get(ctx, rawURL, opt)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a partial
	// image at dest.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename image into place: %w", err)
	}

	bc.logger.InfoContext(ctx, "downloaded image",
		"source", bc.name, "url", rawURL, "dest", dest, "size", len(resp.Body))
	return nil
}

// DownloadImage implements Adapter for booru sources.
func (bc *booruClient) DownloadImage(ctx context.Context, rawURL, dest string) error {
	return bc.downloadImage(ctx, rawURL, dest, nil)
}

// Name implements Adapter.
func (bc *booruClient) Name() model.SourceType {
	return bc.name
}
