package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nekozuka/imgcatcher/internal/fetch"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/nekozuka/imgcatcher/internal/ratelimit"
)

// Pixiv API endpoints.
const (
	DefaultPixivAPIBase  = "https://app-api.pixiv.net"
	DefaultPixivAuthBase = "https://oauth.secure.pixiv.net"

	// pixivPageSize is the upstream's fixed page size.
	pixivPageSize = 30

	// pixivTokenMaxAge is how long an access token is reused before a
	// refresh. Tokens expire after one hour; refreshing at 50 minutes
	// leaves headroom.
	pixivTokenMaxAge = 50 * time.Minute

	// pixivUserAgent matches the mobile client the OAuth endpoint expects.
	pixivUserAgent = "PixivAndroidApp/5.0.234"

	// pixivReferer is required by the image CDN.
	pixivReferer = "https://www.pixiv.net/"
)

// Public mobile-app OAuth client credentials, required by the token
// endpoint alongside the user's refresh token.
const (
	pixivClientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	pixivClientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
)

// Pixiv's free tier allows roughly 100 requests/hour, so pacing is much
// stricter than for booru sources.
var pixivDefaults = ratelimitDefaults{
	delay:         2 * time.Second,
	maxConcurrent: 2,
}

// pixivAdapter crawls Pixiv illustrations. Unlike the booru sources it
// needs OAuth: an access token is obtained from the refresh token and
// renewed once it is older than pixivTokenMaxAge.
type pixivAdapter struct {
	apiBase  string
	authBase string
	client   *fetch.Client
	// authClient posts to the token endpoint directly: auth failures are
	// fatal and must not be retried, so they bypass the retrying fetcher.
	authClient *http.Client
	logger     *slog.Logger
	ceiling    int

	mu              sync.Mutex
	refreshToken    string
	accessToken     string
	tokenObtainedAt time.Time

	// now is injectable for token-age tests.
	now func() time.Time
}

// newPixiv creates the Pixiv adapter.
func newPixiv(opts Options) *pixivAdapter {
	delay := pixivDefaults.delay
	if opts.Credentials.RateLimitDelay > 0 {
		delay = opts.Credentials.RateLimitDelay
	}
	maxConcurrent := pixivDefaults.maxConcurrent
	if opts.Credentials.MaxConcurrent > 0 {
		maxConcurrent = opts.Credentials.MaxConcurrent
	}

	apiBase := DefaultPixivAPIBase
	authBase := DefaultPixivAuthBase
	if opts.Credentials.BaseURL != "" {
		apiBase = strings.TrimRight(opts.Credentials.BaseURL, "/")
		authBase = apiBase
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = fetch.DefaultTimeout
	}

	clientOpts := []fetch.ClientOption{
		fetch.WithLogger(opts.Logger),
		fetch.WithTimeout(timeout),
		fetch.WithUserAgent(pixivUserAgent),
	}
	if opts.MaxRetries > 0 {
		clientOpts = append(clientOpts, fetch.WithMaxRetries(opts.MaxRetries))
	}

	return &pixivAdapter{
		apiBase:      apiBase,
		authBase:     authBase,
		client:       fetch.NewClient(ratelimit.New(delay, maxConcurrent), clientOpts...),
		authClient:   &http.Client{Timeout: timeout},
		logger:       opts.Logger,
		ceiling:      opts.PageCeiling,
		refreshToken: opts.Credentials.RefreshToken,
		now:          time.Now,
	}
}

// Name implements Adapter.
func (p *pixivAdapter) Name() model.SourceType {
	return model.SourcePixiv
}

// authenticate exchanges the refresh token for a fresh access token.
// Any failure is wrapped in ErrAuthentication: it is fatal for the task
// and never retried.
func (p *pixivAdapter) authenticate(ctx context.Context) error {
	if p.refreshToken == "" {
		return fmt.Errorf("%w: no refresh token configured for pixiv", ErrAuthentication)
	}

	form := url.Values{
		"client_id":      {pixivClientID},
		"client_secret":  {pixivClientSecret},
		"grant_type":     {"refresh_token"},
		"refresh_token":  {p.refreshToken},
		"get_secure_url": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.authBase+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", pixivUserAgent)

	resp, err := p.authClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrAuthentication, resp.StatusCode)
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrAuthentication, err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrAuthentication)
	}

	p.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		p.refreshToken = token.RefreshToken
	}
	p.tokenObtainedAt = p.now()

	p.logger.InfoContext(ctx, "authenticated with pixiv")
	return nil
}

// ensureAuthenticated refreshes the access token when missing or older
// than pixivTokenMaxAge.
func (p *pixivAdapter) ensureAuthenticated(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.now().Sub(p.tokenObtainedAt) < pixivTokenMaxAge {
		return nil
	}
	return p.authenticate(ctx)
}

// bearerToken returns the current access token.
func (p *pixivAdapter) bearerToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessToken
}

// Search implements Adapter. Pixiv paginates by offset.
func (p *pixivAdapter) Search(query string, limit int, criteria model.FilterCriteria) Pager {
	return &pixivPager{
		adapter:  p,
		query:    normalizeQuery(query),
		criteria: criteria,
		limit:    limit,
	}
}

// pixivSort maps the criteria sort vocabulary onto Pixiv's API values.
// Premium-only popularity sorting falls back server-side on free accounts,
// so it is safe to request unconditionally.
func pixivSort(sort string) string {
	switch sort {
	case "popular":
		return "popular_desc"
	case "", "date":
		return "date_desc"
	default:
		return sort
	}
}

// pixivPager walks a Pixiv illustration search.
type pixivPager struct {
	adapter   *pixivAdapter
	query     string
	criteria  model.FilterCriteria
	limit     int
	offset    int
	page      int
	delivered int
	done      bool
}

// pixivSearchResponse is the subset of the search response we consume.
type pixivSearchResponse struct {
	Illusts []struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		User  struct {
			Name string `json:"name"`
		} `json:"user"`
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
		ImageURLs struct {
			Large        string `json:"large"`
			Medium       string `json:"medium"`
			SquareMedium string `json:"square_medium"`
		} `json:"image_urls"`
		Width          *int `json:"width"`
		Height         *int `json:"height"`
		TotalBookmarks int  `json:"total_bookmarks"`
	} `json:"illusts"`
	NextURL string `json:"next_url"`
}

// Next fetches the next page of illustrations, filtering by the bookmark
// threshold. The bookmark filter runs client side because the search API
// has no server-side equivalent on the free tier.
func (pg *pixivPager) Next(ctx context.Context) ([]*model.ImageRecord, error) {
	if pg.done {
		return nil, nil
	}

	for pg.delivered < pg.limit && pg.page < pg.adapter.ceiling {
		if err := pg.adapter.ensureAuthenticated(ctx); err != nil {
			pg.done = true
			return nil, err
		}

		params := url.Values{
			"word":          {pg.query},
			"search_target": {"partial_match_for_tags"},
			"sort":          {pixivSort(pg.criteria.Sort)},
			"filter":        {"for_ios"},
			"offset":        {strconv.Itoa(pg.offset)},
		}
		header := http.Header{
			"Authorization": {"Bearer " + pg.adapter.bearerToken()},
		}

		resp, err := pg.adapter.client.Get(ctx, pg.adapter.apiBase+"/v1/search/illust",
			&fetch.Options{Query: params, Header: header})
		if err != nil {
			pg.done = true
			return nil, err
		}

		page := pg.page
		pg.page++
		pg.offset += pixivPageSize

		var body pixivSearchResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			ferr := &FormatError{Source: model.SourcePixiv, Page: page, Err: err}
			pg.adapter.logger.WarnContext(ctx, "skipping malformed page",
				"source", model.SourcePixiv, "page", page, "error", ferr)
			continue
		}
		if len(body.Illusts) == 0 {
			pg.done = true
			return nil, nil
		}

		records := make([]*model.ImageRecord, 0, len(body.Illusts))
		for _, illust := range body.Illusts {
			if pg.criteria.MinBookmarks > 0 && illust.TotalBookmarks < pg.criteria.MinBookmarks {
				continue
			}

			imageURL := illust.ImageURLs.Large
			if imageURL == "" {
				imageURL = illust.ImageURLs.Medium
			}
			if imageURL == "" {
				imageURL = illust.ImageURLs.SquareMedium
			}
			if imageURL == "" {
				continue
			}

			r := model.NewImageRecord(imageURL, model.SourcePixiv)
			r.Title = illust.Title
			r.Artist = illust.User.Name
			for _, tag := range illust.Tags {
				r.Tags = append(r.Tags, tag.Name)
			}
			r.Width = illust.Width
			r.Height = illust.Height
			r.Score = illust.TotalBookmarks
			records = append(records, r)

			if pg.delivered+len(records) >= pg.limit {
				break
			}
		}

		if body.NextURL == "" {
			pg.done = true
		}
		if len(records) == 0 {
			// Whole page below the bookmark threshold; keep paging.
			if pg.done {
				return nil, nil
			}
			continue
		}

		pg.delivered += len(records)
		return records, nil
	}

	pg.done = true
	return nil, nil
}

// DownloadImage implements Adapter. The Pixiv CDN requires a Referer.
func (p *pixivAdapter) DownloadImage(ctx context.Context, rawURL, dest string) error {
	bc := &booruClient{
		name:    model.SourcePixiv,
		client:  p.client,
		logger:  p.logger,
		ceiling: p.ceiling,
	}
	return bc.downloadImage(ctx, rawURL, dest, map[string]string{"Referer": pixivReferer})
}
