package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nekozuka/imgcatcher/internal/ratelimit"
)

// Default client settings. Adapters override these per source to stay under
// the upstream's published limits.
const (
	// DefaultMaxRetries is the number of attempts before giving up.
	DefaultMaxRetries = 3

	// DefaultTimeout is the absolute timeout for one HTTP request.
	// A timeout counts as one retry attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodySize limits response bodies to prevent memory
	// exhaustion from unexpectedly large responses.
	DefaultMaxBodySize = 20 * 1024 * 1024 // 20MB

	// DefaultUserAgent identifies the crawler in HTTP requests.
	DefaultUserAgent = "imgcatcher/1.0 (image collection crawler)"
)

// FetchError reports a request that failed after exhausting all retries.
type FetchError struct {
	// URL is the requested URL.
	URL string

	// LastStatus is the HTTP status of the final attempt, or 0 when the
	// final attempt failed before receiving a response.
	LastStatus int

	// Attempts is how many attempts were made.
	Attempts int
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.LastStatus == 0 {
		return fmt.Sprintf("fetch %s: giving up after %d attempts (no response)", e.URL, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: giving up after %d attempts (last status %d)", e.URL, e.Attempts, e.LastStatus)
}

// Response is the outcome of a successful fetch.
type Response struct {
	// StatusCode is the HTTP status code (always 2xx).
	StatusCode int

	// Body is the response body, truncated to the configured size limit.
	Body []byte

	// Header contains the response headers.
	Header http.Header
}

// Options customizes a single request.
type Options struct {
	// Query is appended to the URL as query parameters.
	Query url.Values

	// Header contains extra request headers (auth, referer, ...).
	Header http.Header
}

// Client issues rate-limited HTTP GET requests with retry.
// Each source adapter owns one Client wired to its own limiter.
type Client struct {
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	maxRetries  int
	timeout     time.Duration
	maxBodySize int64
	userAgent   string
	logger      *slog.Logger

	// sleep is the backoff sleep, injectable for tests. It must honor ctx
	// cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxRetries sets the number of attempts before giving up.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout sets the absolute per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodySize sets the response body size limit.
func WithMaxBodySize(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests and by
// callers that need custom transports.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSleep replaces the backoff sleep function. Tests use this to observe
// backoff without waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// NewClient creates a Client that paces every attempt through the given
// limiter.
func NewClient(limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		limiter:     limiter,
		maxRetries:  DefaultMaxRetries,
		timeout:     DefaultTimeout,
		maxBodySize: DefaultMaxBodySize,
		userAgent:   DefaultUserAgent,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Get fetches a URL, retrying on failure. Each attempt acquires the rate
// limiter, issues the request with the absolute timeout, and classifies the
// result:
//
//   - 2xx: return the response
//   - 429: sleep 2^attempt seconds, retry
//   - other status, timeout, or transport error: sleep attempt+1 seconds, retry
//
// After maxRetries attempts it returns a *FetchError carrying the last
// observed status. Context cancellation aborts immediately with ctx.Err().
func (c *Client) Get(ctx context.Context, rawURL string, opt *Options) (*Response, error) {
	reqURL := rawURL
	if opt != nil && len(opt.Query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
		q := u.Query()
		for k, vs := range opt.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	lastStatus := 0
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, status, err := c.attempt(ctx, reqURL, opt)
		if err == nil && resp != nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if status != 0 {
			lastStatus = status
		}

		var backoff time.Duration
		if status == http.StatusTooManyRequests {
			backoff = time.Duration(1<<attempt) * time.Second
			c.logger.WarnContext(ctx, "rate limited by upstream",
				"url", reqURL, "attempt", attempt+1, "backoff", backoff)
		} else {
			backoff = time.Duration(attempt+1) * time.Second
			c.logger.WarnContext(ctx, "request failed",
				"url", reqURL, "attempt", attempt+1, "status", status, "error", err)
		}

		if attempt < c.maxRetries-1 {
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, &FetchError{URL: reqURL, LastStatus: lastStatus, Attempts: c.maxRetries}
}

// attempt performs one rate-limited request. It returns the parsed response
// on 2xx, otherwise the observed status (0 when no response was received)
// and an error describing the failure.
func (c *Client) attempt(ctx context.Context, reqURL string, opt *Options) (*Response, int, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	if opt != nil {
		for k, vs := range opt.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, httpResp.StatusCode, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBodySize))
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Header:     httpResp.Header,
	}, httpResp.StatusCode, nil
}
