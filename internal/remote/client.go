// Package remote talks to the fitness site over HTTP. It provides a [Client]
// that pages through a user's workout stream, fetches single workouts, lists
// followers and posts comments and props, plus the substitutable seams used
// in development: [StaticUsers], [DryRunPoster] and a response [Cache].
//
// Requests are serialised through a ticker so the site sees at most one
// request per configured interval, regardless of how many users are being
// synchronized in parallel. Transient failures are retried by
// go-retryablehttp with jittered exponential [Backoff].
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:83.0) Gecko/20100101 Firefox/83.0 fitsync"

var (
	// ErrWorkoutNotFound is returned when the site no longer has a workout.
	ErrWorkoutNotFound = errors.New("workout not found")

	// ErrUnauthorized is returned when the session cookie is rejected.
	ErrUnauthorized = errors.New("session rejected by site")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// Options configures a [Client].
type Options struct {
	// SiteURL is the base URL, e.g. "https://www.fitocracy.example".
	SiteURL string
	// SessionCookie is sent as the "sessionid" cookie on every request.
	SessionCookie string
	// RequestInterval is the minimum spacing between requests. Defaults to 1s.
	RequestInterval time.Duration
	// MaxRetries bounds retries per request. Defaults to 3.
	MaxRetries int
	// Timeout bounds a single attempt. Defaults to 30s.
	Timeout time.Duration
	// Cache, when set, serves GET responses without touching the network.
	Cache Cache
}

// Client is the HTTP implementation of the remote source, user source and
// poster contracts. Create one with [NewClient] and release it with
// [Client.Close].
type Client struct {
	base   *url.URL
	cookie string
	http   *retryablehttp.Client
	ticker *time.Ticker
	cache  Cache
	log    *slog.Logger
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.SiteURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("site URL %q must be a valid http or https URL", opts.SiteURL)
	}
	interval := opts.RequestInterval
	if interval <= 0 {
		interval = time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.Logger = logger
	rc.RetryMax = retries
	rc.RetryWaitMin = baseDelay
	rc.RetryWaitMax = maxDelay
	rc.Backoff = Backoff
	rc.HTTPClient.Timeout = timeout

	return &Client{
		base:   base,
		cookie: opts.SessionCookie,
		http:   rc,
		ticker: time.NewTicker(interval),
		cache:  opts.Cache,
		log:    logger,
	}, nil
}

// Close stops the request ticker.
func (c *Client) Close() {
	c.ticker.Stop()
}

// Ping checks that the site is reachable and accepts the session.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/followers", nil)
	return err
}

// get fetches path (which may carry a query string), consulting the cache
// first when one is configured.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if c.cache != nil {
		body, ok, err := c.cache.Get(path)
		if err != nil {
			c.log.Warn("response cache read failed", "path", path, "error", err)
		} else if ok {
			c.log.Debug("response cache hit", "path", path)
			return body, nil
		}
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(path, body); err != nil {
			c.log.Warn("response cache write failed", "path", path, "error", err)
		}
	}
	return body, nil
}

// postForm sends form-encoded values to path.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, form)
}

// do waits for the rate limiter, sends the request and returns the body of a
// 2xx response.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ticker.C:
	}

	target := c.base.String() + path

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: c.cookie})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode >= 300:
		return nil, &StatusError{Method: method, URL: path, Code: resp.StatusCode}
	}
	return data, nil
}

// isNotFound reports whether err is a 404 from the site.
func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
