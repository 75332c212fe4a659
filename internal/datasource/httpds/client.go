// Package httpds reads CSV objects over HTTP. Plain web servers and object
// stores behind presigned URLs are both served as random-access byte ranges
// (see Remote), and re-serialized output is uploaded with PUT.
//
// Every request runs inside one retry loop. An attempt covers the whole
// exchange, body included, so a ranged read whose body is cut short is
// retried the same way as a 503.
package httpds

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Client. Zero values select the defaults noted per
// field.
type Config struct {
	// Timeout bounds one attempt, body included. Default 30s.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first. Default 0.
	MaxRetries int

	// InitialBackoff is the wait before the first retry; later waits double
	// up to MaxBackoff. Defaults 200ms and 5s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate checks on the default
	// transport.
	InsecureSkipVerify bool

	// BaseHeaders are sent with every request; per-request headers win.
	BaseHeaders http.Header

	// Transport replaces the default transport.
	Transport http.RoundTripper

	// RequestsPerSecond caps the attempt rate, retries included. Zero
	// disables limiting. Burst defaults to 1.
	RequestsPerSecond float64
	Burst             int
}

// Client issues requests with retry, backoff and optional rate limiting.
// It is safe for concurrent use.
type Client struct {
	hc      *http.Client
	header  http.Header
	limiter *rate.Limiter
	policy  retryPolicy

	// wait blocks for one backoff; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	rt := cfg.Transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // opt-in
		rt = t
	}
	c := &Client{
		hc:     &http.Client{Timeout: cfg.Timeout, Transport: rt},
		header: cfg.BaseHeaders.Clone(),
		policy: retryPolicy{
			retries: max(cfg.MaxRetries, 0),
			base:    cfg.InitialBackoff,
			cap:     cfg.MaxBackoff,
		},
		wait: waitContext,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return c
}

// Do sends one request, retrying transport errors, 429 and 5xx. The body is
// re-sent from the slice on every attempt. Other statuses are returned to
// the caller, who must close the response body.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	if method == "" || url == "" {
		return nil, errors.New("httpds: method and url are required")
	}
	var resp *http.Response
	err := c.retry(ctx, func(ctx context.Context) error {
		r, err := c.send(ctx, method, url, body, headers)
		resp = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Get sends a GET; the caller closes the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, headers)
}

// Put sends a PUT; the caller closes the response body.
func (c *Client) Put(ctx context.Context, url string, body []byte, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, url, body, headers)
}

// retry runs attempt until it succeeds, fails with an error not marked
// transient, or the retry budget is spent. The last error is returned
// unwrapped.
func (c *Client) retry(ctx context.Context, attempt func(ctx context.Context) error) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := attempt(ctx)
		var t *transientError
		if err == nil || !errors.As(err, &t) {
			return err
		}
		if n >= c.policy.retries || ctx.Err() != nil {
			return t.err
		}
		if werr := c.wait(ctx, c.policy.delay(n, t.after)); werr != nil {
			return werr
		}
	}
}

// send performs a single attempt. Retryable failures come back as
// *transientError; a retryable response is closed first.
func (c *Client) send(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range headers {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{err: fmt.Errorf("httpds: %s %s: %w", method, url, err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, &transientError{
			err:   fmt.Errorf("httpds: %s %s: status %d", method, url, resp.StatusCode),
			after: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp, nil
}

// transientError marks an attempt failure worth retrying. after is the
// server's Retry-After hint, zero when absent.
type transientError struct {
	err   error
	after time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type retryPolicy struct {
	retries   int
	base, cap time.Duration
}

// delay returns the wait before retry n (0-based): base doubled n times, at
// least the server hint, never more than cap.
func (p retryPolicy) delay(n int, hint time.Duration) time.Duration {
	d := p.base
	for i := 0; i < n && d < p.cap; i++ {
		d *= 2
	}
	return min(max(d, hint), p.cap)
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
