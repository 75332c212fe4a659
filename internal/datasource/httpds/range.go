package httpds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/jwindhaber/async-csv/internal/datasource"
)

// FetchRange retrieves up to n bytes starting at off using an HTTP Range GET.
//
// A 206 response must start at off; its body is read in full inside the
// retry loop, so a connection dropped mid-body is retried. When the server
// ignores Range and answers 200 with the whole object, the first off bytes
// are discarded client-side. A 416 response (offset past the end) yields
// io.EOF.
func (c *Client) FetchRange(ctx context.Context, url string, off int64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("httpds: n must be > 0")
	}
	if off < 0 {
		return nil, fmt.Errorf("httpds: negative offset %d", off)
	}

	h := make(http.Header)
	h.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	var out []byte
	err := c.retry(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, url, nil, h)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = readRange(resp, off, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// readRange reads the bytes [off, off+n) out of resp. Short bodies are
// reported as transient.
func readRange(resp *http.Response, off int64, n int) ([]byte, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		first, last, _, err := parseContentRange(cr)
		if err != nil {
			return nil, err
		}
		if first != off || last < first {
			return nil, fmt.Errorf("httpds: Content-Range %q does not answer a request at offset %d", cr, off)
		}
		buf := make([]byte, min(last-first+1, int64(n)))
		if got, err := io.ReadFull(resp.Body, buf); err != nil {
			return nil, &transientError{err: fmt.Errorf("httpds: range at %d cut short after %d of %d bytes: %w", off, got, len(buf), err)}
		}
		return buf, nil

	case http.StatusOK:
		if off > 0 {
			skipped, err := io.CopyN(io.Discard, resp.Body, off)
			switch {
			case err == io.EOF && (resp.ContentLength < 0 || skipped >= resp.ContentLength):
				return nil, io.EOF
			case err != nil:
				return nil, &transientError{err: fmt.Errorf("httpds: skip %d bytes: %w", off, err)}
			}
		}
		var buf bytes.Buffer
		buf.Grow(n)
		if _, err := buf.ReadFrom(io.LimitReader(resp.Body, int64(n))); err != nil {
			return nil, &transientError{err: fmt.Errorf("httpds: read at %d: %w", off, err)}
		}
		if resp.ContentLength >= 0 && int64(buf.Len()) < min(int64(n), resp.ContentLength-off) {
			return nil, &transientError{err: fmt.Errorf("httpds: read at %d cut short after %d bytes: %w", off, buf.Len(), io.ErrUnexpectedEOF)}
		}
		return buf.Bytes(), nil

	case http.StatusRequestedRangeNotSatisfiable:
		return nil, io.EOF

	default:
		return nil, fmt.Errorf("httpds: GET %s range %d+%d: status %d", resp.Request.URL.Redacted(), off, n, resp.StatusCode)
	}
}

// FetchFirstBytes retrieves up to n bytes from the start of url.
func (c *Client) FetchFirstBytes(ctx context.Context, url string, n int) ([]byte, error) {
	return c.FetchRange(ctx, url, 0, n)
}

// Remote is a datasource.RangeSource over an HTTP object. Each ReadAt is an
// independent Range GET, so parser workers fetch their chunks in parallel.
type Remote struct {
	c   *Client
	url string

	mu   sync.Mutex
	size int64 // -1 until probed
}

var (
	_ datasource.RangeSource = (*Remote)(nil)
	_ datasource.Source      = (*Remote)(nil)
)

// NewRemote binds a Remote to url.
func NewRemote(c *Client, url string) *Remote {
	return &Remote{c: c, url: url, size: -1}
}

// URL returns the bound URL.
func (r *Remote) URL() string { return r.url }

// ReadAt implements datasource.RangeSource.
func (r *Remote) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := r.c.FetchRange(ctx, r.url, off, len(p))
	n := copy(p, b)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size implements datasource.RangeSource. The length is probed once, first
// with HEAD and then, for servers that do not report Content-Length on HEAD,
// with a one-byte Range GET whose Content-Range carries the total.
func (r *Remote) Size(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size >= 0 {
		return r.size, nil
	}

	resp, err := r.c.Do(ctx, http.MethodHead, r.url, nil, nil)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			r.size = resp.ContentLength
			return r.size, nil
		}
	}

	h := make(http.Header)
	h.Set("Range", "bytes=0-0")
	resp, err = r.c.Do(ctx, http.MethodGet, r.url, nil, h)
	if err != nil {
		return 0, fmt.Errorf("httpds: size probe %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		_, _, total, err := parseContentRange(cr)
		if err != nil {
			return 0, err
		}
		if total < 0 {
			return 0, fmt.Errorf("httpds: Content-Range %q has unknown length", cr)
		}
		r.size = total
	case http.StatusOK:
		if resp.ContentLength < 0 {
			return 0, fmt.Errorf("httpds: %s reports no length and does not support ranges", r.url)
		}
		r.size = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		r.size = 0
	default:
		return 0, fmt.Errorf("httpds: size probe %s: status %d", r.url, resp.StatusCode)
	}
	return r.size, nil
}

// Open implements datasource.Source with one plain GET of the whole
// object. Compressed objects are streamed this way into a spool file.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := r.c.Get(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: get %s: %w", r.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("httpds: get %s: status %d", r.url, resp.StatusCode)
	}
	return resp.Body, nil
}

// Close implements datasource.RangeSource.
func (r *Remote) Close() error { return nil }

// parseContentRange splits a header such as "bytes 0-99/12345" into its
// first and last byte positions and the complete length, which is -1 when
// the server sent "*".
func parseContentRange(v string) (first, last, total int64, err error) {
	bad := fmt.Errorf("httpds: malformed Content-Range %q", v)
	spec, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, 0, bad
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, bad
	}
	lo, hi, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, bad
	}
	if first, err = strconv.ParseInt(lo, 10, 64); err != nil || first < 0 {
		return 0, 0, 0, bad
	}
	if last, err = strconv.ParseInt(hi, 10, 64); err != nil || last < first {
		return 0, 0, 0, bad
	}
	if size == "*" {
		return first, last, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil || total <= last {
		return 0, 0, 0, bad
	}
	return first, last, total, nil
}
