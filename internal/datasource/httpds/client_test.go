package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waits records backoff waits instead of sleeping.
type waits struct {
	mu sync.Mutex
	d  []time.Duration
}

func (w *waits) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.d = append(w.d, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waits) got() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.d...)
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// statusSequence answers with codes in order, then 200 "ok" forever.
func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(hits.Add(1)) - 1
		if i < len(codes) {
			w.WriteHeader(codes[i])
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{MaxRetries: -4})
	if c.hc.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", c.hc.Timeout)
	}
	want := retryPolicy{retries: 0, base: 200 * time.Millisecond, cap: 5 * time.Second}
	if c.policy != want {
		t.Fatalf("policy = %+v, want %+v", c.policy, want)
	}
	if c.limiter != nil {
		t.Fatalf("limiter set without RequestsPerSecond")
	}

	c = NewClient(Config{RequestsPerSecond: 5})
	if c.limiter == nil || c.limiter.Burst() != 1 {
		t.Fatalf("limiter = %v, want burst 1", c.limiter)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := retryPolicy{retries: 10, base: 100 * time.Millisecond, cap: time.Second}
	tests := []struct {
		n    int
		hint time.Duration
		want time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 200 * time.Millisecond},
		{3, 0, 800 * time.Millisecond},
		{4, 0, time.Second},
		{60, 0, time.Second},
		{0, 500 * time.Millisecond, 500 * time.Millisecond},
		{0, time.Minute, time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.n, tt.hint); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.n, tt.hint, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"-1":                            0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	} {
		if got := retryAfter(in); got != want {
			t.Errorf("retryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDo_RetriesTransientStatuses(t *testing.T) {
	t.Parallel()

	srv, hits := statusSequence(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway)
	c := NewClient(Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second})
	w := &waits{}
	c.wait = w.wait

	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" || hits.Load() != 4 {
		t.Fatalf("body %q after %d requests, want ok after 4", body, hits.Load())
	}
	got := w.got()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("waits = %v, want %v", got, want)
		}
	}
}

func TestDo_GivesUpWhenBudgetSpent(t *testing.T) {
	t.Parallel()

	srv, hits := statusSequence(t, 500, 500, 500, 500)
	c := NewClient(Config{MaxRetries: 2})
	c.wait = noWait

	_, err := c.Get(context.Background(), srv.URL, nil)
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("err = %v, want status 500", err)
	}
	var te *transientError
	if errors.As(err, &te) {
		t.Fatalf("final error still marked transient: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("requests = %d, want 3", hits.Load())
	}
}

func TestDo_ReturnsFinalStatusesWithoutRetry(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusRequestedRangeNotSatisfiable} {
		srv, hits := statusSequence(t, code)
		c := NewClient(Config{MaxRetries: 5})
		c.wait = noWait

		resp, err := c.Get(context.Background(), srv.URL, nil)
		if err != nil {
			t.Fatalf("%d: Get: %v", code, err)
		}
		resp.Body.Close()
		if resp.StatusCode != code || hits.Load() != 1 {
			t.Fatalf("%d: got status %d after %d requests", code, resp.StatusCode, hits.Load())
		}
	}
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Second})
	w := &waits{}
	c.wait = w.wait

	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if got := w.got(); len(got) != 1 || got[0] != 2*time.Second {
		t.Fatalf("waits = %v, want [2s]", got)
	}
}

func TestDo_CancelStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 10})
	_, err := c.Get(ctx, srv.URL, nil)
	if err == nil {
		t.Fatalf("Get succeeded after cancel")
	}
	if hits.Load() != 1 {
		t.Fatalf("requests = %d, want 1", hits.Load())
	}
}

func TestPut_ResendsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		bodies []string
		auth   []string
		ctype  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		auth = append(auth, r.Header.Get("Authorization"))
		ctype = append(ctype, r.Header.Get("Content-Type"))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	base := http.Header{}
	base.Set("Authorization", "Bearer base")
	base.Set("Content-Type", "application/octet-stream")
	c := NewClient(Config{MaxRetries: 1, BaseHeaders: base})
	c.wait = noWait

	h := http.Header{}
	h.Set("content-type", "text/csv")
	resp, err := c.Put(context.Background(), srv.URL, []byte("a,b\n1,2\n"), h)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	for i := range bodies {
		if bodies[i] != "a,b\n1,2\n" || auth[i] != "Bearer base" || ctype[i] != "text/csv" {
			t.Fatalf("attempt %d: body %q auth %q type %q", i, bodies[i], auth[i], ctype[i])
		}
	}
}

func TestDo_RateLimitCoversRetries(t *testing.T) {
	t.Parallel()

	srv, _ := statusSequence(t, 503, 503)
	c := NewClient(Config{MaxRetries: 2, RequestsPerSecond: 20, Burst: 1})
	c.wait = noWait

	start := time.Now()
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	// Three attempts at 20/s with burst 1: two limiter waits of 50ms.
	if el := time.Since(start); el < 90*time.Millisecond {
		t.Fatalf("three attempts took %v, want >= ~100ms", el)
	}
}

func TestDo_RejectsEmptyMethodOrURL(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if _, err := c.Do(context.Background(), "", "http://x", nil, nil); err == nil {
		t.Fatalf("empty method accepted")
	}
	if _, err := c.Do(context.Background(), http.MethodGet, "", nil, nil); err == nil {
		t.Fatalf("empty url accepted")
	}
}
