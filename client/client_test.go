package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srvURL string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srvURL
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = time.Millisecond
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestDo_Success(t *testing.T) {
	var gotPath, gotCorr, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCorr = r.Header.Get("X-Correlation-ID")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"buckets":[{"name":"logs"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/buckets"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if gotPath != "/api/v1/buckets" {
		t.Errorf("path = %q", gotPath)
	}
	if gotCorr == "" || gotCorr != resp.CorrelationID {
		t.Errorf("correlation id not propagated: header=%q response=%q", gotCorr, resp.CorrelationID)
	}
	if gotUA != "storagegate/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data not decoded: %T", resp.Data)
	}
	if _, ok := data["buckets"]; !ok {
		t.Error("decoded body missing buckets key")
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	// Downstream sequence [503, 503, 200]: exactly 3 attempts, one
	// correlation id, ultimate success.
	var calls atomic.Int64
	corrs := make(map[string]bool)
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		mu.Lock()
		corrs[r.Header.Get("X-Correlation-ID")] = true
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
	if len(corrs) != 1 {
		t.Errorf("correlation ids seen = %d, want 1 shared across attempts", len(corrs))
	}
}

func TestDo_ServerErrorSequence(t *testing.T) {
	// [500, 500, 200] is equally transient.
	var calls atomic.Int64
	statuses := []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(statuses[n-1])
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
}

func TestDo_NonRetryable404(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"bucket does not exist"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/buckets/missing"})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Do() error = %v, want ErrUpstreamFailure", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (4xx is not retried)", calls.Load())
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error is not *UpstreamError: %T", err)
	}
	if ue.Status != http.StatusNotFound || ue.Attempts != 1 {
		t.Errorf("UpstreamError = status %d attempts %d, want 404/1", ue.Status, ue.Attempts)
	}
	if ue.Message != "bucket does not exist" {
		t.Errorf("Message = %q", ue.Message)
	}
	if ue.CorrelationID == "" {
		t.Error("UpstreamError missing correlation id")
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Do() error = %v, want ErrUpstreamFailure", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error is not *UpstreamError: %T", err)
	}
	if ue.Status != http.StatusServiceUnavailable || ue.Attempts != 3 {
		t.Errorf("UpstreamError = status %d attempts %d, want 503/3", ue.Status, ue.Attempts)
	}
}

func TestDo_DeadlineBeatsMaxAttempts(t *testing.T) {
	// Always-503 downstream with 50ms latency against a 100ms deadline:
	// the call must stop with ErrDeadlineExceeded well before the
	// configured 10 attempts.
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 10, BaseDelay: 20 * time.Millisecond}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Do() error = %v, want ErrDeadlineExceeded", err)
	}
	if calls.Load() >= 10 {
		t.Errorf("attempts = %d, deadline should have cut retries short", calls.Load())
	}
}

func TestDo_CancellationSuppressesRetry(t *testing.T) {
	var calls atomic.Int64
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(entered)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered // cancel while the first attempt is in flight
		cancel()
	}()

	_, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (cancellation suppresses retries)", calls.Load())
	}
}

func TestDo_RetryAfterHint(t *testing.T) {
	var calls atomic.Int64
	var firstDone, secondStart time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			firstDone = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			secondStart = time.Now()
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}})

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
	if wait := secondStart.Sub(firstDone); wait < 900*time.Millisecond {
		t.Errorf("waited %v before retry, want about the 1s Retry-After hint", wait)
	}
}

func TestDo_PoolExhausted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, Config{
		MaxConcurrent: 1,
		PoolWait:      20 * time.Millisecond,
	})

	started := make(chan struct{})
	go func() {
		close(started)
		c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first call occupy the slot

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Do() error = %v, want ErrPoolExhausted", err)
	}
}

func TestDo_ConnectionFailureIsTransient(t *testing.T) {
	// Point at a closed server: every attempt fails at the dial, all
	// attempts are consumed, and the failure surfaces as UpstreamFailure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srvURL := srv.URL
	srv.Close()

	c := newTestClient(t, srvURL, Config{Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}})

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/api/v1/health"})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Do() error = %v, want ErrUpstreamFailure", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error is not *UpstreamError: %T", err)
	}
	if ue.Attempts != 2 || ue.Status != 0 {
		t.Errorf("UpstreamError = status %d attempts %d, want 0/2", ue.Status, ue.Attempts)
	}
	if ue.Cause == nil {
		t.Error("network failure should carry its cause")
	}
}

func TestDo_JSONBodyAndQuery(t *testing.T) {
	var gotBody map[string]any
	var gotQuery url.Values
	var gotCT string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotCT = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})

	q := url.Values{}
	q.Set("region", "us-east-1")
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "api/v1/buckets", // leading slash optional
		Query:  q,
		Body:   map[string]string{"name": "logs"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q", gotCT)
	}
	if gotBody["name"] != "logs" {
		t.Errorf("body = %v", gotBody)
	}
	if gotQuery.Get("region") != "us-east-1" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestDo_AttemptHeaderIncrements(t *testing.T) {
	var attempts []string
	var mu sync.Mutex
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, r.Header.Get("X-Request-Attempt"))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}})

	if _, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	want := []string{"1", "2", "3"}
	for i, w := range want {
		if attempts[i] != w {
			t.Errorf("attempt header %d = %q, want %q", i, attempts[i], w)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without base URL should fail")
	}
	if _, err := New(Config{BaseURL: "gopher://x"}); err == nil {
		t.Error("New() with non-http scheme should fail")
	}
}
