package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/storagegate/observe"
)

// maxBodyBytes bounds how much of a response body is buffered.
const maxBodyBytes = 8 << 20

// Config configures the storage API client.
type Config struct {
	// BaseURL is the storage API base URL (e.g. "https://minio.example.com").
	BaseURL string

	// UserAgent is sent on every request.
	// Default: "storagegate/1.0"
	UserAgent string

	// MaxConcurrent is the maximum number of in-flight calls sharing the
	// connection pool.
	// Default: 10
	MaxConcurrent int

	// PoolWait is the maximum time a call waits for a pool slot before
	// failing with ErrPoolExhausted. Zero fails immediately.
	// Default: 5s
	PoolWait time.Duration

	// Timeout bounds one logical call including all retry attempts, unless
	// the caller's context already carries a deadline.
	// Default: 30s
	Timeout time.Duration

	// Retry is the retry policy.
	Retry RetryPolicy

	// Transport overrides the HTTP transport. If nil, a pooled transport
	// sized to MaxConcurrent is used.
	Transport http.RoundTripper

	// Logger receives structured retry and failure events. If nil, logging
	// is disabled.
	Logger observe.Logger
}

// Request describes one storage API call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is the endpoint path (e.g. "/api/v1/buckets").
	Path string

	// Query holds optional query parameters.
	Query url.Values

	// Body is JSON-encoded as the request body when non-nil.
	Body any

	// Raw is sent as-is when Body is nil.
	Raw []byte

	// Header holds additional headers; they override the defaults.
	Header http.Header
}

// Response is the outcome of a successful call.
type Response struct {
	// StatusCode is the HTTP status (always 2xx here).
	StatusCode int

	// Header is the response header.
	Header http.Header

	// Body is the raw response body.
	Body []byte

	// Data is the decoded JSON body when the response was JSON, else nil.
	Data any

	// CorrelationID identifies the logical call.
	CorrelationID string

	// Attempts is how many attempts the call consumed.
	Attempts int
}

// Client issues resilient HTTP calls to the storage API.
// Safe for concurrent use; all calls share one bounded connection pool.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sem        chan struct{}
	log        observe.Logger
}

// New creates a storage API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("client: base URL must start with http:// or https://, got %q", cfg.BaseURL)
	}

	// Apply defaults
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "storagegate/1.0"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.PoolWait < 0 {
		cfg.PoolWait = 0
	} else if cfg.PoolWait == 0 {
		cfg.PoolWait = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        cfg.MaxConcurrent,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			MaxConnsPerHost:     cfg.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	log := cfg.Logger
	if log == nil {
		log = observe.NopLogger()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		log:        log,
	}, nil
}

// Do executes one logical call: checkout a pool slot, then attempt the
// request with bounded retries under a single deadline. The correlation id
// from the context (or a fresh one) is constant across every attempt.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" || req.Path == "" {
		return nil, errors.New("client: method and path are required")
	}

	corrID := CorrelationIDFromContext(ctx)
	if corrID == "" {
		corrID = NewCorrelationID()
	}

	// One deadline bounds the entire retry sequence.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, bodyType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("client: encode body: %w", err)
	}

	if err := c.acquire(ctx, corrID); err != nil {
		return nil, err
	}
	defer c.release()

	callURL := c.buildURL(req)

	var (
		lastStatus int
		lastMsg    string
		lastCause  error
	)

	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req, body, bodyType, callURL, corrID, attempt)
		var hint time.Duration

		if err != nil {
			if ctx.Err() != nil {
				return nil, c.ctxFailure(ctx, corrID, attempt)
			}
			// Connection failures and per-attempt timeouts are transient.
			lastStatus = 0
			lastMsg = ""
			lastCause = err
		} else {
			payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			_ = resp.Body.Close()

			switch {
			case readErr != nil:
				lastStatus = 0
				lastMsg = ""
				lastCause = readErr

			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				out := &Response{
					StatusCode:    resp.StatusCode,
					Header:        resp.Header,
					Body:          payload,
					CorrelationID: corrID,
					Attempts:      attempt,
				}
				if isJSON(resp.Header) && len(payload) > 0 {
					var data any
					if json.Unmarshal(payload, &data) == nil {
						out.Data = data
					}
				}
				c.log.Debug(ctx, "storage call succeeded",
					observe.Field{Key: "method", Value: req.Method},
					observe.Field{Key: "path", Value: req.Path},
					observe.Field{Key: "status", Value: resp.StatusCode},
					observe.Field{Key: "attempt", Value: attempt},
					observe.Field{Key: "correlation_id", Value: corrID},
				)
				return out, nil

			case retryableStatus(resp.StatusCode):
				lastStatus = resp.StatusCode
				lastMsg = errorMessage(resp.Header, payload)
				lastCause = nil
				hint = retryAfterHint(resp.Header)

			default:
				// Non-retryable error response: surface immediately.
				return nil, &UpstreamError{
					Status:        resp.StatusCode,
					Attempts:      attempt,
					CorrelationID: corrID,
					Message:       errorMessage(resp.Header, payload),
				}
			}
		}

		if attempt >= c.cfg.Retry.MaxAttempts {
			return nil, &UpstreamError{
				Status:        lastStatus,
				Attempts:      attempt,
				CorrelationID: corrID,
				Message:       lastMsg,
				Cause:         lastCause,
			}
		}

		delay := c.cfg.Retry.delay(attempt, hint)
		c.log.Warn(ctx, "retrying storage call",
			observe.Field{Key: "method", Value: req.Method},
			observe.Field{Key: "path", Value: req.Path},
			observe.Field{Key: "status", Value: lastStatus},
			observe.Field{Key: "attempt", Value: attempt},
			observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
			observe.Field{Key: "correlation_id", Value: corrID},
		)

		select {
		case <-ctx.Done():
			// Deadline reached mid-backoff: abort rather than start
			// another attempt.
			return nil, c.ctxFailure(ctx, corrID, attempt)
		case <-time.After(delay):
		}
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// acquire checks out a pool slot, waiting up to PoolWait.
func (c *Client) acquire(ctx context.Context, corrID string) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}

	if c.cfg.PoolWait <= 0 {
		return fmt.Errorf("%w: correlation_id=%s", ErrPoolExhausted, corrID)
	}

	timer := time.NewTimer(c.cfg.PoolWait)
	defer timer.Stop()

	select {
	case c.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: correlation_id=%s", ErrPoolExhausted, corrID)
	case <-ctx.Done():
		return c.ctxFailure(ctx, corrID, 0)
	}
}

func (c *Client) release() {
	<-c.sem
}

// attempt issues one HTTP request carrying the shared correlation id and
// the attempt counter.
func (c *Client) attempt(ctx context.Context, req *Request, body []byte, bodyType, callURL, corrID string, attempt int) (*http.Response, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, callURL, rdr)
	if err != nil {
		return nil, err
	}

	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", c.cfg.UserAgent)
	hreq.Header.Set("X-Correlation-ID", corrID)
	hreq.Header.Set("X-Request-Attempt", strconv.Itoa(attempt))
	if bodyType != "" {
		hreq.Header.Set("Content-Type", bodyType)
	}
	for k, vs := range req.Header {
		hreq.Header[http.CanonicalHeaderKey(k)] = vs
	}

	return c.httpClient.Do(hreq)
}

// ctxFailure maps a context error to the call-level error taxonomy.
func (c *Client) ctxFailure(ctx context.Context, corrID string, attempts int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: correlation_id=%s attempts=%d", ErrDeadlineExceeded, corrID, attempts)
	}
	return ctx.Err()
}

func (c *Client) buildURL(req *Request) string {
	u := c.cfg.BaseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func encodeBody(req *Request) ([]byte, string, error) {
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	}
	if len(req.Raw) > 0 {
		return req.Raw, "application/octet-stream", nil
	}
	return nil, "", nil
}

func isJSON(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "application/json")
}

// errorMessage extracts a sanitized message from a JSON error body.
// Non-JSON bodies yield nothing; they may carry upstream internals.
func errorMessage(h http.Header, body []byte) string {
	if !isJSON(h) || len(body) == 0 {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(body, &m) != nil {
		return ""
	}
	if s, ok := m["error"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["message"].(string); ok && s != "" {
		return s
	}
	return ""
}
