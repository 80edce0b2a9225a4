package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/storagegate/authz"
	"github.com/jonwraymond/storagegate/client"
	"github.com/jonwraymond/storagegate/observe"
	"github.com/jonwraymond/storagegate/session"
)

// Config configures a Dispatcher.
type Config struct {
	// Sessions is the session manager. Required.
	Sessions *session.Manager

	// Client is the storage API client. Required.
	Client *client.Client

	// Gate is the authorization gate. If nil, a gate over
	// authz.DefaultRequirements is used.
	Gate *authz.Gate

	// Logger, Tracer and Metrics instrument every invocation.
	// Nil values disable the respective signal.
	Logger  observe.Logger
	Tracer  observe.Tracer
	Metrics observe.Metrics
}

// Request describes one tool-initiated storage operation.
type Request struct {
	// Method is the HTTP method for the storage API call.
	Method string

	// Path is the storage API endpoint (e.g. "/api/v1/buckets").
	Path string

	// Query holds optional query parameters.
	Query url.Values

	// Body is JSON-encoded as the request body when non-nil.
	Body any

	// Raw is sent as-is when Body is nil.
	Raw []byte

	// Header holds additional headers for the storage call.
	Header http.Header
}

// Result is the outcome of a successful operation.
type Result struct {
	// StatusCode is the storage API status (always 2xx here).
	StatusCode int

	// Data is the decoded JSON response when the storage API returned
	// JSON, else nil.
	Data any

	// Body is the raw response body.
	Body []byte

	// CorrelationID identifies the logical call across systems.
	CorrelationID string

	// Attempts is the total number of downstream attempts consumed.
	Attempts int
}

// Dispatcher orchestrates storage operations:
// authorize, ensure session, forward, map.
type Dispatcher struct {
	sessions *session.Manager
	client   *client.Client
	gate     *authz.Gate
	log      observe.Logger
	tracer   observe.Tracer
	metrics  observe.Metrics
}

// New creates a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("dispatch: session manager is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("dispatch: storage client is required")
	}

	gate := cfg.Gate
	if gate == nil {
		gate = authz.NewGate(nil)
	}
	log := cfg.Logger
	if log == nil {
		log = observe.NopLogger()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observe.NopTracer()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}

	return &Dispatcher{
		sessions: cfg.Sessions,
		client:   cfg.Client,
		gate:     gate,
		log:      log,
		tracer:   tracer,
		metrics:  metrics,
	}, nil
}

// Invoke runs one operation end-to-end. The sequence is fixed:
// validate, authorize (zero network cost on denial), ensure a valid
// session, forward with bearer token and correlation id, map the outcome.
func (d *Dispatcher) Invoke(ctx context.Context, cat authz.Category, req *Request) (*Result, error) {
	start := time.Now()

	if err := validate(cat, req); err != nil {
		return nil, err
	}

	corrID := client.CorrelationIDFromContext(ctx)
	if corrID == "" {
		corrID = client.NewCorrelationID()
		ctx = client.WithCorrelationID(ctx, corrID)
	}

	meta := observe.OpMeta{
		Category:      string(cat),
		Resource:      req.Path,
		CorrelationID: corrID,
	}
	ctx, span := d.tracer.StartSpan(ctx, meta)
	log := d.log.WithOp(meta)

	res, attempts, err := d.invoke(ctx, cat, req, log)

	d.tracer.EndSpan(span, err)
	d.metrics.RecordOp(ctx, meta, time.Since(start), attempts, err)

	if err != nil {
		log.Error(ctx, "operation failed",
			observe.Field{Key: "error", Value: err.Error()},
			observe.Field{Key: "attempts", Value: attempts},
			observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		)
		return nil, err
	}

	log.Info(ctx, "operation completed",
		observe.Field{Key: "status", Value: res.StatusCode},
		observe.Field{Key: "attempts", Value: res.Attempts},
		observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
	)
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, cat authz.Category, req *Request, log observe.Logger) (*Result, int, error) {
	// Authorization runs against the current session snapshot, strictly
	// before any network call: a denial must cost zero downstream work.
	cur := d.sessions.Current()
	if cur == nil {
		return nil, 0, session.ErrSessionExpired
	}
	if err := d.gate.Authorize(ctx, &authz.Request{
		Subject:  cur.Subject,
		Category: cat,
		Roles:    cur.Roles,
	}); err != nil {
		return nil, 0, err
	}

	sess, err := d.sessions.EnsureValid(ctx)
	if err != nil {
		return nil, 0, err
	}

	resp, err := d.forward(ctx, sess, req)
	if err == nil {
		return toResult(resp), resp.Attempts, nil
	}

	// The storage API rejected a token the manager still considered
	// fresh (revoked server-side, clock skew). Refresh once and retry.
	var ue *client.UpstreamError
	if errors.As(err, &ue) && ue.Status == http.StatusUnauthorized {
		d.sessions.MarkStale(sess.AccessToken)

		sess, err = d.sessions.EnsureValid(ctx)
		if err != nil {
			return nil, ue.Attempts, err
		}
		log.Warn(ctx, "re-authenticated after upstream 401")

		resp, err = d.forward(ctx, sess, req)
		if err != nil {
			return nil, ue.Attempts + attemptsOf(err), err
		}
		resp.Attempts += ue.Attempts
		return toResult(resp), resp.Attempts, nil
	}

	return nil, attemptsOf(err), err
}

// forward issues the storage call with the session's bearer token attached.
func (d *Dispatcher) forward(ctx context.Context, sess *session.Session, req *Request) (*client.Response, error) {
	hdr := make(http.Header, len(req.Header)+1)
	for k, vs := range req.Header {
		hdr[http.CanonicalHeaderKey(k)] = vs
	}
	hdr.Set("Authorization", sess.TokenType+" "+sess.AccessToken)

	return d.client.Do(ctx, &client.Request{
		Method: req.Method,
		Path:   req.Path,
		Query:  req.Query,
		Body:   req.Body,
		Raw:    req.Raw,
		Header: hdr,
	})
}

// Close tears down the dispatcher's collaborators: the session is cleared
// and pooled connections to both upstreams are released.
func (d *Dispatcher) Close() {
	d.sessions.Close()
	d.client.Close()
}

func validate(cat authz.Category, req *Request) error {
	if cat == "" {
		return &ValidationError{Field: "category", Reason: "required"}
	}
	if req == nil {
		return &ValidationError{Field: "request", Reason: "required"}
	}
	if req.Method == "" {
		return &ValidationError{Field: "method", Reason: "required"}
	}
	if req.Path == "" {
		return &ValidationError{Field: "path", Reason: "required"}
	}
	if !strings.HasPrefix(req.Path, "/") {
		return &ValidationError{Field: "path", Reason: "must be rooted at /"}
	}
	return nil
}

func toResult(resp *client.Response) *Result {
	return &Result{
		StatusCode:    resp.StatusCode,
		Data:          resp.Data,
		Body:          resp.Body,
		CorrelationID: resp.CorrelationID,
		Attempts:      resp.Attempts,
	}
}

func attemptsOf(err error) int {
	var ue *client.UpstreamError
	if errors.As(err, &ue) {
		return ue.Attempts
	}
	return 0
}
