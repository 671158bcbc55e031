package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
	"github.com/yourusername/endpoint-gateway/internal/safego"
)

// APIKeyHeader carries the caller's API key
const APIKeyHeader = "X-Api-Key"

// DefaultUserAgent is sent on outbound requests unless configured otherwise
const DefaultUserAgent = "Endpoint-Gateway/1.0"

const touchTimeout = 5 * time.Second

// Stage names the step of the pipeline a request is in
type Stage string

const (
	StageResolving      Stage = "resolving"
	StageValidating     Stage = "validating"
	StageAuthenticating Stage = "authenticating"
	StageRateLimiting   Stage = "rate_limiting"
	StageDispatching    Stage = "dispatching"
	StageTransforming   Stage = "transforming"
	StageLogging        Stage = "logging"
	StageResponded      Stage = "responded"
)

// ProxyRequest is an inbound call to /proxy/{slug}
type ProxyRequest struct {
	Slug      string
	Rest      string // path after the slug, may be empty
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	Body      []byte
	ClientIP  string
	UserAgent string
}

// ProxyResponse is what the caller receives
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrorBody is the JSON shape of every pipeline failure
type ErrorBody struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// GatewayOptions wires the collaborators of a Gateway
type GatewayOptions struct {
	Resolver    *Resolver
	Validator   *TargetValidator
	Verifier    *KeyVerifier
	Keys        KeyStore
	Limiter     RateLimiter
	Dispatcher  Dispatcher
	Credentials *CredentialRegistry
	Audit       *AuditLogger
	Metrics     *MetricsCollector
	UserAgent   string
}

// Gateway runs inbound requests through resolution, target validation, key
// verification, rate limiting, transformation and dispatch. Every request
// produces exactly one audit row.
type Gateway struct {
	resolver    *Resolver
	validator   *TargetValidator
	verifier    *KeyVerifier
	keys        KeyStore
	limiter     RateLimiter
	dispatcher  Dispatcher
	credentials *CredentialRegistry
	audit       *AuditLogger
	metrics     *MetricsCollector
	userAgent   string
	now         func() time.Time
}

func NewGateway(opts GatewayOptions) *Gateway {
	g := &Gateway{
		resolver:    opts.Resolver,
		validator:   opts.Validator,
		verifier:    opts.Verifier,
		keys:        opts.Keys,
		limiter:     opts.Limiter,
		dispatcher:  opts.Dispatcher,
		credentials: opts.Credentials,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		userAgent:   opts.UserAgent,
		now:         time.Now,
	}
	if g.validator == nil {
		g.validator = NewTargetValidator()
	}
	if g.credentials == nil {
		g.credentials = NewCredentialRegistry()
	}
	if g.userAgent == "" {
		g.userAgent = DefaultUserAgent
	}
	return g
}

// InvalidateEndpoint drops any cached copy of slug
func (g *Gateway) InvalidateEndpoint(ctx context.Context, slug string) {
	g.resolver.Invalidate(ctx, slug)
}

// attempt is the state of one request moving through the pipeline
type attempt struct {
	req   *ProxyRequest
	entry *models.RequestLog
	stage Stage
}

func newAttempt(req *ProxyRequest) *attempt {
	return &attempt{
		req: req,
		entry: &models.RequestLog{
			Slug:      req.Slug,
			Method:    req.Method,
			Path:      req.Path,
			Headers:   CaptureHeaders(req.Header),
			Body:      CaptureBody(req.Body),
			Query:     CaptureQuery(req.Query),
			IPAddress: req.ClientIP,
			UserAgent: req.UserAgent,
		},
	}
}

// Handle runs req through the pipeline. It never fails: errors become JSON
// error responses.
func (g *Gateway) Handle(ctx context.Context, req *ProxyRequest) *ProxyResponse {
	start := g.now()
	a := newAttempt(req)

	resp, err := g.run(ctx, a)
	if err != nil {
		resp = g.fail(a, err)
	}
	return g.finish(ctx, a, start, resp)
}

// Reject answers req with err without running the pipeline. It is used for
// requests that fail before they can be handled, such as unreadable bodies.
// The rejection is audited like any other failure.
func (g *Gateway) Reject(ctx context.Context, req *ProxyRequest, err error) *ProxyResponse {
	start := g.now()
	a := newAttempt(req)
	return g.finish(ctx, a, start, g.fail(a, err))
}

func (g *Gateway) fail(a *attempt, err error) *ProxyResponse {
	e := AsError(err)
	g.logFailure(a, e)
	g.metrics.RecordFailure(e.Kind)
	return errorResponse(e)
}

func (g *Gateway) finish(ctx context.Context, a *attempt, start time.Time, resp *ProxyResponse) *ProxyResponse {
	elapsed := int(g.now().Sub(start).Milliseconds())
	a.stage = StageLogging
	a.entry.StatusCode = resp.StatusCode
	a.entry.ResponseTimeMs = elapsed
	a.entry.ResponseBody = CaptureBody(resp.Body)
	g.audit.Record(ctx, a.entry)

	a.stage = StageResponded
	g.metrics.RecordRequest(elapsed, resp.StatusCode)
	slog.Debug("proxy request finished",
		"slug", a.req.Slug,
		"method", a.req.Method,
		"status", resp.StatusCode,
		"duration_ms", elapsed,
	)
	return resp
}

func (g *Gateway) run(ctx context.Context, a *attempt) (*ProxyResponse, error) {
	a.stage = StageResolving
	ep, err := g.resolver.Resolve(ctx, a.req.Slug)
	if err != nil {
		return nil, err
	}
	a.entry.EndpointID = &ep.ID

	if !ep.AllowsMethod(a.req.Method) {
		return nil, ErrMethodNotAllowed(a.req.Method)
	}

	a.stage = StageValidating
	if err := g.validator.Validate(ep.TargetURL); err != nil {
		return nil, err
	}

	if ep.RequireAPIKey {
		a.stage = StageAuthenticating
		key, err := g.authenticate(ctx, ep, a.req.Header.Get(APIKeyHeader))
		if err != nil {
			return nil, err
		}
		a.entry.APIKeyID = &key.ID
		g.touchKey(key.ID)
	}

	a.stage = StageRateLimiting
	if err := g.limiter.Allow(ctx, ep.ID, ep.RateLimit); err != nil {
		return nil, err
	}
	a.entry.Admitted = true

	a.stage = StageTransforming
	body := a.req.Body
	if ep.RequestSpec != nil {
		body = transformJSON(body, ep.RequestSpec.Apply)
	}

	out, err := g.outbound(ep, a.req, body)
	if err != nil {
		return nil, err
	}

	a.stage = StageDispatching
	upstream, err := g.dispatcher.Dispatch(ctx, out)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, ErrUpstream(err)
	}
	if upstream.StatusCode < 200 || upstream.StatusCode > 299 {
		return nil, ErrUpstreamStatus(upstream.StatusCode)
	}

	a.stage = StageTransforming
	respBody := upstream.Body
	contentType := upstream.Header.Get("Content-Type")
	if ep.ResponseSpec != nil && json.Valid(bytes.TrimSpace(respBody)) {
		respBody = transformJSON(respBody, ep.ResponseSpec.Apply)
		contentType = "application/json"
	}
	if contentType == "" {
		contentType = "application/json"
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return &ProxyResponse{
		StatusCode: upstream.StatusCode,
		Header:     header,
		Body:       respBody,
	}, nil
}

// authenticate checks presented against the endpoint's scoped keys, then the
// global keys. The first match wins.
func (g *Gateway) authenticate(ctx context.Context, ep *ResolvedEndpoint, presented string) (*models.APIKey, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrMissingKey()
	}

	candidates, err := g.keys.ListActiveKeysForEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, ErrInternal(err)
	}
	for i := range candidates {
		if g.verifier.Verify(presented, candidates[i].KeyHash) {
			return &candidates[i], nil
		}
	}
	return nil, ErrInvalidKey()
}

func (g *Gateway) touchKey(id uuid.UUID) {
	safego.Go("touch-api-key", func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := g.keys.TouchAPIKeyLastUsed(ctx, id); err != nil {
			slog.Warn("failed to update api key last use", "api_key_id", id, "error", err)
		}
	})
}

// outbound composes the upstream request. Credential headers are applied
// last and override endpoint headers of the same name.
func (g *Gateway) outbound(ep *ResolvedEndpoint, req *ProxyRequest, body []byte) (*OutboundRequest, error) {
	target, err := BuildTargetURL(ep.TargetURL, req.Rest, req.Query)
	if err != nil {
		return nil, ErrMalformedTarget(err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", g.userAgent)
	for k, v := range ep.Headers {
		header.Set(k, v)
	}

	creds, err := g.credentials.HeadersFor(ep.Connection)
	if err != nil {
		return nil, ErrInternal(err)
	}
	for k, v := range creds {
		header.Set(k, v)
	}

	return &OutboundRequest{
		Method: req.Method,
		URL:    target,
		Header: header,
		Body:   body,
	}, nil
}

func (g *Gateway) logFailure(a *attempt, e *Error) {
	attrs := []any{
		"stage", a.stage,
		"slug", a.req.Slug,
		"method", a.req.Method,
		"status", e.Status,
		"kind", e.Kind,
		"client_ip", a.req.ClientIP,
	}
	if e.Cause != nil {
		attrs = append(attrs, "error", e.Cause)
	}

	if e.Status >= 500 {
		slog.Error(e.Message, attrs...)
	} else {
		slog.Info(e.Message, attrs...)
	}
}

// transformJSON applies fn to body when body is JSON and returns the
// re-encoded result. An empty body is treated as {}. Anything else is
// returned unchanged.
func transformJSON(body []byte, fn func(any) any) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}

	out, err := encodeJSON(fn(v))
	if err != nil {
		slog.Warn("failed to encode transformed body", "error", err)
		return body
	}
	return out
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func errorResponse(e *Error) *ProxyResponse {
	body, err := encodeJSON(ErrorBody{Error: e.Message, StatusCode: e.Status})
	if err != nil {
		body = []byte(`{"error":"Internal server error","statusCode":500}`)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &ProxyResponse{
		StatusCode: e.Status,
		Header:     header,
		Body:       body,
	}
}
