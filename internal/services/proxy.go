package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxUpstreamBodyBytes caps how much of an upstream response is buffered
const maxUpstreamBodyBytes = 32 << 20

// maxRedirects matches the net/http default
const maxRedirects = 10

// OutboundRequest is a fully composed request to an endpoint target
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// OutboundResponse is a buffered upstream response
type OutboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Dispatcher sends outbound requests
type Dispatcher interface {
	Dispatch(ctx context.Context, req *OutboundRequest) (*OutboundResponse, error)
}

// HTTPDispatcher sends outbound requests over net/http with a per-call timeout
type HTTPDispatcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPDispatcher creates a dispatcher. Every redirect target is checked
// with the TargetValidator before it is followed. With dialGuard set, every
// outbound connection is also checked against the private address blocklist
// after DNS resolution.
func NewHTTPDispatcher(timeout time.Duration, dialGuard bool) *HTTPDispatcher {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if dialGuard {
		dialer.Control = DialGuard
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	validator := NewTargetValidator()
	return &HTTPDispatcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return validator.Validate(req.URL.String())
			},
		},
		timeout: timeout,
	}
}

// Dispatch performs req once. Non-2xx answers are returned as responses, not
// errors; only transport failures produce an error.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *OutboundRequest) (*OutboundResponse, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	proxyReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, ErrMalformedTarget(err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			proxyReq.Header.Add(key, value)
		}
	}

	resp, err := d.client.Do(proxyReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	return &OutboundResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func classifyTransportError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, ErrBlockedAddress) {
		return ErrUnsafeTarget("destination resolves to a private address")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout(err)
	}
	return ErrUpstream(err)
}

// BuildTargetURL joins rest onto the target path and merges query onto the
// target's own query parameters.
func BuildTargetURL(target, rest string, query url.Values) (string, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("failed to parse target url: %w", err)
	}

	if rest = strings.TrimPrefix(rest, "/"); rest != "" {
		targetURL.Path = strings.TrimSuffix(targetURL.Path, "/") + "/" + rest
		targetURL.RawPath = ""
	}

	if len(query) > 0 {
		merged := targetURL.Query()
		for key, values := range query {
			for _, value := range values {
				merged.Add(key, value)
			}
		}
		targetURL.RawQuery = merged.Encode()
	}

	return targetURL.String(), nil
}
