package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/yourusername/endpoint-gateway/internal/services"
)

// Proxier runs a proxy request through the gateway pipeline. Reject answers
// and audits a request that failed before it reached the pipeline.
type Proxier interface {
	Handle(ctx context.Context, req *services.ProxyRequest) *services.ProxyResponse
	Reject(ctx context.Context, req *services.ProxyRequest, err error) *services.ProxyResponse
}

type ProxyHandler struct {
	gateway           Proxier
	maxBodyBytes      int64
	trustProxyHeaders bool
}

// NewProxyHandler creates the /proxy/{slug} handler. Client IPs are taken from
// X-Forwarded-For / X-Real-IP only when trustProxyHeaders is set.
func NewProxyHandler(gateway Proxier, maxBodyBytes int64, trustProxyHeaders bool) *ProxyHandler {
	return &ProxyHandler{
		gateway:           gateway,
		maxBodyBytes:      maxBodyBytes,
		trustProxyHeaders: trustProxyHeaders,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &services.ProxyRequest{
		Slug:      r.PathValue("slug"),
		Rest:      r.PathValue("rest"),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.Query(),
		Header:    r.Header,
		ClientIP:  getClientIP(r, h.trustProxyHeaders),
		UserAgent: r.UserAgent(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("recovered panic in proxy handler",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			h.write(w, r, h.rejectAfterPanic(r.Context(), req, fmt.Errorf("panic: %v", rec)))
		}
	}()

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.write(w, r, h.gateway.Reject(r.Context(), req, services.ErrBodyTooLarge()))
			return
		}
		h.write(w, r, h.gateway.Reject(r.Context(), req, services.ErrInvalidBody(err)))
		return
	}
	req.Body = body

	h.write(w, r, h.gateway.Handle(r.Context(), req))
}

// rejectAfterPanic audits the failed request. A second panic falls back to a
// bare 500 so the caller is always answered.
func (h *ProxyHandler) rejectAfterPanic(ctx context.Context, req *services.ProxyRequest, cause error) (resp *services.ProxyResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("recovered panic while rejecting request", "panic", rec, "slug", req.Slug)
			body, _ := json.Marshal(services.ErrorBody{
				Error:      "Internal server error",
				StatusCode: http.StatusInternalServerError,
			})
			resp = &services.ProxyResponse{
				StatusCode: http.StatusInternalServerError,
				Header:     http.Header{"Content-Type": {"application/json"}},
				Body:       body,
			}
		}
	}()
	return h.gateway.Reject(ctx, req, services.ErrInternal(cause))
}

func (h *ProxyHandler) write(w http.ResponseWriter, r *http.Request, resp *services.ProxyResponse) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		slog.Debug("client went away before response was written", "path", r.URL.Path, "error", err)
	}
}

func (h *ProxyHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	reader := r.Body
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	return io.ReadAll(reader)
}

func getClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		forwarded := r.Header.Get("X-Forwarded-For")
		if forwarded != "" {
			ips := strings.Split(forwarded, ",")
			return strings.TrimSpace(ips[0])
		}

		realIP := r.Header.Get("X-Real-IP")
		if realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
