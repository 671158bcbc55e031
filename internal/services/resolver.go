package services

import (
	"context"
	"log/slog"

	"github.com/yourusername/endpoint-gateway/internal/models"
	"github.com/yourusername/endpoint-gateway/internal/transform"
)

// ResolvedEndpoint is an ACTIVE endpoint with its transform specs parsed
type ResolvedEndpoint struct {
	*models.Endpoint
	RequestSpec  *transform.Spec
	ResponseSpec *transform.Spec
}

// Resolver looks up ACTIVE endpoints by slug, optionally through a cache
type Resolver struct {
	store   EndpointStore
	cache   *EndpointCache
	metrics *MetricsCollector
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(store EndpointStore, cache *EndpointCache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// WithMetrics records cache hits and misses on mc
func (r *Resolver) WithMetrics(mc *MetricsCollector) *Resolver {
	r.metrics = mc
	return r
}

// Resolve returns the ACTIVE endpoint for slug. Unknown and non-active slugs
// produce the same not-found error.
func (r *Resolver) Resolve(ctx context.Context, slug string) (*ResolvedEndpoint, error) {
	if slug == "" {
		return nil, ErrNotFound()
	}

	ep := r.fromCache(ctx, slug)
	if ep == nil {
		var err error
		ep, err = r.store.FindActiveEndpointBySlug(ctx, slug)
		if err != nil {
			return nil, ErrInternal(err)
		}
		if ep == nil || ep.Status != models.EndpointActive {
			return nil, ErrNotFound()
		}
		r.toCache(ctx, ep)
	}

	return &ResolvedEndpoint{
		Endpoint:     ep,
		RequestSpec:  parseSpec(ep, "request", ep.RequestTransform),
		ResponseSpec: parseSpec(ep, "response", ep.ResponseTransform),
	}, nil
}

// Invalidate drops any cached copy of slug
func (r *Resolver) Invalidate(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, slug); err != nil {
		slog.Warn("failed to invalidate endpoint cache", "slug", slug, "error", err)
	}
}

func (r *Resolver) fromCache(ctx context.Context, slug string) *models.Endpoint {
	if r.cache == nil {
		return nil
	}
	ep, err := r.cache.Get(ctx, slug)
	if err != nil {
		slog.Warn("endpoint cache get error", "slug", slug, "error", err)
		return nil
	}
	if ep == nil || ep.Status != models.EndpointActive {
		r.metrics.RecordCacheMiss()
		return nil
	}
	r.metrics.RecordCacheHit()
	return ep
}

// toCache skips endpoints whose connection carries credentials, so a cache
// hit never yields an endpoint with its credentials missing
func (r *Resolver) toCache(ctx context.Context, ep *models.Endpoint) {
	if r.cache == nil || hasCredentials(ep) {
		return
	}
	if err := r.cache.Set(ctx, ep); err != nil {
		slog.Warn("failed to cache endpoint", "slug", ep.Slug, "error", err)
	}
}

func hasCredentials(ep *models.Endpoint) bool {
	return ep.Connection != nil && len(ep.Connection.Config) > 0
}

// parseSpec turns a malformed transform into a passthrough
func parseSpec(ep *models.Endpoint, which string, raw []byte) *transform.Spec {
	spec, err := transform.Parse(raw)
	if err != nil {
		slog.Warn("ignoring malformed transform",
			"endpoint_id", ep.ID,
			"transform", which,
			"error", err,
		)
		return nil
	}
	return spec
}
