package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// EndpointStore loads endpoint configuration
type EndpointStore interface {
	// FindActiveEndpointBySlug returns nil, nil when no ACTIVE endpoint has the slug
	FindActiveEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error)
}

// KeyStore loads candidate keys and records their use
type KeyStore interface {
	// ListActiveKeysForEndpoint returns active keys scoped to the endpoint
	// followed by active global keys, in a stable order
	ListActiveKeysForEndpoint(ctx context.Context, endpointID uuid.UUID) ([]models.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error
}

// RequestLogStore is the append-only audit trail
type RequestLogStore interface {
	AppendRequestLog(ctx context.Context, entry *models.RequestLog) error
	// CountAdmittedSince counts rows for the endpoint that passed the rate limiter at or after since
	CountAdmittedSince(ctx context.Context, endpointID uuid.UUID, since time.Time) (int, error)
}
