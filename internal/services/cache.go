package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// EndpointCache keeps resolved endpoints in Redis for a short TTL
type EndpointCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEndpointCache creates an endpoint cache
func NewEndpointCache(client *redis.Client, ttl time.Duration) *EndpointCache {
	return &EndpointCache{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the cached endpoint, or nil on a miss
func (cs *EndpointCache) Get(ctx context.Context, slug string) (*models.Endpoint, error) {
	data, err := cs.client.Get(ctx, cs.key(slug)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var ep models.Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("failed to decode cached endpoint: %w", err)
	}
	return &ep, nil
}

// Set stores ep under its slug. Connection credentials are never written to
// Redis; the cached copy carries the connection without its config.
func (cs *EndpointCache) Set(ctx context.Context, ep *models.Endpoint) error {
	cp := *ep
	if cp.Connection != nil {
		conn := *cp.Connection
		conn.Config = nil
		cp.Connection = &conn
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint: %w", err)
	}

	if err := cs.client.Set(ctx, cs.key(ep.Slug), data, cs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Delete drops the cached entry for slug
func (cs *EndpointCache) Delete(ctx context.Context, slug string) error {
	return cs.client.Del(ctx, cs.key(slug)).Err()
}

func (cs *EndpointCache) key(slug string) string {
	hash := sha256.Sum256([]byte(slug))
	return fmt.Sprintf("endpoint:%x", hash[:16])
}
