package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EndpointStatus is the lifecycle state of an endpoint
type EndpointStatus string

const (
	EndpointActive    EndpointStatus = "ACTIVE"
	EndpointInactive  EndpointStatus = "INACTIVE"
	EndpointSuspended EndpointStatus = "SUSPENDED"
)

// Valid reports whether s is one of the known statuses
func (s EndpointStatus) Valid() bool {
	switch s {
	case EndpointActive, EndpointInactive, EndpointSuspended:
		return true
	}
	return false
}

// MethodAny allows every HTTP method on an endpoint
const MethodAny = "ANY"

// ConnectionType identifies the upstream integration of a connection
type ConnectionType string

const (
	ConnectionHTTP     ConnectionType = "HTTP"
	ConnectionSupabase ConnectionType = "SUPABASE"
	ConnectionBearer   ConnectionType = "BEARER"
)

// Connection is a typed upstream integration carrying its own credentials
type Connection struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Name      string          `json:"name"`
	Type      ConnectionType  `json:"type"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Endpoint maps a public slug to a target URL plus its policy
type Endpoint struct {
	ID                uuid.UUID         `json:"id"`
	UserID            uuid.UUID         `json:"user_id"`
	Name              string            `json:"name"`
	Slug              string            `json:"slug"`
	Description       string            `json:"description,omitempty"`
	TargetURL         string            `json:"target_url"`
	Method            string            `json:"method"`
	RequireAPIKey     bool              `json:"require_api_key"`
	RateLimit         int               `json:"rate_limit"`
	RequestTransform  json.RawMessage   `json:"request_transform,omitempty"`
	ResponseTransform json.RawMessage   `json:"response_transform,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Status            EndpointStatus    `json:"status"`
	ConnectionID      *uuid.UUID        `json:"connection_id,omitempty"`
	Connection        *Connection       `json:"connection,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// AllowsMethod reports whether the endpoint accepts the given HTTP method
func (e *Endpoint) AllowsMethod(method string) bool {
	return e.Method == "" || e.Method == MethodAny || e.Method == method
}

// APIKey is a stored key. Only the hash of the secret is kept.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	EndpointID *uuid.UUID `json:"endpoint_id,omitempty"` // nil for global keys
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsGlobal reports whether the key is valid for every endpoint
func (k *APIKey) IsGlobal() bool {
	return k.EndpointID == nil
}

// RequestLog represents one proxied attempt, successful or not
type RequestLog struct {
	ID             uuid.UUID       `json:"id"`
	EndpointID     *uuid.UUID      `json:"endpoint_id,omitempty"` // nil when resolution failed
	Slug           string          `json:"slug"`
	APIKeyID       *uuid.UUID      `json:"api_key_id,omitempty"`
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Headers        json.RawMessage `json:"headers,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
	Query          json.RawMessage `json:"query,omitempty"`
	StatusCode     int             `json:"status_code"`
	ResponseTimeMs int             `json:"response_time_ms"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	IPAddress      string          `json:"ip_address"`
	UserAgent      string          `json:"user_agent"`
	Admitted       bool            `json:"admitted"` // passed the rate limiter
	CreatedAt      time.Time       `json:"created_at"`
}

// EndpointStats summarises the request log of a single endpoint
type EndpointStats struct {
	TotalRequests     int64   `json:"total_requests"`
	Last24Hours       int64   `json:"last_24_hours"`
	Last7Days         int64   `json:"last_7_days"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// EndpointSummary is an endpoint together with its lifetime request count
type EndpointSummary struct {
	Endpoint
	TotalRequests int64 `json:"total_requests"`
}
