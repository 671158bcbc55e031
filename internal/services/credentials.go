package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// CredentialInjector produces the outbound headers a connection type needs
type CredentialInjector interface {
	HeadersFor(config json.RawMessage) (map[string]string, error)
}

// CredentialRegistry maps connection types to their injectors
type CredentialRegistry struct {
	injectors map[models.ConnectionType]CredentialInjector
}

// NewCredentialRegistry returns a registry with the built-in connection types
func NewCredentialRegistry() *CredentialRegistry {
	return &CredentialRegistry{
		injectors: map[models.ConnectionType]CredentialInjector{
			models.ConnectionHTTP:     noCredentials{},
			models.ConnectionSupabase: supabaseCredentials{},
			models.ConnectionBearer:   bearerCredentials{},
		},
	}
}

// Register adds or replaces the injector for t
func (r *CredentialRegistry) Register(t models.ConnectionType, inj CredentialInjector) {
	r.injectors[t] = inj
}

// HeadersFor returns the credential headers for conn. A nil connection
// yields no headers.
func (r *CredentialRegistry) HeadersFor(conn *models.Connection) (map[string]string, error) {
	if conn == nil {
		return nil, nil
	}
	inj, ok := r.injectors[conn.Type]
	if !ok {
		return nil, fmt.Errorf("unknown connection type %q", conn.Type)
	}
	return inj.HeadersFor(conn.Config)
}

type noCredentials struct{}

func (noCredentials) HeadersFor(json.RawMessage) (map[string]string, error) {
	return nil, nil
}

type supabaseConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

type supabaseCredentials struct{}

func (supabaseCredentials) HeadersFor(raw json.RawMessage) (map[string]string, error) {
	var cfg supabaseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode supabase config: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("supabase connection has no apiKey")
	}
	return map[string]string{
		"apikey":        cfg.APIKey,
		"Authorization": "Bearer " + cfg.APIKey,
	}, nil
}

type bearerConfig struct {
	Token string `json:"token"`
}

type bearerCredentials struct{}

func (bearerCredentials) HeadersFor(raw json.RawMessage) (map[string]string, error) {
	var cfg bearerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode bearer config: %w", err)
	}
	if cfg.Token == "" {
		return nil, errors.New("bearer connection has no token")
	}
	return map[string]string{"Authorization": "Bearer " + cfg.Token}, nil
}
