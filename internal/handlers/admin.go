package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/database"
	"github.com/yourusername/endpoint-gateway/internal/models"
	"github.com/yourusername/endpoint-gateway/internal/services"
	"github.com/yourusername/endpoint-gateway/internal/transform"
)

const (
	slugAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	slugSuffixLength = 6
	keyWarning       = "Save your API Key securely. You will not be able to see it again."
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	whitespace  = regexp.MustCompile(`\s+`)
	validate    = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// AdminStore is the persistence the admin API needs
type AdminStore interface {
	CreateConnection(ctx context.Context, conn *models.Connection) error
	CreateEndpointWithKey(ctx context.Context, ep *models.Endpoint, key *models.APIKey) error
	ListEndpoints(ctx context.Context, status models.EndpointStatus) ([]models.EndpointSummary, error)
	GetEndpointByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error)
	UpdateEndpointStatus(ctx context.Context, id uuid.UUID, status models.EndpointStatus) (string, error)
	EndpointStats(ctx context.Context, id uuid.UUID, now time.Time) (*models.EndpointStats, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	ToggleAPIKey(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
}

// EndpointInvalidator drops cached endpoint configuration
type EndpointInvalidator interface {
	InvalidateEndpoint(ctx context.Context, slug string)
}

type AdminHandler struct {
	db          AdminStore
	verifier    *services.KeyVerifier
	validator   *services.TargetValidator
	invalidator EndpointInvalidator
	baseURL     string
}

func NewAdminHandler(db AdminStore, verifier *services.KeyVerifier, invalidator EndpointInvalidator, baseURL string) *AdminHandler {
	return &AdminHandler{
		db:          db,
		verifier:    verifier,
		validator:   services.NewTargetValidator(),
		invalidator: invalidator,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *AdminHandler) proxyURL(slug string) string {
	return h.baseURL + "/proxy/" + slug
}

type CreateConnectionRequest struct {
	UserID string          `json:"user_id" validate:"required,uuid"`
	Name   string          `json:"name" validate:"required,max=100"`
	Type   string          `json:"type" validate:"required,oneof=HTTP SUPABASE BEARER"`
	Config json.RawMessage `json:"config"`
}

func (h *AdminHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Config) > 0 && !json.Valid(req.Config) {
		writeError(w, http.StatusBadRequest, "config must be a JSON object")
		return
	}

	conn := &models.Connection{
		UserID: uuid.MustParse(req.UserID),
		Name:   req.Name,
		Type:   models.ConnectionType(req.Type),
		Config: req.Config,
	}
	if _, err := services.NewCredentialRegistry().HeadersFor(conn); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection config: "+err.Error())
		return
	}

	if err := h.db.CreateConnection(r.Context(), conn); err != nil {
		slog.Error("failed to create connection", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create connection")
		return
	}

	slog.Info("created connection", "connection_id", conn.ID, "type", conn.Type)
	conn.Config = nil
	writeJSON(w, http.StatusCreated, conn)
}

type CreateEndpointRequest struct {
	UserID            string            `json:"user_id" validate:"required,uuid"`
	Name              string            `json:"name" validate:"required,max=100"`
	Slug              string            `json:"slug" validate:"omitempty,max=100,slug"`
	Description       string            `json:"description" validate:"max=500"`
	TargetURL         string            `json:"target_url" validate:"required,url"`
	Method            string            `json:"method" validate:"omitempty,oneof=ANY GET POST PUT PATCH DELETE"`
	RequireAPIKey     *bool             `json:"require_api_key"`
	RateLimit         *int              `json:"rate_limit" validate:"omitempty,min=0"`
	RequestTransform  json.RawMessage   `json:"request_transform"`
	ResponseTransform json.RawMessage   `json:"response_transform"`
	Headers           map[string]string `json:"headers"`
	ConnectionID      string            `json:"connection_id" validate:"omitempty,uuid"`
}

// CreateEndpointResponse carries the default key, shown only once
type CreateEndpointResponse struct {
	*models.Endpoint
	APIKey  string `json:"api_key"`
	URL     string `json:"url"`
	Warning string `json:"warning"`
}

func (h *AdminHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req CreateEndpointRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.validator.Validate(req.TargetURL); err != nil {
		writeError(w, http.StatusBadRequest, services.AsError(err).Message)
		return
	}
	for name, raw := range map[string]json.RawMessage{
		"request_transform":  req.RequestTransform,
		"response_transform": req.ResponseTransform,
	} {
		if _, err := transform.Parse(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s: %v", name, err))
			return
		}
	}

	ep := &models.Endpoint{
		UserID:            uuid.MustParse(req.UserID),
		Name:              req.Name,
		Slug:              req.Slug,
		Description:       req.Description,
		TargetURL:         req.TargetURL,
		Method:            req.Method,
		RequireAPIKey:     true,
		RateLimit:         100,
		RequestTransform:  req.RequestTransform,
		ResponseTransform: req.ResponseTransform,
		Headers:           req.Headers,
		Status:            models.EndpointActive,
	}
	if ep.Method == "" {
		ep.Method = models.MethodAny
	}
	if req.RequireAPIKey != nil {
		ep.RequireAPIKey = *req.RequireAPIKey
	}
	if req.RateLimit != nil {
		ep.RateLimit = *req.RateLimit
	}
	if req.ConnectionID != "" {
		id := uuid.MustParse(req.ConnectionID)
		ep.ConnectionID = &id
	}
	if ep.Slug == "" {
		slug, err := defaultSlug(req.Name)
		if err != nil {
			slog.Error("failed to generate slug", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to create endpoint")
			return
		}
		ep.Slug = slug
	}

	plain, key, err := h.newKey(ep.UserID, req.Name+" - Default Key")
	if err != nil {
		slog.Error("failed to create default key", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create endpoint")
		return
	}

	if err := h.db.CreateEndpointWithKey(r.Context(), ep, key); err != nil {
		if errors.Is(err, database.ErrSlugTaken) {
			writeError(w, http.StatusConflict, "Slug already in use")
			return
		}
		slog.Error("failed to create endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create endpoint")
		return
	}

	slog.Info("created endpoint", "endpoint_id", ep.ID, "slug", ep.Slug)
	writeJSON(w, http.StatusCreated, CreateEndpointResponse{
		Endpoint: ep,
		APIKey:   plain,
		URL:      h.proxyURL(ep.Slug),
		Warning:  keyWarning,
	})
}

// EndpointView is an endpoint as listed by the admin API
type EndpointView struct {
	models.EndpointSummary
	URL string `json:"url"`
}

func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	status := models.EndpointStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	endpoints, err := h.db.ListEndpoints(r.Context(), status)
	if err != nil {
		slog.Error("failed to list endpoints", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list endpoints")
		return
	}

	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Connection != nil {
			ep.Connection.Config = nil
		}
		views = append(views, EndpointView{EndpointSummary: ep, URL: h.proxyURL(ep.Slug)})
	}
	writeJSON(w, http.StatusOK, views)
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE SUSPENDED"`
}

func (h *AdminHandler) UpdateEndpointStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}

	slug, err := h.db.UpdateEndpointStatus(r.Context(), id, models.EndpointStatus(req.Status))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}
	if err != nil {
		slog.Error("failed to update endpoint status", "endpoint_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update endpoint")
		return
	}

	h.invalidator.InvalidateEndpoint(r.Context(), slug)

	slog.Info("updated endpoint status", "endpoint_id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "slug": slug, "status": req.Status})
}

func (h *AdminHandler) EndpointStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ep, err := h.db.GetEndpointByID(r.Context(), id)
	if err != nil {
		slog.Error("failed to load endpoint", "endpoint_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	stats, err := h.db.EndpointStats(r.Context(), id, time.Now())
	if err != nil {
		slog.Error("failed to load endpoint stats", "endpoint_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type CreateAPIKeyRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	Name       string `json:"name" validate:"required,max=100"`
	EndpointID string `json:"endpoint_id" validate:"omitempty,uuid"`
}

// CreateAPIKeyResponse carries the plaintext key, shown only once
type CreateAPIKeyResponse struct {
	*models.APIKey
	Key     string `json:"key"`
	Warning string `json:"warning"`
}

func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if !decode(w, r, &req) {
		return
	}

	plain, key, err := h.newKey(uuid.MustParse(req.UserID), req.Name)
	if err != nil {
		slog.Error("failed to generate API key", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}
	if req.EndpointID != "" {
		id := uuid.MustParse(req.EndpointID)
		key.EndpointID = &id
	}

	if err := h.db.CreateAPIKey(r.Context(), key); err != nil {
		slog.Error("failed to create API key", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	slog.Info("created API key", "api_key_id", key.ID, "global", key.IsGlobal())
	writeJSON(w, http.StatusCreated, CreateAPIKeyResponse{APIKey: key, Key: plain, Warning: keyWarning})
}

func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.db.ListAPIKeys(r.Context())
	if err != nil {
		slog.Error("failed to list API keys", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AdminHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.db.DeleteAPIKey(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete API key", "api_key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete API key")
		return
	}

	slog.Info("deleted API key", "api_key_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "API key deleted successfully"})
}

func (h *AdminHandler) ToggleAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	active, err := h.db.ToggleAPIKey(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "API key not found")
		return
	}
	if err != nil {
		slog.Error("failed to toggle API key", "api_key_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to toggle API key")
		return
	}

	slog.Info("toggled API key", "api_key_id", id, "is_active", active)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}

func (h *AdminHandler) newKey(userID uuid.UUID, name string) (string, *models.APIKey, error) {
	plain, err := services.GenerateKey()
	if err != nil {
		return "", nil, err
	}
	hash, err := h.verifier.Hash(plain)
	if err != nil {
		return "", nil, err
	}
	return plain, &models.APIKey{
		UserID:   userID,
		Name:     name,
		KeyHash:  hash,
		IsActive: true,
	}, nil
}

// defaultSlug derives "<name-kebab>-<6 random chars>" from an endpoint name
func defaultSlug(name string) (string, error) {
	base := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, base)
	base = strings.Trim(base, "-")

	suffix, err := services.RandomString(slugAlphabet, slugSuffixLength)
	if err != nil {
		return "", err
	}
	if base == "" {
		return suffix, nil
	}
	return base + "-" + suffix, nil
}
