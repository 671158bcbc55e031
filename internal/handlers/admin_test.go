package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/endpoint-gateway/internal/database"
	"github.com/yourusername/endpoint-gateway/internal/models"
	"github.com/yourusername/endpoint-gateway/internal/services"
)

const testUserID = "6f1c2b7e-0d4a-4a5e-9a43-3c9f7e1b2d10"

type fakeAdminStore struct {
	connections []*models.Connection
	endpoints   map[uuid.UUID]*models.Endpoint
	keys        map[uuid.UUID]*models.APIKey
	slugs       map[string]bool
	err         error
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		endpoints: make(map[uuid.UUID]*models.Endpoint),
		keys:      make(map[uuid.UUID]*models.APIKey),
		slugs:     make(map[string]bool),
	}
}

func (s *fakeAdminStore) CreateConnection(_ context.Context, conn *models.Connection) error {
	if s.err != nil {
		return s.err
	}
	conn.ID = uuid.New()
	s.connections = append(s.connections, conn)
	return nil
}

func (s *fakeAdminStore) CreateEndpointWithKey(_ context.Context, ep *models.Endpoint, key *models.APIKey) error {
	if s.err != nil {
		return s.err
	}
	if s.slugs[ep.Slug] {
		return database.ErrSlugTaken
	}
	ep.ID = uuid.New()
	s.endpoints[ep.ID] = ep
	s.slugs[ep.Slug] = true
	key.ID = uuid.New()
	key.EndpointID = &ep.ID
	s.keys[key.ID] = key
	return nil
}

func (s *fakeAdminStore) ListEndpoints(_ context.Context, status models.EndpointStatus) ([]models.EndpointSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.EndpointSummary
	for _, ep := range s.endpoints {
		if status == "" || ep.Status == status {
			out = append(out, models.EndpointSummary{Endpoint: *ep})
		}
	}
	return out, nil
}

func (s *fakeAdminStore) GetEndpointByID(_ context.Context, id uuid.UUID) (*models.Endpoint, error) {
	return s.endpoints[id], s.err
}

func (s *fakeAdminStore) UpdateEndpointStatus(_ context.Context, id uuid.UUID, status models.EndpointStatus) (string, error) {
	ep, ok := s.endpoints[id]
	if !ok {
		return "", database.ErrNotFound
	}
	ep.Status = status
	return ep.Slug, nil
}

func (s *fakeAdminStore) EndpointStats(context.Context, uuid.UUID, time.Time) (*models.EndpointStats, error) {
	return &models.EndpointStats{TotalRequests: 3, Last24Hours: 2, Last7Days: 3, AvgResponseTimeMs: 12.5}, nil
}

func (s *fakeAdminStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	if s.err != nil {
		return s.err
	}
	key.ID = uuid.New()
	s.keys[key.ID] = key
	return nil
}

func (s *fakeAdminStore) ListAPIKeys(context.Context) ([]models.APIKey, error) {
	out := []models.APIKey{}
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return out, nil
}

func (s *fakeAdminStore) ToggleAPIKey(_ context.Context, id uuid.UUID) (bool, error) {
	k, ok := s.keys[id]
	if !ok {
		return false, database.ErrNotFound
	}
	k.IsActive = !k.IsActive
	return k.IsActive, nil
}

func (s *fakeAdminStore) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	if _, ok := s.keys[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

type recordingInvalidator struct{ slugs []string }

func (i *recordingInvalidator) InvalidateEndpoint(_ context.Context, slug string) {
	i.slugs = append(i.slugs, slug)
}

type adminHarness struct {
	store       *fakeAdminStore
	invalidator *recordingInvalidator
	verifier    *services.KeyVerifier
	mux         *http.ServeMux
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	h := &adminHarness{
		store:       newFakeAdminStore(),
		invalidator: &recordingInvalidator{},
		verifier: services.NewKeyVerifier(services.Argon2Params{
			Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
		}),
	}
	admin := NewAdminHandler(h.store, h.verifier, h.invalidator, "https://gw.example.com/")

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /admin/connections", admin.CreateConnection)
	h.mux.HandleFunc("POST /admin/endpoints", admin.CreateEndpoint)
	h.mux.HandleFunc("GET /admin/endpoints", admin.ListEndpoints)
	h.mux.HandleFunc("PUT /admin/endpoints/{id}/status", admin.UpdateEndpointStatus)
	h.mux.HandleFunc("GET /admin/endpoints/{id}/stats", admin.EndpointStats)
	h.mux.HandleFunc("POST /admin/keys", admin.CreateAPIKey)
	h.mux.HandleFunc("GET /admin/keys", admin.ListAPIKeys)
	h.mux.HandleFunc("DELETE /admin/keys/{id}", admin.DeleteAPIKey)
	h.mux.HandleFunc("PUT /admin/keys/{id}/toggle", admin.ToggleAPIKey)
	return h
}

func (h *adminHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateEndpoint_Defaults(t *testing.T) {
	h := newAdminHarness(t)

	rec := h.do(http.MethodPost, "/admin/endpoints", `{
		"user_id": "`+testUserID+`",
		"name": "Order Service",
		"target_url": "https://api.example.com/v1"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		models.Endpoint
		APIKey  string `json:"api_key"`
		URL     string `json:"url"`
		Warning string `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Regexp(t, `^order-service-[0-9a-z]{6}$`, resp.Slug)
	assert.Equal(t, models.MethodAny, resp.Method)
	assert.True(t, resp.RequireAPIKey)
	assert.Equal(t, 100, resp.RateLimit)
	assert.Equal(t, models.EndpointActive, resp.Status)
	assert.Equal(t, "https://gw.example.com/proxy/"+resp.Slug, resp.URL)
	assert.Equal(t, keyWarning, resp.Warning)
	assert.True(t, strings.HasPrefix(resp.APIKey, services.KeyPrefix))

	require.Len(t, h.store.keys, 1)
	for _, key := range h.store.keys {
		assert.Equal(t, "Order Service - Default Key", key.Name)
		assert.Equal(t, resp.ID, *key.EndpointID)
		assert.True(t, h.verifier.Verify(resp.APIKey, key.KeyHash))
	}
}

func TestCreateEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing target",
			body:       `{"user_id":"` + testUserID + `","name":"x"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad slug",
			body:       `{"user_id":"` + testUserID + `","name":"x","slug":"Not A Slug","target_url":"https://api.example.com"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "private target",
			body:       `{"user_id":"` + testUserID + `","name":"x","target_url":"http://127.0.0.1:8080"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad transform",
			body:       `{"user_id":"` + testUserID + `","name":"x","target_url":"https://api.example.com","response_transform":[1,2]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAdminHarness(t)
			rec := h.do(http.MethodPost, "/admin/endpoints", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Empty(t, h.store.endpoints)
		})
	}
}

func TestCreateEndpoint_SlugTaken(t *testing.T) {
	h := newAdminHarness(t)
	body := `{"user_id":"` + testUserID + `","name":"Orders","slug":"orders","target_url":"https://api.example.com"}`

	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/admin/endpoints", body).Code)
	rec := h.do(http.MethodPost, "/admin/endpoints", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Slug already in use", decodeMap(t, rec)["error"])
}

func TestUpdateEndpointStatus_Invalidates(t *testing.T) {
	h := newAdminHarness(t)
	ep := &models.Endpoint{ID: uuid.New(), Slug: "orders", Status: models.EndpointActive}
	h.store.endpoints[ep.ID] = ep

	rec := h.do(http.MethodPut, "/admin/endpoints/"+ep.ID.String()+"/status", `{"status":"SUSPENDED"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.EndpointSuspended, ep.Status)
	assert.Equal(t, []string{"orders"}, h.invalidator.slugs)

	rec = h.do(http.MethodPut, "/admin/endpoints/"+uuid.NewString()+"/status", `{"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPut, "/admin/endpoints/not-a-uuid/status", `{"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/admin/endpoints/"+ep.ID.String()+"/status", `{"status":"DELETED"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListEndpoints_StripsConnectionConfig(t *testing.T) {
	h := newAdminHarness(t)
	ep := &models.Endpoint{
		ID:     uuid.New(),
		Slug:   "orders",
		Status: models.EndpointActive,
		Connection: &models.Connection{
			Type:   models.ConnectionBearer,
			Config: json.RawMessage(`{"token":"secret"}`),
		},
	}
	h.store.endpoints[ep.ID] = ep

	rec := h.do(http.MethodGet, "/admin/endpoints?status=active", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), `"url":"https://gw.example.com/proxy/orders"`)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/admin/endpoints?status=gone", "").Code)
}

func TestEndpointStats(t *testing.T) {
	h := newAdminHarness(t)
	ep := &models.Endpoint{ID: uuid.New(), Slug: "orders"}
	h.store.endpoints[ep.ID] = ep

	rec := h.do(http.MethodGet, "/admin/endpoints/"+ep.ID.String()+"/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.EndpointStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.TotalRequests)

	rec = h.do(http.MethodGet, "/admin/endpoints/"+uuid.NewString()+"/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConnection(t *testing.T) {
	h := newAdminHarness(t)

	rec := h.do(http.MethodPost, "/admin/connections",
		`{"user_id":"`+testUserID+`","name":"db","type":"SUPABASE","config":{"url":"https://x.supabase.co","apiKey":"anon"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "anon")
	require.Len(t, h.store.connections, 1)
	assert.JSONEq(t, `{"url":"https://x.supabase.co","apiKey":"anon"}`, string(h.store.connections[0].Config))

	rec = h.do(http.MethodPost, "/admin/connections",
		`{"user_id":"`+testUserID+`","name":"db","type":"BEARER","config":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/admin/connections",
		`{"user_id":"`+testUserID+`","name":"db","type":"FTP"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	h := newAdminHarness(t)

	rec := h.do(http.MethodPost, "/admin/keys", `{"user_id":"`+testUserID+`","name":"ci"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeMap(t, rec)
	plain, _ := created["key"].(string)
	id, _ := created["id"].(string)
	require.NotEmpty(t, plain)
	assert.NotContains(t, rec.Body.String(), "key_hash")

	stored := h.store.keys[uuid.MustParse(id)]
	require.NotNil(t, stored)
	assert.True(t, stored.IsGlobal())
	assert.True(t, h.verifier.Verify(plain, stored.KeyHash))

	rec = h.do(http.MethodGet, "/admin/keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), plain)

	rec = h.do(http.MethodPut, "/admin/keys/"+id+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeMap(t, rec)["is_active"])

	assert.Equal(t, http.StatusOK, h.do(http.MethodDelete, "/admin/keys/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/admin/keys/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPut, "/admin/keys/"+id+"/toggle", "").Code)
}

func TestCreateAPIKey_StoreFailure(t *testing.T) {
	h := newAdminHarness(t)
	h.store.err = errors.New("connection reset")

	rec := h.do(http.MethodPost, "/admin/keys", `{"user_id":"`+testUserID+`","name":"ci"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to create API key", decodeMap(t, rec)["error"])
}

func TestDefaultSlug(t *testing.T) {
	slug, err := defaultSlug("  My Fancy API!! ")
	require.NoError(t, err)
	assert.Regexp(t, `^my-fancy-api-[0-9a-z]{6}$`, slug)

	slug, err = defaultSlug("***")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-z]{6}$`, slug)
}
