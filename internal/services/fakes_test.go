package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yourusername/endpoint-gateway/internal/models"
)

// memoryLogStore is an in-memory RequestLogStore
type memoryLogStore struct {
	mu        sync.Mutex
	rows      []models.RequestLog
	appendErr error
	countErr  error

	// strictText rejects rows PostgreSQL would refuse: NUL or invalid UTF-8
	// in text columns and \u0000 escapes in jsonb columns
	strictText bool
}

func newMemoryLogStore() *memoryLogStore {
	return &memoryLogStore{}
}

func (s *memoryLogStore) add(row models.RequestLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

func (s *memoryLogStore) AppendRequestLog(_ context.Context, entry *models.RequestLog) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.strictText {
		if err := checkStorable(entry); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.rows = append(s.rows, *entry)
	return nil
}

func (s *memoryLogStore) CountAdmittedSince(_ context.Context, endpointID uuid.UUID, since time.Time) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.EndpointID != nil && *r.EndpointID == endpointID && r.Admitted && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memoryLogStore) all() []models.RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RequestLog(nil), s.rows...)
}

// memoryEndpointStore holds endpoints of any status and returns only ACTIVE ones
type memoryEndpointStore struct {
	mu        sync.Mutex
	endpoints map[string]*models.Endpoint
	keys      []models.APIKey
	touched   []uuid.UUID
	lookups   int
	findErr   error
	keysErr   error
	touchErr  error
}

func newMemoryEndpointStore() *memoryEndpointStore {
	return &memoryEndpointStore{endpoints: make(map[string]*models.Endpoint)}
}

func (s *memoryEndpointStore) put(ep *models.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.Slug] = ep
}

func (s *memoryEndpointStore) FindActiveEndpointBySlug(_ context.Context, slug string) (*models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	ep, ok := s.endpoints[slug]
	if !ok || ep.Status != models.EndpointActive {
		return nil, nil
	}
	cp := *ep
	return &cp, nil
}

func (s *memoryEndpointStore) ListActiveKeysForEndpoint(_ context.Context, endpointID uuid.UUID) ([]models.APIKey, error) {
	if s.keysErr != nil {
		return nil, s.keysErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var scoped, global []models.APIKey
	for _, k := range s.keys {
		if !k.IsActive {
			continue
		}
		switch {
		case k.EndpointID == nil:
			global = append(global, k)
		case *k.EndpointID == endpointID:
			scoped = append(scoped, k)
		}
	}
	return append(scoped, global...), nil
}

func (s *memoryEndpointStore) TouchAPIKeyLastUsed(_ context.Context, keyID uuid.UUID) error {
	if s.touchErr != nil {
		return s.touchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, keyID)
	return nil
}

func (s *memoryEndpointStore) touchedKeys() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.touched...)
}

// fakeDispatcher records outbound calls and replies with a canned response
type fakeDispatcher struct {
	mu       sync.Mutex
	calls    []*OutboundRequest
	response *OutboundResponse
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *OutboundRequest) (*OutboundResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	if d.err != nil {
		return nil, d.err
	}
	return d.response, nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func checkStorable(entry *models.RequestLog) error {
	for _, text := range []string{entry.Slug, entry.Method, entry.Path, entry.IPAddress, entry.UserAgent} {
		if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
			return fmt.Errorf("invalid byte sequence for encoding UTF8: %q", text)
		}
	}
	for _, blob := range [][]byte{entry.Headers, entry.Body, entry.Query, entry.ResponseBody} {
		if !utf8.Valid(blob) || bytes.Contains(blob, []byte(`\u0000`)) {
			return fmt.Errorf("unsupported Unicode escape sequence: %s", blob)
		}
	}
	return nil
}
