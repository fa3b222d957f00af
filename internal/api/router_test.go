package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/internal/api"
	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/cache"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- stub store whose only key is configured per test ---

type stubStore struct {
	key *models.APIKey
}

func (s *stubStore) Ping(_ context.Context) error                               { return nil }
func (s *stubStore) EnsureUser(_ context.Context, _ uuid.UUID, _ string) error  { return nil }
func (s *stubStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	if s.key == nil {
		return nil, nil
	}
	return []*models.APIKey{s.key}, nil
}
func (s *stubStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error     { return nil }
func (s *stubStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) RevokeAPIKey(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateJob(_ context.Context, _ *models.Job) error             { return nil }
func (s *stubStore) GetJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) UpdateJobStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) error {
	return nil
}
func (s *stubStore) CreateAnalysisResult(_ context.Context, _ *models.StoredResult) error {
	return nil
}
func (s *stubStore) GetAnalysisResultByJobID(_ context.Context, _ uuid.UUID) (*models.StoredResult, error) {
	return nil, store.ErrNotFound
}

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Keys(_ context.Context, _ string) ([]string, error)                { return nil, nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (c *stubCache) GetJobStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

const testRawKey = "ph_router0123456789abcdef"

func keyWithScopes(t *testing.T, scopes ...string) *models.APIKey {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.APIKey{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		KeyHash:   string(hash),
		KeyPrefix: testRawKey[:8],
		Scopes:    scopes,
	}
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func newTestRouter(s *stubStore) http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(&stubCache{}, 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		AnalyzeHandler:   okHandler,
		PollJobHandler:   okHandler,
		SessionHandler:   okHandler,
		CreateKeyHandler: okHandler,
		ListKeysHandler:  okHandler,
		RevokeKeyHandler: okHandler,
	})
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(&stubStore{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(&stubStore{})

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/analyze"},
		{"GET", "/api/v1/analyze/" + uuid.NewString()},
		{"GET", "/api/v1/events"},
		{"GET", "/api/v1/session"},
		{"GET", "/api/v1/keys"},
		{"DELETE", "/api/v1/keys/" + uuid.NewString()},
		{"POST", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_ScopeChecks(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		method string
		path   string
		want   int
	}{
		{"analyze with scope", []string{"analyze"}, "POST", "/api/v1/analyze", http.StatusOK},
		{"analyze without scope", []string{"read"}, "POST", "/api/v1/analyze", http.StatusForbidden},
		{"poll without scope", []string{"read"}, "GET", "/api/v1/analyze/" + uuid.NewString(), http.StatusForbidden},
		{"admin keys with scope", []string{"admin"}, "POST", "/api/v1/admin/keys", http.StatusOK},
		{"admin keys without scope", []string{"analyze", "read"}, "POST", "/api/v1/admin/keys", http.StatusForbidden},
		{"session needs no scope", nil, "GET", "/api/v1/session", http.StatusOK},
		{"own keys need no scope", nil, "GET", "/api/v1/keys", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubStore{key: keyWithScopes(t, tt.scopes...)})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+testRawKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRouter_MissingHandlerIsNotImplemented(t *testing.T) {
	router := newTestRouter(&stubStore{key: keyWithScopes(t, "read")})

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubStore{})

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// Verify unused interfaces are satisfied
var _ store.Store = (*stubStore)(nil)
var _ cache.Cache = (*stubCache)(nil)
