package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/internal/ai"
	"github.com/kiranshivaraju/physique/internal/ai/mock"
	"github.com/kiranshivaraju/physique/internal/api"
	"github.com/kiranshivaraju/physique/internal/api/handler"
	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/cache"
	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	testUserID   = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	otherUserID  = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testKeyID    = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	testRawKey   = "ph_contract0123456789abcdef"
	testPrefix   = testRawKey[:8]
	testMaxImage = 4096
)

// pngImage is enough of a PNG for content sniffing.
var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func testKeyHash() string {
	h, _ := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	return string(h)
}

// ─── mock store ──────────────────────────────────────────────────────────────

// mockStore is shared with background analysis goroutines, so it locks and
// hands out copies.
type mockStore struct {
	mu      sync.Mutex
	users   map[uuid.UUID]bool
	keys    []*models.APIKey
	jobs    map[uuid.UUID]models.Job
	results map[uuid.UUID]models.StoredResult
}

func newMockStore() *mockStore {
	return &mockStore{
		users: map[uuid.UUID]bool{testUserID: true},
		keys: []*models.APIKey{{
			ID:        testKeyID,
			UserID:    testUserID,
			Name:      "test-key",
			KeyHash:   testKeyHash(),
			KeyPrefix: testPrefix,
			Scopes:    []string{"analyze", "read", "admin"},
		}},
		jobs:    make(map[uuid.UUID]models.Job),
		results: make(map[uuid.UUID]models.StoredResult),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) EnsureUser(_ context.Context, id uuid.UUID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = true
	return nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.Name == key.Name && existing.UserID == key.UserID {
			return store.ErrDuplicateKey
		}
	}
	s.keys = append(s.keys, key)
	return nil
}

func (s *mockStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeAPIKey(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id && k.UserID == userID && k.DeletedAt == nil {
			now := time.Now()
			k.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.UserID == userID {
		return &j, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	s.jobs[id] = j
	return nil
}

func (s *mockStore) CreateAnalysisResult(_ context.Context, r *models.StoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.JobID] = *r
	return nil
}

func (s *mockStore) GetAnalysisResultByJobID(_ context.Context, jobID uuid.UUID) (*models.StoredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[jobID]; ok {
		return &r, nil
	}
	return nil, store.ErrNotFound
}

var _ store.Store = (*mockStore)(nil)

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *mockStore
	svc    *ai.AnalysisService
	hub    *realtime.Hub
}

func newTestServer(t *testing.T, provider models.VisionProvider) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := cache.NewMemoryCache()
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)

	svc := ai.NewAnalysisService(provider, ms, mc, hub, 5*time.Second)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 10), // low limit for rate-limit tests

		HealthHandler:    handler.NewHealthHandler(ms, mc),
		AnalyzeHandler:   handler.NewAnalyzeHandler(svc, testMaxImage),
		PollJobHandler:   handler.NewPollJobHandler(svc),
		EventsHandler:    realtime.StreamHandler(hub, mw.UserIDString, 0),
		SessionHandler:   handler.NewSessionHandler(),
		CreateKeyHandler: handler.NewCreateKeyHandler(ms),
		ListKeysHandler:  handler.NewListKeysHandler(ms),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(ms),
	}

	router := api.NewRouter(deps)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(svc.Wait)

	return &testServer{server: srv, store: ms, svc: svc, hub: hub}
}

func (ts *testServer) authRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.server.URL+path, &buf)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (ts *testServer) unauthRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, ts.server.URL+path, nil)
	return req
}

func (ts *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseBody(t, resp)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	return errObj["code"].(string)
}

func analyzeBody(jobID uuid.UUID, async bool) map[string]any {
	return map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString(pngImage),
		"jobId":       jobID.String(),
		"userId":      testUserID.String(),
		"async":       async,
	}
}

// ─── health ──────────────────────────────────────────────────────────────────

func TestContract_Health(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	resp := ts.do(t, ts.unauthRequest("GET", "/api/v1/health"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := parseBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// ─── auth ────────────────────────────────────────────────────────────────────

func TestContract_Unauthenticated(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	resp := ts.do(t, ts.unauthRequest("GET", "/api/v1/session"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, resp))
}

func TestContract_WrongKey(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	req := ts.unauthRequest("GET", "/api/v1/session")
	req.Header.Set("Authorization", "Bearer "+testPrefix+"wrong-secret")
	resp := ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ─── session ─────────────────────────────────────────────────────────────────

func TestContract_Session(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	resp := ts.do(t, ts.authRequest("GET", "/api/v1/session", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, testUserID.String(), data["user_id"])
	assert.Equal(t, testKeyID.String(), data["session_id"])
}

// ─── analyze ─────────────────────────────────────────────────────────────────

func TestContract_AnalyzeSync(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())
	jobID := uuid.New()

	resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, false)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.InDelta(t, 7.2, data["overallRating"], 0.001)
	assert.InDelta(t, 8.5, data["potential"], 0.001)
	assert.NotEmpty(t, data["strengths"])

	job, err := ts.store.GetJob(context.Background(), jobID, testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestContract_AnalyzeAsyncThenPoll(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())
	jobID := uuid.New()

	resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, true)))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, jobID.String(), data["job_id"])
	assert.Equal(t, models.JobStatusPending, data["status"])
	assert.Equal(t, "mock", data["provider"])

	ts.svc.Wait()

	resp = ts.do(t, ts.authRequest("GET", "/api/v1/analyze/"+jobID.String(), nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data = parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, models.JobStatusCompleted, data["status"])
	result := data["result"].(map[string]any)
	assert.InDelta(t, 7.2, result["overallRating"], 0.001)
}

func TestContract_AnalyzeDeliversOverEventStream(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := realtime.NewSSESubscriber(ts.server.URL, testRawKey, nil).Subscribe(ctx, testUserID.String())
	require.NoError(t, err)
	defer sub.Close()

	jobID := uuid.New()
	resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, true)))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, jobID.String(), ev.JobID)
		assert.True(t, ev.Succeeded())
		assert.InDelta(t, 7.2, ev.Result.OverallRating, 0.001)
		assert.NotZero(t, ev.CompletedAt)
	case <-ctx.Done():
		t.Fatal("no completion event received")
	}
}

func TestContract_AnalyzeProviderFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		jobError string
	}{
		{"unavailable", ai.ErrProviderUnavailable, http.StatusBadGateway, "AI_PROVIDER_UNAVAILABLE",
			"The analysis service is unavailable right now."},
		{"timeout", ai.ErrInferenceTimeout, http.StatusGatewayTimeout, "AI_INFERENCE_TIMEOUT",
			"The analysis took too long. Please try again."},
		{"invalid response", ai.ErrInvalidResponse, http.StatusBadGateway, "AI_INVALID_RESPONSE",
			"The analysis could not be completed for this photo."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, mock.NewFailingProvider(tt.err))
			jobID := uuid.New()

			resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, false)))
			assert.Equal(t, tt.status, resp.StatusCode)

			body := parseBody(t, resp)
			errObj := body["error"].(map[string]any)
			assert.Equal(t, tt.code, errObj["code"])
			assert.Equal(t, tt.jobError, errObj["message"])

			job, err := ts.store.GetJob(context.Background(), jobID, testUserID)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusFailed, job.Status)
		})
	}
}

func TestContract_AnalyzeRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   func() any
		status int
		code   string
	}{
		{
			name:   "malformed json",
			body:   func() any { return "not an object" },
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name: "bad job id",
			body: func() any {
				b := analyzeBody(uuid.New(), false)
				b["jobId"] = "nope"
				return b
			},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name: "missing image",
			body: func() any {
				b := analyzeBody(uuid.New(), false)
				delete(b, "imageBase64")
				return b
			},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name: "not base64",
			body: func() any {
				b := analyzeBody(uuid.New(), false)
				b["imageBase64"] = "%%%"
				return b
			},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name: "not an image",
			body: func() any {
				b := analyzeBody(uuid.New(), false)
				b["imageBase64"] = base64.StdEncoding.EncodeToString([]byte("plain text, not a photo"))
				return b
			},
			status: http.StatusBadRequest,
			code:   "INVALID_IMAGE",
		},
		{
			name: "other user",
			body: func() any {
				b := analyzeBody(uuid.New(), false)
				b["userId"] = otherUserID.String()
				return b
			},
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name: "too large",
			body: func() any {
				big := append(append([]byte(nil), pngImage...), bytes.Repeat([]byte{1}, testMaxImage)...)
				b := analyzeBody(uuid.New(), false)
				b["imageBase64"] = base64.StdEncoding.EncodeToString(big)
				return b
			},
			status: http.StatusRequestEntityTooLarge,
			code:   "IMAGE_TOO_LARGE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, mock.NewMockProvider())

			resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", tt.body()))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, resp))
		})
	}
}

func TestContract_AnalyzeDuplicateJob(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())
	jobID := uuid.New()

	resp := ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, false)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, ts.authRequest("POST", "/api/v1/analyze", analyzeBody(jobID, false)))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_JOB", errorCode(t, resp))
}

func TestContract_AnalyzeRateLimited(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	var last *http.Response
	for i := 0; i < 11; i++ {
		last = ts.do(t, ts.authRequest("GET", "/api/v1/analyze/"+uuid.NewString(), nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "60", last.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, last))
}

// ─── poll ────────────────────────────────────────────────────────────────────

func TestContract_PollJob(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	t.Run("invalid id", func(t *testing.T) {
		resp := ts.do(t, ts.authRequest("GET", "/api/v1/analyze/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown job", func(t *testing.T) {
		resp := ts.do(t, ts.authRequest("GET", "/api/v1/analyze/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
	})

	t.Run("another user's job", func(t *testing.T) {
		jobID := uuid.New()
		require.NoError(t, ts.store.CreateJob(context.Background(), &models.Job{
			ID:     jobID,
			UserID: otherUserID,
			Status: models.JobStatusPending,
		}))

		resp := ts.do(t, ts.authRequest("GET", "/api/v1/analyze/"+jobID.String(), nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// ─── keys ────────────────────────────────────────────────────────────────────

func TestContract_KeyLifecycle(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())
	newUser := uuid.New()

	resp := ts.do(t, ts.authRequest("POST", "/api/v1/admin/keys", map[string]any{
		"user_id": newUser.String(),
		"name":    "phone",
	}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	data := parseBody(t, resp)["data"].(map[string]any)
	rawKey := data["key"].(string)
	assert.True(t, strings.HasPrefix(rawKey, "ph_"))
	assert.Equal(t, rawKey[:8], data["key_prefix"])
	assert.Equal(t, []any{"analyze", "read"}, data["scopes"])

	// The new key authenticates as the new user.
	req := ts.unauthRequest("GET", "/api/v1/session")
	req.Header.Set("Authorization", "Bearer "+rawKey)
	resp = ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, newUser.String(), session["user_id"])
	keyID := session["session_id"].(string)

	// Duplicate name for the same user.
	resp = ts.do(t, ts.authRequest("POST", "/api/v1/admin/keys", map[string]any{
		"user_id": newUser.String(),
		"name":    "phone",
	}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_KEY", errorCode(t, resp))

	// Listing never exposes raw keys.
	req = ts.unauthRequest("GET", "/api/v1/keys")
	req.Header.Set("Authorization", "Bearer "+rawKey)
	resp = ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := parseBody(t, resp)["data"].([]any)
	require.Len(t, list, 1)
	assert.NotContains(t, list[0], "key")

	// Revoke, then the key stops working.
	req = ts.unauthRequest("DELETE", "/api/v1/keys/"+keyID)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req = ts.unauthRequest("GET", "/api/v1/session")
	req.Header.Set("Authorization", "Bearer "+rawKey)
	resp = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestContract_CreateKeyValidation(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad user id", map[string]any{"user_id": "x", "name": "phone"}},
		{"missing name", map[string]any{"user_id": uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, ts.authRequest("POST", "/api/v1/admin/keys", tt.body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, resp))
		})
	}
}

func TestContract_RevokeUnknownKey(t *testing.T) {
	ts := newTestServer(t, mock.NewMockProvider())

	resp := ts.do(t, ts.authRequest("DELETE", "/api/v1/keys/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "KEY_NOT_FOUND", errorCode(t, resp))

	resp = ts.do(t, ts.authRequest("DELETE", "/api/v1/keys/garbage", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_KEY_ID", errorCode(t, resp))
}
