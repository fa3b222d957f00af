package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/api/response"
	"github.com/kiranshivaraju/physique/internal/apikey"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// KeyStore is the subset of store.Store the key handlers use.
type KeyStore interface {
	EnsureUser(ctx context.Context, id uuid.UUID, displayName string) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}

type keyResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newKeyResponse(k *models.APIKey) keyResponse {
	return keyResponse{
		ID:         k.ID.String(),
		UserID:     k.UserID.String(),
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// It mints a key for any user, creating the user on first use. The raw key
// appears in this response only.
func NewCreateKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID      string   `json:"user_id"`
			DisplayName string   `json:"display_name"`
			Name        string   `json:"name"`
			Scopes      []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		if err := s.EnsureUser(r.Context(), userID, req.DisplayName); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user", nil)
			return
		}

		key, raw, err := apikey.New(userID, req.Name, req.Scopes)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
			return
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
			return
		}

		resp := newKeyResponse(key)
		resp.Key = raw
		response.Created(w, resp)
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
// Raw keys and hashes are never listed.
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		keys, err := s.ListAPIKeys(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list keys", nil)
			return
		}

		out := make([]keyResponse, len(keys))
		for i, k := range keys {
			out[i] = newKeyResponse(k)
		}
		response.JSON(w, out)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Invalid key ID", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), keyID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke key", nil)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
