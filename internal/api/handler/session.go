package handler

import (
	"net/http"

	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/api/response"
)

type sessionResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// NewSessionHandler returns an http.HandlerFunc for GET /api/v1/session.
// The authenticating key's ID serves as the session ID, so revoking and
// reissuing a key starts a new session.
func NewSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		keyID, ok := mw.GetKeyID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
			return
		}

		response.JSON(w, sessionResponse{
			UserID:    userID.String(),
			SessionID: keyID.String(),
		})
	}
}
