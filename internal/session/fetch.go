package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the API rejects the bearer key.
var ErrUnauthorized = errors.New("session rejected by server")

// Fetch resolves the identity bound to apiKey via GET /api/v1/session.
func Fetch(ctx context.Context, client *http.Client, baseURL, apiKey string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/session", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("fetching session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Identity{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("fetching session: status %d", resp.StatusCode)
	}

	var env struct {
		Data Identity `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Identity{}, fmt.Errorf("decoding session: %w", err)
	}
	if env.Data.UserID == "" {
		return Identity{}, fmt.Errorf("decoding session: empty user_id")
	}
	return env.Data, nil
}
