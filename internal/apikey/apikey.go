// Package apikey mints bearer keys. Raw keys are shown once; only the bcrypt
// hash and the lookup prefix are stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix marks every raw key.
	Prefix = "ph_"
	// PrefixLen is how much of the raw key is stored in clear for lookup.
	PrefixLen = 8

	secretBytes = 24
)

// Scopes granted to keys unless the caller asks for others.
var DefaultScopes = []string{"analyze", "read"}

// New creates a key for userID and returns the record to persist and the
// raw key to hand to the user.
func New(userID uuid.UUID, name string, scopes []string) (*models.APIKey, string, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	raw := Prefix + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    append([]string(nil), scopes...),
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}
