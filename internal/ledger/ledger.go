// Package ledger records which image each in-flight analysis job was
// started with, so a completion that arrives after a restart can still be
// matched to its photo.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kiranshivaraju/physique/internal/cache"
)

// ErrNotFound is returned by Get when no entry exists for the job.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is the value stored per pending job.
type Entry struct {
	ImageRef  string    `json:"imageRef"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger is a durable jobID -> Entry map. Entries live until removed.
type Ledger interface {
	Put(ctx context.Context, jobID string, e Entry) error
	Get(ctx context.Context, jobID string) (Entry, error)
	Remove(ctx context.Context, jobID string) error
	// List returns all pending entries keyed by job ID.
	List(ctx context.Context) (map[string]Entry, error)
}

// Key returns the storage key for a job.
func Key(jobID string) string {
	return cache.PendingJobKey(jobID)
}

func jobIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, cache.PendingJobPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, cache.PendingJobPrefix)
	return id, id != ""
}
