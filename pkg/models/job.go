package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job tracks one analysis attempt on the server. The ID is generated by the
// client at submission time and reused as the realtime correlation key.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	UserID       uuid.UUID  `db:"user_id"       json:"user_id"`
	Status       string     `db:"status"        json:"status"`
	Provider     string     `db:"provider"      json:"provider"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// StoredResult is an AnalysisResult persisted against its job.
type StoredResult struct {
	JobID     uuid.UUID      `db:"job_id"     json:"job_id"`
	UserID    uuid.UUID      `db:"user_id"    json:"user_id"`
	Provider  string         `db:"provider"   json:"provider"`
	Model     string         `db:"model"      json:"model"`
	Result    AnalysisResult `db:"payload"    json:"result"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
