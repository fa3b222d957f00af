// Package delivery resolves the race between the direct analysis response
// and the realtime completion event so that each job delivers exactly one
// outcome. A single Coordinator owns the delivery state; every input is
// serialized through its mailbox and applied by a pure reducer.
package delivery

import (
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/pkg/models"
)

var (
	ErrNotSignedIn     = errors.New("no signed-in identity")
	ErrAnalysisFailed  = errors.New("analysis failed")
	ErrCoordinatorDone = errors.New("delivery coordinator stopped")
)

// Phase is the lifecycle stage of the delivery state.
type Phase int

const (
	Idle Phase = iota
	Analyzing
	Complete
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// AnalysisJob is one analysis attempt. Immutable once created.
type AnalysisJob struct {
	JobID          string
	ImageRef       string
	OwnerID        string
	OwnerSessionID string
}

// DeliveryState is the externally visible state. Result is set only in
// Complete; NotificationVisible only while Complete and not yet dismissed.
type DeliveryState struct {
	Phase               Phase
	JobID               string
	ImageRef            string
	Result              *models.AnalysisResult
	NotificationVisible bool
}

// Valid reports whether the state satisfies its field invariants.
func (s DeliveryState) Valid() bool {
	switch s.Phase {
	case Idle:
		return s.JobID == "" && s.ImageRef == "" && s.Result == nil && !s.NotificationVisible
	case Analyzing:
		return s.JobID != "" && s.Result == nil && !s.NotificationVisible
	case Complete:
		return s.JobID != "" && s.Result != nil
	default:
		return false
	}
}

// Source names the path that resolved a job.
type Source string

const (
	SourceRealtime Source = "realtime"
	SourceDirect   Source = "direct"
)

// Outcome is the single terminal result of a job: a result or an error.
type Outcome struct {
	JobID    string
	ImageRef string
	Result   *models.AnalysisResult
	Err      error
	Source   Source
	// Resumed is set when the job was started by an earlier process and
	// recovered through the ledger.
	Resumed bool
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}
