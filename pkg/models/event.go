package models

// Completion statuses carried by realtime events.
const (
	EventStatusCompleted = "completed"
	EventStatusError     = "error"
)

// CompletionEvent is pushed on a user's realtime topic when a job finishes.
type CompletionEvent struct {
	JobID       string          `json:"jobId"`
	Status      string          `json:"status"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt int64           `json:"completedAt,omitempty"`
}

// Succeeded reports whether the event carries a usable result.
func (e CompletionEvent) Succeeded() bool {
	return e.Status == EventStatusCompleted && e.Result != nil
}
