package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// PendingJobPrefix namespaces pending-job ledger entries.
const PendingJobPrefix = "analysis:"

func PendingJobKey(jobID string) string {
	return PendingJobPrefix + jobID
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
