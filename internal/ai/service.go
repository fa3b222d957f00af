package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/internal/cache"
	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// AnalyzeParams holds a validated analysis submission.
type AnalyzeParams struct {
	JobID    uuid.UUID
	UserID   uuid.UUID
	Image    []byte
	MIMEType string
}

// JobView is a job together with its result once completed.
type JobView struct {
	Job    *models.Job
	Result *models.AnalysisResult
}

// AnalysisService runs physique analyses, persists them and announces each
// terminal outcome on the owner's realtime topic.
type AnalysisService struct {
	provider  models.VisionProvider
	store     store.Store
	cache     cache.Cache
	publisher realtime.Publisher
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(provider models.VisionProvider, st store.Store, ca cache.Cache, pub realtime.Publisher, timeout time.Duration) *AnalysisService {
	return &AnalysisService{
		provider:  provider,
		store:     st,
		cache:     ca,
		publisher: pub,
		timeout:   timeout,
	}
}

// Analyze runs an analysis to completion and returns its result. The work
// is detached from ctx cancellation so a client that gives up still gets
// the outcome over realtime.
func (s *AnalysisService) Analyze(ctx context.Context, p AnalyzeParams) (*models.AnalysisResult, error) {
	if _, err := s.createJob(ctx, p); err != nil {
		return nil, err
	}
	return s.run(context.WithoutCancel(ctx), p)
}

// Submit creates a pending job and dispatches analysis in a background goroutine.
// Returns the job immediately without waiting for analysis to complete.
func (s *AnalysisService) Submit(ctx context.Context, p AnalyzeParams) (*models.Job, error) {
	job, err := s.createJob(ctx, p)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(context.WithoutCancel(ctx), p)
	}()

	return job, nil
}

// Wait blocks until every submitted analysis has finished.
func (s *AnalysisService) Wait() {
	s.wg.Wait()
}

// GetJob returns the caller's job and, once completed, its result.
func (s *AnalysisService) GetJob(ctx context.Context, jobID, userID uuid.UUID) (*JobView, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: job}
	if job.Status != models.JobStatusCompleted {
		return view, nil
	}

	stored, err := s.store.GetAnalysisResultByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading result: %w", err)
	}
	view.Result = &stored.Result
	return view, nil
}

func (s *AnalysisService) createJob(ctx context.Context, p AnalyzeParams) (*models.Job, error) {
	if p.JobID == uuid.Nil || p.UserID == uuid.Nil {
		return nil, fmt.Errorf("invalid submission: job and user IDs are required")
	}
	if err := checkImage(p.Image); err != nil {
		return nil, err
	}

	if err := s.store.EnsureUser(ctx, p.UserID, ""); err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        p.JobID,
		UserID:    p.UserID,
		Status:    models.JobStatusPending,
		Provider:  s.provider.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrDuplicateJob
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, jobStatusTTL)
	return job, nil
}

func checkImage(img []byte) error {
	if len(img) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if ct := http.DetectContentType(img); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: unsupported content type %s", ErrInvalidImage, ct)
	}
	return nil
}

// run performs the analysis of a created job.
// It recovers from panics and always marks the job as completed or failed.
func (s *AnalysisService) run(ctx context.Context, p AnalyzeParams) (res *models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in analysis", "error", r, "job_id", p.JobID)
			err = fmt.Errorf("panic: %v", r)
			res = nil
			s.fail(ctx, p, err)
		}
	}()

	s.setStatus(ctx, p.JobID, models.JobStatusRunning)

	analysisCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.provider.Analyze(analysisCtx, models.ImageRequest{
		Image:    p.Image,
		MIMEType: p.MIMEType,
		JobID:    p.JobID.String(),
		UserID:   p.UserID.String(),
	})
	if err != nil {
		if errors.Is(analysisCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
			err = fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		s.fail(ctx, p, err)
		return nil, err
	}

	vision.Normalize(&result)
	if verr := result.Validate(); verr != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidResponse, verr)
		s.fail(ctx, p, err)
		return nil, err
	}

	if err := s.store.CreateAnalysisResult(ctx, &models.StoredResult{
		JobID:     p.JobID,
		UserID:    p.UserID,
		Provider:  s.provider.Name(),
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		err = fmt.Errorf("storing result: %w", err)
		s.fail(ctx, p, err)
		return nil, err
	}

	s.setStatus(ctx, p.JobID, models.JobStatusCompleted)
	s.publish(ctx, p, models.CompletionEvent{
		JobID:  p.JobID.String(),
		Status: models.EventStatusCompleted,
		Result: &result,
	})

	slog.Info("analysis completed", "job_id", p.JobID, "user_id", p.UserID, "provider", s.provider.Name())
	return &result, nil
}

func (s *AnalysisService) fail(ctx context.Context, p AnalyzeParams, cause error) {
	slog.Warn("analysis failed", "job_id", p.JobID, "user_id", p.UserID, "error", cause)

	if err := s.store.UpdateJobStatus(ctx, p.JobID, models.JobStatusFailed,
		store.WithErrorMessage(FailureMessage(cause))); err != nil {
		slog.Error("marking job failed", "job_id", p.JobID, "error", err)
	}
	_ = s.cache.SetJobStatus(ctx, p.JobID, models.JobStatusFailed, jobStatusTTL)

	s.publish(ctx, p, models.CompletionEvent{
		JobID:  p.JobID.String(),
		Status: models.EventStatusError,
		Error:  FailureMessage(cause),
	})
}

func (s *AnalysisService) setStatus(ctx context.Context, jobID uuid.UUID, status string) {
	if err := s.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		slog.Error("updating job status", "job_id", jobID, "status", status, "error", err)
	}
	_ = s.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)
}

// publish is best effort: the synchronous response and polling still carry
// the outcome when the broker is down.
func (s *AnalysisService) publish(ctx context.Context, p AnalyzeParams, ev models.CompletionEvent) {
	if s.publisher == nil {
		return
	}
	ev.CompletedAt = time.Now().UnixMilli()
	if err := s.publisher.Publish(ctx, p.UserID.String(), ev); err != nil {
		slog.Warn("publishing completion", "job_id", p.JobID, "error", err)
	}
}

// FailureMessage maps an analysis error to the text shown to the user.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInferenceTimeout):
		return "The analysis took too long. Please try again."
	case errors.Is(err, ErrProviderUnavailable):
		return "The analysis service is unavailable right now."
	case errors.Is(err, ErrInvalidResponse):
		return "The analysis could not be completed for this photo."
	default:
		return "Analysis failed. Please try again."
	}
}
