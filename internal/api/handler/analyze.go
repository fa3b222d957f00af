package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/internal/ai"
	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/api/response"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// bodyOverhead covers the JSON envelope around the base64 image.
const bodyOverhead = 4096

// Analyzer defines the interface the analyze handlers depend on.
type Analyzer interface {
	Analyze(ctx context.Context, p ai.AnalyzeParams) (*models.AnalysisResult, error)
	Submit(ctx context.Context, p ai.AnalyzeParams) (*models.Job, error)
	GetJob(ctx context.Context, jobID, userID uuid.UUID) (*ai.JobView, error)
}

type analyzeRequest struct {
	ImageBase64 string `json:"imageBase64"`
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
	MIMEType    string `json:"mimeType"`
	Async       bool   `json:"async"`
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/analyze.
// Synchronous requests answer 200 with the result; async ones answer 202
// with the job and deliver the outcome over realtime.
func NewAnalyzeHandler(svc Analyzer, maxImageBytes int) http.HandlerFunc {
	maxBody := int64(base64.StdEncoding.EncodedLen(maxImageBytes) + bodyOverhead)

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req analyzeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
					"Image exceeds the maximum allowed size", map[string]int{"max_bytes": maxImageBytes})
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		jobID, err := uuid.Parse(req.JobID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobId must be a valid UUID", nil)
			return
		}

		if req.UserID != "" && req.UserID != userID.String() {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "userId does not match the authenticated user", nil)
			return
		}

		if req.ImageBase64 == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "imageBase64 is required", nil)
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "imageBase64 is not valid base64", nil)
			return
		}
		if len(image) > maxImageBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE",
				"Image exceeds the maximum allowed size", map[string]int{"max_bytes": maxImageBytes})
			return
		}

		params := ai.AnalyzeParams{
			JobID:    jobID,
			UserID:   userID,
			Image:    image,
			MIMEType: req.MIMEType,
		}

		if req.Async {
			job, err := svc.Submit(r.Context(), params)
			if err != nil {
				writeAnalysisError(w, err)
				return
			}
			response.Accepted(w, newJobResponse(&ai.JobView{Job: job}))
			return
		}

		result, err := svc.Analyze(r.Context(), params)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewPollJobHandler returns an http.HandlerFunc for GET /api/v1/analyze/{jobID}.
func NewPollJobHandler(svc Analyzer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		view, err := svc.GetJob(r.Context(), jobID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, newJobResponse(view))
	}
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ai.ErrInvalidImage):
		response.Error(w, http.StatusBadRequest, "INVALID_IMAGE",
			"The uploaded file is not a supported image", nil)
	case errors.Is(err, ai.ErrDuplicateJob):
		response.Error(w, http.StatusConflict, "DUPLICATE_JOB",
			"A job with this ID was already submitted", nil)
	case errors.Is(err, ai.ErrProviderUnavailable):
		response.Error(w, http.StatusBadGateway, "AI_PROVIDER_UNAVAILABLE",
			ai.FailureMessage(err), nil)
	case errors.Is(err, ai.ErrInferenceTimeout):
		response.Error(w, http.StatusGatewayTimeout, "AI_INFERENCE_TIMEOUT",
			ai.FailureMessage(err), nil)
	case errors.Is(err, ai.ErrInvalidResponse):
		response.Error(w, http.StatusBadGateway, "AI_INVALID_RESPONSE",
			ai.FailureMessage(err), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

type jobResponse struct {
	JobID       string                 `json:"job_id"`
	Status      string                 `json:"status"`
	Provider    string                 `json:"provider"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *models.AnalysisResult `json:"result,omitempty"`
}

func newJobResponse(v *ai.JobView) jobResponse {
	resp := jobResponse{
		JobID:       v.Job.ID.String(),
		Status:      v.Job.Status,
		Provider:    v.Job.Provider,
		CreatedAt:   v.Job.CreatedAt,
		CompletedAt: v.Job.CompletedAt,
		Result:      v.Result,
	}
	if v.Job.ErrorMessage != nil {
		resp.Error = *v.Job.ErrorMessage
	}
	return resp
}
