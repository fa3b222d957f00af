// Package gateway issues the analysis request for one job to the backend
// and returns the validated result or a classified failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/physique/pkg/models"
)

var (
	ErrTimeout          = errors.New("analysis timed out")
	ErrUpstream         = errors.New("analysis service error")
	ErrMalformedPayload = errors.New("malformed analysis payload")
	ErrUnauthorized     = errors.New("analysis request unauthorized")
)

// DefaultTimeout bounds a single analysis call. Vision models can take
// minutes, so this is generous.
const DefaultTimeout = 180 * time.Second

// Request identifies one analysis attempt.
type Request struct {
	JobID    string
	UserID   string
	ImageRef string
}

// Gateway returns the direct result of an analysis request.
type Gateway interface {
	Analyze(ctx context.Context, req Request) (*models.AnalysisResult, error)
}

type analyzeRequest struct {
	ImageBase64 string `json:"imageBase64"`
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPGateway posts images to the backend's /api/v1/analyze endpoint.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	loader  ImageLoader
	timeout time.Duration
}

func NewHTTPGateway(baseURL, apiKey string, client *http.Client, loader ImageLoader, timeout time.Duration) *HTTPGateway {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		loader:  loader,
		timeout: timeout,
	}
}

func (g *HTTPGateway) Analyze(ctx context.Context, req Request) (*models.AnalysisResult, error) {
	img, err := g.loader.Load(ctx, req.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("load image %q: %w", req.ImageRef, err)
	}

	body, err := json.Marshal(analyzeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(img.Data),
		JobID:       req.JobID,
		UserID:      req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, raw)
	}

	var envelope struct {
		Data *models.AnalysisResult `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := envelope.Data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return envelope.Data, nil
}

// classify maps a non-200 backend response onto a sentinel, keeping the
// server's message for display.
func classify(status int, raw []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case status == http.StatusGatewayTimeout || env.Error.Code == "AI_INFERENCE_TIMEOUT":
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	case env.Error.Code == "AI_INVALID_RESPONSE":
		return fmt.Errorf("%w: %s", ErrMalformedPayload, msg)
	default:
		return fmt.Errorf("%w (%d): %s", ErrUpstream, status, msg)
	}
}

var _ Gateway = (*HTTPGateway)(nil)
