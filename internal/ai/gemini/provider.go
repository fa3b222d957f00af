package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/pkg/models"
	"google.golang.org/api/option"
)

// Provider implements models.VisionProvider using Google Gemini. A client
// is created per call, so the provider holds no connections.
type Provider struct {
	cfg config.GeminiConfig
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Analyze(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.cfg.APIKey))
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%w: create gemini client: %v", vision.ErrProviderUnavailable, err)
	}
	defer client.Close()

	model := client.GenerativeModel(p.cfg.Model)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, imagePart(req), genai.Text(vision.Prompt))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.AnalysisResult{}, vision.ErrInferenceTimeout
		}
		return models.AnalysisResult{}, fmt.Errorf("%w: generate content: %v", vision.ErrProviderUnavailable, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return vision.ParseAnalysis(text)
}

// imagePart wraps the photo for the API, which takes the format without
// the "image/" prefix.
func imagePart(req models.ImageRequest) genai.Blob {
	mime := vision.MIMEType(req.Image, req.MIMEType)
	return genai.ImageData(strings.TrimPrefix(mime, "image/"), req.Image)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned from Gemini", vision.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content returned from Gemini", vision.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: unexpected response format from Gemini", vision.ErrInvalidResponse)
	}
	return text.String(), nil
}

var _ models.VisionProvider = (*Provider)(nil)
