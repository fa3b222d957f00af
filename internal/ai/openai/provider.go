package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// Provider implements models.VisionProvider using the OpenAI chat
// completions API. Any compatible endpoint works through BaseURL.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "openai" }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Analyze(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		vision.MIMEType(req.Image, req.MIMEType), base64.StdEncoding.EncodeToString(req.Image))

	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: vision.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var resp chatResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := vision.PostJSON(ctx, p.client, url, headers, body, &resp); err != nil {
		return models.AnalysisResult{}, err
	}
	if len(resp.Choices) == 0 {
		return models.AnalysisResult{}, fmt.Errorf("%w: no choices returned", vision.ErrInvalidResponse)
	}
	return vision.ParseAnalysis(resp.Choices[0].Message.Content)
}

var _ models.VisionProvider = (*Provider)(nil)
