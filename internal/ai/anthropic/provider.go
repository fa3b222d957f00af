package anthropic

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

const (
	apiVersion = "2023-06-01"
	maxTokens  = 1024
)

// Provider implements models.VisionProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "anthropic" }

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Analyze(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
	body := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages: []message{{
			Role: "user",
			Content: []block{
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: vision.MIMEType(req.Image, req.MIMEType),
					Data:      base64.StdEncoding.EncodeToString(req.Image),
				}},
				{Type: "text", Text: vision.Prompt},
			},
		}},
	}

	var resp messagesResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}
	if err := vision.PostJSON(ctx, p.client, url, headers, body, &resp); err != nil {
		return models.AnalysisResult{}, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return models.AnalysisResult{}, fmt.Errorf("%w: no text content returned", vision.ErrInvalidResponse)
	}
	return vision.ParseAnalysis(text.String())
}

var _ models.VisionProvider = (*Provider)(nil)
