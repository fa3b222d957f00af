package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/physique/internal/ai/vision"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// Provider implements models.VisionProvider using a local Ollama server and
// a multimodal model such as llava.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Images []string       `json:"images"`
	Format string         `json:"format"`
	Stream bool           `json:"stream"`
	Opts   map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) Analyze(ctx context.Context, req models.ImageRequest) (models.AnalysisResult, error) {
	body := generateRequest{
		Model:  p.cfg.Model,
		Prompt: vision.Prompt,
		Images: []string{base64.StdEncoding.EncodeToString(req.Image)},
		Format: "json",
		Stream: false,
		Opts:   map[string]any{"temperature": 0.2},
	}

	var resp generateResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	if err := vision.PostJSON(ctx, p.client, url, nil, body, &resp); err != nil {
		return models.AnalysisResult{}, err
	}
	return vision.ParseAnalysis(resp.Response)
}

var _ models.VisionProvider = (*Provider)(nil)
