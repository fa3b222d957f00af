package ai

import (
	"fmt"

	"github.com/kiranshivaraju/physique/internal/ai/anthropic"
	"github.com/kiranshivaraju/physique/internal/ai/gemini"
	"github.com/kiranshivaraju/physique/internal/ai/ollama"
	"github.com/kiranshivaraju/physique/internal/ai/openai"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// NewProvider constructs the appropriate vision provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.VisionProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "gemini":
		return gemini.NewProvider(cfg.Gemini), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, openai, anthropic, gemini", cfg.Provider)
	}
}
