package ai

import (
	"fmt"

	"github.com/kiranshivaraju/opsloop/internal/ai/openai"
	"github.com/kiranshivaraju/opsloop/internal/ai/static"
	"github.com/kiranshivaraju/opsloop/internal/config"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// NewProvider constructs the appropriate fix provider based on config.
// Called once at server startup. vllm and ollama are reached through their
// OpenAI-compatible endpoints.
func NewProvider(cfg config.AIConfig) (models.FixProvider, error) {
	switch cfg.Provider {
	case "static":
		return static.NewProvider(), nil
	case "openai", "vllm", "ollama":
		return openai.NewProvider(openai.Config{
			Name:    cfg.Provider,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of static, openai, vllm, ollama", cfg.Provider)
	}
}
