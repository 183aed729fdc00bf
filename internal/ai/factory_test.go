package ai_test

import (
	"testing"

	"github.com/kiranshivaraju/opsloop/internal/ai"
	"github.com/kiranshivaraju/opsloop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Static(t *testing.T) {
	p, err := ai.NewProvider(config.AIConfig{Provider: "static"})
	require.NoError(t, err)
	assert.Equal(t, "static", p.Name())
}

func TestNewProvider_OpenAICompatible(t *testing.T) {
	for _, name := range []string{"openai", "vllm", "ollama"} {
		t.Run(name, func(t *testing.T) {
			p, err := ai.NewProvider(config.AIConfig{
				Provider: name,
				BaseURL:  "http://localhost:8000/v1",
				APIKey:   "sk-test",
				Model:    "llama3",
			})
			require.NoError(t, err)
			assert.Equal(t, name, p.Name())
		})
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	cfg := config.AIConfig{Provider: "unknown-provider"}
	_, err := ai.NewProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProvider_Empty(t *testing.T) {
	cfg := config.AIConfig{Provider: ""}
	_, err := ai.NewProvider(cfg)
	require.Error(t, err)
}
