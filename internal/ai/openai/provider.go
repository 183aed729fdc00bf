package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/opsloop/internal/ai/prompt"
	"github.com/kiranshivaraju/opsloop/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Config selects the endpoint and model. An empty BaseURL targets api.openai.com.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

// Provider implements models.FixProvider against any OpenAI-compatible
// chat completions endpoint.
type Provider struct {
	name   string
	model  string
	client *goopenai.Client
}

func NewProvider(cfg Config) *Provider {
	key := cfg.APIKey
	if key == "" {
		// self-hosted endpoints ignore the key but the client requires one
		key = "unused"
	}
	clientCfg := goopenai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &Provider{
		name:   name,
		model:  cfg.Model,
		client: goopenai.NewClientWithConfig(clientCfg),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GenerateFix(ctx context.Context, req models.FixRequest) (string, error) {
	out, err := p.complete(ctx, prompt.Fix(req), false)
	if err != nil {
		return "", err
	}
	return prompt.StripFences(out), nil
}

func (p *Provider) DescribeFix(ctx context.Context, req models.FixRequest, fixedCode string) (string, error) {
	return p.complete(ctx, prompt.Describe(req, fixedCode), true)
}

func (p *Provider) complete(ctx context.Context, userPrompt string, jsonMode bool) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
	}
	if jsonMode && p.name == "openai" {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s: %w", p.name, context.DeadlineExceeded)
		}
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

var _ models.FixProvider = (*Provider)(nil)
