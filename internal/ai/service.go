package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/opsloop/internal/ai/prompt"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// FixService drives a FixProvider through the generate-then-describe exchange
// and turns the description into a FixProposal.
type FixService struct {
	provider models.FixProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFixService creates a new FixService. Each provider call gets its own timeout.
func NewFixService(provider models.FixProvider, timeout time.Duration, logger *slog.Logger) *FixService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FixService{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "fix_service", "provider", provider.Name()),
	}
}

// Provider returns the provider name.
func (s *FixService) Provider() string { return s.provider.Name() }

// Propose generates a fix for req. Provider failures are returned as errors;
// an unparsable description is not an error and yields a placeholder
// proposal with Placeholder set.
func (s *FixService) Propose(ctx context.Context, req models.FixRequest) (models.FixProposal, error) {
	genCtx, cancel := s.withTimeout(ctx)
	code, err := s.provider.GenerateFix(genCtx, req)
	cancel()
	if err != nil {
		return models.FixProposal{}, s.classify("generating fix", err)
	}

	descCtx, cancel := s.withTimeout(ctx)
	raw, err := s.provider.DescribeFix(descCtx, req, code)
	cancel()
	if err != nil {
		return models.FixProposal{}, s.classify("describing fix", err)
	}

	proposal, err := ParseProposal(raw)
	if err != nil {
		s.logger.Warn("fix description unusable, using placeholder",
			"pod", req.Entity.String(),
			"error", err,
			"raw", prompt.Truncate(raw, 200),
		)
		proposal = PlaceholderProposal(req)
	}
	proposal.Code = code
	return proposal, nil
}

func (s *FixService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *FixService) classify(step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrInferenceTimeout) {
		return fmt.Errorf("%s: %w", step, ErrInferenceTimeout)
	}
	return fmt.Errorf("%s: %w: %v", step, ErrProviderUnavailable, err)
}

// ParseProposal decodes a fix description. Markdown fences and text around
// the JSON object are tolerated.
func ParseProposal(raw string) (models.FixProposal, error) {
	body := prompt.StripFences(raw)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return models.FixProposal{}, ErrMalformedPayload
	}

	var p models.FixProposal
	if err := json.Unmarshal([]byte(body[start:end+1]), &p); err != nil {
		return models.FixProposal{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	p.Analysis = prompt.Truncate(p.Analysis, 4000)
	p.PRBody = prompt.Truncate(p.PRBody, 8000)
	return p, nil
}

// PlaceholderProposal is used when the description cannot be parsed.
func PlaceholderProposal(req models.FixRequest) models.FixProposal {
	return models.FixProposal{
		Analysis:       "Failed to parse analysis result",
		FixDescription: "Unknown",
		FixFile:        "Unknown",
		PRTitle:        fmt.Sprintf("Fix high %s usage in %s", req.Kind, req.Entity.Name),
		PRBody:         "Failed to generate PR body",
		Placeholder:    true,
	}
}
