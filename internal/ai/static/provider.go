// Package static provides a fix provider that needs no model. It proposes
// the code unchanged and asks for human review, which keeps the escalation
// path working when no LLM endpoint is configured.
package static

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "static" }

func (p *Provider) GenerateFix(_ context.Context, req models.FixRequest) (string, error) {
	return req.Code, nil
}

func (p *Provider) DescribeFix(_ context.Context, req models.FixRequest, _ string) (string, error) {
	desc := models.FixProposal{
		Analysis: fmt.Sprintf("Pod %s repeatedly exceeded its %s threshold (%.2f > %.2f) and restarts did not help.",
			req.Entity, req.Kind, req.Value, req.Threshold),
		FixDescription: "No automated fix is available; the attached logs need manual review.",
		PRTitle:        fmt.Sprintf("Investigate high %s usage in %s", req.Kind, req.Entity.Name),
		PRBody:         "Opened automatically after repeated restarts. Please review the linked issue.",
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ models.FixProvider = (*Provider)(nil)
