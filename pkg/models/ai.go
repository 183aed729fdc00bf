package models

import "context"

// FixProvider is the core interface that all code-fix integrations must implement.
// Never call specific AI providers directly; always inject this interface.
type FixProvider interface {
	// GenerateFix returns a corrected version of req.Code.
	GenerateFix(ctx context.Context, req FixRequest) (string, error)
	// DescribeFix returns a JSON document describing fixedCode; see FixProposal.
	DescribeFix(ctx context.Context, req FixRequest, fixedCode string) (string, error)
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string
}

// FixRequest is the input to fix generation.
type FixRequest struct {
	Kind      Kind
	Entity    EntityRef
	Value     float64
	Threshold float64
	Logs      string
	Patterns  []LogPattern
	Code      string
}

// LogPattern is a group of log lines that differ only in timestamps, IDs
// and counters.
type LogPattern struct {
	Fingerprint string `json:"fingerprint"`
	Level       string `json:"level"`
	Count       int    `json:"count"`
	Sample      string `json:"sample"`
}

// FixProposal is the parsed fix description plus the generated code.
type FixProposal struct {
	Analysis       string `json:"analysis"`
	FixDescription string `json:"fix_description"`
	FixFile        string `json:"fix_file"`
	PRTitle        string `json:"pr_title"`
	PRBody         string `json:"pr_body"`
	Code           string `json:"-"`
	// Placeholder is set when the description could not be parsed and the
	// fields above hold fallback text.
	Placeholder bool `json:"-"`
}
