// Package pipeline runs one pass of the incident-response loop:
// monitor, analyze, decide, act and report. Each stage consumes the
// previous stage's output type.
package pipeline

import (
	"time"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// Sample is one instant-vector entry from a metrics query.
type Sample struct {
	Instance string
	Labels   map[string]string
	Value    float64
}

// Pod is an inventory entry returned by list_pods.
type Pod struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// Observation is the raw output of the monitor stage.
type Observation struct {
	CPU          []Sample
	Memory       []Sample
	CPUSpikes    []Sample
	MemorySpikes []Sample
	Pods         []Pod
	ObservedAt   time.Time
}

// Analysis is the ordered list of issues found in an Observation.
type Analysis struct {
	Issues     []models.Issue
	CapturedAt time.Time
}

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionNone        ActionKind = "no_action"
	ActionRemediate   ActionKind = "remediate"
	ActionAnalyzeCode ActionKind = "analyze_code"
)

// Action records what the act stage did. Fields not relevant to Kind are zero.
type Action struct {
	Kind      ActionKind
	Entity    models.EntityRef
	IssueKind models.Kind

	// remediate
	RestartSucceeded bool
	RestartMessage   string
	RestartCount     int

	// analyze_code
	Fix           *models.FixProposal
	ChangeRequest *models.Reference

	Ticket     *models.Reference
	IncidentID string
}
