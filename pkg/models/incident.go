// Package models contains shared data models used across the OpsLoop codebase.
package models

import (
	"strings"
	"time"
)

// Kind is the category of a detected issue.
type Kind string

const (
	KindCPU    Kind = "cpu"
	KindMemory Kind = "memory"
)

// Valid reports whether k is a known issue kind.
func (k Kind) Valid() bool {
	return k == KindCPU || k == KindMemory
}

// Severity grades how far a reading exceeds its threshold.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities for prioritisation. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

const (
	ActionRestartPod  = "restart_pod"
	ActionAnalyzeCode = "analyze_code"
)

// EntityRef identifies the workload an issue is attributed to.
type EntityRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"pod_name"`
}

// String returns the "namespace/name" form used as the restart counter key.
func (e EntityRef) String() string {
	return e.Namespace + "/" + e.Name
}

// ParseEntityRef is the inverse of EntityRef.String.
func ParseEntityRef(s string) (EntityRef, bool) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return EntityRef{}, false
	}
	return EntityRef{Namespace: ns, Name: name}, true
}

// Metrics is the reading that triggered an incident.
type Metrics struct {
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Reference points at an external ticket or change request.
type Reference struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
}

// Incident is a durable record of one remediation or escalation.
// Incidents are never deleted; only Resolved, ResolvedAt and Notes change.
type Incident struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"type"`
	Entity        EntityRef  `json:"entity"`
	DetectedAt    time.Time  `json:"timestamp"`
	Severity      Severity   `json:"severity"`
	Metrics       Metrics    `json:"metrics"`
	ActionTaken   string     `json:"action_taken,omitempty"`
	Ticket        *Reference `json:"github_issue,omitempty"`
	ChangeRequest *Reference `json:"github_pr,omitempty"`
	Resolved      bool       `json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_timestamp,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate ledger state.
func (i Incident) Clone() Incident {
	out := i
	if i.Ticket != nil {
		t := *i.Ticket
		out.Ticket = &t
	}
	if i.ChangeRequest != nil {
		c := *i.ChangeRequest
		out.ChangeRequest = &c
	}
	if i.ResolvedAt != nil {
		r := *i.ResolvedAt
		out.ResolvedAt = &r
	}
	return out
}
