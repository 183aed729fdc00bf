// Package policy decides how to respond to the issues found in one run.
// Everything here is pure: no I/O, no clocks.
package policy

import (
	"sort"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	DefaultAnalysisThreshold = 4
	DefaultMaxRestarts       = 10
)

// Outcome is the branch the pipeline takes after deciding.
type Outcome string

const (
	OutcomeNoAction    Outcome = "no_action"
	OutcomeRemediate   Outcome = "remediate"
	OutcomeAnalyzeCode Outcome = "analyze_code"
)

// Thresholds configures the escalation ladder.
type Thresholds struct {
	// Analysis is the restart count at which restarts stop and code analysis begins.
	Analysis int
	// MaxRestarts caps restarts per entity per day. Counts at or above it but
	// still below Analysis keep remediating; AtRestartCap flags that case.
	MaxRestarts int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Analysis: DefaultAnalysisThreshold, MaxRestarts: DefaultMaxRestarts}
}

// RestartLookup returns today's restart count for an entity.
type RestartLookup func(models.EntityRef) int

// Decision is the result of Decide. Issue and RestartCount are zero for
// OutcomeNoAction.
type Decision struct {
	Outcome      Outcome
	Issue        models.Issue
	RestartCount int
	AtRestartCap bool
}

// Decide picks the most severe issue and chooses remediation or escalation
// from the entity's restart count. Ties keep detection order.
func Decide(issues []models.Issue, lookup RestartLookup, t Thresholds) Decision {
	if len(issues) == 0 {
		return Decision{Outcome: OutcomeNoAction}
	}

	sorted := make([]models.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	top := sorted[0]
	count := lookup(top.Entity)

	d := Decision{Issue: top, RestartCount: count}
	if count >= t.Analysis {
		d.Outcome = OutcomeAnalyzeCode
		return d
	}
	d.Outcome = OutcomeRemediate
	d.AtRestartCap = count >= t.MaxRestarts
	return d
}

// Severity grades value against threshold: high above 1.5x, medium above
// 1.2x, otherwise low. Callers only grade values already above threshold.
func Severity(value, threshold float64) models.Severity {
	switch {
	case value > threshold*1.5:
		return models.SeverityHigh
	case value > threshold*1.2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
