package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/opsloop/internal/metrics"
	"github.com/kiranshivaraju/opsloop/internal/policy"
	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

type restartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ticketResult struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
}

func (t ticketResult) reference() *models.Reference {
	return &models.Reference{Number: t.Number, URL: t.HTMLURL, Title: t.Title}
}

// Remediate restarts the decided entity, records the restart, opens a
// ticket and appends an incident. Steps completed before a failure are not
// undone.
func (p *Pipeline) Remediate(ctx context.Context, d policy.Decision, a Analysis) (Action, error) {
	issue := d.Issue
	entity := issue.Entity
	logger := p.logger.With("component", "remediate", "pod", entity.String(), "kind", string(issue.Kind))

	action := Action{Kind: ActionRemediate, Entity: entity, IssueKind: issue.Kind}

	logger.Info("restarting pod")
	res, err := p.tools.Invoke(ctx, toolgateway.ServiceKubernetes, "restart_pod", map[string]any{
		"namespace": entity.Namespace,
		"pod_name":  entity.Name,
	})
	if err != nil {
		return action, err
	}
	metrics.RestartRequested()

	var restart restartResult
	if err := res.Decode(&restart); err != nil {
		logger.Warn("unreadable restart result", "error", err)
	}
	action.RestartSucceeded = restart.Success
	action.RestartMessage = restart.Message
	if !restart.Success {
		logger.Warn("restart reported failure", "message", restart.Message)
	}

	// Counted even when the payload reports failure; only a tool error stops the branch.
	count, err := p.ledger.IncrementRestartCount(ctx, entity)
	if err != nil {
		return action, fmt.Errorf("incrementing restart count: %w", err)
	}
	action.RestartCount = count
	logger.Info("restart recorded", "restart_count", count)

	ticket, err := p.createIssue(ctx,
		fmt.Sprintf("%s usage alert for pod %s", strings.ToUpper(string(issue.Kind)), entity.Name),
		remediationBody(issue, count, a),
		[]string{string(issue.Kind), "auto-remediated", string(issue.Severity)},
	)
	if err != nil {
		return action, err
	}
	action.Ticket = ticket.reference()
	logger.Info("ticket created", "issue_number", ticket.Number, "url", ticket.HTMLURL)

	inc := models.Incident{
		ID:          p.newID(),
		Kind:        issue.Kind,
		Entity:      entity,
		DetectedAt:  p.now(),
		Severity:    issue.Severity,
		Metrics:     models.Metrics{Value: issue.Value, Threshold: issue.Threshold},
		ActionTaken: models.ActionRestartPod,
		Ticket:      action.Ticket,
	}
	if err := p.ledger.Append(ctx, inc); err != nil {
		logger.Error("incident not recorded after ticket creation",
			"incident_id", inc.ID, "issue_number", ticket.Number, "error", err)
		return action, fmt.Errorf("recording incident: %w", err)
	}
	action.IncidentID = inc.ID

	p.annotate(ctx,
		fmt.Sprintf("Pod %s restarted due to high %s usage (%s)", entity.Name, issue.Kind, formatReading(issue.Kind, issue.Value)),
		[]string{string(issue.Kind), "auto-remediated", string(issue.Severity)},
	)

	logger.Info("remediation complete", "incident_id", inc.ID)
	return action, nil
}

func (p *Pipeline) createIssue(ctx context.Context, title, body string, labels []string) (ticketResult, error) {
	res, err := p.tools.Invoke(ctx, toolgateway.ServiceGitHub, "create_issue", map[string]any{
		"title":  title,
		"body":   body,
		"labels": labels,
	})
	if err != nil {
		return ticketResult{}, err
	}
	var t ticketResult
	if err := res.Decode(&t); err != nil {
		return ticketResult{}, fmt.Errorf("create_issue: %w", err)
	}
	if t.Title == "" {
		t.Title = title
	}
	return t, nil
}

// annotate marks the dashboard. Failures are logged and ignored.
func (p *Pipeline) annotate(ctx context.Context, text string, tags []string) {
	_, err := p.tools.Invoke(ctx, toolgateway.ServiceGrafana, "create_annotation", map[string]any{
		"dashboard_id": p.cfg.DashboardID,
		"time":         p.now().UnixMilli(),
		"text":         text,
		"tags":         tags,
	})
	if err != nil {
		p.logger.Warn("dashboard annotation failed", "component", "annotate", "error", err)
	}
}

func remediationBody(issue models.Issue, count int, a Analysis) string {
	kind := strings.ToUpper(string(issue.Kind))
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Usage Alert\n\n", kind)
	b.WriteString("## Pod Information\n")
	fmt.Fprintf(&b, "- **Pod Name**: %s\n", issue.Entity.Name)
	fmt.Fprintf(&b, "- **Namespace**: %s\n", issue.Entity.Namespace)
	fmt.Fprintf(&b, "- **Severity**: %s\n\n", issue.Severity)
	b.WriteString("## Metrics\n")
	fmt.Fprintf(&b, "- **%s Usage**: %s\n", kind, formatReading(issue.Kind, issue.Value))
	fmt.Fprintf(&b, "- **Threshold**: %s\n", formatReading(issue.Kind, issue.Threshold))
	fmt.Fprintf(&b, "- **Timestamp**: %s\n\n", a.CapturedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	b.WriteString("## Action Taken\nThe pod has been automatically restarted to mitigate the issue.\n\n")
	fmt.Fprintf(&b, "## Restart Count\nThis pod has been restarted %d times today.\n\n", count)
	b.WriteString("## Next Steps\nIf this issue persists, consider:\n")
	b.WriteString("1. Investigating the application logs\n")
	b.WriteString("2. Checking for memory leaks or inefficient code\n")
	b.WriteString("3. Adjusting resource limits\n")
	return b.String()
}

func formatReading(k models.Kind, v float64) string {
	if k == models.KindMemory {
		return fmt.Sprintf("%.0f bytes", v)
	}
	return fmt.Sprintf("%.2f%%", v)
}
