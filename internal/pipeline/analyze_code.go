package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/opsloop/internal/logpattern"
	"github.com/kiranshivaraju/opsloop/internal/policy"
	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	logTailLines      = 1000
	maxLogPatterns    = 10
	missingCodeNotice = "# Error: Could not retrieve application code"
	fallbackFixPath   = "kubernetes/deployment.yaml"
	unknownFixFile    = "Unknown"
	branchPrefix      = "bug_fix/"
)

type logsResult struct {
	Logs string `json:"logs"`
}

type codeResult struct {
	Code string `json:"code"`
}

// AnalyzeCode gathers logs and source for the decided entity, asks the fix
// proposer for a change, and opens a ticket and a pull request. The restart
// counter is not touched.
func (p *Pipeline) AnalyzeCode(ctx context.Context, d policy.Decision) (Action, error) {
	issue := d.Issue
	entity := issue.Entity
	logger := p.logger.With("component", "analyze_code", "pod", entity.String(), "kind", string(issue.Kind))

	action := Action{Kind: ActionAnalyzeCode, Entity: entity, IssueKind: issue.Kind, RestartCount: d.RestartCount}

	res, err := p.tools.Invoke(ctx, toolgateway.ServiceKubernetes, "get_logs", map[string]any{
		"namespace":  entity.Namespace,
		"pod_name":   entity.Name,
		"tail_lines": logTailLines,
	})
	if err != nil {
		return action, err
	}
	var logs logsResult
	if err := res.Decode(&logs); err != nil {
		return action, fmt.Errorf("get_logs: %w", err)
	}
	patterns := logpattern.Top(logs.Logs, maxLogPatterns)
	logger.Info("logs retrieved", "bytes", len(logs.Logs), "patterns", len(patterns))

	code := p.appCode(ctx, entity)

	proposal, err := p.fixes.Propose(ctx, models.FixRequest{
		Kind:      issue.Kind,
		Entity:    entity,
		Value:     issue.Value,
		Threshold: issue.Threshold,
		Logs:      logs.Logs,
		Patterns:  patterns,
		Code:      code,
	})
	if err != nil {
		return action, fmt.Errorf("proposing fix: %w", err)
	}
	action.Fix = &proposal
	if proposal.Placeholder {
		logger.Warn("continuing with placeholder analysis")
	}

	ticket, err := p.createIssue(ctx,
		fmt.Sprintf("Analysis: %s usage in pod %s", strings.ToUpper(string(issue.Kind)), entity.Name),
		analysisBody(issue, proposal),
		[]string{string(issue.Kind), "analysis", "needs-review"},
	)
	if err != nil {
		return action, err
	}
	action.Ticket = ticket.reference()
	logger.Info("analysis ticket created", "issue_number", ticket.Number)

	branch := fmt.Sprintf("%s%d", branchPrefix, ticket.Number)
	p.commitFix(ctx, issue, proposal, branch)

	pr, err := p.openPullRequest(ctx, issue, proposal, ticket.Number, branch)
	if err != nil {
		logger.Error("pull request not opened after ticket creation",
			"issue_number", ticket.Number, "branch", branch, "error", err)
		return action, err
	}
	action.ChangeRequest = pr.reference()
	logger.Info("pull request opened", "pr_number", pr.Number, "url", pr.HTMLURL)

	inc := models.Incident{
		ID:            p.newID(),
		Kind:          issue.Kind,
		Entity:        entity,
		DetectedAt:    p.now(),
		Severity:      issue.Severity,
		Metrics:       models.Metrics{Value: issue.Value, Threshold: issue.Threshold},
		ActionTaken:   models.ActionAnalyzeCode,
		Ticket:        action.Ticket,
		ChangeRequest: action.ChangeRequest,
	}
	if err := p.ledger.Append(ctx, inc); err != nil {
		logger.Error("incident not recorded after pull request creation",
			"incident_id", inc.ID, "issue_number", ticket.Number, "pr_number", pr.Number, "error", err)
		return action, fmt.Errorf("recording incident: %w", err)
	}
	action.IncidentID = inc.ID

	p.annotate(ctx,
		fmt.Sprintf("Code analysis for pod %s due to persistent high %s usage", entity.Name, issue.Kind),
		[]string{string(issue.Kind), "analysis", "pr-created"},
	)

	logger.Info("code analysis complete", "incident_id", inc.ID)
	return action, nil
}

// appCode fetches the workload source, substituting a notice on failure.
func (p *Pipeline) appCode(ctx context.Context, entity models.EntityRef) string {
	res, err := p.tools.Invoke(ctx, toolgateway.ServiceKubernetes, "get_app_code", map[string]any{
		"namespace": entity.Namespace,
		"pod_name":  entity.Name,
	})
	if err == nil {
		var c codeResult
		if err = res.Decode(&c); err == nil {
			return c.Code
		}
	}
	p.logger.Warn("application code unavailable", "component", "analyze_code", "pod", entity.String(), "error", err)
	return missingCodeNotice
}

// commitFix creates the fix branch and writes the proposed file. Failures
// are logged; the pull request is still attempted.
func (p *Pipeline) commitFix(ctx context.Context, issue models.Issue, fix models.FixProposal, branch string) {
	logger := p.logger.With("component", "analyze_code", "branch", branch)

	path, content := fix.FixFile, fix.Code
	if path == "" || path == unknownFixFile || strings.TrimSpace(content) == "" {
		path, content = fallbackFixPath, fallbackManifest(issue.Kind)
	}

	if _, err := p.tools.Invoke(ctx, toolgateway.ServiceGitHub, "create_branch", map[string]any{
		"branch": branch,
		"base":   p.cfg.BaseBranch,
	}); err != nil {
		logger.Warn("creating branch failed", "error", err)
		return
	}

	if _, err := p.tools.Invoke(ctx, toolgateway.ServiceGitHub, "create_file", map[string]any{
		"path":    path,
		"content": content,
		"message": fmt.Sprintf("Fix high %s usage in %s", issue.Kind, issue.Entity.Name),
		"branch":  branch,
	}); err != nil {
		logger.Warn("creating file failed", "path", path, "error", err)
		return
	}
	logger.Info("fix committed", "path", path)
}

func (p *Pipeline) openPullRequest(ctx context.Context, issue models.Issue, fix models.FixProposal, ticket int, branch string) (ticketResult, error) {
	title := fix.PRTitle
	if title == "" {
		title = fmt.Sprintf("Fix high %s usage in %s", issue.Kind, issue.Entity.Name)
	}
	body := fix.PRBody
	if body == "" {
		body = fmt.Sprintf("This PR addresses the high %s usage issue in pod %s.\n\n## Analysis\n%s\n\n## Changes\n%s",
			issue.Kind, issue.Entity.Name, orDefault(fix.Analysis, "No analysis available"),
			orDefault(fix.FixDescription, "No fix description available"))
	}
	closes := fmt.Sprintf("Closes #%d", ticket)
	if !strings.Contains(body, closes) {
		body += "\n\n## Related Issue\n" + closes
	}

	res, err := p.tools.Invoke(ctx, toolgateway.ServiceGitHub, "create_pull_request", map[string]any{
		"title": title,
		"body":  body,
		"head":  branch,
		"base":  p.cfg.BaseBranch,
	})
	if err != nil {
		return ticketResult{}, err
	}
	var pr ticketResult
	if err := res.Decode(&pr); err != nil {
		return ticketResult{}, fmt.Errorf("create_pull_request: %w", err)
	}
	if pr.Title == "" {
		pr.Title = title
	}
	return pr, nil
}

func analysisBody(issue models.Issue, fix models.FixProposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Usage Analysis\n\n", strings.ToUpper(string(issue.Kind)))
	b.WriteString("## Pod Information\n")
	fmt.Fprintf(&b, "- **Pod Name**: %s\n", issue.Entity.Name)
	fmt.Fprintf(&b, "- **Namespace**: %s\n\n", issue.Entity.Namespace)
	fmt.Fprintf(&b, "## Analysis\n%s\n\n", orDefault(fix.Analysis, "No analysis available"))
	fmt.Fprintf(&b, "## Proposed Fix\n%s\n\n", orDefault(fix.FixDescription, "No fix description available"))
	fmt.Fprintf(&b, "### Code Change\n```\n%s\n```\n\n", orDefault(fix.Code, "No code change available"))
	fmt.Fprintf(&b, "### File to Modify\n%s\n\n", orDefault(fix.FixFile, unknownFixFile))
	b.WriteString("## Next Steps\nA pull request will be created with the proposed fix.\n")
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
