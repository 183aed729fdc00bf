package models

import "time"

const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"

	RunActionNone = "no_action"
)

// RunResponse is the externally visible outcome of one pipeline run.
// Error responses carry only Status and Error.
type RunResponse struct {
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	Action           string    `json:"action,omitempty"`
	Message          string    `json:"message,omitempty"`
	PodName          string    `json:"pod_name,omitempty"`
	Namespace        string    `json:"namespace,omitempty"`
	IssueType        Kind      `json:"issue_type,omitempty"`
	RestartCount     int       `json:"restart_count,omitempty"`
	TicketNumber     int       `json:"github_issue_number,omitempty"`
	TicketURL        string    `json:"github_issue_url,omitempty"`
	ChangeRequestNum int       `json:"github_pr_number,omitempty"`
	ChangeRequestURL string    `json:"github_pr_url,omitempty"`
	IncidentID       string    `json:"incident_id,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}
