package pipeline

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

func wrapStage(stage string, err error) error {
	return fmt.Errorf("%s: %w", stage, err)
}

// Report maps the outcome of a run to its response. An error wins over any
// partially completed action.
func Report(a Action, err error, now time.Time) models.RunResponse {
	if err != nil {
		return models.RunResponse{
			Status:      models.RunStatusError,
			Error:       err.Error(),
			CompletedAt: now,
		}
	}

	resp := models.RunResponse{Status: models.RunStatusSuccess, CompletedAt: now}
	switch a.Kind {
	case ActionRemediate, ActionAnalyzeCode:
		resp.Action = string(a.Kind)
		resp.PodName = a.Entity.Name
		resp.Namespace = a.Entity.Namespace
		resp.IssueType = a.IssueKind
		resp.RestartCount = a.RestartCount
		resp.IncidentID = a.IncidentID
		if a.Ticket != nil {
			resp.TicketNumber = a.Ticket.Number
			resp.TicketURL = a.Ticket.URL
		}
		if a.ChangeRequest != nil {
			resp.ChangeRequestNum = a.ChangeRequest.Number
			resp.ChangeRequestURL = a.ChangeRequest.URL
		}
	default:
		resp.Action = models.RunActionNone
		resp.Message = "No issues detected"
	}
	return resp
}
