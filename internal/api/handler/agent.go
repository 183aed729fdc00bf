package handler

import (
	"net/http"

	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/internal/scheduler"
)

// AgentController exposes the scheduler's run state and auto-run switch.
type AgentController interface {
	Status() scheduler.Status
	SetAutoRun(enabled bool)
}

type autoRunRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// NewAgentStatusHandler returns GET /api/v1/agent/status.
func NewAgentStatusHandler(agent AgentController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, agent.Status())
	}
}

// NewSetAutoRunHandler returns PUT /api/v1/agent/auto-run.
func NewSetAutoRunHandler(agent AgentController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req autoRunRequest
		if !bind(w, r, &req) {
			return
		}
		agent.SetAutoRun(*req.Enabled)
		response.JSON(w, agent.Status())
	}
}
