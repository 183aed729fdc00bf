package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/internal/scheduler"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// RunTrigger starts pipeline runs, either in the background or synchronously.
type RunTrigger interface {
	Trigger(ctx context.Context, force bool) error
	RunOnce(ctx context.Context, force bool) (models.RunResponse, error)
}

// LastRunSource returns the most recent run response.
type LastRunSource interface {
	LastResponse(ctx context.Context) (models.RunResponse, bool)
}

type runRequest struct {
	Force bool `json:"force"`
}

// NewTriggerRunHandler returns POST /api/v1/runs. With ?wait=true the run
// executes in the request and its response is returned; otherwise the run
// starts in the background and 202 is returned.
func NewTriggerRunHandler(runs RunTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if !bind(w, r, &req) {
			return
		}
		wait := false
		if v := r.URL.Query().Get("wait"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a boolean", nil)
				return
			}
			wait = b
		}

		var (
			resp models.RunResponse
			err  error
		)
		if wait {
			resp, err = runs.RunOnce(r.Context(), req.Force)
		} else {
			err = runs.Trigger(r.Context(), req.Force)
		}

		var tooSoon *scheduler.TooSoonError
		switch {
		case err == nil && wait:
			response.JSON(w, resp)
		case err == nil:
			response.Accepted(w, map[string]any{
				"status": "started",
				"force":  req.Force,
			})
		case errors.Is(err, scheduler.ErrRunInProgress):
			response.Error(w, http.StatusConflict, "RUN_IN_PROGRESS",
				"A run is already in progress", nil)
		case errors.As(err, &tooSoon):
			response.TooManyRequests(w, "RUN_TOO_SOON", "Runs are rate limited; retry later",
				tooSoon.Wait, map[string]int{"retry_after_seconds": tooSoon.WaitSeconds()})
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}
	}
}

// NewLastRunHandler returns GET /api/v1/runs/last.
func NewLastRunHandler(src LastRunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ok := src.LastResponse(r.Context())
		if !ok {
			response.Error(w, http.StatusNotFound, "NO_RUNS", "No run has completed yet", nil)
			return
		}
		response.JSON(w, resp)
	}
}
