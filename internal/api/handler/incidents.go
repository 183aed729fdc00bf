package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/internal/ledger"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const (
	defaultIncidentLimit = 50
	maxIncidentLimit     = 1000
)

// IncidentStore is the subset of the ledger the incident endpoints use.
type IncidentStore interface {
	Query(ctx context.Context, f ledger.Filter) []models.Incident
	Get(ctx context.Context, id string) (models.Incident, error)
	Resolve(ctx context.Context, id, notes string) (models.Incident, error)
	RestartCounts(ctx context.Context) map[string]map[string]int
}

type incidentQuery struct {
	Resolved  string `validate:"omitempty,oneof=true false"`
	Kind      string `validate:"omitempty,kind"`
	Namespace string `validate:"omitempty,max=253"`
	Name      string `validate:"omitempty,max=253"`
	Page      int    `validate:"gte=1"`
	Limit     int    `validate:"gte=1,lte=1000"`
}

type resolveRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

// NewListIncidentsHandler returns GET /api/v1/incidents.
func NewListIncidentsHandler(store IncidentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page, err := intParam(q.Get("page"), 1)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be an integer", nil)
			return
		}
		limit, err := intParam(q.Get("limit"), defaultIncidentLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
			return
		}

		params := incidentQuery{
			Resolved:  q.Get("resolved"),
			Kind:      q.Get("kind"),
			Namespace: q.Get("namespace"),
			Name:      q.Get("name"),
			Page:      page,
			Limit:     limit,
		}
		if err := requestValidate.Struct(params); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Invalid query parameters", validationDetails(err))
			return
		}

		since, err := parseSince(q.Get("since"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"since must be an RFC3339 timestamp or unix seconds", nil)
			return
		}

		filter := ledger.Filter{
			Kind:      models.Kind(params.Kind),
			Namespace: params.Namespace,
			Name:      params.Name,
			Since:     since,
		}
		if params.Resolved != "" {
			resolved := params.Resolved == "true"
			filter.Resolved = &resolved
		}

		items, meta := response.Page(store.Query(r.Context(), filter), params.Page, params.Limit)
		response.Collection(w, items, meta)
	}
}

// NewGetIncidentHandler returns GET /api/v1/incidents/{id}.
func NewGetIncidentHandler(store IncidentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inc, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeIncidentError(w, err)
			return
		}
		response.JSON(w, inc)
	}
}

// NewResolveIncidentHandler returns POST /api/v1/incidents/{id}/resolve.
func NewResolveIncidentHandler(store IncidentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if !bind(w, r, &req) {
			return
		}

		inc, err := store.Resolve(r.Context(), chi.URLParam(r, "id"), req.Notes)
		if err != nil {
			writeIncidentError(w, err)
			return
		}
		response.JSON(w, inc)
	}
}

// NewRestartCountsHandler returns GET /api/v1/restart-counts.
func NewRestartCountsHandler(store IncidentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, store.RestartCounts(r.Context()))
	}
}

func writeIncidentError(w http.ResponseWriter, err error) {
	var perr *ledger.PersistenceError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		response.Error(w, http.StatusNotFound, "INCIDENT_NOT_FOUND", "Incident not found", nil)
	case errors.As(err, &perr):
		response.Error(w, http.StatusInternalServerError, "PERSISTENCE_ERROR",
			"The incident ledger could not be written", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// parseSince accepts RFC3339 or unix seconds. Empty means no lower bound.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
