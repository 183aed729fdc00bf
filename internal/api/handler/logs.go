package handler

import (
	"net/http"

	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/internal/logging"
)

const defaultLogLimit = 100

// LogSource returns recent log records, newest first.
type LogSource interface {
	Recent(limit int) []logging.Entry
}

type logsQuery struct {
	Limit int `validate:"gte=1,lte=1000"`
}

// NewRecentLogsHandler returns GET /api/v1/logs.
func NewRecentLogsHandler(logs LogSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r.URL.Query().Get("limit"), defaultLogLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
			return
		}
		q := logsQuery{Limit: limit}
		if err := requestValidate.Struct(q); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Invalid query parameters", validationDetails(err))
			return
		}

		entries := logs.Recent(q.Limit)
		response.JSON(w, map[string]any{
			"logs":  entries,
			"count": len(entries),
		})
	}
}
