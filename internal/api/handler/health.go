package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/opsloop/internal/api/response"
)

const healthTimeout = 2 * time.Second

// Pinger is anything whose backing store can be checked for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /api/v1/health. It reports 503 when the
// ledger or the cache cannot be reached.
func NewHealthHandler(ledger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{
			"ledger": check(ctx, ledger),
			"cache":  check(ctx, cache),
		}

		for _, v := range checks {
			if v == "degraded" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]string{
			"status": "ok",
			"ledger": checks["ledger"],
			"cache":  checks["cache"],
		})
	}
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
