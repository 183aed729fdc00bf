// Package response writes the JSON envelopes shared by every endpoint:
// {"data": ...} for success, {"data": [...], "meta": {...}} for pages and
// {"error": {"code", "message", "details"}} for failures.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Page slices items for a 1-based page. Out-of-range pages yield an empty
// slice with the total still reported. page and limit must be at least 1.
func Page[T any](items []T, page, limit int) ([]T, PaginationMeta) {
	total := len(items)
	meta := PaginationMeta{Page: page, Limit: limit, Total: total}
	// Checked by division so (page-1)*limit cannot overflow.
	if page < 1 || limit < 1 || page-1 > total/limit {
		return items[total:], meta
	}
	start := (page - 1) * limit
	end := min(start+limit, total)
	meta.HasNext = end < total
	return items[start:end], meta
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// TooManyRequests writes a 429 with a Retry-After header rounded up to
// whole seconds (minimum one).
func TooManyRequests(w http.ResponseWriter, code, message string, wait time.Duration, details any) {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Error(w, http.StatusTooManyRequests, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "status", status, "error", err)
	}
}
