package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/opsloop/internal/api/handler"
	"github.com/kiranshivaraju/opsloop/internal/ledger"
	"github.com/kiranshivaraju/opsloop/internal/logging"
	"github.com/kiranshivaraju/opsloop/internal/scheduler"
	"github.com/kiranshivaraju/opsloop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeRuns struct {
	err       error
	resp      models.RunResponse
	gotForce  bool
	triggered int
	ranOnce   int
}

func (f *fakeRuns) Trigger(_ context.Context, force bool) error {
	f.gotForce = force
	if f.err == nil {
		f.triggered++
	}
	return f.err
}

func (f *fakeRuns) RunOnce(_ context.Context, force bool) (models.RunResponse, error) {
	f.gotForce = force
	if f.err != nil {
		return models.RunResponse{}, f.err
	}
	f.ranOnce++
	return f.resp, nil
}

type fakeLastRun struct {
	resp models.RunResponse
	ok   bool
}

func (f fakeLastRun) LastResponse(context.Context) (models.RunResponse, bool) { return f.resp, f.ok }

type fakeAgent struct {
	autoRun bool
}

func (a *fakeAgent) Status() scheduler.Status {
	return scheduler.Status{IntervalSeconds: 30, AutoRun: a.autoRun}
}

func (a *fakeAgent) SetAutoRun(enabled bool) { a.autoRun = enabled }

type brokenStore struct {
	handler.IncidentStore
	err error
}

func (s brokenStore) Resolve(context.Context, string, string) (models.Incident, error) {
	return models.Incident{}, s.err
}

func (s brokenStore) Get(context.Context, string) (models.Incident, error) {
	return models.Incident{}, s.err
}

// --- helpers ---

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	p, err := ledger.NewFilePersister(filepath.Join(t.TempDir(), "incidents.json"))
	require.NoError(t, err)
	l, err := ledger.New(context.Background(), p,
		ledger.WithClock(func() time.Time { return base.Add(time.Hour) }),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	seed := []models.Incident{
		{ID: "inc-1", Kind: models.KindCPU, Entity: models.EntityRef{Namespace: "default", Name: "api-1"},
			DetectedAt: base, Severity: models.SeverityHigh, ActionTaken: models.ActionRestartPod},
		{ID: "inc-2", Kind: models.KindMemory, Entity: models.EntityRef{Namespace: "default", Name: "api-2"},
			DetectedAt: base.Add(10 * time.Minute), Severity: models.SeverityLow, ActionTaken: models.ActionRestartPod},
		{ID: "inc-3", Kind: models.KindCPU, Entity: models.EntityRef{Namespace: "batch", Name: "worker-1"},
			DetectedAt: base.Add(20 * time.Minute), Severity: models.SeverityMedium, ActionTaken: models.ActionAnalyzeCode},
	}
	for _, inc := range seed {
		require.NoError(t, l.Append(context.Background(), inc))
	}
	_, err = l.IncrementRestartCount(context.Background(), seed[0].Entity)
	require.NoError(t, err)
	return l
}

func incidentRouter(store handler.IncidentStore) http.Handler {
	r := chi.NewRouter()
	r.Get("/incidents", handler.NewListIncidentsHandler(store))
	r.Get("/incidents/{id}", handler.NewGetIncidentHandler(store))
	r.Post("/incidents/{id}/resolve", handler.NewResolveIncidentHandler(store))
	r.Get("/restart-counts", handler.NewRestartCountsHandler(store))
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode(t, w)["error"].(map[string]any)["code"].(string)
}

// --- health ---

func TestHealth_OK(t *testing.T) {
	w := serve(handler.NewHealthHandler(fakePinger{}, fakePinger{}), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["ledger"])
}

func TestHealth_Degraded(t *testing.T) {
	w := serve(handler.NewHealthHandler(fakePinger{}, fakePinger{err: errors.New("down")}), "GET", "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", body["code"])
	assert.Equal(t, "degraded", body["details"].(map[string]any)["cache"])
}

func TestHealth_NilCacheIsDisabled(t *testing.T) {
	w := serve(handler.NewHealthHandler(fakePinger{}, nil), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disabled", decode(t, w)["data"].(map[string]any)["cache"])
}

// --- runs ---

func TestTriggerRun_Accepted(t *testing.T) {
	runs := &fakeRuns{}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs", `{"force":true}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, runs.gotForce)
	assert.Equal(t, 1, runs.triggered)
	assert.Equal(t, "started", decode(t, w)["data"].(map[string]any)["status"])
}

func TestTriggerRun_EmptyBody(t *testing.T) {
	runs := &fakeRuns{}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, runs.gotForce)
}

func TestTriggerRun_InvalidJSON(t *testing.T) {
	w := serve(handler.NewTriggerRunHandler(&fakeRuns{}), "POST", "/runs", `{"force":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
}

func TestTriggerRun_InProgress(t *testing.T) {
	w := serve(handler.NewTriggerRunHandler(&fakeRuns{err: scheduler.ErrRunInProgress}), "POST", "/runs", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_IN_PROGRESS", errorCode(t, w))
}

func TestTriggerRun_TooSoon(t *testing.T) {
	runs := &fakeRuns{err: &scheduler.TooSoonError{Wait: 12300 * time.Millisecond}}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs", "")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "13", w.Header().Get("Retry-After"))
	body := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "RUN_TOO_SOON", body["code"])
	assert.Equal(t, float64(13), body["details"].(map[string]any)["retry_after_seconds"])
}

func TestTriggerRun_WaitReturnsResponse(t *testing.T) {
	runs := &fakeRuns{resp: models.RunResponse{
		Status: models.RunStatusSuccess,
		Action: models.RunActionNone,
	}}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs?wait=true", `{"force":true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runs.ranOnce)
	assert.Zero(t, runs.triggered)
	assert.True(t, runs.gotForce)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "success", data["status"])
	assert.Equal(t, "no_action", data["action"])
}

func TestTriggerRun_WaitRejected(t *testing.T) {
	runs := &fakeRuns{err: scheduler.ErrRunInProgress}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs?wait=1", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_IN_PROGRESS", errorCode(t, w))
}

func TestTriggerRun_InvalidWait(t *testing.T) {
	runs := &fakeRuns{}
	w := serve(handler.NewTriggerRunHandler(runs), "POST", "/runs?wait=soon", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	assert.Zero(t, runs.ranOnce+runs.triggered)
}

func TestLastRun(t *testing.T) {
	t.Run("none yet", func(t *testing.T) {
		w := serve(handler.NewLastRunHandler(fakeLastRun{}), "GET", "/runs/last", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NO_RUNS", errorCode(t, w))
	})

	t.Run("available", func(t *testing.T) {
		src := fakeLastRun{ok: true, resp: models.RunResponse{
			Status: models.RunStatusSuccess, Action: models.RunActionNone, CompletedAt: base,
		}}
		w := serve(handler.NewLastRunHandler(src), "GET", "/runs/last", "")
		assert.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]any)
		assert.Equal(t, "success", data["status"])
		assert.Equal(t, "no_action", data["action"])
	})
}

// --- agent ---

func TestAgentStatus(t *testing.T) {
	w := serve(handler.NewAgentStatusHandler(&fakeAgent{autoRun: true}), "GET", "/agent/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["auto_run_enabled"])
	assert.Equal(t, float64(30), data["run_interval_seconds"])
}

func TestSetAutoRun(t *testing.T) {
	agent := &fakeAgent{autoRun: true}
	w := serve(handler.NewSetAutoRunHandler(agent), "PUT", "/agent/auto-run", `{"enabled":false}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, agent.autoRun)
	assert.Equal(t, false, decode(t, w)["data"].(map[string]any)["auto_run_enabled"])
}

func TestSetAutoRun_MissingField(t *testing.T) {
	agent := &fakeAgent{autoRun: true}
	w := serve(handler.NewSetAutoRunHandler(agent), "PUT", "/agent/auto-run", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "required", body["details"].(map[string]any)["Enabled"])
	assert.True(t, agent.autoRun)
}

// --- incidents ---

func TestListIncidents_NewestFirst(t *testing.T) {
	w := serve(incidentRouter(newLedger(t)), "GET", "/incidents", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	data := body["data"].([]any)
	require.Len(t, data, 3)
	assert.Equal(t, "inc-3", data[0].(map[string]any)["id"])

	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, false, meta["has_next"])
}

func TestListIncidents_Filters(t *testing.T) {
	h := incidentRouter(newLedger(t))

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"kind", "?kind=cpu", []string{"inc-3", "inc-1"}},
		{"namespace", "?namespace=batch", []string{"inc-3"}},
		{"name", "?name=api-2", []string{"inc-2"}},
		{"unresolved", "?resolved=false", []string{"inc-3", "inc-2", "inc-1"}},
		{"resolved", "?resolved=true", []string{}},
		{"since rfc3339", "?since=2026-03-14T09:05:00Z", []string{"inc-3", "inc-2"}},
		{"since unix", "?since=1773479100", []string{"inc-3", "inc-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, "GET", "/incidents"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			got := []string{}
			for _, item := range decode(t, w)["data"].([]any) {
				got = append(got, item.(map[string]any)["id"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListIncidents_Pagination(t *testing.T) {
	h := incidentRouter(newLedger(t))

	w := serve(h, "GET", "/incidents?limit=2&page=1", "")
	body := decode(t, w)
	assert.Len(t, body["data"].([]any), 2)
	assert.Equal(t, true, body["meta"].(map[string]any)["has_next"])

	w = serve(h, "GET", "/incidents?limit=2&page=2", "")
	body = decode(t, w)
	assert.Len(t, body["data"].([]any), 1)
	assert.Equal(t, false, body["meta"].(map[string]any)["has_next"])

	w = serve(h, "GET", "/incidents?limit=2&page=9", "")
	assert.Empty(t, decode(t, w)["data"].([]any))
}

func TestListIncidents_HugePageIsEmpty(t *testing.T) {
	h := incidentRouter(newLedger(t))

	w := serve(h, "GET", "/incidents?limit=2&page=4611686018427387905", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Empty(t, body["data"].([]any))
	assert.Equal(t, float64(3), body["meta"].(map[string]any)["total"])
	assert.Equal(t, false, body["meta"].(map[string]any)["has_next"])
}

func TestListIncidents_InvalidParams(t *testing.T) {
	h := incidentRouter(newLedger(t))

	for _, q := range []string{
		"?kind=disk",
		"?resolved=maybe",
		"?limit=0",
		"?limit=5000",
		"?limit=abc",
		"?page=0",
		"?since=yesterday",
	} {
		t.Run(q, func(t *testing.T) {
			w := serve(h, "GET", "/incidents"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
		})
	}
}

func TestGetIncident(t *testing.T) {
	h := incidentRouter(newLedger(t))

	w := serve(h, "GET", "/incidents/inc-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "memory", data["type"])
	assert.Equal(t, "api-2", data["entity"].(map[string]any)["pod_name"])

	w = serve(h, "GET", "/incidents/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "INCIDENT_NOT_FOUND", errorCode(t, w))
}

func TestResolveIncident(t *testing.T) {
	l := newLedger(t)
	h := incidentRouter(l)

	w := serve(h, "POST", "/incidents/inc-1/resolve", `{"notes":"scaled the deployment"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["resolved"])
	assert.Equal(t, "scaled the deployment", data["notes"])
	assert.NotEmpty(t, data["resolved_timestamp"])

	inc, err := l.Get(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.True(t, inc.Resolved)
}

func TestResolveIncident_WithoutBody(t *testing.T) {
	w := serve(incidentRouter(newLedger(t)), "POST", "/incidents/inc-2/resolve", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]any)["resolved"])
}

func TestResolveIncident_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		w := serve(incidentRouter(newLedger(t)), "POST", "/incidents/nope/resolve", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("notes too long", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"notes": strings.Repeat("x", 4001)})
		w := serve(incidentRouter(newLedger(t)), "POST", "/incidents/inc-1/resolve", string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("persistence failure", func(t *testing.T) {
		store := brokenStore{err: &ledger.PersistenceError{Op: "resolve", Err: errors.New("disk full")}}
		w := serve(incidentRouter(store), "POST", "/incidents/inc-1/resolve", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "PERSISTENCE_ERROR", errorCode(t, w))
	})
}

func TestRestartCounts(t *testing.T) {
	w := serve(incidentRouter(newLedger(t)), "GET", "/restart-counts", "")

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["2026-03-14"].(map[string]any)["default/api-1"])
}

// --- logs ---

func TestRecentLogs(t *testing.T) {
	ring := logging.NewRing(10)
	logger := slog.New(logging.NewRingHandler(slog.NewTextHandler(io.Discard, nil), ring))
	logger.Info("first")
	logger.Warn("second", "pod", "api-1")
	logger.Info("third")

	h := handler.NewRecentLogsHandler(ring)

	w := serve(h, "GET", "/logs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["count"])
	logs := data["logs"].([]any)
	assert.Equal(t, "third", logs[0].(map[string]any)["message"])
	assert.Equal(t, "second", logs[1].(map[string]any)["message"])

	w = serve(h, "GET", "/logs", "")
	assert.Equal(t, float64(3), decode(t, w)["data"].(map[string]any)["count"])

	w = serve(h, "GET", "/logs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

