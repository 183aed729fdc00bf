package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/opsloop/internal/ai"
	"github.com/kiranshivaraju/opsloop/internal/ai/mock"
	"github.com/kiranshivaraju/opsloop/internal/ledger"
	"github.com/kiranshivaraju/opsloop/internal/policy"
	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"github.com/kiranshivaraju/opsloop/pkg/models"
	"github.com/stretchr/testify/require"
)

const testPod = "test-app-5f7c"

type toolCall struct {
	service   string
	operation string
	args      map[string]any
}

type handlerFunc func(args map[string]any) (any, error)

// fakeTools is an in-process Invoker with per-operation handlers.
type fakeTools struct {
	mu       sync.Mutex
	calls    []toolCall
	handlers map[string]handlerFunc
}

func newFakeTools() *fakeTools {
	f := &fakeTools{handlers: map[string]handlerFunc{}}
	f.setMetrics(map[string]float64{})
	f.handle("kubernetes", "list_pods", func(map[string]any) (any, error) {
		return map[string]any{"pods": []Pod{{Name: testPod, Namespace: "default"}, {Name: "db-0", Namespace: "data"}}}, nil
	})
	f.handle("kubernetes", "restart_pod", func(args map[string]any) (any, error) {
		return map[string]any{"success": true, "message": fmt.Sprintf("Pod %s restarted", args["pod_name"])}, nil
	})
	f.handle("kubernetes", "get_logs", func(map[string]any) (any, error) {
		return map[string]any{"logs": "allocating chunk\nallocating chunk"}, nil
	})
	f.handle("kubernetes", "get_app_code", func(map[string]any) (any, error) {
		return map[string]any{"code": "cache = []"}, nil
	})
	f.handle("github", "create_issue", func(args map[string]any) (any, error) {
		return map[string]any{"number": 42, "html_url": "https://github.example/acme/app/issues/42", "title": args["title"]}, nil
	})
	f.handle("github", "create_branch", func(map[string]any) (any, error) {
		return map[string]any{"ref": "refs/heads/bug_fix/42"}, nil
	})
	f.handle("github", "create_file", func(map[string]any) (any, error) {
		return map[string]any{"sha": "abc123"}, nil
	})
	f.handle("github", "create_pull_request", func(map[string]any) (any, error) {
		return map[string]any{"number": 7, "html_url": "https://github.example/acme/app/pull/7"}, nil
	})
	f.handle("grafana", "create_annotation", func(map[string]any) (any, error) {
		return map[string]any{"id": 1}, nil
	})
	return f
}

func (f *fakeTools) handle(service, op string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[service+"."+op] = h
}

func (f *fakeTools) fail(service, op string, err error) {
	f.handle(service, op, func(map[string]any) (any, error) { return nil, err })
}

// setMetrics answers prometheus queries with one sample per query name,
// labelled with the test pod's instance.
func (f *fakeTools) setMetrics(values map[string]float64) {
	f.handle("prometheus", "query", func(args map[string]any) (any, error) {
		v, ok := values[args["query"].(string)]
		if !ok {
			return map[string]any{"result": []any{}}, nil
		}
		return map[string]any{"result": []any{
			map[string]any{
				"metric": map[string]string{"instance": testPod + ":8001", "job": "test-app"},
				"value":  []any{1700000000.0, fmt.Sprintf("%g", v)},
			},
		}}, nil
	})
}

func (f *fakeTools) Invoke(_ context.Context, service, operation string, args any) (toolgateway.Result, error) {
	m, _ := args.(map[string]any)

	f.mu.Lock()
	f.calls = append(f.calls, toolCall{service: service, operation: operation, args: m})
	h, ok := f.handlers[service+"."+operation]
	f.mu.Unlock()

	if !ok {
		return toolgateway.Result{}, &toolgateway.ToolError{
			Service: service, Operation: operation, Err: toolgateway.ErrUnknownOperation,
		}
	}
	out, err := h(m)
	if err != nil {
		return toolgateway.Result{}, err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return toolgateway.Result{}, err
	}
	return toolgateway.NewResult(b), nil
}

func (f *fakeTools) callsTo(service, op string) []toolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolCall
	for _, c := range f.calls {
		if c.service == service && c.operation == op {
			out = append(out, c)
		}
	}
	return out
}

func transientError(service, op string) error {
	return &toolgateway.ToolError{
		Service: service, Operation: op, Status: 503, Attempts: 4,
		Message: "service unavailable", Err: toolgateway.ErrTransientToolFailure,
	}
}

type fakeStatus struct {
	usage float64
	err   error
}

func (s fakeStatus) MemoryUsage(context.Context) (float64, error) { return s.usage, s.err }

// failingLedger wraps a real ledger and fails Append on demand.
type failingLedger struct {
	*ledger.Ledger
	appendErr error
}

func (l *failingLedger) Append(ctx context.Context, inc models.Incident) error {
	if l.appendErr != nil {
		return l.appendErr
	}
	return l.Ledger.Append(ctx, inc)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	tools  *fakeTools
	ledger *ledger.Ledger
	clock  *testClock
	cfg    Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}

	fp, err := ledger.NewFilePersister(filepath.Join(t.TempDir(), "incidents.json"))
	require.NoError(t, err)
	l, err := ledger.New(context.Background(), fp, ledger.WithClock(clk.Now))
	require.NoError(t, err)

	return &harness{
		tools:  newFakeTools(),
		ledger: l,
		clock:  clk,
		cfg: Config{
			Namespace:      "default",
			MemoryInstance: "test-app:8001",
			Thresholds:     Thresholds{CPU: 10, Memory: 600_000_000},
			Policy:         policy.DefaultThresholds(),
			DashboardID:    1,
			BaseBranch:     "develop",
			RetentionDays:  7,
		},
	}
}

func (h *harness) pipeline(fixes FixProposer, opts ...Option) *Pipeline {
	if fixes == nil {
		fixes = ai.NewFixService(mock.NewMockProvider(), time.Second, discardLogger())
	}
	opts = append([]Option{WithClock(h.clock.Now), WithLogger(discardLogger())}, opts...)
	return New(h.tools, h.ledger, fixes, h.cfg, opts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBoom = errors.New("boom")
