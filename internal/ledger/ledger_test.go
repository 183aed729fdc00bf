package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/opsloop/internal/ledger"
	"github.com/kiranshivaraju/opsloop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPersister is an in-memory Persister that can be told to fail.
type memPersister struct {
	mu    sync.Mutex
	doc   ledger.Document
	saves int
	fail  error
}

func (m *memPersister) Load(context.Context) (ledger.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *memPersister) Save(_ context.Context, doc ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.doc = doc
	return nil
}

func (m *memPersister) Ping(context.Context) error { return nil }

func (m *memPersister) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var pod = models.EntityRef{Namespace: "default", Name: "api-7d9f"}

func newLedger(t *testing.T) (*ledger.Ledger, *memPersister, *clock) {
	t.Helper()
	p := &memPersister{}
	c := &clock{now: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
	l, err := ledger.New(context.Background(), p, ledger.WithClock(c.Now))
	require.NoError(t, err)
	return l, p, c
}

func newIncident(kind models.Kind, at time.Time) models.Incident {
	return models.Incident{
		ID:          uuid.NewString(),
		Kind:        kind,
		Entity:      pod,
		DetectedAt:  at,
		Severity:    models.SeverityHigh,
		Metrics:     models.Metrics{Value: 20, Threshold: 10},
		ActionTaken: models.ActionRestartPod,
		Ticket:      &models.Reference{Number: 42, URL: "https://example.test/issues/42"},
	}
}

func TestAppendAndGet(t *testing.T) {
	l, p, _ := newLedger(t)
	ctx := context.Background()

	inc := newIncident(models.KindCPU, time.Now().UTC())
	require.NoError(t, l.Append(ctx, inc))

	got, err := l.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, got.ID)
	assert.Equal(t, 42, got.Ticket.Number)
	assert.Len(t, p.doc.Incidents, 1)
}

func TestAppend_ReturnsCopies(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	inc := newIncident(models.KindCPU, time.Now().UTC())
	require.NoError(t, l.Append(ctx, inc))
	inc.Ticket.Number = 7

	got, err := l.Get(ctx, inc.ID)
	require.NoError(t, err)
	got.Ticket.Number = 99

	again, err := l.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, again.Ticket.Number)
}

func TestAppend_DuplicateID(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	inc := newIncident(models.KindCPU, time.Now().UTC())
	require.NoError(t, l.Append(ctx, inc))

	err := l.Append(ctx, inc)
	assert.ErrorIs(t, err, ledger.ErrDuplicateID)
	assert.Len(t, l.Query(ctx, ledger.Filter{}), 1)
}

func TestAppend_MissingID(t *testing.T) {
	l, _, _ := newLedger(t)
	err := l.Append(context.Background(), models.Incident{Kind: models.KindCPU})
	assert.ErrorIs(t, err, ledger.ErrMissingID)
}

func TestGet_NotFound(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	oldest := newIncident(models.KindCPU, base)
	middle := newIncident(models.KindMemory, base.Add(time.Hour))
	newest := newIncident(models.KindCPU, base.Add(2*time.Hour))
	other := newIncident(models.KindCPU, base.Add(30*time.Minute))
	other.Entity = models.EntityRef{Namespace: "payments", Name: "worker-1"}

	for _, inc := range []models.Incident{oldest, middle, newest, other} {
		require.NoError(t, l.Append(ctx, inc))
	}
	_, err := l.Resolve(ctx, middle.ID, "fixed")
	require.NoError(t, err)

	all := l.Query(ctx, ledger.Filter{})
	require.Len(t, all, 4)
	assert.Equal(t, newest.ID, all[0].ID)
	assert.Equal(t, oldest.ID, all[3].ID)

	cpu := l.Query(ctx, ledger.Filter{Kind: models.KindCPU})
	assert.Len(t, cpu, 3)

	unresolved := false
	open := l.Query(ctx, ledger.Filter{Resolved: &unresolved})
	assert.Len(t, open, 3)

	resolved := true
	closed := l.Query(ctx, ledger.Filter{Resolved: &resolved})
	require.Len(t, closed, 1)
	assert.Equal(t, middle.ID, closed[0].ID)

	ns := l.Query(ctx, ledger.Filter{Namespace: "payments"})
	require.Len(t, ns, 1)
	assert.Equal(t, other.ID, ns[0].ID)

	byName := l.Query(ctx, ledger.Filter{Name: pod.Name, Kind: models.KindCPU})
	assert.Len(t, byName, 2)

	since := l.Query(ctx, ledger.Filter{Since: base.Add(time.Hour)})
	assert.Len(t, since, 2)

	limited := l.Query(ctx, ledger.Filter{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, newest.ID, limited[0].ID)
	assert.Equal(t, middle.ID, limited[1].ID)
}

func TestResolve(t *testing.T) {
	l, _, c := newLedger(t)
	ctx := context.Background()

	inc := newIncident(models.KindCPU, c.Now())
	require.NoError(t, l.Append(ctx, inc))

	first, err := l.Resolve(ctx, inc.ID, "rolled back deploy")
	require.NoError(t, err)
	assert.True(t, first.Resolved)
	require.NotNil(t, first.ResolvedAt)
	assert.Equal(t, c.Now(), *first.ResolvedAt)
	assert.Equal(t, "rolled back deploy", first.Notes)

	c.Set(c.Now().Add(time.Hour))
	second, err := l.Resolve(ctx, inc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, c.Now(), *second.ResolvedAt, "re-resolve refreshes the timestamp")
	assert.Equal(t, "rolled back deploy", second.Notes, "empty notes keep the previous value")
}

func TestResolve_NotFound(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.Resolve(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPersistenceFailure_RollsBack(t *testing.T) {
	l, p, _ := newLedger(t)
	ctx := context.Background()

	inc := newIncident(models.KindCPU, time.Now().UTC())
	require.NoError(t, l.Append(ctx, inc))
	_, err := l.IncrementRestartCount(ctx, pod)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	p.setFail(diskFull)

	var perr *ledger.PersistenceError

	err = l.Append(ctx, newIncident(models.KindMemory, time.Now().UTC()))
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, diskFull)
	assert.Len(t, l.Query(ctx, ledger.Filter{}), 1)

	_, err = l.Resolve(ctx, inc.ID, "notes")
	require.ErrorAs(t, err, &perr)
	got, _ := l.Get(ctx, inc.ID)
	assert.False(t, got.Resolved)
	assert.Empty(t, got.Notes)

	_, err = l.IncrementRestartCount(ctx, pod)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, l.RestartCount(ctx, pod))

	p.setFail(nil)
	err = l.Append(ctx, newIncident(models.KindMemory, time.Now().UTC()))
	require.NoError(t, err, "a failed append must not reserve its id")
}

func TestRestartCounts(t *testing.T) {
	l, p, c := newLedger(t)
	ctx := context.Background()

	assert.Equal(t, 0, l.RestartCount(ctx, pod))

	for i := 1; i <= 3; i++ {
		n, err := l.IncrementRestartCount(ctx, pod)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, 3, l.RestartCount(ctx, pod))
	assert.Equal(t, 3, p.doc.RestartCounts["2025-03-14"]["default/api-7d9f"])

	c.Set(c.Now().Add(24 * time.Hour))
	assert.Equal(t, 0, l.RestartCount(ctx, pod), "counters reset on a new day")

	all := l.RestartCounts(ctx)
	all["2025-03-14"]["default/api-7d9f"] = 100
	assert.Equal(t, 3, l.RestartCounts(ctx)["2025-03-14"]["default/api-7d9f"])
}

func TestRestartCount_UsesConfiguredZone(t *testing.T) {
	p := &memPersister{}
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC on the 14th is already the 15th in Tokyo.
	now := func() time.Time { return time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC) }

	l, err := ledger.New(context.Background(), p, ledger.WithClock(now), ledger.WithLocation(tokyo))
	require.NoError(t, err)

	_, err = l.IncrementRestartCount(context.Background(), pod)
	require.NoError(t, err)
	assert.Contains(t, l.RestartCounts(context.Background()), "2025-03-15")
}

func TestPurgeOlderThan(t *testing.T) {
	p := &memPersister{doc: ledger.Document{RestartCounts: map[string]map[string]int{
		"2025-03-14": {"default/a": 1},
		"2025-03-07": {"default/a": 2},
		"2025-03-06": {"default/a": 3},
		"2025-01-01": {"default/a": 4},
		"garbage":    {"default/a": 5},
	}}}
	now := func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	l, err := ledger.New(context.Background(), p, ledger.WithClock(now))
	require.NoError(t, err)
	ctx := context.Background()

	removed, err := l.PurgeOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	counts := l.RestartCounts(ctx)
	assert.Contains(t, counts, "2025-03-14")
	assert.Contains(t, counts, "2025-03-07", "exactly seven days old is kept")
	assert.NotContains(t, counts, "2025-03-06")
	assert.NotContains(t, counts, "garbage")

	saves := p.saves
	removed, err = l.PurgeOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, saves, p.saves, "nothing to purge means no write")
}

func TestPurgeOlderThan_PersistenceFailure(t *testing.T) {
	p := &memPersister{doc: ledger.Document{RestartCounts: map[string]map[string]int{
		"2020-01-01": {"default/a": 1},
	}}}
	l, err := ledger.New(context.Background(), p)
	require.NoError(t, err)
	p.setFail(errors.New("read-only"))

	_, err = l.PurgeOlderThan(context.Background(), 7)
	var perr *ledger.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, l.RestartCounts(context.Background()), "2020-01-01")
}

func TestConcurrentMutations(t *testing.T) {
	l, p, _ := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Append(ctx, newIncident(models.KindCPU, time.Now().UTC()))
		}()
		go func() {
			defer wg.Done()
			_, _ = l.IncrementRestartCount(ctx, pod)
			_ = l.Query(ctx, ledger.Filter{Limit: 5})
		}()
	}
	wg.Wait()

	assert.Len(t, l.Query(ctx, ledger.Filter{}), 50)
	assert.Equal(t, 50, l.RestartCount(ctx, pod))
	assert.Len(t, p.doc.Incidents, 50)
}
