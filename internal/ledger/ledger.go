// Package ledger keeps the incident history and the per-day restart counters.
//
// The whole ledger is one document that is rewritten through a Persister on
// every mutation. Mutations are serialized by a single lock and only become
// visible after the document was persisted, so a failed write leaves the
// in-memory state exactly as it was before the call.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/opsloop/pkg/models"
)

const dateLayout = "2006-01-02"

// Document is the durable form of the ledger.
type Document struct {
	Incidents     []models.Incident         `json:"incidents"`
	RestartCounts map[string]map[string]int `json:"restart_counts"`
}

// Persister stores and loads the ledger document.
type Persister interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
	Ping(ctx context.Context) error
}

// Filter selects incidents in Query. Zero-valued fields match everything.
type Filter struct {
	Resolved  *bool
	Kind      models.Kind
	Namespace string
	Name      string
	Since     time.Time
	Limit     int
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	incidents []models.Incident
	byID      map[string]int
	counts    map[string]map[string]int

	persister Persister
	now       func() time.Time
	loc       *time.Location
	logger    *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the fixed time zone that defines "today" for restart counters.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New loads the current document from p and returns a ready Ledger.
func New(ctx context.Context, p Persister, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		persister: p,
		now:       time.Now,
		loc:       time.UTC,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")

	doc, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	l.incidents = make([]models.Incident, 0, len(doc.Incidents))
	l.byID = make(map[string]int, len(doc.Incidents))
	for _, inc := range doc.Incidents {
		if _, dup := l.byID[inc.ID]; dup {
			l.logger.Warn("skipping duplicate incident in stored ledger", "incident_id", inc.ID)
			continue
		}
		l.byID[inc.ID] = len(l.incidents)
		l.incidents = append(l.incidents, inc)
	}
	l.counts = copyCounts(doc.RestartCounts)

	l.logger.Info("ledger loaded", "incidents", len(l.incidents), "restart_days", len(l.counts))
	return l, nil
}

// Ping checks the backing store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.persister.Ping(ctx)
}

// Append records a new incident. The caller assigns the ID.
func (l *Ledger) Append(ctx context.Context, inc models.Incident) error {
	if inc.ID == "" {
		return ErrMissingID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[inc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, inc.ID)
	}

	next := make([]models.Incident, len(l.incidents), len(l.incidents)+1)
	copy(next, l.incidents)
	next = append(next, inc.Clone())

	if err := l.save(ctx, next, l.counts); err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}

	l.incidents = next
	l.byID[inc.ID] = len(next) - 1
	l.logger.Debug("incident appended", "incident_id", inc.ID, "action", inc.ActionTaken)
	return nil
}

// Get returns the incident with the given ID.
func (l *Ledger) Get(_ context.Context, id string) (models.Incident, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.byID[id]
	if !ok {
		return models.Incident{}, ErrNotFound
	}
	return l.incidents[idx].Clone(), nil
}

// Query returns incidents matching f, newest first. Limit is applied after sorting.
func (l *Ledger) Query(_ context.Context, f Filter) []models.Incident {
	l.mu.RLock()
	out := make([]models.Incident, 0)
	for _, inc := range l.incidents {
		if matches(inc, f) {
			out = append(out, inc.Clone())
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Resolve marks an incident resolved. Resolving again refreshes ResolvedAt;
// Notes are replaced only when notes is non-empty.
func (l *Ledger) Resolve(ctx context.Context, id, notes string) (models.Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.byID[id]
	if !ok {
		return models.Incident{}, ErrNotFound
	}

	updated := l.incidents[idx].Clone()
	now := l.now()
	updated.Resolved = true
	updated.ResolvedAt = &now
	if notes != "" {
		updated.Notes = notes
	}

	next := make([]models.Incident, len(l.incidents))
	copy(next, l.incidents)
	next[idx] = updated

	if err := l.save(ctx, next, l.counts); err != nil {
		return models.Incident{}, &PersistenceError{Op: "resolve", Err: err}
	}

	l.incidents = next
	return updated.Clone(), nil
}

// IncrementRestartCount adds one to today's counter for e and returns the new value.
func (l *Ledger) IncrementRestartCount(ctx context.Context, e models.EntityRef) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()
	key := e.String()

	next := copyCounts(l.counts)
	if next[today] == nil {
		next[today] = make(map[string]int)
	}
	next[today][key]++
	n := next[today][key]

	if err := l.save(ctx, l.incidents, next); err != nil {
		return 0, &PersistenceError{Op: "increment restart count", Err: err}
	}

	l.counts = next
	return n, nil
}

// RestartCount returns today's restart count for e, or 0.
func (l *Ledger) RestartCount(_ context.Context, e models.EntityRef) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[l.today()][e.String()]
}

// RestartCounts returns a copy of every counter bucket.
func (l *Ledger) RestartCounts(_ context.Context) map[string]map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyCounts(l.counts)
}

// PurgeOlderThan drops counter buckets more than days old, plus any bucket
// whose key is not a date. It writes only when something was removed and
// returns the number of buckets dropped.
func (l *Ledger) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := civilDay(l.now().In(l.loc))
	next := make(map[string]map[string]int, len(l.counts))
	removed := 0
	for key, bucket := range l.counts {
		day, err := time.ParseInLocation(dateLayout, key, l.loc)
		if err != nil {
			removed++
			continue
		}
		age := int(today.Sub(civilDay(day)).Hours() / 24)
		if age > days {
			removed++
			continue
		}
		next[key] = copyBucket(bucket)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := l.save(ctx, l.incidents, next); err != nil {
		return 0, &PersistenceError{Op: "purge restart counts", Err: err}
	}

	l.counts = next
	l.logger.Info("purged restart counters", "buckets", removed, "retention_days", days)
	return removed, nil
}

func (l *Ledger) save(ctx context.Context, incidents []models.Incident, counts map[string]map[string]int) error {
	return l.persister.Save(ctx, Document{Incidents: incidents, RestartCounts: counts})
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

func matches(inc models.Incident, f Filter) bool {
	if f.Resolved != nil && inc.Resolved != *f.Resolved {
		return false
	}
	if f.Kind != "" && inc.Kind != f.Kind {
		return false
	}
	if f.Namespace != "" && inc.Entity.Namespace != f.Namespace {
		return false
	}
	if f.Name != "" && inc.Entity.Name != f.Name {
		return false
	}
	if !f.Since.IsZero() && inc.DetectedAt.Before(f.Since) {
		return false
	}
	return true
}

// civilDay maps t to midnight UTC of its calendar date so day arithmetic
// ignores DST transitions in the configured zone.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func copyCounts(src map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(src))
	for day, bucket := range src {
		out[day] = copyBucket(bucket)
	}
	return out
}

func copyBucket(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
