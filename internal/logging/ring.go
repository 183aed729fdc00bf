package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultRingSize = 100

// Entry is a log record retained in memory for the logs endpoint.
type Entry struct {
	Time    time.Time      `json:"timestamp"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring keeps the most recent log entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewRing returns a ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{entries: make([]Entry, size)}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.entries) }

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (r *Ring) Recent(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}

// RingHandler forwards records to another handler and copies them into a Ring.
type RingHandler struct {
	next   slog.Handler
	ring   *Ring
	attrs  []slog.Attr
	prefix string
}

// NewRingHandler wraps next.
func NewRingHandler(next slog.Handler, ring *Ring) *RingHandler {
	return &RingHandler{next: next, ring: ring}
}

func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RingHandler) Handle(ctx context.Context, rec slog.Record) error {
	e := Entry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
	}
	if len(h.attrs) > 0 || rec.NumAttrs() > 0 {
		e.Attrs = make(map[string]any, len(h.attrs)+rec.NumAttrs())
		for _, a := range h.attrs {
			e.Attrs[a.Key] = attrValue(a.Value)
		}
		rec.Attrs(func(a slog.Attr) bool {
			e.Attrs[h.prefix+a.Key] = attrValue(a.Value)
			return true
		})
	}
	h.ring.add(e)
	return h.next.Handle(ctx, rec)
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &RingHandler{next: h.next.WithAttrs(attrs), ring: h.ring, attrs: merged, prefix: h.prefix}
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &RingHandler{next: h.next.WithGroup(name), ring: h.ring, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// attrValue turns errors into their message so entries stay JSON friendly.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.Any()
}

var _ slog.Handler = (*RingHandler)(nil)
