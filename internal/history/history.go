// Package history keeps the bounded, time-ordered log of tool calls
// observed for one assistant session.
//
// Append is the only mutator. Readers get iterators over a copy taken at
// call time, so an iteration is never disturbed by concurrent appends and
// nothing a caller does to a yielded Event reaches the stored log.
// Capacity is enforced by count and by age; eviction is silent.
package history

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a sequence number was never assigned
	// or has already been evicted.
	ErrNotFound = errors.New("event not found")

	// ErrAlreadyTagged is returned when an outcome tag is set twice.
	ErrAlreadyTagged = errors.New("event already tagged")
)

// Event is one observed tool invocation.
type Event struct {
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
}

// Arg returns the argument stored under key.
func (e Event) Arg(key string) (any, bool) {
	v, ok := e.Args[key]
	return v, ok
}

// clone returns a copy that shares no map or slice with e, at any depth.
func (e Event) clone() Event {
	if e.Args != nil {
		e.Args = cloneMap(e.Args)
	}
	return e
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the container types JSON decoding and tool
// arguments produce. Anything else is treated as immutable.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		return cloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	case []byte:
		return slices.Clone(t)
	default:
		return v
	}
}

// Config bounds the history.
type Config struct {
	MaxEvents int
	MaxAge    time.Duration // zero disables age-based eviction
}

// DefaultConfig returns the default history bounds.
func DefaultConfig() Config {
	return Config{
		MaxEvents: 512,
		MaxAge:    2 * time.Hour,
	}
}

// Since selects the start of a window, either by sequence number or by age.
type Since struct {
	seq uint64
	age time.Duration
}

// FromSeq selects events whose sequence number is >= seq.
func FromSeq(seq uint64) Since { return Since{seq: seq} }

// Within selects events younger than d.
func Within(d time.Duration) Since { return Since{age: d} }

// Stats describes the current occupancy of a History.
type Stats struct {
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Appended uint64 `json:"appended"`
	Evicted  uint64 `json:"evicted"`
	LastSeq  uint64 `json:"last_seq"`
}

// History is a bounded event log. The zero value is not usable; call New.
type History struct {
	mu      sync.RWMutex
	buf     *ring[Event]
	lastSeq uint64
	evicted uint64
	maxAge  time.Duration
	now     func() time.Time
}

// Option configures a History.
type Option func(*History)

// WithClock overrides the clock used for default timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New creates an empty History.
func New(cfg Config, opts ...Option) *History {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	h := &History{
		buf:    newRing[Event](cfg.MaxEvents),
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append stores a copy of e and returns the stored event with its
// sequence number assigned. A zero timestamp is replaced by the clock;
// a timestamp earlier than the previous event is raised to it so the log
// stays time-ordered.
func (h *History) Append(e Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = h.now()
	}
	if last, ok := h.newestLocked(); ok && e.Time.Before(last.Time) {
		e.Time = last.Time
	}

	h.lastSeq++
	e.Seq = h.lastSeq
	e = e.clone()

	if h.buf.push(e) {
		h.evicted++
	}
	h.evictAgedLocked(e.Time)

	return e.clone()
}

// Tag sets the outcome tag of a stored event. The stored value is replaced,
// never modified in place, so copies already handed out are unaffected.
func (h *History) Tag(seq uint64, outcome string) (Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.indexLocked(seq)
	if !ok || h.agedOut(*h.buf.at(idx)) {
		return Event{}, fmt.Errorf("tag seq %d: %w", seq, ErrNotFound)
	}
	stored := h.buf.at(idx)
	if stored.Outcome != "" {
		return Event{}, fmt.Errorf("tag seq %d: %w", seq, ErrAlreadyTagged)
	}
	tagged := stored.clone()
	tagged.Outcome = outcome
	*stored = tagged
	return tagged.clone(), nil
}

// Get returns the event with the given sequence number.
func (h *History) Get(seq uint64) (Event, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	idx, ok := h.indexLocked(seq)
	if !ok || h.agedOut(*h.buf.at(idx)) {
		return Event{}, fmt.Errorf("get seq %d: %w", seq, ErrNotFound)
	}
	return h.buf.at(idx).clone(), nil
}

// Window returns the events selected by since, oldest first.
func (h *History) Window(since Since) iter.Seq[Event] {
	h.mu.RLock()
	snap := h.buf.slice(0)
	h.mu.RUnlock()

	var cutoff time.Time
	if since.age > 0 {
		cutoff = h.now().Add(-since.age)
	}
	return h.iterate(snap, func(e Event) bool {
		if e.Seq < since.seq {
			return false
		}
		return cutoff.IsZero() || e.Time.After(cutoff)
	})
}

// Latest returns up to n of the most recent events, oldest first.
func (h *History) Latest(n int) iter.Seq[Event] {
	if n <= 0 {
		return func(func(Event) bool) {}
	}
	h.mu.RLock()
	snap := h.buf.slice(h.buf.len() - n)
	h.mu.RUnlock()

	return h.iterate(snap, func(Event) bool { return true })
}

// Stats reports occupancy counters.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Len:      h.buf.len(),
		Capacity: h.buf.cap(),
		Appended: h.lastSeq,
		Evicted:  h.evicted,
		LastSeq:  h.lastSeq,
	}
}

// iterate yields clones of the snapshot entries accepted by keep. Events
// that aged out after the snapshot was taken are skipped on every pass.
func (h *History) iterate(snap []Event, keep func(Event) bool) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for _, e := range snap {
			if h.agedOut(e) || !keep(e) {
				continue
			}
			if !yield(e.clone()) {
				return
			}
		}
	}
}

func (h *History) agedOut(e Event) bool {
	return h.maxAge > 0 && h.now().Sub(e.Time) > h.maxAge
}

func (h *History) newestLocked() (Event, bool) {
	if h.buf.len() == 0 {
		return Event{}, false
	}
	return *h.buf.at(h.buf.len() - 1), true
}

// indexLocked maps a sequence number to a ring offset. Sequence numbers
// are contiguous inside the ring because eviction only removes the front.
func (h *History) indexLocked(seq uint64) (int, bool) {
	oldest, ok := h.buf.front()
	if !ok || seq < oldest.Seq || seq > h.lastSeq {
		return 0, false
	}
	return int(seq - oldest.Seq), true
}

func (h *History) evictAgedLocked(now time.Time) {
	if h.maxAge <= 0 {
		return
	}
	for {
		oldest, ok := h.buf.front()
		if !ok || now.Sub(oldest.Time) <= h.maxAge {
			return
		}
		h.buf.popFront()
		h.evicted++
	}
}
