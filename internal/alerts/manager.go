package alerts

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HendryAvila/anastrophex/internal/patterns"
)

// maxClosed bounds the closed alerts a manager keeps in memory. Older ones
// survive only in the durable store.
const maxClosed = 256

// Catalog looks up pattern definitions.
type Catalog interface {
	Get(id string) (patterns.Definition, bool)
}

// Gate supplies the efficacy signal consulted before intervening.
type Gate interface {
	Efficacy(patternID string) float64
	Count(patternID string) int
}

// Config holds the thresholds of the lifecycle.
type Config struct {
	// InterventionTimeout expires an intervening alert nobody reported on.
	InterventionTimeout time.Duration
	// EfficacyFloor suppresses interventions whose efficacy fell below it.
	EfficacyFloor float64
	// MinOutcomes is the evidence needed before the floor applies.
	MinOutcomes int
}

// DefaultConfig returns the default lifecycle thresholds.
func DefaultConfig() Config {
	return Config{
		InterventionTimeout: 30 * time.Minute,
		EfficacyFloor:       0.2,
		MinOutcomes:         3,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers a callback invoked with a copy of every alert
// created or changed. Used to persist alerts.
func WithObserver(fn func(Alert)) Option {
	return func(m *Manager) { m.observer = fn }
}

// Manager owns the alerts of one session. It is not safe for concurrent
// use; the owning session serializes access.
type Manager struct {
	session  string
	cfg      Config
	catalog  Catalog
	gate     Gate
	logger   *zap.Logger
	now      func() time.Time
	observer func(Alert)

	active     map[string]*Alert // by pattern id
	closed     []Alert           // oldest first, bounded by maxClosed
	lastClosed map[string]time.Time
	detections map[string]int
}

// NewManager creates an empty manager for session.
func NewManager(session string, cfg Config, catalog Catalog, gate Gate, opts ...Option) *Manager {
	m := &Manager{
		session:    session,
		cfg:        cfg,
		catalog:    catalog,
		gate:       gate,
		logger:     zap.NewNop(),
		now:        time.Now,
		active:     make(map[string]*Alert),
		lastClosed: make(map[string]time.Time),
		detections: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("session", session))
	return m
}

// SetCatalog swaps the pattern catalogue after a registry reload. Active
// alerts of patterns that disappeared are kept until they close.
func (m *Manager) SetCatalog(c Catalog) { m.catalog = c }

// --- Transitions ---

// Observe folds a candidate into the lifecycle. It returns the alert that
// was created or merged into, and false when the candidate was dropped or
// fell inside a cooldown.
func (m *Manager) Observe(c patterns.Candidate) (Alert, bool) {
	if err := c.Validate(); err != nil {
		droppedCandidates.WithLabelValues("malformed").Inc()
		m.logger.Warn("dropping malformed candidate", zap.Error(err))
		return Alert{}, false
	}
	def, ok := m.catalog.Get(c.PatternID)
	if !ok {
		droppedCandidates.WithLabelValues("unknown_pattern").Inc()
		m.logger.Warn("dropping candidate for unknown pattern", zap.String("pattern", c.PatternID))
		return Alert{}, false
	}

	now := m.now()

	if a, ok := m.active[c.PatternID]; ok {
		a.FirstSeq = min(a.FirstSeq, c.FirstSeq)
		a.LastSeq = max(a.LastSeq, c.LastSeq)
		a.Candidates++
		a.Strength = max(a.Strength, c.Strength)
		a.addFingerprint(c.Fingerprint)
		a.UpdatedAt = now
		m.notify(*a)
		return *a, true
	}

	if closedAt, ok := m.lastClosed[c.PatternID]; ok && now.Sub(closedAt) < def.Cooldown {
		droppedCandidates.WithLabelValues("cooldown").Inc()
		return Alert{}, false
	}

	a := &Alert{
		ID:           uuid.NewString(),
		PatternID:    c.PatternID,
		SessionID:    m.session,
		Fingerprint:  c.Fingerprint,
		Fingerprints: []string{c.Fingerprint},
		State:        StateDetected,
		FirstSeq:     c.FirstSeq,
		LastSeq:      c.LastSeq,
		Candidates:   1,
		Strength:     c.Strength,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.active[c.PatternID] = a
	m.detections[c.PatternID]++
	alertTransitions.WithLabelValues(string(StateDetected)).Inc()
	m.logger.Info("pattern detected",
		zap.String("pattern", a.PatternID),
		zap.String("alert", a.ID),
		zap.Uint64("first_seq", a.FirstSeq),
		zap.Uint64("last_seq", a.LastSeq),
	)
	m.notify(*a)
	return *a, true
}

// Intervene decides whether the pending alert of patternID gets an
// intervention. When the pattern has enough outcomes and its efficacy sits
// below the floor the alert is suppressed instead. An empty interventionID
// gets a generated one. Asking again for an alert already intervening
// returns it unchanged.
func (m *Manager) Intervene(patternID, interventionID string) (Alert, error) {
	if _, ok := m.catalog.Get(patternID); !ok {
		return Alert{}, fmt.Errorf("pattern %q: %w", patternID, ErrUnknownPattern)
	}
	a, ok := m.active[patternID]
	if !ok {
		return Alert{}, fmt.Errorf("pattern %q: %w", patternID, ErrNoActiveAlert)
	}
	if a.State == StateIntervening {
		return *a, nil
	}

	now := m.now()
	if m.gate != nil {
		n := m.gate.Count(patternID)
		eff := m.gate.Efficacy(patternID)
		if n >= m.cfg.MinOutcomes && eff < m.cfg.EfficacyFloor {
			a.transition(StateSuppressed, now)
			m.logger.Info("intervention suppressed by efficacy gate",
				zap.String("pattern", patternID),
				zap.String("alert", a.ID),
				zap.Float64("efficacy", eff),
				zap.Int("outcomes", n),
			)
			return m.close(a), nil
		}
	}

	if interventionID == "" {
		interventionID = uuid.NewString()
	}
	a.InterventionID = interventionID
	a.IntervenedAt = &now
	a.transition(StateIntervening, now)
	m.logger.Info("intervening",
		zap.String("pattern", patternID),
		zap.String("alert", a.ID),
		zap.String("intervention", interventionID),
	)
	m.notify(*a)
	return *a, nil
}

// Resolve applies an outcome report. The active alert of patternID resolves
// when it carries interventionID, or when it is still detected: a report on
// a detected alert means the caller intervened without asking. A report
// matching an already closed alert changes nothing and returns that alert
// with changed set to false.
func (m *Manager) Resolve(patternID, interventionID string) (a Alert, changed bool, err error) {
	if interventionID == "" {
		return Alert{}, false, fmt.Errorf("empty intervention id: %w", ErrUnknownIntervention)
	}
	if cur, ok := m.active[patternID]; ok {
		switch {
		case cur.State == StateIntervening && cur.InterventionID == interventionID:
			now := m.now()
			cur.transition(StateResolved, now)
		case cur.State == StateDetected:
			now := m.now()
			cur.InterventionID = interventionID
			cur.IntervenedAt = &now
			cur.transition(StateResolved, now)
		default:
			if past, ok := m.findClosed(patternID, interventionID); ok {
				return past, false, nil
			}
			return Alert{}, false, fmt.Errorf("intervention %q for pattern %q: %w", interventionID, patternID, ErrUnknownIntervention)
		}
		m.logger.Info("alert resolved",
			zap.String("pattern", patternID),
			zap.String("alert", cur.ID),
			zap.String("intervention", interventionID),
		)
		return m.close(cur), true, nil
	}

	if past, ok := m.findClosed(patternID, interventionID); ok {
		return past, false, nil
	}
	return Alert{}, false, fmt.Errorf("intervention %q for pattern %q: %w", interventionID, patternID, ErrUnknownIntervention)
}

// Sweep expires intervening alerts older than the intervention timeout and
// returns them. Expiry records no outcome.
func (m *Manager) Sweep(now time.Time) []Alert {
	if m.cfg.InterventionTimeout <= 0 {
		return nil
	}
	var expired []Alert
	for _, a := range m.sortedActive() {
		if a.State != StateIntervening || a.IntervenedAt == nil {
			continue
		}
		if now.Sub(*a.IntervenedAt) < m.cfg.InterventionTimeout {
			continue
		}
		a.transition(StateExpired, now)
		m.logger.Info("intervention expired",
			zap.String("pattern", a.PatternID),
			zap.String("alert", a.ID),
			zap.String("intervention", a.InterventionID),
		)
		expired = append(expired, m.close(a))
	}
	return expired
}

// close moves a terminal alert out of the active set.
func (m *Manager) close(a *Alert) Alert {
	delete(m.active, a.PatternID)
	m.lastClosed[a.PatternID] = *a.ClosedAt
	m.appendClosed(*a)
	m.notify(*a)
	return *a
}

func (m *Manager) appendClosed(a Alert) {
	m.closed = append(m.closed, a)
	if len(m.closed) > maxClosed {
		m.closed = slices.Delete(m.closed, 0, len(m.closed)-maxClosed)
	}
}

func (m *Manager) notify(a Alert) {
	if m.observer != nil {
		m.observer(a)
	}
}

// --- Rehydration ---

// Restore loads a persisted alert without emitting transitions. A newer
// non-terminal alert for the same pattern replaces an older one, which is
// kept as expired.
func (m *Manager) Restore(a Alert) {
	m.detections[a.PatternID]++
	if a.State.Terminal() {
		if a.ClosedAt != nil && a.ClosedAt.After(m.lastClosed[a.PatternID]) {
			m.lastClosed[a.PatternID] = *a.ClosedAt
		}
		m.appendClosed(a)
		return
	}
	if cur, ok := m.active[a.PatternID]; ok {
		if !a.UpdatedAt.After(cur.UpdatedAt) {
			m.demote(a)
			return
		}
		m.demote(*cur)
	}
	cp := a
	m.active[a.PatternID] = &cp
}

func (m *Manager) demote(a Alert) {
	closedAt := a.UpdatedAt
	a.State = StateExpired
	a.ClosedAt = &closedAt
	m.appendClosed(a)
	m.notify(a)
}

// --- Reads ---

// Active returns the non-terminal alerts, oldest first.
func (m *Manager) Active() []Alert {
	src := m.sortedActive()
	out := make([]Alert, len(src))
	for i, a := range src {
		out[i] = *a
	}
	return out
}

// ActiveFor returns the non-terminal alert of patternID.
func (m *Manager) ActiveFor(patternID string) (Alert, bool) {
	a, ok := m.active[patternID]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// Closed yields the retained closed alerts, most recently closed first.
// The iteration runs over a copy.
func (m *Manager) Closed() iter.Seq[Alert] {
	snap := slices.Clone(m.closed)
	return func(yield func(Alert) bool) {
		for i := len(snap) - 1; i >= 0; i-- {
			if !yield(snap[i]) {
				return
			}
		}
	}
}

// FindIntervention returns the alert, active or closed, carrying
// interventionID.
func (m *Manager) FindIntervention(interventionID string) (Alert, bool) {
	for _, a := range m.active {
		if a.InterventionID == interventionID {
			return *a, true
		}
	}
	for i := len(m.closed) - 1; i >= 0; i-- {
		if m.closed[i].InterventionID == interventionID {
			return m.closed[i], true
		}
	}
	return Alert{}, false
}

// Detections returns how many alerts were created per pattern.
func (m *Manager) Detections() map[string]int {
	out := make(map[string]int, len(m.detections))
	for k, v := range m.detections {
		out[k] = v
	}
	return out
}

// Occurrences counts the alerts of a pattern, or the alerts that ever
// merged one fingerprint when signature contains a group suffix, that are
// active or retained.
func (m *Manager) Occurrences(signature string) int {
	match := func(a Alert) bool { return a.PatternID == signature || a.HasFingerprint(signature) }
	n := 0
	for _, a := range m.active {
		if match(*a) {
			n++
		}
	}
	for _, a := range m.closed {
		if match(a) {
			n++
		}
	}
	return n
}

func (m *Manager) findClosed(patternID, interventionID string) (Alert, bool) {
	for i := len(m.closed) - 1; i >= 0; i-- {
		a := m.closed[i]
		if a.PatternID == patternID && a.InterventionID == interventionID {
			return a, true
		}
	}
	return Alert{}, false
}

func (m *Manager) sortedActive() []*Alert {
	out := make([]*Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Alert) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PatternID, b.PatternID)
	})
	return out
}
