// Package feedback keeps the outcome reports for past interventions and
// derives a recency-weighted efficacy score per pattern from them.
//
// The in-memory log is authoritative. Durable storage is reached through a
// WriteBehind queue, so a slow or failing disk never blocks a report.
package feedback

import (
	"context"
	"iter"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Prior is the efficacy assumed for a pattern with no evidence.
	Prior = 0.5
	// priorWeight is how many outcomes the prior is worth.
	priorWeight = 1.0
)

// Outcome is one report on whether an intervention changed behavior.
type Outcome struct {
	ID             string    `json:"id"`
	PatternID      string    `json:"pattern_id"`
	InterventionID string    `json:"intervention_id"`
	AlertID        string    `json:"alert_id,omitempty"`
	Worked         bool      `json:"worked"`
	Notes          string    `json:"notes,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Saver persists outcomes.
type Saver interface {
	SaveOutcome(ctx context.Context, o Outcome) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPersistence writes every new outcome behind to saver through w.
func WithPersistence(w *WriteBehind, saver Saver) Option {
	return func(s *Store) {
		s.writer = w
		s.saver = saver
	}
}

// Store is the outcome log. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	byPattern map[string][]Outcome // oldest first
	halfLife  time.Duration
	now       func() time.Time
	logger    *zap.Logger
	writer    *WriteBehind
	saver     Saver
}

// NewStore creates an empty store. halfLife is the age at which an outcome
// counts half as much as a fresh one.
func NewStore(halfLife time.Duration, opts ...Option) *Store {
	s := &Store{
		byPattern: make(map[string][]Outcome),
		halfLife:  halfLife,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends an outcome and schedules it for persistence.
func (s *Store) Record(patternID, interventionID, alertID string, worked bool, notes string) Outcome {
	o := Outcome{
		ID:             uuid.NewString(),
		PatternID:      patternID,
		InterventionID: interventionID,
		AlertID:        alertID,
		Worked:         worked,
		Notes:          notes,
		RecordedAt:     s.now(),
	}

	s.mu.Lock()
	s.byPattern[patternID] = append(s.byPattern[patternID], o)
	s.mu.Unlock()

	outcomesRecorded.WithLabelValues(workedLabel(worked)).Inc()
	s.logger.Info("outcome recorded",
		zap.String("pattern", patternID),
		zap.String("intervention", interventionID),
		zap.Bool("worked", worked),
	)

	if s.writer != nil && s.saver != nil {
		s.writer.Enqueue("outcome", func(ctx context.Context) error {
			return s.saver.SaveOutcome(ctx, o)
		})
	}
	return o
}

// Restore loads persisted outcomes without scheduling writes. Records are
// kept in time order per pattern whatever order they arrive in.
func (s *Store) Restore(outcomes []Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]bool)
	for _, o := range outcomes {
		s.byPattern[o.PatternID] = append(s.byPattern[o.PatternID], o)
		touched[o.PatternID] = true
	}
	for id := range touched {
		slices.SortStableFunc(s.byPattern[id], func(a, b Outcome) int {
			return a.RecordedAt.Compare(b.RecordedAt)
		})
	}
}

// Efficacy returns the recency-weighted share of interventions that worked,
// blended with Prior. A pattern without outcomes scores exactly Prior.
func (s *Store) Efficacy(patternID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return efficacy(s.byPattern[patternID], s.now(), s.halfLife)
}

func efficacy(outcomes []Outcome, now time.Time, halfLife time.Duration) float64 {
	num := Prior * priorWeight
	den := priorWeight
	for _, o := range outcomes {
		w := weight(now.Sub(o.RecordedAt), halfLife)
		if o.Worked {
			num += w
		}
		den += w
	}
	return num / den
}

// weight halves every halfLife. Future timestamps count as fresh.
func weight(age, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// Count returns how many outcomes were reported for patternID.
func (s *Store) Count(patternID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPattern[patternID])
}

// History yields the outcomes of patternID, most recent first, over a copy
// taken at call time.
func (s *Store) History(patternID string) iter.Seq[Outcome] {
	s.mu.RLock()
	snap := slices.Clone(s.byPattern[patternID])
	s.mu.RUnlock()
	return func(yield func(Outcome) bool) {
		for i := len(snap) - 1; i >= 0; i-- {
			if !yield(snap[i]) {
				return
			}
		}
	}
}

// Latest returns the most recent outcome of patternID.
func (s *Store) Latest(patternID string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byPattern[patternID]
	if len(list) == 0 {
		return Outcome{}, false
	}
	return list[len(list)-1], true
}

// FindIntervention returns the most recent outcome that referenced
// interventionID.
func (s *Store) FindIntervention(patternID, interventionID string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byPattern[patternID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].InterventionID == interventionID {
			return list[i], true
		}
	}
	return Outcome{}, false
}

// Total returns the number of outcomes across all patterns.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.byPattern {
		n += len(list)
	}
	return n
}

func workedLabel(worked bool) string {
	if worked {
		return "worked"
	}
	return "did_not_work"
}
