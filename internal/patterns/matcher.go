package patterns

import (
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/anastrophex/internal/history"
)

type patternState struct {
	def   Definition
	state ruleState
}

// Matcher evaluates every pattern of a registry against new events. Each
// pattern keeps its own state; patterns never see each other. A fault in
// one pattern is recovered, logged and clears only that pattern's state.
//
// Not safe for concurrent use: a session feeds its matcher serially.
type Matcher struct {
	registry *Registry
	patterns []*patternState
	logger   *zap.Logger
}

// NewMatcher creates a matcher with empty state for every pattern in reg.
func NewMatcher(reg *Registry, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{registry: reg, logger: logger}
	for _, def := range reg.All() {
		st := newRuleState(def.Rule)
		if st == nil {
			logger.Warn("skipping pattern with unknown rule kind",
				zap.String("pattern", def.ID), zap.String("kind", string(def.Rule.Kind)))
			continue
		}
		m.patterns = append(m.patterns, &patternState{def: def, state: st})
	}
	return m
}

// Registry returns the snapshot the matcher evaluates.
func (m *Matcher) Registry() *Registry { return m.registry }

// Rebase switches to a new registry. Patterns whose definition is unchanged
// keep their in-flight state; new or changed patterns start empty.
func (m *Matcher) Rebase(reg *Registry) *Matcher {
	next := NewMatcher(reg, m.logger)
	old := make(map[string]*patternState, len(m.patterns))
	for _, ps := range m.patterns {
		old[ps.def.ID] = ps
	}
	for i, ps := range next.patterns {
		if prev, ok := old[ps.def.ID]; ok && reflect.DeepEqual(prev.def, ps.def) {
			next.patterns[i] = prev
		}
	}
	return next
}

// Evaluate feeds one new event to every pattern and returns the candidates
// it produced, in registry order.
func (m *Matcher) Evaluate(e history.Event) []Candidate {
	var out []Candidate
	for _, ps := range m.patterns {
		matches := m.safely(ps, "observe", func() []match { return ps.state.observe(e) })
		out = appendCandidates(out, ps.def.ID, e.Time, matches)
	}
	candidatesEmitted(out)
	return out
}

// Tick lets time-based rules fire without a new event.
func (m *Matcher) Tick(now time.Time) []Candidate {
	var out []Candidate
	for _, ps := range m.patterns {
		matches := m.safely(ps, "tick", func() []match { return ps.state.tick(now) })
		out = appendCandidates(out, ps.def.ID, now, matches)
	}
	candidatesEmitted(out)
	return out
}

// Annotate applies an outcome tag set after the event was first evaluated.
func (m *Matcher) Annotate(e history.Event) {
	for _, ps := range m.patterns {
		m.safely(ps, "annotate", func() []match {
			ps.state.annotate(e)
			return nil
		})
	}
}

func (m *Matcher) safely(ps *patternState, op string, fn func() []match) (matches []match) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("pattern evaluation fault; state reset",
				zap.String("pattern", ps.def.ID),
				zap.String("op", op),
				zap.String("panic", fmt.Sprint(r)),
			)
			matcherFaults.WithLabelValues(ps.def.ID).Inc()
			matches = nil
			m.resetQuietly(ps)
		}
	}()
	return fn()
}

func (m *Matcher) resetQuietly(ps *patternState) {
	defer func() {
		if recover() != nil {
			ps.state = newRuleState(ps.def.Rule)
		}
	}()
	ps.state.reset()
}

func appendCandidates(out []Candidate, patternID string, at time.Time, matches []match) []Candidate {
	for _, mt := range matches {
		out = append(out, Candidate{
			PatternID:   patternID,
			Fingerprint: Fingerprint(patternID, mt.group),
			FirstSeq:    mt.first,
			LastSeq:     mt.last,
			Strength:    mt.strength,
			DetectedAt:  at,
		})
	}
	return out
}
