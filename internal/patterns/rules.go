package patterns

import (
	"slices"
	"time"

	"github.com/spf13/cast"

	"github.com/HendryAvila/anastrophex/internal/history"
)

// maxRepetitionGroups bounds the number of tracked groups per pattern.
// Stale groups are pruned once the bound is crossed.
const maxRepetitionGroups = 256

// match is a rule firing before it is bound to a pattern id.
type match struct {
	group    string
	first    uint64
	last     uint64
	strength float64
}

// ruleState is the incremental state of one rule.
type ruleState interface {
	observe(e history.Event) []match
	tick(now time.Time) []match
	annotate(e history.Event)
	reset()
}

func newRuleState(r Rule) ruleState {
	switch r.Kind {
	case KindRepetition:
		return &repetitionState{rule: r, groups: make(map[string][]hit)}
	case KindSequence:
		return &sequenceState{rule: r, reached: make([]hit, len(r.Steps)+1)}
	case KindAbsence:
		return &absenceState{rule: r}
	default:
		return nil
	}
}

type hit struct {
	seq uint64
	at  time.Time
}

func (h hit) valid() bool { return h.seq != 0 }

// --- repetition ---

type repetitionState struct {
	rule   Rule
	groups map[string][]hit
}

func (s *repetitionState) observe(e history.Event) []match {
	if s.isReset(e) {
		s.resetFor(e)
		return nil
	}
	if e.Tool != s.rule.Tool || !s.rule.argsMatch(e) {
		return nil
	}

	key := s.groupKey(e)
	hits := s.groups[key]
	cutoff := e.Time.Add(-s.rule.Window)
	i := 0
	for i < len(hits) && hits[i].at.Before(cutoff) {
		i++
	}
	hits = append(hits[i:], hit{seq: e.Seq, at: e.Time})
	s.groups[key] = hits

	if len(s.groups) > maxRepetitionGroups {
		s.prune(cutoff)
	}

	if len(hits) < s.rule.Threshold {
		return nil
	}
	return []match{{
		group:    key,
		first:    hits[0].seq,
		last:     e.Seq,
		strength: float64(len(hits)) / float64(s.rule.Threshold),
	}}
}

func (s *repetitionState) isReset(e history.Event) bool {
	return slices.Contains(s.rule.ResetOn, e.Tool) ||
		(e.Outcome != "" && slices.Contains(s.rule.ResetOutcomes, e.Outcome))
}

// resetFor clears the group the event belongs to, or every group when the
// event carries no group key.
func (s *repetitionState) resetFor(e history.Event) {
	if s.rule.GroupBy != "" {
		if key := s.groupKey(e); key != "" {
			delete(s.groups, key)
			return
		}
	}
	clear(s.groups)
}

func (s *repetitionState) groupKey(e history.Event) string {
	if s.rule.GroupBy == "" {
		return ""
	}
	v, ok := e.Arg(s.rule.GroupBy)
	if !ok {
		return ""
	}
	return cast.ToString(v)
}

func (s *repetitionState) prune(cutoff time.Time) {
	for key, hits := range s.groups {
		if len(hits) == 0 || hits[len(hits)-1].at.Before(cutoff) {
			delete(s.groups, key)
		}
	}
}

func (s *repetitionState) tick(time.Time) []match { return nil }

// annotate applies an outcome tag that arrived after the event was matched.
func (s *repetitionState) annotate(e history.Event) {
	if e.Outcome != "" && slices.Contains(s.rule.ResetOutcomes, e.Outcome) {
		s.resetFor(e)
	}
}

func (s *repetitionState) reset() { clear(s.groups) }

// --- sequence ---

// sequenceState keeps, for every prefix length i, the latest start of a
// partial match that completed steps[:i]. Preferring the latest start gives
// a pending match the most room to finish inside the window.
type sequenceState struct {
	rule    Rule
	reached []hit
}

func (s *sequenceState) observe(e history.Event) []match {
	steps := s.rule.Steps
	k := len(steps)

	cutoff := e.Time.Add(-s.rule.Window)
	for i := 1; i <= k; i++ {
		if s.reached[i].valid() && s.reached[i].at.Before(cutoff) {
			s.reached[i] = hit{}
		}
	}

	// Walk backwards so one event advances at most one step.
	for i := k - 1; i >= 0; i-- {
		if steps[i] != e.Tool {
			continue
		}
		if i == 0 {
			s.reached[1] = hit{seq: e.Seq, at: e.Time}
			continue
		}
		if s.reached[i].valid() {
			s.reached[i+1] = s.reached[i]
		}
	}

	if !s.reached[k].valid() {
		return nil
	}
	m := match{first: s.reached[k].seq, last: e.Seq, strength: 1}
	s.reset()
	return []match{m}
}

func (s *sequenceState) tick(time.Time) []match { return nil }
func (s *sequenceState) annotate(history.Event) {}

func (s *sequenceState) reset() {
	for i := range s.reached {
		s.reached[i] = hit{}
	}
}

// --- absence ---

type absenceState struct {
	rule    Rule
	pending hit
	lastSeq uint64
}

func (s *absenceState) observe(e history.Event) []match {
	var out []match
	if s.pending.valid() && e.Time.Sub(s.pending.at) > s.rule.Within {
		out = append(out, s.fire(e.Time))
	}

	switch {
	case slices.Contains(s.rule.Expect, e.Tool):
		s.pending = hit{}
	case e.Tool == s.rule.Trigger && !s.pending.valid() && s.rule.argsMatch(e):
		s.pending = hit{seq: e.Seq, at: e.Time}
	}
	s.lastSeq = e.Seq
	return out
}

func (s *absenceState) tick(now time.Time) []match {
	if !s.pending.valid() || now.Sub(s.pending.at) <= s.rule.Within {
		return nil
	}
	return []match{s.fire(now)}
}

// fire reports the pending trigger through the last event seen before the
// deadline passed, and clears it.
func (s *absenceState) fire(now time.Time) match {
	m := match{
		first:    s.pending.seq,
		last:     max(s.pending.seq, s.lastSeq),
		strength: float64(now.Sub(s.pending.at)) / float64(s.rule.Within),
	}
	s.pending = hit{}
	return m
}

func (s *absenceState) annotate(history.Event) {}

func (s *absenceState) reset() {
	s.pending = hit{}
}
