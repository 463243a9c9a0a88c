// Package alerts tracks every detected pattern occurrence through its
// lifecycle:
//
//	detected ──► intervening ──► resolved
//	    │              └───────► expired
//	    └──────► suppressed
//
// resolved, suppressed and expired are terminal. At most one alert per
// pattern is non-terminal at any time within a Manager.
package alerts

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// --- State enum ---

// State is the lifecycle position of an alert.
type State string

const (
	StateDetected    State = "detected"
	StateIntervening State = "intervening"
	StateResolved    State = "resolved"
	StateSuppressed  State = "suppressed"
	StateExpired     State = "expired"
)

var validStates = map[State]bool{
	StateDetected:    true,
	StateIntervening: true,
	StateResolved:    true,
	StateSuppressed:  true,
	StateExpired:     true,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateSuppressed || s == StateExpired
}

// ParseState returns an error if s is not a known state.
func ParseState(s string) (State, error) {
	st := State(s)
	if !validStates[st] {
		return "", fmt.Errorf("invalid alert state %q", s)
	}
	return st, nil
}

// --- Errors ---

var (
	// ErrUnknownPattern is returned for a pattern id missing from the registry.
	ErrUnknownPattern = errors.New("unknown pattern")

	// ErrNoActiveAlert is returned when an intervention is requested for a
	// pattern that has nothing pending.
	ErrNoActiveAlert = errors.New("no active alert")

	// ErrUnknownIntervention is returned when an outcome references an
	// intervention id no alert carries.
	ErrUnknownIntervention = errors.New("unknown intervention")
)

// Alert is one occurrence of a pattern being detected.
type Alert struct {
	ID             string     `json:"id"`
	PatternID      string     `json:"pattern_id"`
	SessionID      string     `json:"session_id"`
	Fingerprint    string     `json:"fingerprint"`
	Fingerprints   []string   `json:"fingerprints,omitempty"` // every fingerprint merged in, oldest first
	State          State      `json:"state"`
	FirstSeq       uint64     `json:"first_seq"`
	LastSeq        uint64     `json:"last_seq"`
	Candidates     int        `json:"candidates"`
	Strength       float64    `json:"strength"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	InterventionID string     `json:"intervention_id,omitempty"`
	IntervenedAt   *time.Time `json:"intervened_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// HasFingerprint reports whether fp was ever merged into the alert.
func (a Alert) HasFingerprint(fp string) bool {
	return a.Fingerprint == fp || slices.Contains(a.Fingerprints, fp)
}

func (a *Alert) addFingerprint(fp string) {
	a.Fingerprint = fp
	if !slices.Contains(a.Fingerprints, fp) {
		// Clip so copies handed out earlier never see the append.
		a.Fingerprints = append(slices.Clip(a.Fingerprints), fp)
	}
}

func (a *Alert) transition(to State, now time.Time) {
	a.State = to
	a.UpdatedAt = now
	if to.Terminal() {
		a.ClosedAt = &now
	}
	alertTransitions.WithLabelValues(string(to)).Inc()
}
