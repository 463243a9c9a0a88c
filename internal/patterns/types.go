// Package patterns holds the catalogue of detectable behavior patterns and
// the incremental matcher that evaluates them against new tool calls.
//
// A Registry is an immutable snapshot: reloading produces a new Registry,
// it never edits definitions in place. The Matcher keeps the minimal
// per-pattern state needed to decide rule satisfaction for each new event
// without rescanning the history.
package patterns

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/spf13/cast"

	"github.com/HendryAvila/anastrophex/internal/history"
)

// RuleKind selects how a pattern is matched.
type RuleKind string

const (
	KindRepetition RuleKind = "repetition"
	KindSequence   RuleKind = "sequence"
	KindAbsence    RuleKind = "absence"
)

// AnyValue in an argument predicate only requires the key to be present.
const AnyValue = "*"

// Definition describes one detectable behavior.
type Definition struct {
	ID          string        `yaml:"id" json:"id" validate:"required,patternid"`
	Name        string        `yaml:"name" json:"name" validate:"required"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Cooldown    time.Duration `yaml:"cooldown" json:"cooldown" validate:"gte=0"`
	DirectiveID string        `yaml:"directive,omitempty" json:"directive_id,omitempty"`
	Directive   string        `yaml:"directive_text,omitempty" json:"-"`
	Rule        Rule          `yaml:"rule" json:"rule"`
}

// Rule is the matcher rule of a pattern. Which fields apply depends on Kind.
type Rule struct {
	Kind RuleKind `yaml:"kind" json:"kind" validate:"required,oneof=repetition sequence absence"`

	// repetition
	Tool          string   `yaml:"tool,omitempty" json:"tool,omitempty"`
	Threshold     int      `yaml:"threshold,omitempty" json:"threshold,omitempty" validate:"gte=0"`
	ResetOn       []string `yaml:"reset_on,omitempty" json:"reset_on,omitempty"`
	ResetOutcomes []string `yaml:"reset_outcomes,omitempty" json:"reset_outcomes,omitempty"`
	GroupBy       string   `yaml:"group_by,omitempty" json:"group_by,omitempty"`

	// repetition and absence trigger
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`

	// repetition and sequence
	Window time.Duration `yaml:"window,omitempty" json:"window,omitempty" validate:"gte=0"`

	// sequence
	Steps []string `yaml:"steps,omitempty" json:"steps,omitempty"`

	// absence
	Trigger string        `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Expect  []string      `yaml:"expect,omitempty" json:"expect,omitempty"`
	Within  time.Duration `yaml:"within,omitempty" json:"within,omitempty" validate:"gte=0"`
}

// check reports the kind-specific problems of a rule.
func (r Rule) check() []string {
	var problems []string
	switch r.Kind {
	case KindRepetition:
		if r.Tool == "" {
			problems = append(problems, "repetition rule needs a tool")
		}
		if r.Threshold < 2 {
			problems = append(problems, "repetition threshold must be at least 2")
		}
		if r.Window <= 0 {
			problems = append(problems, "repetition window must be positive")
		}
		if slices.Contains(r.ResetOn, r.Tool) {
			problems = append(problems, "repetition tool cannot also reset the rule")
		}
	case KindSequence:
		if len(r.Steps) < 2 {
			problems = append(problems, "sequence rule needs at least 2 steps")
		}
		if slices.Contains(r.Steps, "") {
			problems = append(problems, "sequence steps cannot be empty")
		}
		if r.Window <= 0 {
			problems = append(problems, "sequence window must be positive")
		}
		if len(r.Args) > 0 {
			problems = append(problems, "sequence rules do not support args")
		}
	case KindAbsence:
		if r.Trigger == "" {
			problems = append(problems, "absence rule needs a trigger")
		}
		if len(r.Expect) == 0 {
			problems = append(problems, "absence rule needs at least one expected follow-up")
		}
		if slices.Contains(r.Expect, r.Trigger) {
			problems = append(problems, "absence trigger cannot be its own follow-up")
		}
		if r.Within <= 0 {
			problems = append(problems, "absence within must be positive")
		}
	}
	return problems
}

// argsMatch reports whether the event satisfies the rule's shape predicate.
func (r Rule) argsMatch(e history.Event) bool {
	for key, want := range r.Args {
		got, ok := e.Arg(key)
		if !ok {
			return false
		}
		if want == AnyValue {
			continue
		}
		s, err := cast.ToStringE(got)
		if err != nil || s != want {
			return false
		}
	}
	return true
}

// Candidate is one detection produced by the matcher.
type Candidate struct {
	PatternID   string    `json:"pattern_id"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeq    uint64    `json:"first_seq"`
	LastSeq     uint64    `json:"last_seq"`
	Strength    float64   `json:"strength"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Validate reports whether the candidate is well formed.
func (c Candidate) Validate() error {
	switch {
	case c.PatternID == "":
		return fmt.Errorf("candidate has no pattern id")
	case c.FirstSeq == 0 || c.LastSeq < c.FirstSeq:
		return fmt.Errorf("candidate %s has invalid range [%d, %d]", c.PatternID, c.FirstSeq, c.LastSeq)
	case math.IsNaN(c.Strength) || c.Strength < 0:
		return fmt.Errorf("candidate %s has invalid strength %v", c.PatternID, c.Strength)
	}
	return nil
}

// Fingerprint identifies a detection more narrowly than its pattern, for
// example one file in a repetition rule grouped by file path.
func Fingerprint(patternID, group string) string {
	if group == "" {
		return patternID
	}
	return patternID + "#" + group
}
