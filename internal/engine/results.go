package engine

import (
	"time"

	"github.com/HendryAvila/anastrophex/internal/alerts"
	"github.com/HendryAvila/anastrophex/internal/directives"
	"github.com/HendryAvila/anastrophex/internal/feedback"
	"github.com/HendryAvila/anastrophex/internal/history"
	"github.com/HendryAvila/anastrophex/internal/patterns"
)

// ResultVersion is bumped whenever a result shape changes incompatibly.
const ResultVersion = 1

// ToolCall is an observed invocation as reported by the caller.
type ToolCall struct {
	Tool    string
	Args    map[string]any
	Outcome string
	Time    time.Time // zero means now
}

// RecordResult is returned by RecordEvent.
type RecordResult struct {
	Version int            `json:"version"`
	Session string         `json:"session_id"`
	Event   history.Event  `json:"event"`
	Alerts  []alerts.Alert `json:"alerts"`
}

// TagResult is returned by TagOutcome.
type TagResult struct {
	Version int           `json:"version"`
	Session string        `json:"session_id"`
	Event   history.Event `json:"event"`
}

// Intervention is returned by RequestIntervention.
type Intervention struct {
	Version        int          `json:"version"`
	Decision       string       `json:"decision"` // "intervene" or "suppress"
	Alert          alerts.Alert `json:"alert"`
	InterventionID string       `json:"intervention_id,omitempty"`
	Directive      string       `json:"directive,omitempty"`
	Efficacy       float64      `json:"efficacy"`
	Outcomes       int          `json:"outcomes"`
}

// OutcomeResult is returned by ReportOutcome.
type OutcomeResult struct {
	Version        int              `json:"version"`
	Outcome        feedback.Outcome `json:"outcome"`
	Alert          *alerts.Alert    `json:"alert,omitempty"`
	Resolved       bool             `json:"resolved"`
	EfficacyBefore float64          `json:"efficacy_before"`
	Efficacy       float64          `json:"efficacy"`
}

// QueryResult is returned by Query.
type QueryResult struct {
	Version          int     `json:"version"`
	Signature        string  `json:"signature"`
	PatternID        string  `json:"pattern_id"`
	SeenBefore       bool    `json:"seen_before"`
	PriorOccurrences int     `json:"prior_occurrences"`
	Efficacy         float64 `json:"efficacy"`
	Outcomes         int     `json:"outcomes"`
	LastNotes        *string `json:"last_notes"`
	Context          string  `json:"context,omitempty"`
}

// RecentResult is returned by Recent.
type RecentResult struct {
	Version int             `json:"version"`
	Session string          `json:"session_id"`
	Events  []history.Event `json:"events"`
	Stats   history.Stats   `json:"stats"`
}

// PatternSummary is one entry of the patterns snapshot.
type PatternSummary struct {
	patterns.Definition
	Detections   int     `json:"detections"`
	ActiveAlerts int     `json:"active_alerts"`
	Outcomes     int     `json:"outcomes"`
	Efficacy     float64 `json:"efficacy"`
	HasDirective bool    `json:"has_directive"`
}

// PatternsSnapshot lists every definition with its counters.
type PatternsSnapshot struct {
	Version  int              `json:"version"`
	Source   string           `json:"source"`
	LoadedAt time.Time        `json:"loaded_at"`
	Patterns []PatternSummary `json:"patterns"`
}

// AlertsSnapshot lists the non-terminal alerts of every session.
type AlertsSnapshot struct {
	Version int            `json:"version"`
	Alerts  []alerts.Alert `json:"alerts"`
}

// DirectivesSnapshot lists the directive text per pattern.
type DirectivesSnapshot struct {
	Version    int                    `json:"version"`
	Source     string                 `json:"source,omitempty"`
	Directives []directives.Directive `json:"directives"`
	Unmatched  []string               `json:"unmatched,omitempty"`
}

// SessionStatus describes one session pipeline.
type SessionStatus struct {
	ID           string        `json:"id"`
	History      history.Stats `json:"history"`
	ActiveAlerts int           `json:"active_alerts"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActive   time.Time     `json:"last_active"`
}

// PersistenceStatus describes the durable store.
type PersistenceStatus struct {
	Enabled  bool   `json:"enabled"`
	Degraded bool   `json:"degraded"`
	Pending  int    `json:"pending"`
	Failures uint64 `json:"failures"`
}

// Status is the health snapshot.
type Status struct {
	Version     int               `json:"version"`
	StartedAt   time.Time         `json:"started_at"`
	Sessions    []SessionStatus   `json:"sessions"`
	Patterns    int               `json:"patterns"`
	Registry    string            `json:"registry_source"`
	Outcomes    int               `json:"outcomes"`
	Persistence PersistenceStatus `json:"persistence"`
}
