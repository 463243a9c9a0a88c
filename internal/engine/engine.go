// Package engine wires the detection pipeline together.
//
// Each session owns an event history, a matcher and an alert manager,
// serialized by a session mutex. The pattern registry, the directive set
// and the outcome feedback store are shared by every session. Sessions are
// created on first use; pattern state never crosses sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/anastrophex/internal/alerts"
	"github.com/HendryAvila/anastrophex/internal/directives"
	"github.com/HendryAvila/anastrophex/internal/feedback"
	"github.com/HendryAvila/anastrophex/internal/history"
	"github.com/HendryAvila/anastrophex/internal/patterns"
)

// DefaultSession is used when a caller names no session.
const DefaultSession = "default"

// Config holds the engine thresholds.
type Config struct {
	History       history.Config
	Alerts        alerts.Config
	HalfLife      time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		History:       history.DefaultConfig(),
		Alerts:        alerts.DefaultConfig(),
		HalfLife:      7 * 24 * time.Hour,
		SweepInterval: 30 * time.Second,
	}
}

// Store is the durable side of the engine.
type Store interface {
	SaveOutcome(ctx context.Context, o feedback.Outcome) error
	SaveAlert(ctx context.Context, a alerts.Alert) error
	LoadOutcomes(ctx context.Context) ([]feedback.Outcome, error)
	LoadAlerts(ctx context.Context) ([]alerts.Alert, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore persists outcomes and alerts to store through w.
func WithStore(store Store, w *feedback.WriteBehind) Option {
	return func(e *Engine) {
		e.store = store
		e.writer = w
	}
}

// WithDirectives sets the directive document resolved against the registry.
func WithDirectives(doc *directives.Document) Option {
	return func(e *Engine) { e.directiveDoc = doc }
}

type session struct {
	id         string
	mu         sync.Mutex
	history    *history.History
	matcher    *patterns.Matcher
	alerts     *alerts.Manager
	createdAt  time.Time
	lastActive time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	startedAt time.Time

	store    Store
	writer   *feedback.WriteBehind
	feedback *feedback.Store

	mu           sync.RWMutex
	registry     *patterns.Registry
	directiveDoc *directives.Document
	directives   *directives.Set
	sessions     map[string]*session
}

// New builds an engine over reg.
func New(cfg Config, reg *patterns.Registry, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		registry: reg,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.now()

	fopts := []feedback.Option{feedback.WithClock(e.now), feedback.WithLogger(e.logger)}
	if e.store != nil && e.writer != nil {
		fopts = append(fopts, feedback.WithPersistence(e.writer, e.store))
	}
	e.feedback = feedback.NewStore(cfg.HalfLife, fopts...)
	e.directives = directives.Resolve(reg, e.directiveDoc)
	e.logUnmatchedDirectives()
	return e
}

// Feedback exposes the shared outcome store.
func (e *Engine) Feedback() *feedback.Store { return e.feedback }

// Registry returns the current pattern snapshot.
func (e *Engine) Registry() *patterns.Registry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

// --- Sessions ---

func normalizeSession(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSession
	}
	return id
}

// session returns the pipeline for id, creating it when create is set.
func (e *Engine) session(id string, create bool) (*session, bool) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok || !create {
		return s, ok
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s, true
	}
	s = e.newSessionLocked(id)
	e.sessions[id] = s
	sessionsActive.Set(float64(len(e.sessions)))
	e.logger.Info("session started", zap.String("session", id))
	return s, true
}

func (e *Engine) newSessionLocked(id string) *session {
	now := e.now()
	mopts := []alerts.Option{
		alerts.WithClock(e.now),
		alerts.WithLogger(e.logger),
	}
	if e.store != nil && e.writer != nil {
		store, writer := e.store, e.writer
		mopts = append(mopts, alerts.WithObserver(func(a alerts.Alert) {
			writer.Enqueue("alert", func(ctx context.Context) error {
				return store.SaveAlert(ctx, a)
			})
		}))
	}
	return &session{
		id:         id,
		history:    history.New(e.cfg.History, history.WithClock(e.now)),
		matcher:    patterns.NewMatcher(e.registry, e.logger.With(zap.String("session", id))),
		alerts:     alerts.NewManager(id, e.cfg.Alerts, e.registry, e.feedback, mopts...),
		createdAt:  now,
		lastActive: now,
	}
}

// sortedSessions returns every session ordered by id.
func (e *Engine) sortedSessions() []*session {
	e.mu.RLock()
	out := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b *session) int { return strings.Compare(a.id, b.id) })
	return out
}

// --- Write operations ---

// RecordEvent appends a tool call to a session and runs detection on it.
func (e *Engine) RecordEvent(sessionID string, call ToolCall) (*RecordResult, error) {
	if strings.TrimSpace(call.Tool) == "" {
		return nil, fmt.Errorf("tool name is required: %w", ErrInvalidArgument)
	}
	sessionID = normalizeSession(sessionID)
	s, _ := e.session(sessionID, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.history.Append(history.Event{
		Time:    call.Time,
		Tool:    call.Tool,
		Args:    call.Args,
		Outcome: call.Outcome,
	})
	eventsRecorded.Inc()
	s.lastActive = e.now()

	touched := e.observeLocked(s, s.matcher.Evaluate(ev))
	touched = append(touched, s.alerts.Sweep(e.now())...)

	return &RecordResult{
		Version: ResultVersion,
		Session: sessionID,
		Event:   ev,
		Alerts:  touched,
	}, nil
}

func (e *Engine) observeLocked(s *session, cands []patterns.Candidate) []alerts.Alert {
	touched := []alerts.Alert{}
	for _, c := range cands {
		if a, ok := s.alerts.Observe(c); ok {
			touched = upsertAlert(touched, a)
		}
	}
	return touched
}

func upsertAlert(list []alerts.Alert, a alerts.Alert) []alerts.Alert {
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return list
		}
	}
	return append(list, a)
}

// TagOutcome sets the outcome tag of an event already recorded. Rules that
// reset on outcomes see the tag immediately.
func (e *Engine) TagOutcome(sessionID string, seq uint64, outcome string) (*TagResult, error) {
	if strings.TrimSpace(outcome) == "" {
		return nil, fmt.Errorf("outcome is required: %w", ErrInvalidArgument)
	}
	sessionID = normalizeSession(sessionID)
	s, ok := e.session(sessionID, false)
	if !ok {
		return nil, unknown(RefSession, sessionID, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.history.Tag(seq, outcome)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return nil, unknown(RefEvent, fmt.Sprint(seq), err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	s.matcher.Annotate(ev)
	return &TagResult{Version: ResultVersion, Session: sessionID, Event: ev}, nil
}

// RequestIntervention asks whether the active alert of patternID in a
// session should be intervened on.
func (e *Engine) RequestIntervention(sessionID, patternID, interventionID string) (*Intervention, error) {
	sessionID = normalizeSession(sessionID)
	if !e.Registry().Has(patternID) {
		return nil, unknown(RefPattern, patternID, nil)
	}
	s, ok := e.session(sessionID, false)
	if !ok {
		return nil, unknown(RefAlert, patternID, alerts.ErrNoActiveAlert)
	}

	s.mu.Lock()
	a, err := s.alerts.Intervene(patternID, interventionID)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, alerts.ErrUnknownPattern) {
			return nil, unknown(RefPattern, patternID, err)
		}
		return nil, unknown(RefAlert, patternID, err)
	}

	res := &Intervention{
		Version:  ResultVersion,
		Alert:    a,
		Efficacy: e.feedback.Efficacy(patternID),
		Outcomes: e.feedback.Count(patternID),
	}
	if a.State == alerts.StateSuppressed {
		res.Decision = "suppress"
		return res, nil
	}
	res.Decision = "intervene"
	res.InterventionID = a.InterventionID
	if d, ok := e.directiveSet().Get(patternID); ok {
		res.Directive = d.Text
	}
	return res, nil
}

// ReportOutcome records whether an intervention worked and resolves the
// alert it belongs to. The alert carrying interventionID is preferred; a
// pattern still in detected state is resolved with that id otherwise. A
// report for an alert that already closed is recorded without a state
// change.
func (e *Engine) ReportOutcome(patternID, interventionID string, worked bool, notes string) (*OutcomeResult, error) {
	if strings.TrimSpace(interventionID) == "" {
		return nil, fmt.Errorf("intervention id is required: %w", ErrInvalidArgument)
	}
	if !e.Registry().Has(patternID) {
		return nil, unknown(RefPattern, patternID, nil)
	}

	a, changed, err := e.resolve(patternID, interventionID)
	if err != nil {
		return nil, err
	}

	before := e.feedback.Efficacy(patternID)
	alertID := ""
	if a != nil {
		alertID = a.ID
	}
	o := e.feedback.Record(patternID, interventionID, alertID, worked, notes)

	return &OutcomeResult{
		Version:        ResultVersion,
		Outcome:        o,
		Alert:          a,
		Resolved:       changed,
		EfficacyBefore: before,
		Efficacy:       e.feedback.Efficacy(patternID),
	}, nil
}

func (e *Engine) resolve(patternID, interventionID string) (*alerts.Alert, bool, error) {
	sessions := e.sortedSessions()

	// An active alert that carries the id.
	for _, s := range sessions {
		s.mu.Lock()
		cur, ok := s.alerts.ActiveFor(patternID)
		if ok && cur.InterventionID == interventionID {
			a, changed, err := s.alerts.Resolve(patternID, interventionID)
			s.mu.Unlock()
			return &a, changed, err
		}
		s.mu.Unlock()
	}

	// The most recently updated alert still in detected state.
	var target *session
	var newest time.Time
	for _, s := range sessions {
		s.mu.Lock()
		cur, ok := s.alerts.ActiveFor(patternID)
		s.mu.Unlock()
		if ok && cur.State == alerts.StateDetected && (target == nil || cur.UpdatedAt.After(newest)) {
			target, newest = s, cur.UpdatedAt
		}
	}
	if target != nil {
		target.mu.Lock()
		a, changed, err := target.alerts.Resolve(patternID, interventionID)
		target.mu.Unlock()
		if err == nil {
			return &a, changed, nil
		}
	}

	// A closed alert, or an outcome already on record for the id.
	for _, s := range sessions {
		s.mu.Lock()
		a, ok := s.alerts.FindIntervention(interventionID)
		s.mu.Unlock()
		if ok && a.PatternID == patternID {
			return &a, false, nil
		}
	}
	if _, ok := e.feedback.FindIntervention(patternID, interventionID); ok {
		return nil, false, nil
	}
	return nil, false, unknown(RefIntervention, interventionID, alerts.ErrUnknownIntervention)
}

// --- Reads ---

// Query answers whether a signature was seen before and how well
// intervening on it worked. signature is a pattern id or a fingerprint;
// context is echoed back and never used for matching.
func (e *Engine) Query(signature, context string) (*QueryResult, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, fmt.Errorf("signature is required: %w", ErrInvalidArgument)
	}
	patternID, _, _ := strings.Cut(signature, "#")

	occurrences := 0
	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		occurrences += s.alerts.Occurrences(signature)
		s.mu.Unlock()
	}
	outcomes := e.feedback.Count(patternID)

	if !e.Registry().Has(patternID) && occurrences == 0 && outcomes == 0 {
		return nil, unknown(RefPattern, patternID, nil)
	}

	res := &QueryResult{
		Version:          ResultVersion,
		Signature:        signature,
		PatternID:        patternID,
		SeenBefore:       occurrences > 0 || outcomes > 0,
		PriorOccurrences: occurrences,
		Efficacy:         e.feedback.Efficacy(patternID),
		Outcomes:         outcomes,
		Context:          context,
	}
	for o := range e.feedback.History(patternID) {
		if o.Notes != "" {
			notes := o.Notes
			res.LastNotes = &notes
			break
		}
	}
	return res, nil
}

// Recent returns up to limit of the latest events of a session, oldest
// first. An unknown session has no events.
func (e *Engine) Recent(sessionID string, limit int) *RecentResult {
	sessionID = normalizeSession(sessionID)
	res := &RecentResult{Version: ResultVersion, Session: sessionID, Events: []history.Event{}}
	s, ok := e.session(sessionID, false)
	if !ok {
		return res
	}
	for ev := range s.history.Latest(limit) {
		res.Events = append(res.Events, ev)
	}
	res.Stats = s.history.Stats()
	return res
}

// Patterns returns every definition with its trigger counters and efficacy.
func (e *Engine) Patterns() *PatternsSnapshot {
	reg := e.Registry()
	set := e.directiveSet()

	detections := make(map[string]int)
	active := make(map[string]int)
	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		for id, n := range s.alerts.Detections() {
			detections[id] += n
		}
		for _, a := range s.alerts.Active() {
			active[a.PatternID]++
		}
		s.mu.Unlock()
	}

	snap := &PatternsSnapshot{
		Version:  ResultVersion,
		Source:   reg.Source(),
		LoadedAt: reg.LoadedAt(),
		Patterns: []PatternSummary{},
	}
	for _, def := range reg.All() {
		_, hasDirective := set.Get(def.ID)
		snap.Patterns = append(snap.Patterns, PatternSummary{
			Definition:   def,
			Detections:   detections[def.ID],
			ActiveAlerts: active[def.ID],
			Outcomes:     e.feedback.Count(def.ID),
			Efficacy:     e.feedback.Efficacy(def.ID),
			HasDirective: hasDirective,
		})
	}
	return snap
}

// ActiveAlerts returns the non-terminal alerts of every session, oldest
// first.
func (e *Engine) ActiveAlerts() *AlertsSnapshot {
	snap := &AlertsSnapshot{Version: ResultVersion, Alerts: []alerts.Alert{}}
	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		snap.Alerts = append(snap.Alerts, s.alerts.Active()...)
		s.mu.Unlock()
	}
	slices.SortStableFunc(snap.Alerts, func(a, b alerts.Alert) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return snap
}

// Directives returns the directive text per pattern.
func (e *Engine) Directives() *DirectivesSnapshot {
	e.mu.RLock()
	set, doc := e.directives, e.directiveDoc
	e.mu.RUnlock()

	snap := &DirectivesSnapshot{
		Version:    ResultVersion,
		Directives: set.All(),
		Unmatched:  set.Unmatched(),
	}
	if doc != nil {
		snap.Source = doc.Source
	}
	return snap
}

// Directive returns the directive for one pattern.
func (e *Engine) Directive(patternID string) (directives.Directive, error) {
	if !e.Registry().Has(patternID) {
		return directives.Directive{}, unknown(RefPattern, patternID, nil)
	}
	d, ok := e.directiveSet().Get(patternID)
	if !ok {
		return directives.Directive{PatternID: patternID}, nil
	}
	return d, nil
}

func (e *Engine) directiveSet() *directives.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.directives
}

// Status reports sessions, registry and persistence health.
func (e *Engine) Status() *Status {
	reg := e.Registry()
	st := &Status{
		Version:   ResultVersion,
		StartedAt: e.startedAt,
		Sessions:  []SessionStatus{},
		Patterns:  reg.Len(),
		Registry:  reg.Source(),
		Outcomes:  e.feedback.Total(),
	}
	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:           s.id,
			History:      s.history.Stats(),
			ActiveAlerts: len(s.alerts.Active()),
			CreatedAt:    s.createdAt,
			LastActive:   s.lastActive,
		})
		s.mu.Unlock()
	}
	if e.writer != nil {
		st.Persistence = PersistenceStatus{
			Enabled:  true,
			Degraded: e.writer.Degraded(),
			Pending:  e.writer.Pending(),
			Failures: e.writer.Failures(),
		}
	}
	return st
}

// --- Background work ---

// Sweep fires time-based rules and expires stale interventions in every
// session. It returns the alerts it touched.
func (e *Engine) Sweep(now time.Time) []alerts.Alert {
	sweeps.Inc()
	var touched []alerts.Alert
	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		touched = append(touched, e.observeLocked(s, s.matcher.Tick(now))...)
		touched = append(touched, s.alerts.Sweep(now)...)
		s.mu.Unlock()
	}
	return touched
}

// RunSweeper calls Sweep on every tick until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context) error {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if touched := e.Sweep(e.now()); len(touched) > 0 {
				e.logger.Debug("sweep touched alerts", zap.Int("count", len(touched)))
			}
		}
	}
}

// SetRegistry swaps in a reloaded registry. Matchers keep the state of
// patterns whose definitions did not change.
func (e *Engine) SetRegistry(reg *patterns.Registry) {
	e.mu.Lock()
	e.registry = reg
	e.directives = directives.Resolve(reg, e.directiveDoc)
	e.mu.Unlock()

	for _, s := range e.sortedSessions() {
		s.mu.Lock()
		s.matcher = s.matcher.Rebase(reg)
		s.alerts.SetCatalog(reg)
		s.mu.Unlock()
	}
	e.logUnmatchedDirectives()
	e.logger.Info("pattern registry swapped",
		zap.String("source", reg.Source()), zap.Int("patterns", reg.Len()))
}

func (e *Engine) logUnmatchedDirectives() {
	if un := e.directiveSet().Unmatched(); len(un) > 0 {
		e.logger.Warn("directive sections match no pattern", zap.Strings("sections", un))
	}
}

// Rehydrate loads persisted outcomes and alerts. Call once before serving.
func (e *Engine) Rehydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	outcomes, err := e.store.LoadOutcomes(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate outcomes: %w", err)
	}
	e.feedback.Restore(outcomes)

	as, err := e.store.LoadAlerts(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate alerts: %w", err)
	}
	for _, a := range as {
		s, _ := e.session(normalizeSession(a.SessionID), true)
		s.mu.Lock()
		s.alerts.Restore(a)
		s.mu.Unlock()
	}
	e.logger.Info("rehydrated from durable store",
		zap.Int("outcomes", len(outcomes)), zap.Int("alerts", len(as)))
	return nil
}
