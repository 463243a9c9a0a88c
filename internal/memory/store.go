// Package memory is the durable store behind the engine.
//
// It keeps outcome reports and alert records in SQLite as flat rows so a
// restart can rebuild efficacy scores and alert lifecycles without
// replaying tool-call history. The engine's in-memory state stays
// authoritative; this store is written behind it.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/anastrophex/internal/alerts"
	"github.com/HendryAvila/anastrophex/internal/feedback"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeLayout is how timestamps are stored. Fixed-width so text order
// matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".anastrophex"),
	}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Stats holds row counts.
type Stats struct {
	Outcomes     int `json:"outcomes"`
	Alerts       int `json:"alerts"`
	ActiveAlerts int `json:"active_alerts"`
}

// ExportData is a full dump of the store.
type ExportData struct {
	Version    string             `json:"version"`
	ExportedAt string             `json:"exported_at"`
	Outcomes   []feedback.Outcome `json:"outcomes"`
	Alerts     []alerts.Alert     `json:"alerts"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store persists outcomes and alerts in SQLite.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec  func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) queryHook(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

// New creates the data directory if needed, opens SQLite in WAL mode and
// runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "anastrophex.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.DataDir, "anastrophex.db")
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS outcomes (
			id              TEXT PRIMARY KEY,
			pattern_id      TEXT    NOT NULL,
			intervention_id TEXT    NOT NULL,
			alert_id        TEXT,
			worked          INTEGER NOT NULL,
			notes           TEXT    NOT NULL DEFAULT '',
			recorded_at     TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_pattern
			ON outcomes(pattern_id, intervention_id);

		CREATE TABLE IF NOT EXISTS alerts (
			alert_id        TEXT PRIMARY KEY,
			pattern_id      TEXT    NOT NULL,
			session_id      TEXT    NOT NULL,
			fingerprint     TEXT    NOT NULL,
			fingerprints    TEXT    NOT NULL DEFAULT '[]',
			state           TEXT    NOT NULL,
			first_seq       INTEGER NOT NULL,
			last_seq        INTEGER NOT NULL,
			candidates      INTEGER NOT NULL DEFAULT 1,
			strength        REAL    NOT NULL DEFAULT 0,
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL,
			intervention_id TEXT,
			intervened_at   TEXT,
			closed_at       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_pattern ON alerts(pattern_id, state);
		CREATE INDEX IF NOT EXISTS idx_alerts_intervention ON alerts(intervention_id);
	`
	_, err := s.execHook(ctx, s.db, schema)
	return err
}

// ─── Outcomes ────────────────────────────────────────────────────────────────

// SaveOutcome inserts an outcome. Saving the same id twice is a no-op, so
// a retried write is safe.
func (s *Store) SaveOutcome(ctx context.Context, o feedback.Outcome) error {
	_, err := s.execHook(ctx, s.db,
		`INSERT OR IGNORE INTO outcomes (id, pattern_id, intervention_id, alert_id, worked, notes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PatternID, o.InterventionID, nullableString(o.AlertID),
		o.Worked, o.Notes, formatTime(o.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", o.ID, err)
	}
	return nil
}

// LoadOutcomes returns every outcome, oldest first.
func (s *Store) LoadOutcomes(ctx context.Context) ([]feedback.Outcome, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT id, pattern_id, intervention_id, ifnull(alert_id, ''), worked, notes, recorded_at
		 FROM outcomes ORDER BY recorded_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []feedback.Outcome
	for rows.Next() {
		var (
			o  feedback.Outcome
			at string
		)
		if err := rows.Scan(&o.ID, &o.PatternID, &o.InterventionID, &o.AlertID, &o.Worked, &o.Notes, &at); err != nil {
			return nil, err
		}
		if o.RecordedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("outcome %s: %w", o.ID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

// SaveAlert upserts an alert by id. A write only replaces a stored row
// that is older, or equally old and behind it in the lifecycle, so a
// retried stale write never undoes a later transition.
func (s *Store) SaveAlert(ctx context.Context, a alerts.Alert) error {
	fps, err := json.Marshal(a.Fingerprints)
	if err != nil {
		return fmt.Errorf("save alert %s: encode fingerprints: %w", a.ID, err)
	}
	_, err = s.execHook(ctx, s.db,
		`INSERT INTO alerts (alert_id, pattern_id, session_id, fingerprint, fingerprints, state, first_seq, last_seq,
		                     candidates, strength, created_at, updated_at, intervention_id, intervened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(alert_id) DO UPDATE SET
			fingerprint     = excluded.fingerprint,
			fingerprints    = excluded.fingerprints,
			state           = excluded.state,
			first_seq       = excluded.first_seq,
			last_seq        = excluded.last_seq,
			candidates      = excluded.candidates,
			strength        = excluded.strength,
			updated_at      = excluded.updated_at,
			intervention_id = excluded.intervention_id,
			intervened_at   = excluded.intervened_at,
			closed_at       = excluded.closed_at
		 WHERE excluded.updated_at > alerts.updated_at
		    OR (excluded.updated_at = alerts.updated_at
		        AND (`+stateRank("excluded.state")+`, excluded.candidates)
		          > (`+stateRank("alerts.state")+`, alerts.candidates))`,
		a.ID, a.PatternID, a.SessionID, a.Fingerprint, string(fps), string(a.State),
		int64(a.FirstSeq), int64(a.LastSeq), a.Candidates, a.Strength,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		nullableString(a.InterventionID), nullableTime(a.IntervenedAt), nullableTime(a.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	return nil
}

// LoadAlerts returns every alert, oldest first.
func (s *Store) LoadAlerts(ctx context.Context) ([]alerts.Alert, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT alert_id, pattern_id, session_id, fingerprint, fingerprints, state, first_seq, last_seq,
		        candidates, strength, created_at, updated_at, ifnull(intervention_id, ''), intervened_at, closed_at
		 FROM alerts ORDER BY created_at, alert_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a                    alerts.Alert
			fps, state           string
			first, last          int64
			created, updated     string
			intervened, closedAt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PatternID, &a.SessionID, &a.Fingerprint, &fps, &state, &first, &last,
			&a.Candidates, &a.Strength, &created, &updated, &a.InterventionID, &intervened, &closedAt); err != nil {
			return nil, err
		}
		if a.State, err = alerts.ParseState(state); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(fps), &a.Fingerprints); err != nil {
			return nil, fmt.Errorf("alert %s: decode fingerprints: %w", a.ID, err)
		}
		a.FirstSeq, a.LastSeq = uint64(first), uint64(last)
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		if a.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		if a.IntervenedAt, err = parseNullableTime(intervened); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		if a.ClosedAt, err = parseNullableTime(closedAt); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneAlerts deletes closed alerts that closed before cutoff and returns
// how many were removed. Outcomes are never pruned.
func (s *Store) PruneAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execHook(ctx, s.db,
		`DELETE FROM alerts WHERE closed_at IS NOT NULL AND closed_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return res.RowsAffected()
}

// ─── Stats / Export ──────────────────────────────────────────────────────────

// Stats returns row counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	row := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM outcomes),
		        (SELECT COUNT(*) FROM alerts),
		        (SELECT COUNT(*) FROM alerts WHERE closed_at IS NULL)`)
	if err := row.Scan(&st.Outcomes, &st.Alerts, &st.ActiveAlerts); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Export dumps the store.
func (s *Store) Export(ctx context.Context) (*ExportData, error) {
	outcomes, err := s.LoadOutcomes(ctx)
	if err != nil {
		return nil, err
	}
	as, err := s.LoadAlerts(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportData{
		Version:    "1",
		ExportedAt: formatTime(time.Now()),
		Outcomes:   outcomes,
		Alerts:     as,
	}, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// stateRank orders lifecycle states in SQL: detected, then intervening,
// then any terminal state.
func stateRank(col string) string {
	return `CASE ` + col + ` WHEN 'detected' THEN 0 WHEN 'intervening' THEN 1 ELSE 2 END`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
