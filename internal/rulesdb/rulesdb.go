// Package rulesdb persists automation rules, global config, and the firing
// history in SQLite. Thread-safe for concurrent use from multiple goroutines
// within one process; multiple OS processes (daemon, CLI, web) can safely
// read/write via WAL mode + busy timeout.
package rulesdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jathq/jat-sentinel/internal/automation"
	"github.com/jathq/jat-sentinel/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DefaultHistoryCap bounds the persisted activity table.
const DefaultHistoryCap = 1000

const configMetaKey = "global_config"

// DB implements automation.Store on SQLite.
type DB struct {
	db         *sql.DB
	historyCap int
}

// Open creates or opens the database at dbPath with WAL mode and busy
// timeout, and runs migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("rulesdb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("rulesdb: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("rulesdb: %s: %w", pragma, err)
		}
	}

	s := &DB{db: db, historyCap: DefaultHistoryCap}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetHistoryCap overrides the persisted activity retention cap.
func (s *DB) SetHistoryCap(n int) {
	if n > 0 {
		s.historyCap = n
	}
}

// Close checkpoints WAL and closes the database.
func (s *DB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *DB) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("rulesdb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("rulesdb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			enabled               INTEGER NOT NULL DEFAULT 1,
			category              TEXT NOT NULL DEFAULT 'custom',
			patterns              TEXT NOT NULL,
			actions               TEXT NOT NULL,
			cooldown_seconds      INTEGER NOT NULL DEFAULT 0,
			max_triggers_per_hour INTEGER NOT NULL DEFAULT 0,
			session_states        TEXT NOT NULL DEFAULT '[]',
			priority              INTEGER NOT NULL DEFAULT 0,
			created_at            INTEGER NOT NULL, -- unix nanoseconds
			updated_at            INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("rulesdb: create rules: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS activity (
			id        TEXT PRIMARY KEY,
			ts        INTEGER NOT NULL,
			rule_id   TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			session   TEXT NOT NULL,
			excerpt   TEXT NOT NULL DEFAULT '',
			outcomes  TEXT NOT NULL DEFAULT '[]'
		)
	`); err != nil {
		return fmt.Errorf("rulesdb: create activity: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_activity_ts ON activity (ts DESC)
	`); err != nil {
		return fmt.Errorf("rulesdb: create activity index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("rulesdb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Rule CRUD ---

// SaveRule inserts or replaces a rule. The rule must already pass
// Validate; invalid rules are rejected and never persisted.
func (s *DB) SaveRule(r *automation.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	patterns, err := json.Marshal(r.Patterns)
	if err != nil {
		return fmt.Errorf("rulesdb: marshal patterns: %w", err)
	}
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("rulesdb: marshal actions: %w", err)
	}
	states, err := json.Marshal(r.SessionStates)
	if err != nil {
		return fmt.Errorf("rulesdb: marshal states: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rules (
			id, name, description, enabled, category,
			patterns, actions, cooldown_seconds, max_triggers_per_hour,
			session_states, priority, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Name, r.Description, boolToInt(r.Enabled), string(r.Category),
		string(patterns), string(actions), r.CooldownSeconds, r.MaxTriggersPerHour,
		string(states), r.Priority, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("rulesdb: save rule: %w", err)
	}
	return s.touch()
}

// ListRules returns all rules in insertion order. created_at is stored at
// nanosecond granularity so rules created in the same wall-clock second keep
// their order across reloads; id breaks exact ties. Rows whose JSON columns
// fail to decode are skipped with a warning so one corrupted rule cannot
// take the rest down.
func (s *DB) ListRules() ([]*automation.Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, enabled, category,
			patterns, actions, cooldown_seconds, max_triggers_per_hour,
			session_states, priority, created_at, updated_at
		FROM rules ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("rulesdb: list rules: %w", err)
	}
	defer rows.Close()

	var result []*automation.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			storeLog.Warn("corrupted_rule_skipped", slog.String("error", err.Error()))
			continue
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetRule returns one rule by ID.
func (s *DB) GetRule(id string) (*automation.Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, enabled, category,
			patterns, actions, cooldown_seconds, max_triggers_per_hour,
			session_states, priority, created_at, updated_at
		FROM rules WHERE id = ?
	`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, automation.ErrNotFound
	}
	return r, err
}

// DeleteRule removes a rule by ID.
func (s *DB) DeleteRule(id string) error {
	res, err := s.db.Exec("DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("rulesdb: delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return automation.ErrNotFound
	}
	return s.touch()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*automation.Rule, error) {
	r := &automation.Rule{}
	var enabled int
	var patterns, actions, states string
	var createdNano, updatedNano int64
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &enabled, &r.Category,
		&patterns, &actions, &r.CooldownSeconds, &r.MaxTriggersPerHour,
		&states, &r.Priority, &createdNano, &updatedNano,
	); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(patterns), &r.Patterns); err != nil {
		return nil, fmt.Errorf("rule %s patterns: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("rule %s actions: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(states), &r.SessionStates); err != nil {
		return nil, fmt.Errorf("rule %s states: %w", r.ID, err)
	}
	r.CreatedAt = time.Unix(0, createdNano).UTC()
	r.UpdatedAt = time.Unix(0, updatedNano).UTC()
	return r, nil
}

// --- Global config ---

// Config loads the global config, falling back to defaults on first run.
func (s *DB) Config() (automation.GlobalConfig, error) {
	val, err := s.getMeta(configMetaKey)
	if err != nil {
		return automation.GlobalConfig{}, err
	}
	if val == "" {
		return automation.DefaultGlobalConfig(), nil
	}
	var cfg automation.GlobalConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		storeLog.Warn("corrupted_config_reset", slog.String("error", err.Error()))
		return automation.DefaultGlobalConfig(), nil
	}
	return cfg, nil
}

// SaveConfig persists the global config.
func (s *DB) SaveConfig(cfg automation.GlobalConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("rulesdb: marshal config: %w", err)
	}
	if err := s.setMeta(configMetaKey, string(data)); err != nil {
		return err
	}
	return s.touch()
}

// --- Activity history ---

// AppendActivity persists one firing and trims history past the cap.
func (s *DB) AppendActivity(ev automation.ActivityEvent) error {
	outcomes, err := json.Marshal(ev.Outcomes)
	if err != nil {
		return fmt.Errorf("rulesdb: marshal outcomes: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT OR REPLACE INTO activity (id, ts, rule_id, rule_name, session, excerpt, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Timestamp.UnixMilli(), ev.RuleID, ev.RuleName, ev.Session, ev.Excerpt, string(outcomes)); err != nil {
		return fmt.Errorf("rulesdb: append activity: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM activity WHERE id NOT IN (
			SELECT id FROM activity ORDER BY ts DESC LIMIT ?
		)
	`, s.historyCap)
	if err != nil {
		return fmt.Errorf("rulesdb: trim activity: %w", err)
	}
	return nil
}

// RecentActivity returns up to limit events, most recent first.
func (s *DB) RecentActivity(limit int) ([]automation.ActivityEvent, error) {
	if limit <= 0 {
		limit = s.historyCap
	}
	rows, err := s.db.Query(`
		SELECT id, ts, rule_id, rule_name, session, excerpt, outcomes
		FROM activity ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("rulesdb: recent activity: %w", err)
	}
	defer rows.Close()

	var result []automation.ActivityEvent
	for rows.Next() {
		var ev automation.ActivityEvent
		var ts int64
		var outcomes string
		if err := rows.Scan(&ev.ID, &ts, &ev.RuleID, &ev.RuleName, &ev.Session, &ev.Excerpt, &outcomes); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		if err := json.Unmarshal([]byte(outcomes), &ev.Outcomes); err != nil {
			storeLog.Warn("corrupted_activity_skipped", slog.String("id", ev.ID))
			continue
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ClearActivity removes all persisted history.
func (s *DB) ClearActivity() error {
	if _, err := s.db.Exec("DELETE FROM activity"); err != nil {
		return fmt.Errorf("rulesdb: clear activity: %w", err)
	}
	return nil
}

// --- Metadata / change detection ---

func (s *DB) setMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

func (s *DB) getMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// touch updates the change marker other processes poll to detect edits.
func (s *DB) touch() error {
	return s.setMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the change marker, 0 when never modified.
func (s *DB) LastModified() (int64, error) {
	val, err := s.getMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
