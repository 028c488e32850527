// Package journal persists session provenance in SQLite: one row per
// validated operation decision and one row per dispense-loop iteration.
// A nil *Journal is a valid no-op sink so the core runs without persistence.
package journal

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	started_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operations (
	op_id           TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	target          TEXT NOT NULL,
	decision        TEXT NOT NULL,
	reason          TEXT,
	position_before TEXT NOT NULL,
	position_after  TEXT NOT NULL,
	metadata        TEXT,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS dispense_samples (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	phase         INTEGER NOT NULL,
	step_mm       REAL NOT NULL,
	weight_grams  REAL NOT NULL,
	stable        INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

// #endregion schema

// #region types

// Operation decisions.
const (
	DecisionOK       = "ok"
	DecisionRejected = "rejected"
	DecisionAborted  = "aborted"
)

// OperationEntry is one validated-operation row.
type OperationEntry struct {
	Kind           string // "move" | "action"
	Target         string // target position id or action id
	Decision       string
	Reason         string
	PositionBefore string
	PositionAfter  string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// DispenseSample is one closed-loop iteration row.
type DispenseSample struct {
	Iteration   int
	Phase       int // 1 = coarse, 2 = feedback
	StepMM      float64
	WeightGrams float64
	Stable      bool
	CreatedAt   time.Time
}

// #endregion types

// #region journal

// Journal records provenance for one controller session.
type Journal struct {
	db        *sql.DB
	sessionID string
}

// Open opens (creating if needed) the journal database, runs migrations and
// starts a new session.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	id := uuid.New().String()
	_, err = db.Exec(
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Journal{db: db, sessionID: id}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// SessionID returns the current session id.
func (j *Journal) SessionID() string {
	if j == nil {
		return ""
	}
	return j.sessionID
}

// DB exposes the underlying handle for read-only inspection tooling.
func (j *Journal) DB() *sql.DB {
	if j == nil {
		return nil
	}
	return j.db
}

// LogOperation records one validated-operation decision.
func (j *Journal) LogOperation(e OperationEntry) error {
	if j == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO operations (op_id, session_id, kind, target, decision, reason, position_before, position_after, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		j.sessionID,
		e.Kind,
		e.Target,
		e.Decision,
		nullIfEmpty(e.Reason),
		e.PositionBefore,
		e.PositionAfter,
		nullIfEmpty(encodeMetadata(e.Metadata)),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log operation: %w", err)
	}
	return nil
}

// LogDispenseSample records one dispense-loop iteration.
func (j *Journal) LogDispenseSample(s DispenseSample) error {
	if j == nil {
		return nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(
		`INSERT INTO dispense_samples (session_id, iteration, phase, step_mm, weight_grams, stable, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.sessionID,
		s.Iteration,
		s.Phase,
		s.StepMM,
		s.WeightGrams,
		boolToInt(s.Stable),
		s.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log dispense sample: %w", err)
	}
	return nil
}

// OperationCount returns the number of operations recorded in this session.
func (j *Journal) OperationCount() (int, error) {
	if j == nil {
		return 0, nil
	}
	var n int
	err := j.db.QueryRow(
		`SELECT COUNT(*) FROM operations WHERE session_id = ?`, j.sessionID,
	).Scan(&n)
	return n, err
}

// #endregion journal

// #region helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeMetadata renders annotation pairs as "k=v" joined by commas, keys
// sorted for stable rows.
func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ",")
}

// #endregion helpers
