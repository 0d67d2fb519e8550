package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	phase      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	data       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_entries (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	sequence   INTEGER NOT NULL,
	timestamp  TIMESTAMP NOT NULL,
	phase      TEXT NOT NULL,
	action     TEXT NOT NULL,
	result     TEXT NOT NULL,
	details    TEXT,
	PRIMARY KEY (session_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`

// SQLite persists sessions in a single-file database. The full session state
// lives in a JSON column; audit entries are individual rows so the trail is
// queryable and strictly ordered.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database at dsn.
func NewSQLite(dsn string, logger *zap.Logger) (*SQLite, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess *engine.FixSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, project_id, phase, created_at, updated_at, data) VALUES (?, ?, ?, ?, ?, ?)",
		sess.ID, sess.ProjectID, string(sess.Phase), sess.CreatedAt, sess.UpdatedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateSession(ctx context.Context, sess *engine.FixSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET phase = ?, updated_at = ?, data = ? WHERE id = ?",
		string(sess.Phase), sess.UpdatedAt, string(data), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, engine.ErrSessionNotFound)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*engine.FixSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM sessions WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, engine.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess engine.FixSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	trail, err := s.ListAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(trail) > len(sess.Audit) {
		sess.Audit = trail
	}
	return &sess, nil
}

func (s *SQLite) ListSessions(ctx context.Context) ([]*engine.FixSession, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM sessions ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*engine.FixSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var sess engine.FixSession
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendAudit(ctx context.Context, sessionID string, e engine.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_entries (session_id, sequence, timestamp, phase, action, result, details) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sessionID, e.Sequence, e.Timestamp, string(e.Phase), e.Action, string(e.Result), e.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *SQLite) ListAudit(ctx context.Context, sessionID string) ([]engine.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sequence, timestamp, phase, action, result, details FROM audit_entries WHERE session_id = ? ORDER BY sequence",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []engine.AuditEntry
	for rows.Next() {
		var (
			e       engine.AuditEntry
			phase   string
			result  string
			details sql.NullString
			ts      time.Time
		)
		if err := rows.Scan(&e.Sequence, &ts, &phase, &e.Action, &result, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = ts
		e.Phase = engine.Phase(phase)
		e.Result = engine.AuditResult(result)
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
