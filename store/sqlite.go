package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			provider TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			provider TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			request TEXT,
			response TEXT,
			ts INTEGER NOT NULL,
			FOREIGN KEY (session_key) REFERENCES sessions(session_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, ts)`,
		`CREATE TABLE IF NOT EXISTS validation_failures (
			failure_id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			profile TEXT NOT NULL,
			agent_version TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			decision TEXT NOT NULL,
			capture_path TEXT,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_session ON validation_failures(session_key, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSession retrieves a session by key.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionKey string) (*Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key, scenario, provider, created_at FROM sessions WHERE session_key = ?`,
		sessionKey).Scan(&session.SessionKey, &session.Scenario, &session.Provider, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetOrCreateSession gets an existing session or creates a new one.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, sessionKey, scenario, provider string) (*Session, error) {
	session, err := s.GetSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	session = &Session{
		SessionKey: sessionKey,
		Scenario:   scenario,
		Provider:   provider,
		CreatedAt:  time.Now().UnixMilli(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, scenario, provider, created_at) VALUES (?, ?, ?, ?)`,
		session.SessionKey, session.Scenario, session.Provider, session.CreatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RecordTurn records a served request/response exchange.
func (s *SQLiteStore) RecordTurn(ctx context.Context, turn *Turn) error {
	if turn.TurnID == "" {
		turn.TurnID = "turn_" + uuid.New().String()[:8]
	}
	if turn.Ts == 0 {
		turn.Ts = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_key, provider, step_index, request, response, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.SessionKey, turn.Provider, turn.StepIndex, turn.Request, turn.Response, turn.Ts)
	return err
}

// GetTurns retrieves turns for a session in serve order.
func (s *SQLiteStore) GetTurns(ctx context.Context, sessionKey string, limit int) ([]Turn, error) {
	query := `SELECT turn_id, session_key, provider, step_index, request, response, ts FROM turns WHERE session_key = ? ORDER BY ts ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var request, response sql.NullString
		if err := rows.Scan(&turn.TurnID, &turn.SessionKey, &turn.Provider, &turn.StepIndex, &request, &response, &turn.Ts); err != nil {
			return nil, err
		}
		turn.Request = request.String
		turn.Response = response.String
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// CountTurns returns the number of turns served to a session.
func (s *SQLiteStore) CountTurns(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_key = ?`, sessionKey).Scan(&n)
	return n, err
}

// RecordValidationFailure records a tool-validation drift event.
func (s *SQLiteStore) RecordValidationFailure(ctx context.Context, failure *ValidationFailure) error {
	if failure.FailureID == "" {
		failure.FailureID = "vf_" + uuid.New().String()[:8]
	}
	if failure.Ts == 0 {
		failure.Ts = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_failures (failure_id, session_key, profile, agent_version, tool_name, decision, capture_path, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		failure.FailureID, failure.SessionKey, failure.Profile, failure.AgentVersion, failure.ToolName, failure.Decision, failure.CapturePath, failure.Ts)
	return err
}

// GetValidationFailures retrieves drift events for a session.
func (s *SQLiteStore) GetValidationFailures(ctx context.Context, sessionKey string, limit int) ([]ValidationFailure, error) {
	query := `SELECT failure_id, session_key, profile, agent_version, tool_name, decision, capture_path, ts FROM validation_failures WHERE session_key = ? ORDER BY ts ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []ValidationFailure
	for rows.Next() {
		var f ValidationFailure
		var capturePath sql.NullString
		if err := rows.Scan(&f.FailureID, &f.SessionKey, &f.Profile, &f.AgentVersion, &f.ToolName, &f.Decision, &capturePath, &f.Ts); err != nil {
			return nil, err
		}
		f.CapturePath = capturePath.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
