package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/echoprep/echoprep-core/internal/config"
)

// ErrEmptySession is returned when a save is attempted with no transcript
// and no answer log. There is nothing worth reviewing later.
var ErrEmptySession = errors.New("session has no transcript and no answer log")

// ErrNotFound is returned when a session id has no stored row.
var ErrNotFound = errors.New("session not found")

// StoredSession is one finished practice session kept for later review.
// Transcript and AnswerLog are JSON arrays owned by the session package;
// the store treats them as opaque documents.
type StoredSession struct {
	ID              string
	Mode            string
	Date            time.Time
	RoleDescription string
	Transcript      json.RawMessage
	AnswerLog       json.RawMessage
	Summary         string
	Feedback        string
}

// Store wraps a SQLite-backed session archive.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the session store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("session store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    session_date TIMESTAMP NOT NULL,
    role_description TEXT,
    transcript TEXT,
    answer_log TEXT,
    summary TEXT,
    feedback TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(session_date);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes a finished session and evicts the oldest rows beyond the
// configured cap inside the same transaction. A missing ID or date is
// filled in. Sessions with nothing to review are rejected.
func (s *Store) Save(ctx context.Context, sess StoredSession) (StoredSession, error) {
	if emptyDocument(sess.Transcript) && emptyDocument(sess.AnswerLog) {
		return StoredSession{}, ErrEmptySession
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Date.IsZero() {
		sess.Date = s.clock().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StoredSession{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, mode, session_date, role_description, transcript, answer_log, summary, feedback)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   mode=excluded.mode, session_date=excluded.session_date,
		   role_description=excluded.role_description, transcript=excluded.transcript,
		   answer_log=excluded.answer_log, summary=excluded.summary, feedback=excluded.feedback`,
		sess.ID, sess.Mode, sess.Date.UTC().Format(time.RFC3339Nano), sess.RoleDescription,
		documentText(sess.Transcript), documentText(sess.AnswerLog), sess.Summary, sess.Feedback)
	if err != nil {
		return StoredSession{}, err
	}

	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY session_date DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return StoredSession{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return StoredSession{}, err
	}
	return sess, nil
}

// List returns all stored sessions, most recent first.
func (s *Store) List(ctx context.Context) ([]StoredSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, mode, session_date, role_description, transcript, answer_log, summary, feedback
		 FROM sessions ORDER BY session_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []StoredSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Get fetches one stored session by id.
func (s *Store) Get(ctx context.Context, id string) (StoredSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, mode, session_date, role_description, transcript, answer_log, summary, feedback
		 FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return StoredSession{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return StoredSession{}, err
		}
		return StoredSession{}, ErrNotFound
	}
	return scanSession(rows)
}

// Delete removes one stored session by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count reports how many sessions are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func scanSession(rows *sql.Rows) (StoredSession, error) {
	var sess StoredSession
	var date, transcript, answerLog string
	if err := rows.Scan(&sess.ID, &sess.Mode, &date, &sess.RoleDescription,
		&transcript, &answerLog, &sess.Summary, &sess.Feedback); err != nil {
		return StoredSession{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, date); err == nil {
		sess.Date = ts
	}
	if transcript != "" {
		sess.Transcript = json.RawMessage(transcript)
	}
	if answerLog != "" {
		sess.AnswerLog = json.RawMessage(answerLog)
	}
	return sess, nil
}

func documentText(doc json.RawMessage) string {
	if emptyDocument(doc) {
		return ""
	}
	return string(doc)
}

func emptyDocument(doc json.RawMessage) bool {
	switch string(doc) {
	case "", "null", "[]":
		return true
	}
	return false
}
