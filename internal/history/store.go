// Package history persists the commands the bot has executed in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	sender   TEXT NOT NULL,
	role     TEXT NOT NULL,
	whisper  INTEGER NOT NULL,
	raw      TEXT NOT NULL,
	verb     TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS commands_ts ON commands (ts);
`

// Entry is one executed (or rejected) command.
type Entry struct {
	ID       int64
	At       time.Time
	Sender   string
	Role     string
	Whisper  bool
	Raw      string
	Verb     string
	Response string
	Error    string
}

// Store persists command history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the history database, creating the schema on first use.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one history entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store is not configured")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	whisper := 0
	if e.Whisper {
		whisper = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (ts, sender, role, whisper, raw, verb, response, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UTC().UnixMilli(), e.Sender, e.Role, whisper, e.Raw, e.Verb, e.Response, e.Error)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, sender, role, whisper, raw, verb, response, error
		 FROM commands ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var whisper int
		if err := rows.Scan(&e.ID, &ts, &e.Sender, &e.Role, &whisper, &e.Raw, &e.Verb, &e.Response, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.At = time.UnixMilli(ts).UTC()
		e.Whisper = whisper != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}
