// Package audit keeps a local log of executed tool calls.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Entry is one executed tool call.
type Entry struct {
	ID         int64
	RequestID  string
	ToolCallID string
	Tool       string
	Path       string
	Success    bool
	Message    string
	Error      string
	CreatedAt  time.Time
}

// ListOptions filters List.
type ListOptions struct {
	RequestID string
	Tool      string
	Limit     int // 0 means 50
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	Close() error
}

// Config holds audit storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Empty means DefaultPath()
}

// NewStore opens the configured store, or a no-op store when disabled.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return NoopStore{}, nil
	}
	path := cfg.Path
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return OpenSQLite(path)
}

// DefaultPath is $XDG_DATA_HOME/skillshub/audit.db, falling back to
// ~/.local/share.
func DefaultPath() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "skillshub", "audit.db"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(homeDir, ".local", "share", "skillshub", "audit.db"), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    tool_call_id TEXT NOT NULL,
    tool TEXT NOT NULL,
    path TEXT,
    success BOOLEAN NOT NULL,
    message TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_created_at ON tool_calls(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tool_calls_request ON tool_calls(request_id);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (request_id, tool_call_id, tool, path, success, message, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.ToolCallID, e.Tool, e.Path, e.Success, e.Message, e.Error, e.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert tool call")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `
		SELECT id, request_id, tool_call_id, tool, COALESCE(path, ''), success,
		       COALESCE(message, ''), COALESCE(error, ''), created_at
		FROM tool_calls
		WHERE 1=1`
	args := []any{}
	if opts.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Tool != "" {
		query += " AND tool = ?"
		args = append(args, opts.Tool)
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tool calls")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ToolCallID, &e.Tool, &e.Path, &e.Success, &e.Message, &e.Error, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan tool call")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NoopStore discards writes and lists nothing.
type NoopStore struct{}

func (NoopStore) Record(context.Context, Entry) error { return nil }

func (NoopStore) List(context.Context, ListOptions) ([]Entry, error) { return nil, nil }

func (NoopStore) Close() error { return nil }
