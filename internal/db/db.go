// Package db records session history in a local sqlite database.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (and creates if needed) the session database at path.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

// Migrate applies all embedded migrations in filename order. Statements are
// written to be idempotent (CREATE TABLE IF NOT EXISTS and friends).
func Migrate(database *sql.DB) error {
	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		migrationSQL, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := database.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Record is one session history row.
type Record struct {
	ID        string
	Username  string
	Cmd       string
	TaskPID   int
	SubPID    int
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Session status values.
const (
	StatusRunning = "running"
	StatusEnded   = "ended"
	StatusKilled  = "killed"
)

// Store wraps session history queries.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// RecordStart inserts a running-session row.
func (s *Store) RecordStart(id, username string, cmd []string, taskPID, subPID int) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, username, cmd, task_pid, sub_pid, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, username, strings.Join(cmd, " "), taskPID, subPID, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordEnd marks a session row as finished with the given status.
func (s *Store) RecordEnd(id, status string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// MarkStaleRunning flags running rows from a previous daemon instance as
// ended. Called once at startup before any new session exists.
func (s *Store) MarkStaleRunning() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?`,
		StatusEnded, time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// List returns session history, newest first.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, username, cmd, task_pid, sub_pid, status, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Username, &r.Cmd, &r.TaskPID, &r.SubPID, &r.Status, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
