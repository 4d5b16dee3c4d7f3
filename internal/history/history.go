// Package history keeps a sqlite log of server runs.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// DefaultLimit is used by List when limit is not positive.
const DefaultLimit = 50

// Run is one row of the runs table.
type Run struct {
	ID        int64      `json:"id"`
	Argv      []string   `json:"argv"`
	PID       int        `json:"pid"`
	Started   time.Time  `json:"started"`
	Ended     *time.Time `json:"ended,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Requested bool       `json:"requested"`
	Killed    bool       `json:"killed"`
	Error     string     `json:"error,omitempty"`
}

// Exit is what RecordExit stores.
type Exit struct {
	Ended     time.Time
	Code      int
	Requested bool
	Killed    bool
	Error     string
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed, mode 0600) the history database at path.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		// Runs record server command lines; keep the file private.
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create history: %w", err)
		}
		f.Close()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		argv TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		exit_code INTEGER,
		requested INTEGER NOT NULL DEFAULT 0,
		killed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RecordStart inserts a run and returns its id.
func (s *Store) RecordStart(argv []string, pid int, started time.Time) (int64, error) {
	b, err := json.Marshal(argv)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT INTO runs (argv, pid, started_at) VALUES (?, ?, ?)`, string(b), pid, started.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("record start: %w", err)
	}
	return res.LastInsertId()
}

// RecordExit completes the run with the given id.
func (s *Store) RecordExit(id int64, e Exit) error {
	res, err := s.db.Exec(`UPDATE runs SET ended_at = ?, exit_code = ?, requested = ?, killed = ?, error = ? WHERE id = ?`,
		e.Ended.UnixMilli(), e.Code, boolInt(e.Requested), boolInt(e.Killed), e.Error, id)
	if err != nil {
		return fmt.Errorf("record exit: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("record exit: run %d not found", id)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.Query(`SELECT id, argv, pid, started_at, ended_at, exit_code, requested, killed, error
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r        Run
			argv     string
			started  int64
			ended    sql.NullInt64
			code     sql.NullInt64
			req, kil int
		)
		if err := rows.Scan(&r.ID, &argv, &r.PID, &started, &ended, &code, &req, &kil, &r.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argv), &r.Argv); err != nil {
			return nil, fmt.Errorf("run %d: bad argv: %w", r.ID, err)
		}
		r.Started = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			r.Ended = &t
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		r.Requested = req != 0
		r.Killed = kil != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ErrNotRecorded is returned by Recorder.Err when an event referenced a run
// that was never recorded.
var ErrNotRecorded = errors.New("run not recorded")

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
