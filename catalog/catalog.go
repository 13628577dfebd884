// Package catalog keeps a sqlite record of every measurement run and the
// files it wrote.
package catalog

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run id
var ErrNotFound = errors.New("run not found")

// Run is one measurement
type Run struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Directory   string    `json:"directory"`
	Points      int       `json:"points"`
	Scans       int       `json:"scans"`
	Shots       int       `json:"shots"`
	Orientation string    `json:"orientation"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended,omitempty"`
	Files       []string  `json:"files"`
}

// Catalog is a run catalogue backed by a sqlite database
type Catalog struct {
	*sql.DB
}

// Open opens or creates the catalogue at path.  ":memory:" is accepted
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			name TEXT,
			directory TEXT,
			points INTEGER,
			scans INTEGER,
			shots INTEGER,
			orientation TEXT,
			state TEXT,
			error TEXT,
			started_ms INTEGER,
			ended_ms INTEGER
		);
		CREATE TABLE IF NOT EXISTS files (
			file_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			path TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db}, nil
}

// Begin records a new run and returns its id.  r.ID and r.Started are
// assigned if empty
func (c *Catalog) Begin(r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := c.Exec(`INSERT INTO runs
		(run_id, name, directory, points, scans, shots, orientation, state, error, started_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Directory, r.Points, r.Scans, r.Shots, r.Orientation, r.State, r.Error, r.Started.UnixMilli())
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// AddFile records a file written by run id
func (c *Catalog) AddFile(id, path string) error {
	_, err := c.Exec("INSERT INTO files (run_id, path) VALUES (?, ?)", id, path)
	return err
}

// Finish records the final state of run id
func (c *Catalog) Finish(id, state string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := c.Exec("UPDATE runs SET state = ?, error = ?, ended_ms = ? WHERE run_id = ?",
		state, msg, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r       Run
		started int64
		ended   sql.NullInt64
	)
	err := s.Scan(&r.ID, &r.Name, &r.Directory, &r.Points, &r.Scans, &r.Shots,
		&r.Orientation, &r.State, &r.Error, &started, &ended)
	if err != nil {
		return r, err
	}
	r.Started = time.UnixMilli(started)
	if ended.Valid {
		r.Ended = time.UnixMilli(ended.Int64)
	}
	return r, nil
}

const selectRuns = `SELECT run_id, name, directory, points, scans, shots,
	orientation, state, error, started_ms, ended_ms FROM runs`

func (c *Catalog) files(id string) ([]string, error) {
	rows, err := c.Query("SELECT path FROM files WHERE run_id = ? ORDER BY file_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns run id with its files
func (c *Catalog) Get(id string) (Run, error) {
	r, err := scanRun(c.QueryRow(selectRuns+" WHERE run_id = ?", id))
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Files, err = c.files(id)
	return r, err
}

// Runs returns up to limit runs, newest first, without their files
func (c *Catalog) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.Query(selectRuns+" ORDER BY started_ms DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
