package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
)

// Job statuses stored in the registry.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// Record is one registry row.
type Record struct {
	Token     Token     `json:"token"`
	Command   string    `json:"command"`
	Spec      *Spec     `json:"spec,omitempty"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// Registry persists job records in sqlite.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens or creates the database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job registry: %w", err)
	}
	// sqlite allows one writer; the reaper goroutines and handlers share it.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		token TEXT PRIMARY KEY,
		command TEXT,
		spec TEXT,
		dir TEXT,
		created_at DATETIME,
		status TEXT,
		exit_code INTEGER
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Save inserts or replaces a record.
func (r *Registry) Save(ctx context.Context, rec Record) error {
	var spec []byte
	if rec.Spec != nil {
		var err error
		if spec, err = sonic.Marshal(rec.Spec); err != nil {
			return fmt.Errorf("failed to encode job spec: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (token, command, spec, dir, created_at, status, exit_code) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Token), rec.Command, nullString(spec), rec.Dir, rec.CreatedAt.UTC(), rec.Status, nullInt(rec.ExitCode))
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.Token, err)
	}
	return nil
}

// MarkFinished updates the status and exit code of a job.
func (r *Registry) MarkFinished(ctx context.Context, token Token, status string, exitCode *int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = ?, exit_code = ? WHERE token = ?`,
		status, nullInt(exitCode), string(token))
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", token, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return nil
}

// Get fetches one record.
func (r *Registry) Get(ctx context.Context, token Token) (Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT token, command, spec, dir, created_at, status, exit_code FROM jobs WHERE token = ?`, string(token))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return rec, err
}

// List returns all records, newest first.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token, command, spec, dir, created_at, status, exit_code FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec      Record
		token    string
		spec     sql.NullString
		exitCode sql.NullInt64
	)
	if err := s.Scan(&token, &rec.Command, &spec, &rec.Dir, &rec.CreatedAt, &rec.Status, &exitCode); err != nil {
		return Record{}, err
	}
	rec.Token = Token(token)
	if spec.Valid && spec.String != "" {
		rec.Spec = &Spec{}
		if err := sonic.UnmarshalString(spec.String, rec.Spec); err != nil {
			return Record{}, fmt.Errorf("failed to decode spec of job %s: %w", token, err)
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	return rec, nil
}

func nullString(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
