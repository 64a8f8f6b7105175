// Package store persists translation job records in SQLite so that job
// state survives restarts and can be listed by the API. Provider document
// keys are credentials and are never stored.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Job is the persisted view of one translation job.
type Job struct {
	ID              string
	Session         string
	Source          string
	Target          string
	OutputFormat    string
	State           string
	Attempt         int
	DocumentID      string
	Percent         int
	Message         string
	Billed          int
	Cost            float64
	FallbackApplied bool
	Output          string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store wraps the job database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "creating database directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening job database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging job database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "setting %s", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing job schema")
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new job. CreatedAt and UpdatedAt are set when zero.
func (s *Store) Create(ctx context.Context, j *Job) error {
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (id, session, source, target, output_format, state, attempt, document_id,
		percent, message, billed, cost, fallback_applied, output, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Session, j.Source, j.Target, j.OutputFormat, j.State, j.Attempt, j.DocumentID,
		j.Percent, j.Message, j.Billed, j.Cost, boolInt(j.FallbackApplied), j.Output, j.Error,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return errors.Wrapf(err, "creating job %s", j.ID)
}

// Update overwrites every mutable column of a job.
func (s *Store) Update(ctx context.Context, j *Job) error {
	j.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET state = ?, attempt = ?, document_id = ?, percent = ?, message = ?,
		billed = ?, cost = ?, fallback_applied = ?, output = ?, error = ?, updated_at = ?
	WHERE id = ?`,
		j.State, j.Attempt, j.DocumentID, j.Percent, j.Message,
		j.Billed, j.Cost, boolInt(j.FallbackApplied), j.Output, j.Error, formatTime(j.UpdatedAt),
		j.ID)
	if err != nil {
		return errors.Wrapf(err, "updating job %s", j.ID)
	}
	return checkAffected(res, j.ID)
}

// UpdateProgress records a progress observation.
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET percent = ?, message = ?, updated_at = ? WHERE id = ?`,
		percent, message, formatTime(s.now().UTC()), id)
	if err != nil {
		return errors.Wrapf(err, "updating progress of job %s", id)
	}
	return checkAffected(res, id)
}

const selectColumns = `SELECT id, session, source, target, output_format, state, attempt, document_id,
	percent, message, billed, cost, fallback_applied, output, error, created_at, updated_at FROM jobs`

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading job %s", id)
	}
	return j, nil
}

// List returns the most recent jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing jobs")
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, errors.Wrap(rows.Err(), "listing jobs")
}

// FailUnfinished marks every job that is neither done nor failed as failed
// with reason. It runs at startup: a job left running by a previous process
// has no worker anymore.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = 'failed', error = ?, updated_at = ? WHERE state NOT IN ('done', 'failed')`,
		reason, formatTime(s.now().UTC()))
	if err != nil {
		return 0, errors.Wrap(err, "failing unfinished jobs")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.WithField("jobs", n).Warn("Marked jobs interrupted by a restart as failed")
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j                Job
		fallback         int
		created, updated string
	)
	err := sc.Scan(&j.ID, &j.Session, &j.Source, &j.Target, &j.OutputFormat, &j.State, &j.Attempt,
		&j.DocumentID, &j.Percent, &j.Message, &j.Billed, &j.Cost, &fallback, &j.Output, &j.Error,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	j.FallbackApplied = fallback != 0
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return &j, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking affected rows")
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, id)
	}
	return nil
}

// timeLayout has a fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
