package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/pkg/model"

	_ "modernc.org/sqlite"
)

// jobCounter is the counters row backing NextJobID.
const jobCounter = "jobs"

// SQLiteStore implements Store using SQLite. Job records are stored as JSON
// documents with the filterable fields mirrored into columns.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite: empty database path")
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		// The scheduler and every launcher process share the file.
		dsn = dbPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.Component(logger, "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Jobs ---

func (s *SQLiteStore) LoadJobs(ctx context.Context, experiment string) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "experiment", experiment)

	rows, err := s.db.QueryContext(ctx,
		`SELECT document, revision FROM jobs WHERE experiment = ? ORDER BY id`, experiment)
	if err != nil {
		return nil, &model.StoreError{Op: "load jobs", Err: err}
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		var (
			doc      string
			revision int
		)
		if err := rows.Scan(&doc, &revision); err != nil {
			return nil, &model.StoreError{Op: "load jobs", Err: err}
		}
		job, err := decodeJob(doc, revision)
		if err != nil {
			return nil, &model.StoreError{Op: "load jobs", Err: err}
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StoreError{Op: "load jobs", Err: err}
	}
	return jobs, nil
}

func (s *SQLiteStore) LoadJob(ctx context.Context, experiment string, id int) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "experiment", experiment, "id", id)

	var (
		doc      string
		revision int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document, revision FROM jobs WHERE experiment = ? AND id = ?`, experiment, id,
	).Scan(&doc, &revision)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "load job", Err: err}
	}

	job, err := decodeJob(doc, revision)
	if err != nil {
		return nil, &model.StoreError{Op: "load job", Err: err}
	}
	return job, nil
}

// SaveJob upserts the job keyed by (experiment, id) and bumps its revision.
func (s *SQLiteStore) SaveJob(ctx context.Context, experiment string, job *model.Job) error {
	s.logger.Debug("sql", "op", "upsert", "table", "jobs", "experiment", experiment, "id", job.ID, "status", job.Status)

	doc, err := json.Marshal(job)
	if err != nil {
		return &model.StoreError{Op: "save job", Err: fmt.Errorf("marshal job %d: %w", job.ID, err)}
	}

	var revision int
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (experiment, id, status, resource, document, submit_time, updated_at, revision)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(experiment, id) DO UPDATE SET
		   status = excluded.status,
		   resource = excluded.resource,
		   document = excluded.document,
		   submit_time = excluded.submit_time,
		   updated_at = excluded.updated_at,
		   revision = jobs.revision + 1
		 RETURNING revision`,
		experiment, job.ID, string(job.Status), job.Resource, string(doc),
		submitSeconds(job), time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&revision)
	if err != nil {
		return &model.StoreError{Op: "save job", Err: err}
	}
	job.Revision = revision
	return nil
}

func (s *SQLiteStore) CompareAndSaveJob(ctx context.Context, experiment string, job *model.Job, expected model.JobStatus) (bool, error) {
	s.logger.Debug("sql", "op", "cas", "table", "jobs", "experiment", experiment, "id", job.ID,
		"expected", expected, "status", job.Status, "revision", job.Revision)

	doc, err := json.Marshal(job)
	if err != nil {
		return false, &model.StoreError{Op: "save job", Err: fmt.Errorf("marshal job %d: %w", job.ID, err)}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, resource = ?, document = ?, submit_time = ?, updated_at = ?,
		   revision = revision + 1
		 WHERE experiment = ? AND id = ? AND status = ? AND revision = ?`,
		string(job.Status), job.Resource, string(doc), submitSeconds(job),
		time.Now().UTC().Format(time.RFC3339Nano),
		experiment, job.ID, string(expected), job.Revision,
	)
	if err != nil {
		return false, &model.StoreError{Op: "save job", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &model.StoreError{Op: "save job", Err: err}
	}
	if n != 1 {
		return false, nil
	}
	job.Revision++
	return true, nil
}

// NextJobID increments the experiment's job counter inside one transaction.
// The counter never falls behind the highest stored id.
func (s *SQLiteStore) NextJobID(ctx context.Context, experiment string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}
	defer tx.Rollback()

	var counter int
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE experiment = ? AND name = ?`, experiment, jobCounter,
	).Scan(&counter)
	if err != nil && err != sql.ErrNoRows {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}

	var maxID int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM jobs WHERE experiment = ?`, experiment,
	).Scan(&maxID); err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}

	next := max(counter, maxID) + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (experiment, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(experiment, name) DO UPDATE SET value = excluded.value`,
		experiment, jobCounter, next,
	); err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &model.StoreError{Op: "next job id", Err: err}
	}
	s.logger.Debug("sql", "op", "increment", "table", "counters", "experiment", experiment, "value", next)
	return next, nil
}

// --- Hypers ---

func (s *SQLiteStore) LoadHypers(ctx context.Context, experiment string) (*model.Hypers, error) {
	s.logger.Debug("sql", "op", "select", "table", "hypers", "experiment", experiment)

	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM hypers WHERE experiment = ?`, experiment,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "load hypers", Err: err}
	}

	var h model.Hypers
	if err := json.Unmarshal([]byte(doc), &h); err != nil {
		return nil, &model.StoreError{Op: "load hypers", Err: fmt.Errorf("unmarshal hypers: %w", err)}
	}
	return &h, nil
}

func (s *SQLiteStore) SaveHypers(ctx context.Context, experiment string, h *model.Hypers) error {
	s.logger.Debug("sql", "op", "upsert", "table", "hypers", "experiment", experiment, "version", h.Version)

	doc, err := json.Marshal(h)
	if err != nil {
		return &model.StoreError{Op: "save hypers", Err: fmt.Errorf("marshal hypers: %w", err)}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hypers (experiment, document, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(experiment) DO UPDATE SET
		   document = excluded.document,
		   version = excluded.version,
		   updated_at = excluded.updated_at`,
		experiment, string(doc), h.Version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &model.StoreError{Op: "save hypers", Err: err}
	}
	return nil
}

func decodeJob(doc string, revision int) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if _, err := model.ParseJobStatus(string(job.Status)); err != nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, err)
	}
	job.Revision = revision
	return &job, nil
}

func submitSeconds(job *model.Job) any {
	if job.SubmitTime == nil {
		return nil
	}
	return job.SubmitTime.Seconds()
}
