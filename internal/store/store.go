package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/gomint/pkg/model"
)

// Store is the job/hypers persistence contract shared by the scheduler loop
// and the launcher. Every save is independently atomic; nothing spans
// multiple documents.
type Store interface {
	// Jobs
	LoadJobs(ctx context.Context, experiment string) ([]*model.Job, error)
	LoadJob(ctx context.Context, experiment string, id int) (*model.Job, error)
	SaveJob(ctx context.Context, experiment string, job *model.Job) error
	// CompareAndSaveJob overwrites the job only if its persisted status is
	// still expected and its revision still equals job.Revision. On success
	// job.Revision advances. It reports whether the write happened.
	CompareAndSaveJob(ctx context.Context, experiment string, job *model.Job, expected model.JobStatus) (bool, error)
	// NextJobID atomically increments and returns the experiment's job counter.
	NextJobID(ctx context.Context, experiment string) (int, error)

	// Hypers
	LoadHypers(ctx context.Context, experiment string) (*model.Hypers, error)
	SaveHypers(ctx context.Context, experiment string, h *model.Hypers) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Options selects and configures a Store implementation.
type Options struct {
	// Address is a SQLite path (optionally "sqlite://"-prefixed) or a
	// mongodb:// URI.
	Address string
	// Database is the Mongo database name; ignored for SQLite.
	Database string
}

// DefaultDatabase is the Mongo database used when none is configured.
const DefaultDatabase = "gomint"

// Open connects to the store selected by opts.Address and runs migrations.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	var (
		st  Store
		err error
	)
	switch {
	case strings.HasPrefix(opts.Address, "mongodb://"), strings.HasPrefix(opts.Address, "mongodb+srv://"):
		db := opts.Database
		if db == "" {
			db = DefaultDatabase
		}
		st, err = NewMongoStore(ctx, opts.Address, db, logger)
	default:
		st, err = NewSQLiteStore(strings.TrimPrefix(opts.Address, "sqlite://"), logger)
	}
	if err != nil {
		return nil, &model.StoreError{Op: "open", Err: err}
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, &model.StoreError{Op: "migrate", Err: err}
	}
	return st, nil
}

// ErrSkipUpdate may be returned by an UpdateJob mutator to leave the record
// untouched.
var ErrSkipUpdate = errors.New("skip update")

// maxUpdateAttempts bounds the compare-and-save retries of UpdateJob.
const maxUpdateAttempts = 5

// UpdateJob reloads job id, applies mutate to the fresh copy, and writes it
// back only if nobody wrote the record in between, retrying on conflict.
// It returns the job as persisted, or the fresh copy when mutate skipped.
func UpdateJob(ctx context.Context, st Store, experiment string, id int, mutate func(*model.Job) error) (*model.Job, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := st.LoadJob(ctx, experiment, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, fmt.Errorf("job %d: %w", id, model.ErrJobNotFound)
		}

		expected := job.Status
		if err := mutate(job); err != nil {
			if errors.Is(err, ErrSkipUpdate) {
				return job, err
			}
			return nil, err
		}

		ok, err := st.CompareAndSaveJob(ctx, experiment, job, expected)
		if err != nil {
			return nil, err
		}
		if ok {
			return job, nil
		}
	}
	return nil, &model.StoreError{
		Op:  "update job",
		Err: fmt.Errorf("job %d: record kept changing after %d attempts", id, maxUpdateAttempts),
	}
}
