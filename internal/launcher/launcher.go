// Package launcher runs one dispatched job: it loads the job record,
// evaluates the objective and records the outcome, materializing extra
// observations as their own complete jobs.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/objective"
	"github.com/me/gomint/internal/store"
	"github.com/me/gomint/pkg/model"
)

// Resolver finds the objective a job runs.
type Resolver interface {
	Resolve(job *model.Job) (objective.Objective, error)
}

// Launcher executes jobs against a store.
type Launcher struct {
	store    store.Store
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Launcher) { l.now = now }
}

// New creates a Launcher.
func New(st store.Store, resolver Resolver, logger *slog.Logger, opts ...Option) *Launcher {
	l := &Launcher{
		store:    st,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// errReclaimed marks a job that was broken by liveness reclamation while
// its objective was still running.
var errReclaimed = errors.New("job was reclaimed while running")

// Launch runs job jobID of experiment. Objective failures are recorded on
// the job as broken and logged; they are not returned. The returned error
// is reserved for conditions that must abort the launcher: a missing or
// already finished job, and store failures.
func (l *Launcher) Launch(ctx context.Context, experiment string, jobID int) error {
	logger := logging.ForJob(logging.ForExperiment(l.logger, "launcher", experiment), jobID)

	job, err := store.UpdateJob(ctx, l.store, experiment, jobID, func(j *model.Job) error {
		if j.Status.IsTerminal() {
			return fmt.Errorf("job %d is already %s", j.ID, j.Status)
		}
		j.StartTime = model.NewTimestamp(l.now())
		return nil
	})
	if err != nil {
		return err
	}
	original := job.Clone()

	logger.Info("running objective", "main_file", job.MainFile, "language", job.Language, "params", job.ParamValues())
	result, err := l.evaluate(ctx, job)
	if err != nil {
		logger.Error("problem executing the function", "error", err)
		return l.markBroken(ctx, experiment, jobID, err, logger)
	}
	logger.Info("got result", "values", result.Values, "extras", len(result.Extras))

	_, err = store.UpdateJob(ctx, l.store, experiment, jobID, func(j *model.Job) error {
		if j.Status == model.JobStatusBroken {
			return errReclaimed
		}
		return j.Complete(result.Values, l.now())
	})
	switch {
	case errors.Is(err, errReclaimed):
		logger.Warn("job was marked broken while running; primary result discarded", "values", result.Values)
	case err != nil:
		return err
	default:
		logger.Info("saved sample", "values", result.Values)
	}

	for i, extra := range result.Extras {
		if err := l.saveExtra(ctx, experiment, original, extra); err != nil {
			logger.Error("extra sample failed", "extra", i+1, "error", err)
		}
	}
	return nil
}

// evaluate resolves and runs the objective. Panics are recovered into an
// ExecutionError like any other objective failure.
func (l *Launcher) evaluate(ctx context.Context, job *model.Job) (res objective.Result, err error) {
	stage := "resolve objective"
	defer func() {
		if r := recover(); r != nil {
			err = &model.ExecutionError{JobID: job.ID, Stage: stage, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
	}()

	obj, err := l.resolver.Resolve(job)
	if err != nil {
		return objective.Result{}, &model.ExecutionError{JobID: job.ID, Stage: stage, Err: err}
	}

	stage = "evaluate objective"
	res, err = obj.Evaluate(ctx, job.ID, job.ParamValues())
	if err != nil {
		if errors.Is(err, objective.ErrMalformedResult) {
			stage = "normalize result"
		}
		return objective.Result{}, &model.ExecutionError{JobID: job.ID, Stage: stage, Err: err}
	}
	return res, nil
}

func (l *Launcher) markBroken(ctx context.Context, experiment string, jobID int, cause error, logger *slog.Logger) error {
	_, err := store.UpdateJob(ctx, l.store, experiment, jobID, func(j *model.Job) error {
		if j.Status.IsTerminal() {
			return store.ErrSkipUpdate
		}
		return j.Break(cause, l.now())
	})
	if errors.Is(err, store.ErrSkipUpdate) {
		logger.Debug("job already finished; leaving it as is")
		return nil
	}
	return err
}

// saveExtra records one extra observation as a new complete job cloned
// from the originating job.
func (l *Launcher) saveExtra(ctx context.Context, experiment string, original *model.Job, extra objective.Extra) error {
	if extra.Err != nil {
		return extra.Err
	}

	job := original.Clone()
	for _, name := range slices.Sorted(maps.Keys(extra.Overrides)) {
		p, ok := job.Params[name]
		if !ok || len(p.Values) == 0 {
			return fmt.Errorf("unknown parameter %q", name)
		}
		p.Values[0] = extra.Overrides[name]
		job.Params[name] = p
	}

	id, err := l.store.NextJobID(ctx, experiment)
	if err != nil {
		return err
	}
	job.ID = id
	job.Status = model.JobStatusNew
	job.ProcID = ""
	job.Error = ""
	if err := job.Complete(extra.Values, l.now()); err != nil {
		return err
	}

	logging.ForJob(logging.ForExperiment(l.logger, "launcher", experiment), id).Info("saving extra sample",
		"source_job_id", original.ID, "params", job.ParamValues(), "values", job.Values)
	return l.store.SaveJob(ctx, experiment, job)
}
