// Package resource implements the execution venues jobs are dispatched to:
// a capacity policy in front of a local or batch-queue backend.
package resource

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/pkg/model"
)

// Resource is one execution venue with finite concurrent capacity.
type Resource interface {
	Name() string

	// Tasks returns the task names this resource runs jobs for.
	Tasks() []string

	// AcceptingJobs reports whether the resource has spare capacity given
	// the full job list. Only jobs assigned to this resource count.
	AcceptingJobs(jobs []*model.Job) bool

	// AttemptDispatch starts execution of job and returns its process
	// handle. A non-nil error is a *model.DispatchError.
	AttemptDispatch(ctx context.Context, experiment string, job *model.Job, storeAddress, exptDir string) (string, error)

	// IsJobAlive reports whether the execution backing a pending job is
	// still running.
	IsJobAlive(ctx context.Context, job *model.Job) bool

	// Status summarises the resource for status tables and the API.
	Status(jobs []*model.Job) model.ResourceStatus
}

// Capacity is a Resource that accepts jobs while it has fewer than
// MaxConcurrent pending jobs and fewer than MaxFinishedJobs complete ones.
type Capacity struct {
	name            string
	tasks           []string
	maxConcurrent   int
	maxFinishedJobs int // 0 means unbounded
	database        string
	backend         Backend
	logger          *slog.Logger
}

// CapacityOptions configures a Capacity resource.
type CapacityOptions struct {
	Name            string
	Tasks           []string
	MaxConcurrent   int
	MaxFinishedJobs int
	// Database is passed to launchers so they open the same Mongo database.
	Database string
	Backend  Backend
}

// NewCapacity creates a Capacity resource.
func NewCapacity(opts CapacityOptions, logger *slog.Logger) *Capacity {
	return &Capacity{
		name:            opts.Name,
		tasks:           slices.Clone(opts.Tasks),
		maxConcurrent:   opts.MaxConcurrent,
		maxFinishedJobs: opts.MaxFinishedJobs,
		database:        opts.Database,
		backend:         opts.Backend,
		logger:          logging.Component(logger, "resource").With("resource", opts.Name),
	}
}

func (r *Capacity) Name() string    { return r.name }
func (r *Capacity) Tasks() []string { return slices.Clone(r.tasks) }

// Kind returns the backend kind, e.g. "local" or "slurm".
func (r *Capacity) Kind() string { return r.backend.Kind() }

func (r *Capacity) counts(jobs []*model.Job) (pending, complete, broken int) {
	for _, j := range jobs {
		if j.Resource != r.name {
			continue
		}
		switch j.Status {
		case model.JobStatusPending:
			pending++
		case model.JobStatusComplete:
			complete++
		case model.JobStatusBroken:
			broken++
		}
	}
	return pending, complete, broken
}

func (r *Capacity) AcceptingJobs(jobs []*model.Job) bool {
	pending, complete, _ := r.counts(jobs)
	if pending >= r.maxConcurrent {
		return false
	}
	if r.maxFinishedJobs > 0 && complete >= r.maxFinishedJobs {
		return false
	}
	return true
}

func (r *Capacity) AttemptDispatch(ctx context.Context, experiment string, job *model.Job, storeAddress, exptDir string) (string, error) {
	if job.Resource != r.name {
		return "", &model.DispatchError{
			Resource: r.name,
			JobID:    job.ID,
			Err:      errWrongResource(job.Resource),
		}
	}

	handle, err := r.backend.Submit(ctx, LaunchSpec{
		Experiment:    experiment,
		JobID:         job.ID,
		StoreAddress:  storeAddress,
		Database:      r.database,
		ExperimentDir: exptDir,
	})
	if err != nil {
		r.logger.Warn("dispatch failed", "experiment", experiment, "job_id", job.ID, "error", err)
		return "", &model.DispatchError{Resource: r.name, JobID: job.ID, Err: err}
	}
	r.logger.Info("job submitted", "experiment", experiment, "job_id", job.ID, "handle", handle, "backend", r.backend.Kind())
	return handle, nil
}

func (r *Capacity) IsJobAlive(ctx context.Context, job *model.Job) bool {
	if job.Status != model.JobStatusPending || job.ProcID == "" {
		return false
	}
	return r.backend.Alive(ctx, job.ProcID)
}

func (r *Capacity) Status(jobs []*model.Job) model.ResourceStatus {
	pending, complete, broken := r.counts(jobs)
	return model.ResourceStatus{
		Name:          r.name,
		Kind:          r.backend.Kind(),
		Pending:       pending,
		Complete:      complete,
		Broken:        broken,
		MaxConcurrent: r.maxConcurrent,
		Accepting:     r.AcceptingJobs(jobs),
	}
}

type errWrongResource string

func (e errWrongResource) Error() string {
	return "job is assigned to resource " + strconv.Quote(string(e))
}
