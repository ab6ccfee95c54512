package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/gomint/internal/chooser"
	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/internal/store"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	// Experiment names the job and hypers records in the store.
	Experiment string
	// ExperimentDir and StoreAddress are handed to every dispatched job.
	ExperimentDir string
	StoreAddress  string
	// Trigger paces sweeps while no resource is accepting jobs.
	Trigger Trigger
	// StatusOut receives the resource table after every dispatch.
	StatusOut io.Writer
}

// DefaultConfig returns the polling defaults.
func DefaultConfig() Config {
	return Config{
		Trigger:   IntervalTrigger{Interval: time.Duration(config.DefaultPollingTime * float64(time.Second))},
		StatusOut: io.Discard,
	}
}

// Loop implements the Scheduler interface with a level-triggered polling
// loop. It fills one resource to capacity before moving to the next. The
// loop keeps no job state between iterations; the store is the only
// rendezvous with running launchers.
type Loop struct {
	store     store.Store
	exp       *config.Config
	space     *taskgroup.Space
	resources []resource.Resource
	byName    map[string]resource.Resource
	chooser   chooser.Chooser
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(st store.Store, exp *config.Config, resources []resource.Resource, ch chooser.Chooser, cfg Config, logger *slog.Logger) (*Loop, error) {
	space, err := taskgroup.NewSpace(exp.Variables)
	if err != nil {
		return nil, &model.ConfigurationError{Key: "variables", Message: "build search space", Err: err}
	}
	if len(resources) == 0 {
		return nil, model.NewConfigurationError("resources", "no resources configured")
	}
	if cfg.Trigger == nil {
		cfg.Trigger = DefaultConfig().Trigger
	}
	if cfg.StatusOut == nil {
		cfg.StatusOut = io.Discard
	}

	byName := make(map[string]resource.Resource, len(resources))
	for _, r := range resources {
		byName[r.Name()] = r
	}
	return &Loop{
		store:     st,
		exp:       exp,
		space:     space,
		resources: resources,
		byName:    byName,
		chooser:   ch,
		config:    cfg,
		logger:    logging.ForExperiment(logger, "scheduler", cfg.Experiment),
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start sweeps the resources until ctx is cancelled or Stop is called. It
// waits on the trigger only when no resource is accepting jobs. Any error
// out of a sweep is fatal: per-job failures never surface there.
func (l *Loop) Start(ctx context.Context) error {
	defer close(l.doneCh)
	l.logger.Info("scheduler started", "trigger", l.config.Trigger.String(), "resources", len(l.resources))

	for {
		if err := l.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("scheduler stopping (context cancelled)")
				return ctx.Err()
			}
			l.logger.Error("scheduler aborted", "error", err)
			return err
		}

		tired, err := l.Tired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		waitCtx, cancel := context.WithCancel(ctx)
		waited := make(chan error, 1)
		if tired {
			l.logger.Debug("no resource accepting jobs; waiting", "trigger", l.config.Trigger.String())
			go func() { waited <- l.config.Trigger.Wait(waitCtx) }()
		} else {
			waited <- nil
		}

		select {
		case <-ctx.Done():
			cancel()
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			cancel()
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-waited:
			cancel()
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current sweep to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Tick runs one sweep: each resource in order is given jobs while it
// reports spare capacity.
func (l *Loop) Tick(ctx context.Context) error {
	for _, r := range l.resources {
		jobs, err := l.store.LoadJobs(ctx, l.config.Experiment)
		if err != nil {
			return err
		}

		for r.AcceptingJobs(jobs) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.stopCh:
				return nil
			default:
			}

			if jobs, err = l.store.LoadJobs(ctx, l.config.Experiment); err != nil {
				return err
			}
			if jobs, err = l.reclaim(ctx, jobs); err != nil {
				return err
			}

			job, err := l.suggest(ctx, r, jobs)
			if err != nil {
				return err
			}
			if err := l.dispatch(ctx, r, job); err != nil {
				return err
			}

			if jobs, err = l.store.LoadJobs(ctx, l.config.Experiment); err != nil {
				return err
			}
			l.printStatus(jobs)
		}
	}
	return nil
}

// Tired reports whether no resource is accepting jobs. Dead pending jobs
// are reclaimed first so a resource whose every slot is held by a dead
// job frees up.
func (l *Loop) Tired(ctx context.Context) (bool, error) {
	jobs, err := l.store.LoadJobs(ctx, l.config.Experiment)
	if err != nil {
		return false, err
	}
	if jobs, err = l.reclaim(ctx, jobs); err != nil {
		return false, err
	}
	for _, r := range l.resources {
		if r.AcceptingJobs(jobs) {
			return false, nil
		}
	}
	return true, nil
}

// errNotAlive is recorded on reclaimed jobs.
var errNotAlive = errors.New("liveness check failed while pending")

// reclaim marks pending jobs whose execution has died as broken and
// returns the job list with those records replaced.
func (l *Loop) reclaim(ctx context.Context, jobs []*model.Job) ([]*model.Job, error) {
	for i, job := range jobs {
		if job.Status != model.JobStatusPending {
			continue
		}
		r, ok := l.byName[job.Resource]
		if !ok {
			l.logger.Warn("pending job on unknown resource", "job_id", job.ID, "resource", job.Resource)
			continue
		}
		if r.IsJobAlive(ctx, job) {
			continue
		}

		updated, err := store.UpdateJob(ctx, l.store, l.config.Experiment, job.ID, func(j *model.Job) error {
			if j.Status != model.JobStatusPending {
				return store.ErrSkipUpdate
			}
			return j.Break(errNotAlive, l.now())
		})
		if err != nil && !errors.Is(err, store.ErrSkipUpdate) {
			return nil, err
		}
		if err == nil {
			l.logger.Warn("broken job detected", "job_id", job.ID, "resource", job.Resource, "proc_id", job.ProcID)
		}
		if updated != nil {
			jobs[i] = updated
		}
	}
	return jobs, nil
}

// suggest fits the chooser on the resource's tasks, persists the new
// hypers, and saves a new job at the suggested point.
func (l *Loop) suggest(ctx context.Context, r resource.Resource, jobs []*model.Job) (*model.Job, error) {
	tasks := r.Tasks()
	if len(tasks) == 0 {
		return nil, model.NewConfigurationError("resources."+r.Name(), "trying to obtain a suggestion for 0 tasks")
	}
	// Only the first task is suggested for until tasks can be chosen between.
	task := tasks[0]
	mainFile, language, err := l.exp.ResolveTask(task)
	if err != nil {
		return nil, err
	}

	tg, err := taskgroup.Build(l.space, tasks, jobs)
	if err != nil {
		return nil, fmt.Errorf("build task group: %w", err)
	}

	prev, err := l.store.LoadHypers(ctx, l.config.Experiment)
	if err != nil {
		return nil, err
	}
	hypers, err := l.chooser.Fit(ctx, tg, prev, l.exp.TaskOptions(tasks))
	if err != nil {
		return nil, fmt.Errorf("chooser %s: fit: %w", l.chooser.Name(), err)
	}
	l.stampHypers(hypers, prev, tg)
	if err := l.store.SaveHypers(ctx, l.config.Experiment, hypers); err != nil {
		return nil, err
	}

	vector, err := l.chooser.Suggest(ctx)
	if err != nil {
		return nil, fmt.Errorf("chooser %s: suggest: %w", l.chooser.Name(), err)
	}
	params, err := l.space.Paramify(vector)
	if err != nil {
		return nil, fmt.Errorf("chooser %s: %w", l.chooser.Name(), err)
	}

	id, err := l.store.NextJobID(ctx, l.config.Experiment)
	if err != nil {
		return nil, err
	}
	job := &model.Job{
		ID:            id,
		Params:        params,
		ExperimentDir: l.config.ExperimentDir,
		Tasks:         tasks,
		Resource:      r.Name(),
		MainFile:      mainFile,
		Language:      language,
		Status:        model.JobStatusNew,
		SubmitTime:    model.NewTimestamp(l.now()),
	}
	if err := l.store.SaveJob(ctx, l.config.Experiment, job); err != nil {
		return nil, err
	}
	l.logger.Debug("job created", "job_id", id, "resource", r.Name(), "params", job.ParamValues(), "hypers_version", hypers.Version)
	return job, nil
}

func (l *Loop) stampHypers(h, prev *model.Hypers, tg *taskgroup.TaskGroup) {
	h.Version = 1
	if prev != nil {
		h.Version = prev.Version + 1
	}
	h.ObservationCount = tg.NumObservations()
	h.FitID = uuid.NewString()
	if h.FittedAt == nil {
		h.FittedAt = model.NewTimestamp(l.now())
	}
	if h.Chooser == "" {
		h.Chooser = l.chooser.Name()
	}
}

// dispatch hands job to r and records the outcome. A launcher may already
// have stamped or finished the job by the time this runs; its writes win.
func (l *Loop) dispatch(ctx context.Context, r resource.Resource, job *model.Job) error {
	handle, dispatchErr := r.AttemptDispatch(ctx, l.config.Experiment, job, l.config.StoreAddress, l.config.ExperimentDir)

	_, err := store.UpdateJob(ctx, l.store, l.config.Experiment, job.ID, func(j *model.Job) error {
		if dispatchErr != nil {
			if j.Status != model.JobStatusNew {
				return store.ErrSkipUpdate
			}
			return j.Break(dispatchErr, l.now())
		}
		j.ProcID = handle
		if j.Status == model.JobStatusNew {
			return j.Transition(model.JobStatusPending, l.now())
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrSkipUpdate) {
		return err
	}

	if dispatchErr != nil {
		l.logger.Error("dispatch failed", "job_id", job.ID, "resource", r.Name(), "error", dispatchErr)
	} else {
		l.logger.Info("job dispatched", "job_id", job.ID, "resource", r.Name(), "proc_id", handle)
	}
	return nil
}

func (l *Loop) printStatus(jobs []*model.Job) {
	if err := resource.PrintStatus(l.config.StatusOut, l.resources, jobs); err != nil {
		l.logger.Debug("print status", "error", err)
	}
}
