package resource

import (
	"fmt"
	"log/slog"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
)

// Registry holds the experiment's resources in their configured order,
// which is the scheduler's sweep order.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	ordered []Resource
	byName  map[string]Resource
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Resource),
		logger: logging.Component(logger, "resource-registry"),
	}
}

// Register appends a resource. Names must be unique.
func (r *Registry) Register(res Resource) error {
	if _, dup := r.byName[res.Name()]; dup {
		return fmt.Errorf("resource %q registered twice", res.Name())
	}
	r.ordered = append(r.ordered, res)
	r.byName[res.Name()] = res
	r.logger.Info("resource registered", "resource", res.Name(), "tasks", res.Tasks())
	return nil
}

// Get returns the named resource.
func (r *Registry) Get(name string) (Resource, bool) {
	res, ok := r.byName[name]
	return res, ok
}

// All returns the resources in sweep order.
func (r *Registry) All() []Resource {
	return r.ordered
}

// BuildOptions tunes FromConfig.
type BuildOptions struct {
	// Launcher overrides the configured launcher binary.
	Launcher string
	// Runner replaces os/exec for batch-queue commands.
	Runner CommandRunner
}

// FromConfig builds one Capacity resource per configured resource.
func FromConfig(cfg *config.Config, opts BuildOptions, logger *slog.Logger) (*Registry, error) {
	launcher := opts.Launcher
	if launcher == "" {
		launcher = cfg.Launcher
	}
	runner := opts.Runner
	if runner == nil {
		runner = &osCommandRunner{}
	}

	reg := NewRegistry(logger)
	// One local backend per process, so every local resource sees the
	// children the scheduler started.
	var local *LocalBackend
	for _, rc := range cfg.Resources {
		var backend Backend
		switch {
		case rc.IsDocker():
			// The host binary is not visible in the container.
			backend = newDockerBackendWithRunner(rc.Image, "", logger, runner)
		case rc.IsLocal():
			if local == nil {
				local = NewLocalBackend(launcher, logger)
			}
			backend = local
		default:
			cb, err := newClusterBackendWithRunner(rc.Scheduler, launcher, rc.Queue, logger, runner)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
			}
			backend = cb
		}

		res := NewCapacity(CapacityOptions{
			Name:            rc.Name,
			Tasks:           rc.Tasks,
			MaxConcurrent:   rc.MaxConcurrent,
			MaxFinishedJobs: rc.MaxFinishedJobs,
			Database:        cfg.Database.Name,
			Backend:         backend,
		}, logger)
		if err := reg.Register(res); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
