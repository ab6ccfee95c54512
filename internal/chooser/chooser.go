// Package chooser holds the suggestion engines: a fit on the historical
// task group followed by a suggestion in the unit hypercube.
package chooser

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
)

// Chooser is a pluggable suggestion engine. Fit must be called before
// Suggest; everything the engine needs to resume lives in the returned
// hypers State.
type Chooser interface {
	// Name returns the engine identifier used in configuration.
	Name() string

	// Fit updates the engine from all historical observations and returns
	// the hypers to persist. hypers may be nil on the first fit.
	Fit(ctx context.Context, tg *taskgroup.TaskGroup, hypers *model.Hypers, taskOptions map[string]config.Task) (*model.Hypers, error)

	// Suggest returns the next point to evaluate.
	Suggest(ctx context.Context) ([]float64, error)
}

// Factory builds a chooser.
type Factory func(logger *slog.Logger) Chooser

// Registry maps chooser names to their factories.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a Registry holding the built-in engines.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logging.Component(logger, "chooser"),
	}
	r.Register(RandomName, func(l *slog.Logger) Chooser { return NewRandom(l) })
	r.Register(LocalSearchName, func(l *slog.Logger) Chooser { return NewLocalSearch(l) })
	return r
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New returns a fresh chooser for name.
func (r *Registry) New(name string) (Chooser, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, model.NewConfigurationError("chooser", "unknown chooser %q (available: %v)", name, r.Names())
	}
	r.logger.Debug("chooser selected", "chooser", name)
	return f(r.logger), nil
}

// Names lists the registered chooser names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// errNotFitted is returned by Suggest before any Fit.
var errNotFitted = errors.New("chooser: suggest called before fit")
