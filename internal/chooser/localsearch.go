package chooser

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
)

// LocalSearchName selects the LocalSearch chooser.
const LocalSearchName = "local-search"

const (
	stateStep = "step"
	stateBest = "best"

	initialStep = 0.2
	minStep     = 0.01
	stepDecay   = 0.8
)

// LocalSearch perturbs the best input seen so far with gaussian noise. The
// step shrinks each time a fit finds no improvement over the previous best.
// With no finite observation it behaves like Random.
type LocalSearch struct {
	logger *slog.Logger
	dims   int
	rng    *stream
	center []float64
	step   float64
}

// NewLocalSearch creates a LocalSearch chooser.
func NewLocalSearch(logger *slog.Logger) *LocalSearch {
	return &LocalSearch{logger: logger}
}

func (c *LocalSearch) Name() string { return LocalSearchName }

func (c *LocalSearch) Fit(_ context.Context, tg *taskgroup.TaskGroup, hypers *model.Hypers, _ map[string]config.Task) (*model.Hypers, error) {
	c.dims = tg.Space.Dims()
	c.rng = restoreStream(hypers)
	c.center = nil

	c.step = initialStep
	if step, ok := stateFloat(hypers, stateStep); ok && step > 0 {
		c.step = step
	}

	state := map[string]any{}
	row, best := tg.Best(tg.Tasks[0])
	if row >= 0 {
		c.center = tg.Inputs[row]
		if prev, ok := stateFloat(hypers, stateBest); ok && !(best < prev) {
			c.step = math.Max(c.step*stepDecay, minStep)
		}
		state[stateBest] = best
	}
	state[stateStep] = c.step
	c.rng.save(state)

	c.logger.Debug("fit", "chooser", LocalSearchName, "observations", tg.NumObservations(),
		"best", best, "step", c.step)
	return &model.Hypers{
		ObservationCount: tg.NumObservations(),
		FittedAt:         model.NewTimestamp(time.Now().UTC()),
		Chooser:          LocalSearchName,
		State:            state,
	}, nil
}

func (c *LocalSearch) Suggest(_ context.Context) ([]float64, error) {
	if c.rng == nil {
		return nil, errNotFitted
	}
	if c.center == nil {
		return c.rng.uniform(c.dims), nil
	}
	out := make([]float64, c.dims)
	for i, x := range c.center {
		out[i] = math.Min(1, math.Max(0, x+c.step*c.rng.normal()))
	}
	c.rng.draws++
	return out, nil
}
