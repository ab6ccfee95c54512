package chooser

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
)

// RandomName selects the Random chooser.
const RandomName = "random"

// Random suggests points uniformly from the unit hypercube.
type Random struct {
	logger *slog.Logger
	dims   int
	rng    *stream
}

// NewRandom creates a Random chooser.
func NewRandom(logger *slog.Logger) *Random {
	return &Random{logger: logger}
}

func (c *Random) Name() string { return RandomName }

func (c *Random) Fit(_ context.Context, tg *taskgroup.TaskGroup, hypers *model.Hypers, _ map[string]config.Task) (*model.Hypers, error) {
	c.dims = tg.Space.Dims()
	c.rng = restoreStream(hypers)

	state := map[string]any{}
	c.rng.save(state)
	c.logger.Debug("fit", "chooser", RandomName, "observations", tg.NumObservations(), "draws", c.rng.draws)
	return &model.Hypers{
		ObservationCount: tg.NumObservations(),
		FittedAt:         model.NewTimestamp(time.Now().UTC()),
		Chooser:          RandomName,
		State:            state,
	}, nil
}

func (c *Random) Suggest(_ context.Context) ([]float64, error) {
	if c.rng == nil {
		return nil, errNotFitted
	}
	return c.rng.uniform(c.dims), nil
}
