package chooser

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/taskgroup"
	"github.com/me/gomint/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return logging.Discard()
}

func testGroup(t *testing.T, jobs ...*model.Job) *taskgroup.TaskGroup {
	t.Helper()
	space, err := taskgroup.NewSpace([]config.Variable{
		{Name: "x", Type: config.VariableTypeFloat, Size: 2, Min: 0, Max: 1},
	})
	require.NoError(t, err)
	tg, err := taskgroup.Build(space, []string{model.MainTask}, jobs)
	require.NoError(t, err)
	return tg
}

func completeJob(id int, x0, x1, v float64) *model.Job {
	return &model.Job{
		ID:     id,
		Status: model.JobStatusComplete,
		Params: map[string]model.Param{"x": {Type: "float", Values: []float64{x0, x1}}},
		Values: map[string]float64{model.MainTask: v},
	}
}

// persist mimics a store round trip so State numbers come back as float64.
func persist(t *testing.T, h *model.Hypers) *model.Hypers {
	t.Helper()
	data, err := json.Marshal(h)
	require.NoError(t, err)
	var out model.Hypers
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(discardLogger())
	assert.Equal(t, []string{LocalSearchName, RandomName}, r.Names())

	c, err := r.New("random")
	require.NoError(t, err)
	assert.Equal(t, RandomName, c.Name())

	_, err = r.New("gp")
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRandom_SuggestBeforeFit(t *testing.T) {
	_, err := NewRandom(discardLogger()).Suggest(context.Background())
	assert.Error(t, err)
}

func TestRandom_FitSuggest(t *testing.T) {
	ctx := context.Background()
	c := NewRandom(discardLogger())
	tg := testGroup(t, completeJob(1, 0.1, 0.2, 5))

	h, err := c.Fit(ctx, tg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, RandomName, h.Chooser)
	assert.Equal(t, 1, h.ObservationCount)

	x, err := c.Suggest(ctx)
	require.NoError(t, err)
	require.Len(t, x, 2)
	for _, v := range x {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestRandom_ResumesFromHypers(t *testing.T) {
	ctx := context.Background()
	tg := testGroup(t)

	first := NewRandom(discardLogger())
	h, err := first.Fit(ctx, tg, &model.Hypers{State: map[string]any{"seed": 42}}, nil)
	require.NoError(t, err)
	a, err := first.Suggest(ctx)
	require.NoError(t, err)

	// A fresh process resuming from the saved hypers continues the stream.
	second := NewRandom(discardLogger())
	_, err = second.Fit(ctx, tg, persist(t, h), nil)
	require.NoError(t, err)
	b, err := second.Suggest(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// The same hypers replay the same suggestion.
	replay := NewRandom(discardLogger())
	_, err = replay.Fit(ctx, tg, persist(t, h), nil)
	require.NoError(t, err)
	c, err := replay.Suggest(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, c)
}

func TestLocalSearch_NoDataIsRandom(t *testing.T) {
	ctx := context.Background()
	c := NewLocalSearch(discardLogger())
	h, err := c.Fit(ctx, testGroup(t), nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, h.State, stateBest)

	x, err := c.Suggest(ctx)
	require.NoError(t, err)
	assert.Len(t, x, 2)
}

func TestLocalSearch_PerturbsBest(t *testing.T) {
	ctx := context.Background()
	c := NewLocalSearch(discardLogger())
	tg := testGroup(t,
		completeJob(1, 0.9, 0.9, 10),
		completeJob(2, 0.5, 0.5, -1),
	)

	h, err := c.Fit(ctx, tg, &model.Hypers{State: map[string]any{"seed": 7}}, nil)
	require.NoError(t, err)
	assert.Equal(t, -1.0, h.State[stateBest])
	assert.Equal(t, initialStep, h.State[stateStep])

	x, err := c.Suggest(ctx)
	require.NoError(t, err)
	for _, v := range x {
		assert.InDelta(t, 0.5, v, 6*initialStep)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	// No improvement on the next fit shrinks the step.
	h2, err := c.Fit(ctx, tg, persist(t, h), nil)
	require.NoError(t, err)
	assert.InDelta(t, initialStep*stepDecay, h2.State[stateStep], 1e-12)
}
