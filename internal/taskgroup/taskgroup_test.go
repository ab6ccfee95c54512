package taskgroup

import (
	"math"
	"testing"
	"time"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func braninSpace(t *testing.T) *Space {
	t.Helper()
	s, err := NewSpace([]config.Variable{
		{Name: "x", Type: config.VariableTypeFloat, Size: 1, Min: -5, Max: 10},
		{Name: "y", Type: config.VariableTypeFloat, Size: 1, Min: 0, Max: 15},
	})
	require.NoError(t, err)
	return s
}

func job(id int, status model.JobStatus, x, y float64, values map[string]float64) *model.Job {
	return &model.Job{
		ID:     id,
		Status: status,
		Params: map[string]model.Param{
			"x": {Type: "float", Values: []float64{x}},
			"y": {Type: "float", Values: []float64{y}},
		},
		Values: values,
	}
}

func TestSpace_ParamifyVectorify(t *testing.T) {
	s := braninSpace(t)
	assert.Equal(t, 2, s.Dims())

	params, err := s.Paramify([]float64{0.5, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5}, params["x"].Values)
	assert.Equal(t, []float64{15}, params["y"].Values)
	assert.Equal(t, "float", params["x"].Type)

	back, err := s.Vectorify(params)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1}, back, 1e-12)
}

func TestSpace_IntAndSize(t *testing.T) {
	s, err := NewSpace([]config.Variable{
		{Name: "n", Type: config.VariableTypeInt, Size: 3, Min: 1, Max: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Dims())

	params, err := s.Paramify([]float64{0, 0.49, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 5}, params["n"].Values, "rounded and clamped")
	assert.Equal(t, "int", params["n"].Type)

	_, err = s.Paramify([]float64{0.1})
	assert.Error(t, err)
}

func TestSpace_VectorifyMissingParam(t *testing.T) {
	s := braninSpace(t)
	_, err := s.Vectorify(map[string]model.Param{"x": {Values: []float64{1}}})
	assert.ErrorContains(t, err, `"y"`)
}

func TestNewSpace_Invalid(t *testing.T) {
	_, err := NewSpace(nil)
	assert.Error(t, err)
	_, err = NewSpace([]config.Variable{{Name: "x", Size: 1, Min: 1, Max: 1}})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	s := braninSpace(t)
	jobs := []*model.Job{
		job(1, model.JobStatusComplete, -5, 0, map[string]float64{"main": 3}),
		job(2, model.JobStatusBroken, 0, 0, nil),
		job(3, model.JobStatusPending, 10, 15, nil),
		job(4, model.JobStatusNew, 1, 1, nil),
		job(5, model.JobStatusComplete, 10, 15, map[string]float64{"main": 1}),
		job(6, model.JobStatusComplete, 10, 0, map[string]float64{"other": 9}),
	}

	tg, err := Build(s, []string{"main"}, jobs)
	require.NoError(t, err)

	assert.Equal(t, 3, tg.NumObservations())
	assert.Equal(t, []int{1, 5, 6}, tg.JobIDs)
	assert.Equal(t, [][]float64{{0, 0}, {1, 1}, {1, 0}}, tg.Inputs)
	assert.Equal(t, [][]float64{{1, 1}}, tg.Pending)

	require.Len(t, tg.Values["main"], 3)
	assert.Equal(t, 3.0, tg.Values["main"][0])
	assert.Equal(t, 1.0, tg.Values["main"][1])
	assert.True(t, math.IsNaN(tg.Values["main"][2]))

	row, best := tg.Best("main")
	assert.Equal(t, 1, row)
	assert.Equal(t, 1.0, best)
}

func TestBuild_Empty(t *testing.T) {
	tg, err := Build(braninSpace(t), []string{"main"}, nil)
	require.NoError(t, err)
	assert.Empty(t, tg.Inputs)
	assert.Empty(t, tg.Pending)
	assert.Empty(t, tg.Values["main"])

	row, _ := tg.Best("main")
	assert.Equal(t, -1, row)

	_, err = Build(braninSpace(t), nil, nil)
	assert.Error(t, err)
}

func TestBuild_BrokenAfterReclaimIsExcluded(t *testing.T) {
	s := braninSpace(t)
	j := job(1, model.JobStatusPending, 0, 0, nil)

	tg, err := Build(s, []string{"main"}, []*model.Job{j})
	require.NoError(t, err)
	assert.Len(t, tg.Pending, 1)

	require.NoError(t, j.Transition(model.JobStatusBroken, time.Now()))
	tg, err = Build(s, []string{"main"}, []*model.Job{j})
	require.NoError(t, err)
	assert.Empty(t, tg.Pending)
	assert.Empty(t, tg.Inputs)
	assert.Empty(t, tg.Values["main"])
}
