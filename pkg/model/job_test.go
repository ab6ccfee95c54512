package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob() *Job {
	return &Job{
		ID: 7,
		Params: map[string]Param{
			"x": {Type: "float", Values: []float64{1}},
			"y": {Type: "float", Values: []float64{2}},
		},
		ExperimentDir: "/tmp/expt",
		Tasks:         []string{MainTask},
		Resource:      "Main",
		MainFile:      "branin.js",
		Language:      "javascript",
		Status:        JobStatusNew,
		SubmitTime:    NewTimestamp(time.Unix(1700000000, 0)),
	}
}

func TestJob_TransitionStampsEndTime(t *testing.T) {
	job := sampleJob()
	now := time.Unix(1700000100, 0)

	require.NoError(t, job.Transition(JobStatusPending, now))
	assert.Nil(t, job.EndTime, "pending must not stamp end time")

	require.NoError(t, job.Complete(map[string]float64{MainTask: 42}, now))
	require.NotNil(t, job.EndTime)
	assert.Equal(t, now.Unix(), job.EndTime.Unix())
	assert.Equal(t, 42.0, job.Values[MainTask])
}

func TestJob_TransitionRejectsBackwards(t *testing.T) {
	job := sampleJob()
	job.Status = JobStatusBroken

	err := job.Complete(map[string]float64{MainTask: 1}, time.Now())
	var te *InvalidTransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "broken", te.From)
	assert.Equal(t, JobStatusBroken, job.Status)
	assert.Nil(t, job.Values)
}

func TestJob_BreakDropsValues(t *testing.T) {
	job := sampleJob()
	job.Status = JobStatusPending
	job.Values = map[string]float64{MainTask: 3}

	require.NoError(t, job.Break(errors.New("boom"), time.Now()))
	assert.Nil(t, job.Values)
	assert.Equal(t, "boom", job.Error)
	assert.NotNil(t, job.EndTime)
}

func TestJob_CloneIsDeep(t *testing.T) {
	job := sampleJob()
	c := job.Clone()
	c.Params["x"].Values[0] = 99
	c.Tasks[0] = "other"

	assert.Equal(t, 1.0, job.Params["x"].Values[0])
	assert.Equal(t, MainTask, job.Tasks[0])
}

func TestJob_JSONShape(t *testing.T) {
	job := sampleJob()
	data, err := json.Marshal(job)
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"expt_dir"`, `"main-file"`, `"submit time":1700000000`, `"start time":null`, `"end time":null`} {
		assert.True(t, strings.Contains(s, key), "missing %s in %s", key, s)
	}
	assert.NotContains(t, s, `"values"`)

	var back Job
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, job.ID, back.ID)
	assert.Nil(t, back.StartTime)
	assert.Equal(t, job.SubmitTime.Unix(), back.SubmitTime.Unix())
}

func TestFilterHelpers(t *testing.T) {
	a := sampleJob()
	b := sampleJob()
	b.ID, b.Status, b.Resource = 8, JobStatusPending, "Other"
	jobs := []*Job{a, b}

	assert.Len(t, FilterByStatus(jobs, JobStatusPending), 1)
	assert.Len(t, FilterByResource(jobs, "Main"), 1)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&StoreError{Op: "load", Err: errors.New("down")}))
	assert.True(t, IsFatal(NewConfigurationError("main-file", "not specified")))
	assert.False(t, IsFatal(&ExecutionError{JobID: 1, Stage: "evaluate", Err: errors.New("x")}))
}

func TestJob_RevisionStaysOutOfRecord(t *testing.T) {
	job := sampleJob()
	job.Revision = 5

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "revision")

	assert.Equal(t, 5, job.Clone().Revision)
}
