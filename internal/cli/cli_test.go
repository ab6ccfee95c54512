package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/gomint/internal/config"
	"github.com/me/gomint/internal/logging"
	"github.com/me/gomint/internal/resource"
	"github.com/me/gomint/internal/scheduler"
	"github.com/me/gomint/internal/store"
	"github.com/me/gomint/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const experiment = "cli-test"

const experimentConfig = `{
	"experiment-name" : "cli-test",
	"language"        : "javascript",
	"main-file"       : "objective.js",
	"scheduler"       : "slurm",
	"max-concurrent"  : 2,
	"polling-time"    : 0.01,
	"variables" : {
		"x" : {"type" : "FLOAT", "size" : 1, "min" : 0, "max" : 1}
	}
}`

const objectiveJS = `function main(job_id, params) { return params.x[0] * 2; }`

// testExperiment writes an experiment directory and returns it with its
// store path.
func testExperiment(t *testing.T) (dir, dbPath string) {
	t.Helper()
	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFile), []byte(experimentConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "objective.js"), []byte(objectiveJS), 0o644))

	logger = logging.Discard()
	flagConfig = config.DefaultFile
	return dir, filepath.Join(dir, config.DefaultDatabaseFile)
}

func openStore(t *testing.T, dbPath string) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Address: dbPath}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func job(dir string, id int, x float64, status model.JobStatus, value *float64) *model.Job {
	j := &model.Job{
		ID:            id,
		Params:        map[string]model.Param{"x": {Type: "float", Values: []float64{x}}},
		ExperimentDir: dir,
		Tasks:         []string{model.MainTask},
		Resource:      config.DefaultResourceName,
		MainFile:      "objective.js",
		Language:      "javascript",
		Status:        status,
		ProcID:        fmt.Sprint(100 + id),
	}
	if value != nil {
		j.Values = map[string]float64{model.MainTask: *value}
	}
	return j
}

func ptr(v float64) *float64 { return &v }

// fakeQueue stands in for sbatch/squeue.
type fakeQueue struct {
	mu      sync.Mutex
	submits int
}

func (q *fakeQueue) Run(_ context.Context, name string, _ ...string) (string, string, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch name {
	case "sbatch":
		q.submits++
		return fmt.Sprintf("Submitted batch job %d\n", q.submits), "", 0, nil
	case "squeue":
		return "RUNNING\n", "", 0, nil
	}
	return "", "unknown command", 127, nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

func TestRunExperiment_FillsQueueAndStops(t *testing.T) {
	dir, dbPath := testExperiment(t)
	queue := &fakeQueue{}
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runExperiment(ctx, dir, runOptions{
			StatusOut: &out,
			Resources: resource.BuildOptions{Launcher: "/bin/true", Runner: queue},
		})
	}()

	require.Eventually(t, func() bool { return queue.count() >= 2 }, 10*time.Second, 10*time.Millisecond)
	st := openStore(t, dbPath)
	require.Eventually(t, func() bool {
		jobs, err := st.LoadJobs(context.Background(), experiment)
		return err == nil && len(model.FilterByStatus(jobs, model.JobStatusPending)) == 2
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	jobs, err := st.LoadJobs(context.Background(), experiment)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "1", jobs[0].ProcID)
	assert.Equal(t, "2", jobs[1].ProcID)
	assert.Equal(t, 2, queue.count(), "a full resource must not be dispatched to")

	h, err := st.LoadHypers(context.Background(), experiment)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Version)
	assert.Contains(t, out.String(), "RESOURCE")
}

func TestRunExperiment_ConfigurationError(t *testing.T) {
	logger = logging.Discard()
	flagConfig = config.DefaultFile

	err := runExperiment(context.Background(), filepath.Join(t.TempDir(), "missing"), runOptions{})
	assert.True(t, model.IsFatal(err), "got %v", err)
}

func TestTriggerFor(t *testing.T) {
	exp := &config.Config{PollingTime: 0.5}
	trig, err := triggerFor(exp)
	require.NoError(t, err)
	assert.Equal(t, scheduler.IntervalTrigger{Interval: 500 * time.Millisecond}, trig)

	exp.PollingSchedule = "*/10 * * * * *"
	trig, err = triggerFor(exp)
	require.NoError(t, err)
	assert.IsType(t, &scheduler.CronTrigger{}, trig)

	exp.PollingSchedule = "whenever"
	_, err = triggerFor(exp)
	assert.True(t, model.IsFatal(err))
}

func TestLaunchCommand(t *testing.T) {
	dir, dbPath := testExperiment(t)
	st := openStore(t, dbPath)
	require.NoError(t, st.SaveJob(context.Background(), experiment, job(dir, 1, 0.3, model.JobStatusPending, nil)))

	root := NewRootCmd()
	root.SetArgs([]string{"launch",
		"--log-level", "error",
		"--experiment-name", experiment,
		"--database-address", dbPath,
		"--job-id", "1",
	})
	require.NoError(t, root.Execute())

	got, err := st.LoadJob(context.Background(), experiment, 1)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, got.Status)
	assert.InDelta(t, 0.6, got.Values[model.MainTask], 1e-9)
	assert.NotNil(t, got.StartTime)
	assert.NotNil(t, got.EndTime)
}

func TestLaunchCommand_Errors(t *testing.T) {
	_, dbPath := testExperiment(t)
	openStore(t, dbPath)

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"launch", "--experiment-name", experiment})
	assert.Error(t, root.Execute(), "missing required flags")

	root = NewRootCmd()
	root.SetArgs([]string{"launch", "--log-level", "error",
		"--experiment-name", experiment, "--database-address", dbPath, "--job-id", "9"})
	assert.ErrorIs(t, root.Execute(), model.ErrJobNotFound)
}

func TestStatusCommand(t *testing.T) {
	dir, dbPath := testExperiment(t)
	st := openStore(t, dbPath)
	ctx := context.Background()
	require.NoError(t, st.SaveJob(ctx, experiment, job(dir, 1, 0.1, model.JobStatusComplete, ptr(0.5))))
	require.NoError(t, st.SaveJob(ctx, experiment, job(dir, 2, 0.2, model.JobStatusComplete, ptr(0.25))))
	require.NoError(t, st.SaveJob(ctx, experiment, job(dir, 3, 0.3, model.JobStatusBroken, nil)))
	require.NoError(t, st.SaveJob(ctx, experiment, job(dir, 4, 0.4, model.JobStatusPending, nil)))

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--log-level", "error", dir})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "Experiment: cli-test")
	assert.Contains(t, text, "4 total, 0 new, 1 pending, 2 complete, 1 broken")
	assert.Contains(t, text, "1 pending, 2 complete, 1 broken")
	assert.Contains(t, text, "Task main: 2 observations")
	assert.Contains(t, text, "Best:   0.25 (job 2, x=0.2)")
	assert.Contains(t, text, "Mean:   0.375")
	assert.Contains(t, text, "Worst:  0.5")
	assert.Contains(t, text, "Stddev:")

	var lines int
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "2 ") && strings.Contains(line, "main=0.25") {
			lines++
		}
	}
	assert.Equal(t, 1, lines, "job table row for job 2")
}

func TestFormatValues(t *testing.T) {
	assert.Equal(t, "-", formatValues(nil))
	assert.Equal(t, "a=1 main=2.5", formatValues(map[string]float64{"main": 2.5, "a": 1}))
}
