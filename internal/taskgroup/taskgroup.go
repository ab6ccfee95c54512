// Package taskgroup projects the job records of an experiment into the
// observation matrices a chooser fits on.
package taskgroup

import (
	"fmt"
	"math"

	"github.com/me/gomint/pkg/model"
)

// TaskGroup is a fresh view over all jobs for a subset of tasks. Inputs and
// every Values[task] are aligned row for row over the complete jobs.
type TaskGroup struct {
	Tasks   []string
	Space   *Space
	Inputs  [][]float64
	Pending [][]float64
	Values  map[string][]float64

	// JobIDs holds the id of the job behind each Inputs row.
	JobIDs []int
}

// Build assembles the TaskGroup for taskNames. Only complete jobs
// contribute observations. A complete job without a value for one of the
// tasks contributes NaN for it.
func Build(space *Space, taskNames []string, jobs []*model.Job) (*TaskGroup, error) {
	if len(taskNames) == 0 {
		return nil, fmt.Errorf("task group: no tasks")
	}
	tg := &TaskGroup{
		Tasks:   taskNames,
		Space:   space,
		Inputs:  [][]float64{},
		Pending: [][]float64{},
		Values:  make(map[string][]float64, len(taskNames)),
	}
	for _, task := range taskNames {
		tg.Values[task] = []float64{}
	}

	for _, job := range jobs {
		switch job.Status {
		case model.JobStatusComplete:
			x, err := space.Vectorify(job.Params)
			if err != nil {
				return nil, fmt.Errorf("job %d: %w", job.ID, err)
			}
			tg.Inputs = append(tg.Inputs, x)
			tg.JobIDs = append(tg.JobIDs, job.ID)
			for _, task := range taskNames {
				v, ok := job.Values[task]
				if !ok {
					v = math.NaN()
				}
				tg.Values[task] = append(tg.Values[task], v)
			}
		case model.JobStatusPending:
			x, err := space.Vectorify(job.Params)
			if err != nil {
				return nil, fmt.Errorf("job %d: %w", job.ID, err)
			}
			tg.Pending = append(tg.Pending, x)
		}
	}
	return tg, nil
}

// NumObservations is the number of complete jobs in the group.
func (tg *TaskGroup) NumObservations() int {
	return len(tg.Inputs)
}

// Best returns the row with the lowest finite value of task, or -1 when
// there is none.
func (tg *TaskGroup) Best(task string) (row int, value float64) {
	row = -1
	for i, v := range tg.Values[task] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if row < 0 || v < value {
			row, value = i, v
		}
	}
	return row, value
}
