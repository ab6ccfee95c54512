package model

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MainTask is the task name a bare objective value is recorded under.
const MainTask = "main"

// Param holds the current value(s) of one named variable.
type Param struct {
	Type   string    `json:"type"`
	Values []float64 `json:"values"`
}

// Job is one trial of an experiment. It is persisted as a single document
// keyed by (experiment, id).
type Job struct {
	ID            int              `json:"id"`
	Params        map[string]Param `json:"params"`
	ExperimentDir string           `json:"expt_dir"`
	Tasks         []string         `json:"tasks"`
	Resource      string           `json:"resource"`
	MainFile      string           `json:"main-file"`
	Language      string           `json:"language"`
	Status        JobStatus        `json:"status"`
	SubmitTime    *Timestamp       `json:"submit time"`
	StartTime     *Timestamp       `json:"start time"`
	EndTime       *Timestamp       `json:"end time"`
	ProcID        string           `json:"proc_id,omitempty"`

	// Values maps task name to the observation; present only when complete.
	Values map[string]float64 `json:"values,omitempty"`

	// Error carries the execution failure message of a broken job.
	Error string `json:"error,omitempty"`

	// Revision counts writes to the stored record. Stores own it.
	Revision int `json:"-"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.Params = make(map[string]Param, len(j.Params))
	for name, p := range j.Params {
		c.Params[name] = Param{Type: p.Type, Values: slices.Clone(p.Values)}
	}
	c.Tasks = slices.Clone(j.Tasks)
	c.Values = maps.Clone(j.Values)
	if j.SubmitTime != nil {
		c.SubmitTime = NewTimestamp(j.SubmitTime.Time)
	}
	if j.StartTime != nil {
		c.StartTime = NewTimestamp(j.StartTime.Time)
	}
	if j.EndTime != nil {
		c.EndTime = NewTimestamp(j.EndTime.Time)
	}
	return &c
}

// Transition moves the job to next, enforcing the status machine. Entering
// a terminal status stamps EndTime. Values only survive on complete jobs.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{
			Entity: "job",
			ID:     strconv.Itoa(j.ID),
			From:   j.Status.String(),
			To:     next.String(),
		}
	}
	j.Status = next
	if next.IsTerminal() {
		j.EndTime = NewTimestamp(now)
	}
	if next != JobStatusComplete {
		j.Values = nil
	}
	return nil
}

// Complete records values and moves the job to complete.
func (j *Job) Complete(values map[string]float64, now time.Time) error {
	if err := j.Transition(JobStatusComplete, now); err != nil {
		return err
	}
	j.Values = maps.Clone(values)
	j.Error = ""
	return nil
}

// Break moves the job to broken, recording cause when given.
func (j *Job) Break(cause error, now time.Time) error {
	if err := j.Transition(JobStatusBroken, now); err != nil {
		return err
	}
	if cause != nil {
		j.Error = cause.Error()
	}
	return nil
}

// ParamValues flattens Params into name -> values for objective invocation.
func (j *Job) ParamValues() map[string][]float64 {
	out := make(map[string][]float64, len(j.Params))
	for name, p := range j.Params {
		out[name] = slices.Clone(p.Values)
	}
	return out
}

// HasTask reports whether the job contributes to the named task.
func (j *Job) HasTask(name string) bool {
	return slices.Contains(j.Tasks, name)
}

// FilterByStatus returns the jobs whose status equals s, preserving order.
func FilterByStatus(jobs []*Job, s JobStatus) []*Job {
	var out []*Job
	for _, j := range jobs {
		if j.Status == s {
			out = append(out, j)
		}
	}
	return out
}

// FilterByResource returns the jobs assigned to the named resource.
func FilterByResource(jobs []*Job, resource string) []*Job {
	var out []*Job
	for _, j := range jobs {
		if j.Resource == resource {
			out = append(out, j)
		}
	}
	return out
}

// NormalizeLanguage lower-cases and trims a language name from configuration.
func NormalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
