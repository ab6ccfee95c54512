package model

// JobStatus represents the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusNew      JobStatus = "new"
	JobStatusPending  JobStatus = "pending"
	JobStatusComplete JobStatus = "complete"
	JobStatusBroken   JobStatus = "broken"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusBroken:
		return true
	}
	return false
}

// Valid returns true for the four known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusNew, JobStatusPending, JobStatusComplete, JobStatusBroken:
		return true
	}
	return false
}

// ValidJobTransitions defines the allowed status transitions for Jobs.
//
// new -> complete is accepted because a launched trial can finish before the
// scheduler records the dispatch; observed statuses still form a subsequence
// of new, pending, {complete|broken}.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobStatusNew:     {JobStatusPending, JobStatusComplete, JobStatusBroken},
	JobStatusPending: {JobStatusComplete, JobStatusBroken},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobStatus converts a persisted status string, rejecting unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", &InvalidStatusError{Value: s}
	}
	return st, nil
}
