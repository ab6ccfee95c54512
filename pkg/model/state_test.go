package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusNew, false},
		{JobStatusPending, false},
		{JobStatusComplete, true},
		{JobStatusBroken, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.IsTerminal(), "JobStatus(%q).IsTerminal()", tt.status)
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  JobStatus
		to    JobStatus
		valid bool
	}{
		// Valid transitions
		{JobStatusNew, JobStatusPending, true},
		{JobStatusNew, JobStatusBroken, true},
		{JobStatusNew, JobStatusComplete, true},
		{JobStatusPending, JobStatusComplete, true},
		{JobStatusPending, JobStatusBroken, true},

		// Invalid transitions
		{JobStatusPending, JobStatusNew, false},
		{JobStatusComplete, JobStatusPending, false},
		{JobStatusComplete, JobStatusBroken, false},
		{JobStatusBroken, JobStatusComplete, false},
		{JobStatusBroken, JobStatusBroken, false},
		{JobStatusBroken, JobStatusPending, false},
		{JobStatusNew, JobStatusNew, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to), "%q.CanTransitionTo(%q)", tt.from, tt.to)
	}
}

func TestParseJobStatus(t *testing.T) {
	for _, s := range []string{"new", "pending", "complete", "broken"} {
		_, err := ParseJobStatus(s)
		assert.NoError(t, err, "ParseJobStatus(%q)", s)
	}
	_, err := ParseJobStatus("running")
	assert.Error(t, err)
}
