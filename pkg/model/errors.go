package model

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job id selects no record.
var ErrJobNotFound = errors.New("job not found")

// ConfigurationError reports a missing or invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = e.Key + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError creates a ConfigurationError for key.
func NewConfigurationError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// DispatchError reports that a resource could not start a job.
type DispatchError struct {
	Resource string
	JobID    int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch job %d to %s: %v", e.JobID, e.Resource, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ExecutionError reports that the objective of a job could not be resolved,
// raised, or returned something malformed. Its message is persisted on the job.
type ExecutionError struct {
	JobID int
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %d: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StoreError reports a failed store operation. It aborts the current loop
// iteration or launcher invocation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when a status transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// InvalidStatusError is returned for a persisted status outside the known set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("unknown job status %q", e.Value)
}

// IsFatal reports whether err must abort the scheduler or launcher process.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	var storeErr *StoreError
	return errors.As(err, &cfgErr) || errors.As(err, &storeErr)
}
