package model

import (
	"fmt"
	"time"
)

// Response is the standard status API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the status API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// ResourceStatus summarises one resource for status tables and the API.
type ResourceStatus struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Pending       int    `json:"pending"`
	Complete      int    `json:"complete"`
	Broken        int    `json:"broken"`
	MaxConcurrent int    `json:"max_concurrent"`
	Accepting     bool   `json:"accepting"`
}
