package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors used throughout the application.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodePreconditionFailed    = "PRECONDITION_FAILED"
	ErrCodeConflict              = "CONFLICT"
	ErrCodePersistenceError      = "PERSISTENCE_ERROR"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}

// UnknownRuleError is returned when one or more requested benchmark rule ids
// do not exist in the catalog. It lists every missing id.
type UnknownRuleError struct {
	MissingIDs []string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("unknown benchmark rule ids: %s", strings.Join(e.MissingIDs, ", "))
}

// Unwrap lets callers match the error against ErrNotFound.
func (e *UnknownRuleError) Unwrap() error {
	return ErrNotFound
}

// PersistenceError wraps a failure of the settings store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SynchronizationError reports a detection rule lookup or disable failure
// that happened after the rule states were already persisted. The state
// change is kept; only the side effect is incomplete.
type SynchronizationError struct {
	Stage    string
	Disabled int
	Err      error
}

func (e *SynchronizationError) Error() string {
	return fmt.Sprintf("detection rule synchronization failed during %s: %v", e.Stage, e.Err)
}

func (e *SynchronizationError) Unwrap() error {
	return e.Err
}
