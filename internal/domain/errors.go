package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Resource string
		ID       string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure
	UnauthorizedError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

// Is lets errors.Is match the typed errors against their sentinels.
func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrBlockTypeLocked is returned when a block that already has a concrete
	// type is asked to change it.
	ErrBlockTypeLocked = errors.New("block type already resolved")

	// ErrTerminalStatus is returned when a status would move backwards out of
	// SUCCESS or ERROR.
	ErrTerminalStatus = errors.New("status is terminal")

	// ErrResponseFinished is returned when chunks arrive after a terminal call.
	ErrResponseFinished = errors.New("response already finished")

	// ErrInterrupted is the cancel cause used when a user stops a response.
	ErrInterrupted = errors.New("response interrupted")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string
	ResourceType string
	ResourceID   string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ProviderError is a failure reported by the model provider.
// Code is the upstream HTTP status when one is known, zero otherwise.
type ProviderError struct {
	Code    int
	Message string
	Body    string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error (%d): %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AsProviderError converts any error into a ProviderError, keeping an
// existing one intact.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	var he HTTPError
	code := 0
	if errors.As(err, &he) {
		code = he.StatusCode()
	}
	return &ProviderError{Code: code, Message: err.Error(), Err: err}
}
