// Package services defines the business logic for the todo list.
// This file centralizes the service-level error taxonomy so that every
// operation classifies storage outcomes the same way and callers can check
// them with errors.Is.
//
// There are exactly three kinds of classified error:
//   - ErrItemNotFound:   the requested id does not exist.
//   - ErrInvalidRequest: the input is malformed or inconsistent.
//   - ErrBackendFailure: an unexpected storage/infrastructure error.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-todo-backend/internal/repo"
)

var (
	// ErrItemNotFound indicates that the requested item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidRequest is returned when input fails validation before any
	// storage call is made.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBackendFailure wraps any storage error that is not a not-found.
	// Its message never includes the underlying cause.
	ErrBackendFailure = errors.New("backend failure")
)

// NotFoundError reports a missing item. ID is zero when unknown.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return ErrItemNotFound.Error()
	}
	return fmt.Sprintf("item not found: id %d", e.ID)
}

// Is makes errors.Is(err, ErrItemNotFound) true.
func (e *NotFoundError) Is(target error) bool { return target == ErrItemNotFound }

// InvalidRequestError carries a caller-facing reason.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidRequest) true.
func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// BackendError wraps an unexpected storage error. Op names the service
// operation that failed. The cause is reachable through Unwrap for logging
// but is deliberately absent from Error().
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return ErrBackendFailure.Error() + ": " + e.Op
}

// Unwrap returns the storage error.
func (e *BackendError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackendFailure) true.
func (e *BackendError) Is(target error) bool { return target == ErrBackendFailure }

// Invalid builds an InvalidRequestError. Handlers use it for transport-level
// validation failures so every 400 flows through the same taxonomy.
func Invalid(reason string) error {
	return &InvalidRequestError{Reason: reason}
}

// classify maps a storage error onto the service taxonomy:
//  1. an already classified not-found is returned unchanged;
//  2. a storage not-found becomes a NotFoundError for id;
//  3. anything else becomes a BackendError for op.
//
// A nil err yields nil.
func classify(op string, id int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrItemNotFound):
		return err
	case errors.Is(err, repo.ErrNotFound):
		return &NotFoundError{ID: id}
	default:
		return &BackendError{Op: op, Err: err}
	}
}

// outcome names the classified result of an operation for metrics labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "backend_failure"
	}
}
