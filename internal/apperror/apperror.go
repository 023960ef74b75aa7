// Package apperror defines the error taxonomy shared by the service and
// handler layers.
//
// Services return *AppError values wrapping one of the sentinels below.
// Handlers use errors.Is to decide how a failure is surfaced (redirect with a
// message for pages, a status code for the JSON API). Anything that does not
// wrap a sentinel is treated as a store/internal failure.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable, safe to show to the user
	Field   string // optional: field or column causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller-chosen message.
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission on
// the resource it asked for.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated is used for bad credentials and invalid or expired tokens.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// IsDomain reports whether err belongs to the recoverable taxonomy. Errors
// for which it returns false are store or internal failures.
func IsDomain(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// ConflictField returns the Field of a conflict error, or "" when err is not
// a conflict.
func ConflictField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrConflict) {
		return appErr.Field
	}
	return ""
}
