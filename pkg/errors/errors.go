// Package errors defines the sentinel errors shared by the query engine and
// maps them to HTTP status codes for the transport layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument reports a malformed caller input such as topK <= 0.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidStatistics reports collection statistics that are inconsistent
	// with the postings being scored (df > N, N <= 0, avgdl <= 0).
	ErrInvalidStatistics = errors.New("invalid collection statistics")
	// ErrStoreUnavailable reports a failed posting or document store call.
	ErrStoreUnavailable = errors.New("store unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidArgumentf builds an ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) *AppError {
	return Newf(ErrInvalidArgument, http.StatusBadRequest, format, args...)
}

// InvalidStatisticsf builds an ErrInvalidStatistics with a formatted message.
func InvalidStatisticsf(format string, args ...any) *AppError {
	return Newf(ErrInvalidStatistics, http.StatusInternalServerError, format, args...)
}

// StoreUnavailable wraps a store failure so that both ErrStoreUnavailable and
// the underlying cause remain visible to errors.Is.
func StoreUnavailable(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, cause)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
