package strava

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
)

// APIError is a non-success response from the Strava API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Strava API error (status %d): %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("Strava API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError with the given status code and message
func NewAPIError(statusCode int, message string, err error) error {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// Retryable reports whether another attempt of the same request may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// classify maps a terminal provider error into the application taxonomy
func classify(err error, what string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError(what+" not found", apiErr)
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		// The credential already survived a refresh, so only this request is refused.
		return apperrors.NewAccessDeniedError(what+": access denied", apiErr)
	case apiErr.Retryable():
		return apperrors.NewTransientError(what+": retries exhausted", apiErr)
	default:
		return apperrors.NewInternalError(what+": unexpected response", apiErr)
	}
}
