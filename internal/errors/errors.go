package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrNotFound      ErrorType = "NOT_FOUND"
	ErrAuthRequired  ErrorType = "AUTH_REQUIRED"
	ErrAccessDenied  ErrorType = "ACCESS_DENIED"
	ErrQuotaExceeded ErrorType = "QUOTA_EXCEEDED"
	ErrTransient     ErrorType = "TRANSIENT"
	ErrInvalidInput  ErrorType = "INVALID_INPUT"
	ErrPersistence   ErrorType = "PERSISTENCE"
	ErrInternal      ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// TypeOf returns the type of the first AppError in the chain, or ErrInternal.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var quota *QuotaExceededError
	if stderrors.As(err, &quota) {
		return ErrQuotaExceeded
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

func is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return is(err, ErrNotFound)
}

// IsAuthRequired checks if the account needs out-of-band re-authorization
func IsAuthRequired(err error) bool {
	return is(err, ErrAuthRequired)
}

// IsAccessDenied checks if the provider refused a request that a valid credential made
func IsAccessDenied(err error) bool {
	return is(err, ErrAccessDenied)
}

// IsQuotaExceeded checks if the daily provider quota is exhausted
func IsQuotaExceeded(err error) bool {
	return is(err, ErrQuotaExceeded)
}

// IsTransient checks if the error may succeed on a later attempt
func IsTransient(err error) bool {
	return is(err, ErrTransient)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return is(err, ErrInvalidInput)
}

// IsValidationError checks if the error is a validation error
// This is an alias for IsInvalidInput since validation errors are a type of invalid input error
func IsValidationError(err error) bool {
	return IsInvalidInput(err)
}

// IsPersistence checks if the error came from the storage layer
func IsPersistence(err error) bool {
	return is(err, ErrPersistence)
}

// QuotaExceededError is returned when the daily call ceiling has been reached.
// Callers reschedule for ResetAt instead of waiting inline.
type QuotaExceededError struct {
	ResetAt time.Time
	Limit   int
	Used    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded, resets at %v (limit: %d, used: %d)",
		e.ResetAt.Format(time.RFC3339), e.Limit, e.Used)
}

// NewQuotaExceededError creates a new QuotaExceededError
func NewQuotaExceededError(resetAt time.Time, limit, used int) *QuotaExceededError {
	return &QuotaExceededError{
		ResetAt: resetAt,
		Limit:   limit,
		Used:    used,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return New(ErrNotFound, message, err)
}

// NewAuthRequiredError creates an error for credentials that cannot be renewed without the athlete
func NewAuthRequiredError(message string, err error) *AppError {
	return New(ErrAuthRequired, message, err)
}

// NewAccessDeniedError creates an error for a request the provider refused with a working credential
func NewAccessDeniedError(message string, err error) *AppError {
	return New(ErrAccessDenied, message, err)
}

// NewTransientError creates a retryable provider or network error
func NewTransientError(message string, err error) *AppError {
	return New(ErrTransient, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return New(ErrInvalidInput, message, err)
}

// NewPersistenceError creates a storage error
func NewPersistenceError(message string, err error) *AppError {
	return New(ErrPersistence, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// QueueFullError is returned when an account's task queue cannot take more work
type QueueFullError struct {
	AccountID int64
	Capacity  int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("task queue full for account %d (capacity %d)", e.AccountID, e.Capacity)
}

// NewQueueFullError creates a new QueueFullError
func NewQueueFullError(accountID int64, capacity int) error {
	return &QueueFullError{
		AccountID: accountID,
		Capacity:  capacity,
	}
}

// NotFoundError represents a not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewResourceNotFoundError creates a not found AppError for a specific resource
func NewResourceNotFoundError(resource, id string) error {
	return NewNotFoundError(resource+" not found", &NotFoundError{
		Resource: resource,
		ID:       id,
	})
}
