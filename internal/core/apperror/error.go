// Package apperror provides structured error handling for the POS core.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes rendered in the "error" field of API responses.
const (
	// Infrastructure errors (5xx)
	CodeInternal       = "INTERNAL_ERROR"
	CodePartialFailure = "PARTIAL_FAILURE"
	CodeSync           = "SYNC_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Business rule violations (422)
	CodeStockTypeMismatch = "STOCK_TYPE_MISMATCH"

	// Authorization errors (401, 403)
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeBranchMismatch = "BRANCH_MISMATCH"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict    = "CONFLICT"
	CodeIdempotency = "IDEMPOTENCY_CONFLICT"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"error"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, failed items, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// ItemFailure describes one line of a multi-item workflow that did not complete.
type ItemFailure struct {
	ItemID string `json:"itemId"`
	Reason string `json:"reason"`
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate is returned when a create targets an id that already holds a live document.
func NewDuplicate(entity string, id any) *AppError {
	return NewConflict(fmt.Sprintf("%s with this id already exists", entity)).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// NewStaleRevision is returned when a write carries a revision that is no longer current.
func NewStaleRevision(entity string, id any, revision string) *AppError {
	return NewConflict("Record was modified concurrently. Please refresh and try again.").
		WithDetail("entity", entity).
		WithDetail("id", id).
		WithDetail("revision", revision)
}

// NewBranchMismatch creates an ownership violation (403).
func NewBranchMismatch(entity string, id any, owner, requested string) *AppError {
	return &AppError{
		Code:       CodeBranchMismatch,
		Message:    fmt.Sprintf("%s does not belong to this branch", entity),
		HTTPStatus: http.StatusForbidden,
		Details: map[string]any{
			"entity":          entity,
			"id":              id,
			"branchId":        owner,
			"requestBranchId": requested,
		},
	}
}

// NewPartialFailure reports a multi-step workflow that stopped after some side effects were applied.
func NewPartialFailure(stage string, succeeded []string, failed []ItemFailure, cause error) *AppError {
	if succeeded == nil {
		succeeded = []string{}
	}
	if failed == nil {
		failed = []ItemFailure{}
	}
	return &AppError{
		Code:       CodePartialFailure,
		Message:    fmt.Sprintf("operation partially applied, stopped at %s", stage),
		HTTPStatus: http.StatusInternalServerError,
		Details: map[string]any{
			"stage":     stage,
			"succeeded": succeeded,
			"failed":    failed,
		},
		Err: cause,
	}
}

// NewSyncError wraps a replication failure. Terminal errors must not be retried.
func NewSyncError(message string, terminal bool, cause error) *AppError {
	return &AppError{
		Code:       CodeSync,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"terminal": terminal},
		Err:        cause,
	}
}

// NewStockTypeMismatch is returned when a delta kind does not match the item's stock kind.
func NewStockTypeMismatch(itemID string, stockType, deltaType string) *AppError {
	return &AppError{
		Code:       CodeStockTypeMismatch,
		Message:    "Stock type mismatch",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"itemId":    itemID,
			"stockType": stockType,
			"deltaType": deltaType,
		},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused for
// a different request (different operation or body hash).
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConflict checks if error is CodeConflict
func IsConflict(err error) bool {
	return HasCode(err, CodeConflict)
}

// IsTerminalSync reports whether err is a SyncError that must not be retried.
func IsTerminalSync(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Code != CodeSync {
		return false
	}
	terminal, _ := appErr.Details["terminal"].(bool)
	return terminal
}
