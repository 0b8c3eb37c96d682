package transfer

import (
	"fmt"
	"net/http"
)

// Operational error codes. These are stable across releases; clients and
// support tooling match on them.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "ACCOUNT_NOT_FOUND"
	CodeFrozen       = "ACCOUNT_FROZEN"
	CodeInsufficient = "INSUFFICIENT_FUNDS"
	CodeFraudBlocked = "FRAUD_BLOCKED"
	CodeBusy         = "ACCOUNT_BUSY"
	CodeConcurrent   = "CONCURRENT_MODIFICATION"
	CodeDependency   = "DEPENDENCY_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// OpError is an operational failure: expected, stable-coded, safe to show to
// the caller. Anything that is not an OpError is a programmer error and
// surfaces as a generic internal error with the trace ID.
type OpError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	cause      error
}

func (e *OpError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OpError) Unwrap() error { return e.cause }

// WithDetail attaches a key/value to the error payload.
func (e *OpError) WithDetail(key string, value any) *OpError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newOpError(code, message string, status int, cause error) *OpError {
	return &OpError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// NewValidationError reports malformed or out-of-bounds input.
func NewValidationError(message string) *OpError {
	return newOpError(CodeValidation, message, http.StatusUnprocessableEntity, nil)
}

// NewNotFoundError reports a missing sender or recipient account.
func NewNotFoundError(message string) *OpError {
	return newOpError(CodeNotFound, message, http.StatusNotFound, nil)
}

// NewFrozenError reports a non-active account.
func NewFrozenError(accountID string) *OpError {
	return newOpError(CodeFrozen, "account is not active", http.StatusUnprocessableEntity, nil).
		WithDetail("accountId", accountID)
}

// NewInsufficientFundsError reports a balance below the requested amount.
func NewInsufficientFundsError(required, available int64) *OpError {
	return newOpError(CodeInsufficient, "insufficient funds", http.StatusUnprocessableEntity, nil).
		WithDetail("required", required).
		WithDetail("available", available)
}

// NewFraudBlockedError reports a declined or challenged transfer.
func NewFraudBlockedError(score int, action string) *OpError {
	return newOpError(CodeFraudBlocked, "transfer blocked by fraud checks", http.StatusForbidden, nil).
		WithDetail("score", score).
		WithDetail("action", action)
}

// NewBusyError reports distributed lock contention on the account pair.
func NewBusyError() *OpError {
	return newOpError(CodeBusy, "account is processing another transfer, retry shortly", http.StatusConflict, nil)
}

// NewConcurrentError reports exhausted retries on a version conflict.
func NewConcurrentError(cause error) *OpError {
	return newOpError(CodeConcurrent, "transfer conflicted with concurrent activity, retry", http.StatusConflict, cause)
}

// NewDependencyError reports an unavailable hard dependency.
func NewDependencyError(message string, cause error) *OpError {
	return newOpError(CodeDependency, message, http.StatusServiceUnavailable, cause)
}
