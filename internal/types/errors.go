package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode categorizes application errors. The prefix of a code decides
// its HTTP status, so new codes slot into the taxonomy below rather than
// inventing prefixes.
type ErrorCode string
const (
	// Validation (400)
	ErrCodeValidationInvalidEmail     ErrorCode = "validation_invalid_email"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON      ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidRecipient ErrorCode = "validation_invalid_recipient"
	ErrCodeValidationIdempotencyKey   ErrorCode = "validation_missing_idempotency_key"

	// Not Found (404)
	ErrCodeNotFoundToken      ErrorCode = "not_found_token"
	ErrCodeNotFoundIssue      ErrorCode = "not_found_issue"
	ErrCodeNotFoundSubscriber ErrorCode = "not_found_subscriber"
	ErrCodeNotFoundTask       ErrorCode = "not_found_task"

	// Conflict (409)
	ErrCodeConflictEmail       ErrorCode = "conflict_email_exists"
	ErrCodeConflictIdempotency ErrorCode = "conflict_idempotency_in_flight"

	// Upstream (502): transient delivery failures, retried by the
	// dispatch worker per its retry policy.
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"

	// Permanent delivery failure: terminal, recorded, never retried.
	ErrCodeEmailBlocked ErrorCode = "email_blocked"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps the code to its HTTP status by prefix. Unrecognized
// codes fall back to 500.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the error type every layer of the service speaks. Code
// drives retry classification and HTTP mapping; Err keeps the underlying
// cause reachable through errors.Is and errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy with details merged in, leaving the receiver
// untouched.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError builds an AppError wrapping err, which may be nil.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails builds an AppError carrying structured details
// that surface in the API error envelope.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// ErrorCodeOf pulls the ErrorCode out of an error chain. Non-AppError
// errors report internal_unexpected_error; nil reports "".
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
