package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidIdentity = &AppError{
		Code:       "INVALID_IDENTITY",
		Message:    "Token subject is not a well-formed identifier",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// Kind prefixes for conflict, state and business-rule errors. The helpers
// below match on them so callers never string-compare codes themselves.
const (
	conflictPrefix      = "CONFLICT"
	resourceStatePrefix = "RESOURCE_STATE"
	businessRulePrefix  = "BUSINESS_RULE"
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewConflict marks a uniqueness violation or a lost optimistic race.
func NewConflict(code, message string) *AppError {
	return New(qualify(conflictPrefix, code), message, http.StatusConflict)
}

// NewResourceState marks an operation against a resource in the wrong state.
func NewResourceState(code, message string) *AppError {
	return New(qualify(resourceStatePrefix, code), message, http.StatusConflict)
}

// NewBusinessRule marks a domain rule violation that is not a plain conflict.
func NewBusinessRule(code, message string) *AppError {
	return New(qualify(businessRulePrefix, code), message, http.StatusUnprocessableEntity)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// IsConflict reports whether err carries a CONFLICT kind.
func IsConflict(err error) bool { return hasKind(err, conflictPrefix) }

// IsResourceState reports whether err carries a RESOURCE_STATE kind.
func IsResourceState(err error) bool { return hasKind(err, resourceStatePrefix) }

// IsBusinessRule reports whether err carries a BUSINESS_RULE kind.
func IsBusinessRule(err error) bool { return hasKind(err, businessRulePrefix) }

// IsNotFound reports whether err maps to a 404.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr != nil && appErr.StatusCode == http.StatusNotFound
}

// IsForbidden reports whether err maps to a 403.
func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr != nil && appErr.StatusCode == http.StatusForbidden
}

func qualify(prefix, code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return prefix
	}
	return prefix + "." + code
}

func hasKind(err error, prefix string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		return false
	}
	return appErr.Code == prefix || strings.HasPrefix(appErr.Code, prefix+".")
}
