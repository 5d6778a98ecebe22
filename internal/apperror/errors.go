package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier returned to clients
// alongside the human-readable message.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeAuth               Code = "AUTH_ERROR"
	CodeMissingToken       Code = "MISSING_TOKEN"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeMissingSecret      Code = "MISSING_SECRET"
	CodeDuplicateEmail     Code = "DUPLICATE_EMAIL"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidUpload      Code = "INVALID_UPLOAD"
	CodeUpstream           Code = "UPSTREAM_ERROR"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// AppError is an error with a client-facing code, message and HTTP status.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinel values such as
// ErrReportNotFound can be compared with errors.Is regardless of message.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

func Validationf(format string, args ...any) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func InvalidUpload(message string) *AppError {
	return New(CodeInvalidUpload, message)
}

func Upstream(err error, message string) *AppError {
	return Wrap(err, CodeUpstream, message)
}

func Internal(err error, message string) *AppError {
	return Wrap(err, CodeInternal, message)
}

func codeToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeDuplicateEmail, CodeInvalidUpload:
		return http.StatusBadRequest
	case CodeAuth, CodeMissingToken, CodeInvalidToken, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// From returns err as an AppError, wrapping unknown errors as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err, "Internal Server Error")
}

var (
	ErrUserNotFound       = New(CodeNotFound, "User does not exist")
	ErrGuestNotFound      = New(CodeNotFound, "Guest account not found")
	ErrReportNotFound     = New(CodeNotFound, "Report not found or unauthorized")
	ErrDuplicateEmail     = New(CodeDuplicateEmail, "Email already in use")
	ErrInvalidCredentials = New(CodeInvalidCredentials, "Incorrect password")
	ErrMissingToken       = New(CodeMissingToken, "Please provide a token")
	ErrInvalidToken       = New(CodeInvalidToken, "Invalid token")
	ErrMissingSecret      = New(CodeMissingSecret, "JWT secret is not defined")
	ErrUnauthorized       = New(CodeAuth, "unauthorized")
	ErrRateLimited        = New(CodeRateLimited, "Too many requests, please try again later")
)
