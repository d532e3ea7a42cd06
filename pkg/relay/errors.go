package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an APIError for callers and for retry decisions.
type ErrorKind string

const (
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindServer       ErrorKind = "server"
	ErrorKindUnknown      ErrorKind = "unknown"
)

// APIError is the canonical error produced by the client pipeline. It is
// constructed once per failure and never mutated afterwards.
type APIError struct {
	Kind       ErrorKind `json:"kind"                  yaml:"kind"`
	HTTPStatus int       `json:"http_status,omitempty" yaml:"http_status,omitempty"`
	Message    string    `json:"message"               yaml:"message"`
	Cause      error     `json:"-"                     yaml:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (status: %d)", e.Kind, e.Message, e.HTTPStatus)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// NewAPIError constructs an APIError with an arbitrary kind.
func NewAPIError(kind ErrorKind, status int, message string, cause error) *APIError {
	return &APIError{Kind: kind, HTTPStatus: status, Message: message, Cause: cause}
}

// ClassifyStatus maps an HTTP status code to an error kind. 2xx statuses are
// not errors and map to ErrorKindUnknown; callers should not classify them.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorKindUnauthorized
	case status == http.StatusNotFound:
		return ErrorKindNotFound
	case status >= 400 && status < 500:
		return ErrorKindValidation
	case status >= 500 && status < 600:
		return ErrorKindServer
	default:
		return ErrorKindUnknown
	}
}

// ErrorFromStatus builds an APIError from an HTTP status and message.
func ErrorFromStatus(status int, message string) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}

	return &APIError{Kind: ClassifyStatus(status), HTTPStatus: status, Message: message}
}

// DefaultMessage returns generic user-facing copy for a kind. Callers that
// want localized or branded text map kinds themselves.
func (k ErrorKind) DefaultMessage() string {
	switch k {
	case ErrorKindNetwork:
		return "could not reach the server"
	case ErrorKindTimeout:
		return "the request timed out"
	case ErrorKindUnauthorized:
		return "your session has expired, please sign in again"
	case ErrorKindNotFound:
		return "the requested resource was not found"
	case ErrorKindValidation:
		return "the request was rejected by the server"
	case ErrorKindServer:
		return "the server encountered an error"
	default:
		return "something went wrong"
	}
}

// errorPayload covers the common wire shapes of a JSON error body:
// {"errors":[{"title","detail"}]}, {"error":"..."} and {"message":"..."}.
type errorPayload struct {
	Errors []errorDetail `json:"errors"`
	ErrStr string        `json:"error"`
	MsgStr string        `json:"message"`
}

type errorDetail struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// ParseErrorBody extracts a human-readable message from a JSON error body.
// Malformed or non-JSON bodies yield an empty string; callers degrade to the
// HTTP status text.
func ParseErrorBody(body []byte) string {
	var payload errorPayload

	err := json.Unmarshal(body, &payload)
	if err != nil {
		return ""
	}

	if len(payload.Errors) > 0 {
		detail := payload.Errors[0]
		switch {
		case detail.Title != "" && detail.Detail != "":
			return detail.Title + ": " + detail.Detail
		case detail.Detail != "":
			return detail.Detail
		case detail.Title != "":
			return detail.Title
		}
	}

	if payload.ErrStr != "" {
		return payload.ErrStr
	}

	return payload.MsgStr
}

// Static errors for construction-time misuse.
var (
	ErrConfigRequired  = errors.New("config is required")
	ErrBaseURLRequired = errors.New("base URL is required")
	ErrIdentityFunc    = errors.New("identity function is required")
	ErrResourcePath    = errors.New("resource path is required")
	ErrInvalidTimeout  = errors.New("timeout must be positive")
	ErrInvalidAttempts = errors.New("max attempts must be at least 1")
)

// IsNotFound reports whether err carries ErrorKindNotFound.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrorKindNotFound
}

// IsUnauthorized reports whether err carries ErrorKindUnauthorized.
func IsUnauthorized(err error) bool {
	return kindOf(err) == ErrorKindUnauthorized
}

// IsValidation reports whether err carries ErrorKindValidation.
func IsValidation(err error) bool {
	return kindOf(err) == ErrorKindValidation
}

// IsRetryable reports whether another attempt could plausibly succeed.
// Unauthorized, NotFound and Validation failures are terminal.
func IsRetryable(err error) bool {
	switch kindOf(err) {
	case ErrorKindNetwork, ErrorKindTimeout, ErrorKindServer:
		return true
	default:
		return false
	}
}

func kindOf(err error) ErrorKind {
	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	return ""
}
