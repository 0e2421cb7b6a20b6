package apierror

import "fmt"

// Code classifies an API-facing failure.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeRateLimit    Code = "RATE_LIMIT"
	CodeInternal     Code = "INTERNAL"
)

// Error is the closed error shape surfaced to API clients. Optional fields
// are named, not an open property bag.
type Error struct {
	Code              Code   `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Field             string `json:"field,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unauthorized is deliberately uniform: missing key, bad key, revoked key and
// wrong tenant all produce the same shape.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// RateLimit carries the mandatory retry hint. retryAfter is clamped to at
// least one second.
func RateLimit(msg string, retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{Code: CodeRateLimit, Message: msg, RetryAfterSeconds: retryAfter}
}

// Internal never embeds storage detail; msg is a client-safe phrase.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// HTTPStatus maps a code to its transport status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeRateLimit:
		return 429
	default:
		return 500
	}
}
