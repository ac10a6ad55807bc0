package client

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrResponseTooLarge is returned when a body exceeds MaxResponseBytes.
	ErrResponseTooLarge = errors.New("response body too large")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors, including Esri error
	// objects carrying a 5xx code.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 throttling.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassData represents malformed or undecodable response bodies.
	ErrorClassData ErrorClass = "data"

	// ErrorClassService represents non-transient Esri error objects
	// (invalid query, unsupported operation, token problems).
	ErrorClassService ErrorClass = "service"

	// ErrorClassCircuitOpen represents requests rejected by the host breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"
)

// RequestError is returned by every failed request.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Class      ErrorClass
	Attempts   int
	Exhausted  bool
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s error", e.Method, e.URL, e.Class)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Exhausted {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is matches ErrRetryExhausted for requests that ran out of attempts.
func (e *RequestError) Is(target error) bool {
	return target == ErrRetryExhausted && e.Exhausted
}

// Retryable reports whether the failure class is transient.
func (e *RequestError) Retryable() bool {
	return shouldRetry(e.Class)
}

// ServiceError is the `error` object ArcGIS servers embed in response bodies,
// frequently with HTTP status 200.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// classifyServiceError maps an Esri error code onto a failure class.
func classifyServiceError(e *ServiceError) ErrorClass {
	switch {
	case e.Code == 429:
		return ErrorClassRateLimit
	case e.Code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassService
	}
}

// AttemptsOf returns the number of HTTP exchanges made before err was returned.
func AttemptsOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Attempts
	}
	return 0
}

// ClassOf returns the failure class of err, or "" when err did not come from the client.
func ClassOf(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassData:
		return true
	case ErrorClassClient, ErrorClassService:
		// rejected queries fail the same way every time
		return false
	default:
		return false
	}
}

// countsAgainstHost reports whether a failure should feed the host breaker.
func countsAgainstHost(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
