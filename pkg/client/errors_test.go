package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "client error - no retry", errorClass: ErrorClassClient, expected: false},
		{name: "service error - no retry", errorClass: ErrorClassService, expected: false},
		{name: "circuit open - no retry", errorClass: ErrorClassCircuitOpen, expected: false},
		{name: "server error - retry", errorClass: ErrorClassServer, expected: true},
		{name: "rate limit - retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "network error - retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "malformed body - retry", errorClass: ErrorClassData, expected: true},
		{name: "unknown class - no retry", errorClass: "unknown", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%s) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{403, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{504, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestClassifyServiceError(t *testing.T) {
	tests := []struct {
		code     int
		expected ErrorClass
	}{
		{400, ErrorClassService},
		{498, ErrorClassService},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyServiceError(&ServiceError{Code: tt.code}); got != tt.expected {
			t.Errorf("classifyServiceError(%d) = %s, want %s", tt.code, got, tt.expected)
		}
	}
}

func TestRequestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RequestError
		contains []string
	}{
		{
			name:     "status and cause",
			err:      &RequestError{Method: "GET", URL: "https://example.com/0/query", StatusCode: 500, Class: ErrorClassServer, Err: errors.New("Internal Server Error")},
			contains: []string{"GET https://example.com/0/query", "server error", "status 500", "Internal Server Error"},
		},
		{
			name:     "exhausted",
			err:      &RequestError{Method: "POST", URL: "u", Class: ErrorClassNetwork, Attempts: 3, Exhausted: true},
			contains: []string{"after 3 attempts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want containing %q", msg, want)
				}
			}
		})
	}
}

func TestRequestError_IsAndUnwrap(t *testing.T) {
	cause := &ServiceError{Code: 500, Message: "boom"}
	err := fmt.Errorf("batch 3: %w", &RequestError{Class: ErrorClassServer, Attempts: 3, Exhausted: true, Err: cause})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("errors.Is(err, ErrRetryExhausted) = false")
	}

	var svc *ServiceError
	if !errors.As(err, &svc) || svc.Code != 500 {
		t.Errorf("errors.As(ServiceError) failed: %v", err)
	}

	notExhausted := &RequestError{Class: ErrorClassClient}
	if errors.Is(notExhausted, ErrRetryExhausted) {
		t.Error("non-exhausted error matched ErrRetryExhausted")
	}
	if notExhausted.Retryable() {
		t.Error("client error reported retryable")
	}
}

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Code: 400, Message: "Invalid query", Details: []string{"'where' parameter is invalid"}}
	want := "arcgis error 400: Invalid query ('where' parameter is invalid)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAttemptsAndClassOf_ForeignError(t *testing.T) {
	err := errors.New("plain")
	if AttemptsOf(err) != 0 {
		t.Error("AttemptsOf(plain) should be 0")
	}
	if ClassOf(err) != "" {
		t.Error("ClassOf(plain) should be empty")
	}
}

func TestDecodeBody(t *testing.T) {
	var out struct {
		ObjectIDs []int64 `json:"objectIds"`
	}

	class, err := decodeBody([]byte(`{"objectIdFieldName":"OBJECTID","objectIds":[3,1,2]}`), &out)
	if err != nil || class != "" {
		t.Fatalf("decodeBody() = %s, %v", class, err)
	}
	if len(out.ObjectIDs) != 3 {
		t.Errorf("ObjectIDs = %v", out.ObjectIDs)
	}

	if class, err := decodeBody([]byte(``), nil); class != ErrorClassData || err == nil {
		t.Errorf("empty body = %s, %v; want data error", class, err)
	}
	if class, _ := decodeBody([]byte(`{"error":{"code":499,"message":"Token Required"}}`), nil); class != ErrorClassService {
		t.Errorf("token error class = %s, want service", class)
	}
}
