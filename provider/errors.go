package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for failures that never carried a remote error body.
const (
	CodeNetworkError    = "NETWORK_ERROR"
	CodeStreamError     = "STREAM_ERROR"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

// APIError is a Model API failure. StatusCode is zero for transport-level
// failures, which carry CodeNetworkError. Code otherwise mirrors the remote
// error type (for example "overloaded_error").
type APIError struct {
	Message    string
	StatusCode int
	Code       string
	Details    any
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Code != "":
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return e.Message
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry policy would retry this failure.
func (e *APIError) Retryable() bool {
	return e.Code == CodeNetworkError || e.StatusCode >= 500
}

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNetworkError
}

// IsRetryable reports whether err is a network failure or a 5xx response.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func networkError(err error) *APIError {
	return &APIError{
		Message: err.Error(),
		Code:    CodeNetworkError,
		Details: err.Error(),
		Err:     err,
	}
}

// errorEnvelope matches {"type":"error","error":{"type":...,"message":...}}.
type errorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseAPIError maps a non-2xx response body onto an APIError.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Message:    "API request failed",
		StatusCode: status,
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		if len(body) > 0 {
			apiErr.Details = string(body)
		}
		return apiErr
	}

	if envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	}
	apiErr.Code = envelope.Error.Type

	var details map[string]any
	var raw struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &raw) == nil && json.Unmarshal(raw.Error, &details) == nil {
		apiErr.Details = details
	}
	return apiErr
}
