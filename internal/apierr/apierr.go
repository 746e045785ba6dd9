// Package apierr defines the error taxonomy surfaced by the backend client,
// the status poller, and the upload coordinator.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigurationError reports a required identity missing before any network call.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// ProtocolError reports a backend response that is missing an expected field or
// cannot be decoded, even though the HTTP exchange itself succeeded.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a network failure (StatusCode 0) or a non-2xx response.
// Message carries the backend detail when present, else a status-derived message.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessingFailure reports a terminal "failed" status from the backend.
type ProcessingFailure struct {
	DocumentID string
	Details    string
}

func (e *ProcessingFailure) Error() string {
	details := e.Details
	if details == "" {
		details = "Unknown error"
	}
	return "Processing failed: " + details
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
