package detector

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDetections is reported when nothing reached the confidence threshold.
	ErrNoDetections = errors.New("detector: no detections above threshold")

	// ErrFrameUnavailable is reported for a nil or already released frame.
	ErrFrameUnavailable = errors.New("detector: frame unavailable")

	// ErrNoRemote is reported when the remote strategy has no client.
	ErrNoRemote = errors.New("detector: remote detector not configured")
)

// APIError is a non-success answer from the remote detector.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("detector: remote API error %d", e.StatusCode)
	}
	return fmt.Sprintf("detector: remote API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true for HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NetworkError wraps a transport failure talking to the remote detector.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("detector: remote %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError reports a remote response body that is not the expected shape.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("detector: parse response: %s: %v", e.Reason, e.Err)
	}
	return "detector: parse response: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
