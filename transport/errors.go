package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned after a 401 response has purged the
	// stored credentials.
	ErrSessionExpired = errors.New("session expired, please log in again")

	// ErrInvalidResponse is returned when a 2xx body is not valid JSON.
	ErrInvalidResponse = errors.New("invalid JSON response")
)

// HTTPError is a non-2xx response normalized into a single error.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// StatusMessage is the fallback message when the server supplies none.
func StatusMessage(status int) string {
	return fmt.Sprintf("HTTP error! status: %d", status)
}

// serverDetail extracts the backend's "detail" field. String details are
// returned as-is; structured details (validation error lists) as compact
// JSON.
func serverDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	if string(payload.Detail) == "null" {
		return ""
	}
	return string(payload.Detail)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
