package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoRefreshToken is returned by the refresh step when no refresh token
// is stored.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// HTTPError is returned for every non-2xx response. Body holds the parsed
// JSON error payload when the server sent one, otherwise the raw text.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Body       json.RawMessage
	Text       string
}

func (e *HTTPError) Error() string {
	detail := e.Text
	if len(e.Body) > 0 {
		detail = string(e.Body)
	}
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.StatusCode, e.Method, e.Path, detail)
}

// Detail returns the "detail" or "message" field of a JSON error body.
func (e *HTTPError) Detail() string {
	if len(e.Body) == 0 {
		return e.Text
	}
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Body, &payload) == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err (or any error in its chain) is a 401.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
