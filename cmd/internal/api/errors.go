package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apiv1 "devmatch/contracts/api/v1"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func newError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var er apiv1.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && (er.Error.Code != "" || er.Error.Message != "") {
		e.Code = er.Error.Code
		e.Message = er.Error.Message
		return e
	}

	// Some backends answer errors with a plain string body.
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	e.Message = msg
	return e
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }
