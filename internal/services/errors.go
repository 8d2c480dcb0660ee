package services

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/cowatch/internal/shared"
)

const maxErrorBody = 512

// StatusError is a response from the video service with a non-success status code.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// NewStatusError captures the request line, status and a trimmed prefix of the body.
func NewStatusError(resp *http.Response, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	e := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		e.URL = resp.Request.URL.String()
	}
	return e
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap exposes the taxonomy sentinels so callers can use errors.Is.
func (e *StatusError) Unwrap() []error {
	errs := []error{shared.ErrRejected}
	if e.StatusCode == http.StatusNotFound {
		errs = append(errs, shared.ErrNotFound)
	}
	return errs
}

// networkError wraps a transport failure so it matches both [shared.ErrNetwork] and the cause.
func networkError(method, endpoint string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", shared.ErrNetwork, method, endpoint, err)
}
