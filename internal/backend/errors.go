package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a non-JSON error body ends up in a message.
const maxErrorBody = 512

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
}

// Message returns the human-readable text of err for display. Backend errors
// yield the server's own message; anything else yields err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// newAPIError extracts a message from a JSON error body of the form
// {"detail": ...}, {"error": ...} or {"message": ...}.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, k := range []string{"detail", "error", "message"} {
			if raw, ok := fields[k]; ok {
				if msg := rawString(raw); msg != "" {
					e.Message = msg
					return e
				}
			}
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	e.Message = msg
	return e
}

// rawString renders a JSON scalar as text: strings are unquoted, numbers and
// other values are returned as written. null yields "".
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}
