package resources

import (
	"errors"
	"net/http"
	"strings"

	"github.com/florianilch/mindline/internal/apiclient"
)

const (
	messageSessionExpired = "Your session has expired. Please sign in again."
	messageUnreachable    = "Unable to reach the server. Check your connection and try again."
	messageTimeout        = "The server took too long to respond. Please try again."
	messageMalformed      = "The server sent an unexpected response."
	messageFailed         = "The request could not be completed."
)

// APIError is the normalized failure of a resource call. Message is suitable for
// showing to the user; Err keeps the underlying cause for errors.Is/As.
type APIError struct {
	// Code is the HTTP status, or 0 when no response was received.
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// normalize maps a client error to an APIError with a human-readable message.
func normalize(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	if errors.Is(err, apiclient.ErrUnauthenticated) {
		return &APIError{Code: http.StatusUnauthorized, Message: messageSessionExpired, Err: err}
	}

	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		return &APIError{Code: statusErr.Code, Message: statusMessage(statusErr), Err: err}
	}

	var netErr *apiclient.NetworkError
	if errors.As(err, &netErr) {
		msg := messageUnreachable
		if netErr.Timeout() {
			msg = messageTimeout
		}
		return &APIError{Message: msg, Err: err}
	}

	return &APIError{Message: err.Error(), Err: err}
}

// statusMessage extracts the backend's message from an error body, falling back to
// the status text.
func statusMessage(e *apiclient.StatusError) string {
	var body errorBody
	if err := json.Unmarshal(e.Body, &body); err == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	if text := http.StatusText(e.Code); text != "" {
		return text
	}
	return messageFailed
}
