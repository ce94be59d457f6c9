package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnauthenticated reports that no usable session exists: either no refresh token
// was stored or the backend refused to renew the session.
var ErrUnauthenticated = errors.New("unauthenticated")

// NetworkError reports a request that received no response.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request was abandoned because it ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// StatusError reports a non-2xx response. Body holds the raw response body.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}
