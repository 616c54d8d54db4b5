package bookingapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnreachable wraps transport failures: no response was received.
	ErrUnreachable = errors.New("booking api unreachable")
	// ErrSessionExpired is returned when a 401 could not be recovered with
	// the refresh token.  The session has been cleared by then.
	ErrSessionExpired = errors.New("session expired")
)

// APIError is returned when the Booking API answers with a non-2xx status
// or a body that cannot be decoded.  Message is the server's own message
// and is meant to be shown to the user verbatim.
type APIError struct {
	Status   int
	Message  string
	Endpoint string
	Err      error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("booking api %s: %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("booking api %s: %d", e.Endpoint, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus and UserMessage let callers classify the error without
// importing this package.
func (e *APIError) HTTPStatus() int { return e.Status }

func (e *APIError) UserMessage() string { return e.Message }

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsConflict reports a 409 from the API (seat already taken).
func IsConflict(err error) bool { return statusOf(err) == http.StatusConflict }

// IsUnauthorized reports a 401 or an expired session.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrSessionExpired) || statusOf(err) == http.StatusUnauthorized
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

// IsServer reports a 5xx or an undecodable response.
func IsServer(err error) bool { return statusOf(err) >= http.StatusInternalServerError }

// IsUnreachable reports a transport failure.
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }
