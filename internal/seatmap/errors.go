package seatmap

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSeatUnavailable matches every *SeatUnavailableError.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrNoSeatSelected is returned by Submit when the selection is empty.
	ErrNoSeatSelected = errors.New("no seat selected")
	// ErrNoTripLoaded is returned when no seat map is loaded.
	ErrNoTripLoaded = errors.New("no trip loaded")
	// ErrSubmitInProgress rejects a second concurrent Submit.
	ErrSubmitInProgress = errors.New("submit already in progress")
	// ErrClosed is returned when the controller was torn down while a
	// fetch was in flight; its result has been discarded.
	ErrClosed = errors.New("seat map closed")
)

// LoadError reports a failed reserved-seat fetch.  Callers offer a manual
// retry; the controller never retries on its own.
type LoadError struct {
	TripID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load reserved seats for trip %s: %v", e.TripID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UnavailableReason tells why a seat cannot be toggled.
type UnavailableReason string

const (
	ReasonReserved   UnavailableReason = "reserved"
	ReasonOutOfRange UnavailableReason = "out_of_range"
)

// SeatUnavailableError is returned by ToggleSeat for reserved or
// out-of-range seats.  The selection is left untouched.
type SeatUnavailableError struct {
	Seat   int
	Reason UnavailableReason
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %d unavailable: %s", e.Seat, e.Reason)
}

func (e *SeatUnavailableError) Is(target error) bool { return target == ErrSeatUnavailable }

// SubmitKind classifies a failed submission.
type SubmitKind string

const (
	// KindConflict means the seat was taken by someone else (HTTP 409).
	KindConflict SubmitKind = "conflict"
	// KindRejected covers other validation failures (4xx).
	KindRejected SubmitKind = "rejected"
	// KindNetwork means no response was received.
	KindNetwork SubmitKind = "network"
	// KindServer covers 5xx and undecodable responses.
	KindServer SubmitKind = "server"
)

// SubmitError wraps a failed reservation request.  Message is the
// server's message when one was sent and should be shown verbatim.
type SubmitError struct {
	Kind    SubmitKind
	Seat    int
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submit seat %d (%s): %s", e.Seat, e.Kind, e.Message)
	}
	return fmt.Sprintf("submit seat %d (%s): %v", e.Seat, e.Kind, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a seat-taken submission failure.
func IsConflict(err error) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Kind == KindConflict
}

// statusError is implemented by transport errors that carry an HTTP
// status and a user-facing message.
type statusError interface {
	error
	HTTPStatus() int
	UserMessage() string
}

func classifySubmit(seat int, err error) *SubmitError {
	se := &SubmitError{Seat: seat, Err: err, Kind: KindNetwork}
	var st statusError
	if !errors.As(err, &st) {
		return se
	}
	se.Message = st.UserMessage()
	switch code := st.HTTPStatus(); {
	case code == http.StatusConflict:
		se.Kind = KindConflict
	case code >= 400 && code < 500:
		se.Kind = KindRejected
	default:
		se.Kind = KindServer
	}
	return se
}
