package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ReservationStatus is the lifecycle state of a booking on the server.
type ReservationStatus string

const (
	StatusConfirmed ReservationStatus = "confirmée"
	StatusValidated ReservationStatus = "validée" // passenger boarded
	StatusCancelled ReservationStatus = "annulée"
)

// ParseStatus accepts the French wire values as well as plain ASCII
// spellings ("confirmed", "validated", "boarded", "cancelled").
func ParseStatus(s string) (ReservationStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmée", "confirmee", "confirmed":
		return StatusConfirmed, true
	case "validée", "validee", "validated", "boarded":
		return StatusValidated, true
	case "annulée", "annulee", "cancelled", "canceled":
		return StatusCancelled, true
	}
	return "", false
}

// Reservation is a committed booking of one seat on one trip.  It is
// owned by the Booking API; the client mirrors it only as the result of
// a submission or a listing.
//
// Fields:
//
//	ID        – reservations._id.
//	TripID    – trip reference; the API may send an id or a populated trip.
//	Trip      – populated trip summary when the API includes it.
//	Seat      – booked seat number.
//	Segment   – booked segment, if any.
//	Status    – confirmée, validée or annulée.
//	CreatedAt – creation timestamp.
type Reservation struct {
	ID        string            `json:"_id"`
	TripID    string            `json:"-"`
	Trip      *Trip             `json:"-"`
	Seat      FlexInt           `json:"seat"`
	Segment   *Segment          `json:"segment,omitempty"`
	Status    ReservationStatus `json:"statut,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

type reservationWire struct {
	ID        string            `json:"_id"`
	Trajet    json.RawMessage   `json:"trajet,omitempty"`
	TrajetID  string            `json:"trajetId,omitempty"`
	Seat      FlexInt           `json:"seat"`
	Segment   *Segment          `json:"segment,omitempty"`
	Status    ReservationStatus `json:"statut,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

// UnmarshalJSON accepts "trajet" as either an id string or a populated
// trip object, and falls back to "trajetId".
func (r *Reservation) UnmarshalJSON(b []byte) error {
	var w reservationWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Reservation{
		ID:        w.ID,
		TripID:    w.TrajetID,
		Seat:      w.Seat,
		Segment:   w.Segment,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
	}
	if len(w.Trajet) > 0 && string(w.Trajet) != "null" {
		var id string
		if err := json.Unmarshal(w.Trajet, &id); err == nil {
			r.TripID = id
		} else {
			var t Trip
			if err := json.Unmarshal(w.Trajet, &t); err == nil {
				r.Trip = &t
				if r.TripID == "" {
					r.TripID = t.ID
				}
			}
		}
	}
	return nil
}

// MarshalJSON writes the trip reference as "trajetId" plus the populated
// trip when known.
func (r Reservation) MarshalJSON() ([]byte, error) {
	type out struct {
		ID        string            `json:"_id"`
		TripID    string            `json:"trajetId,omitempty"`
		Trip      *Trip             `json:"trajet,omitempty"`
		Seat      int               `json:"seat"`
		Segment   *Segment          `json:"segment,omitempty"`
		Status    ReservationStatus `json:"statut,omitempty"`
		CreatedAt *time.Time        `json:"createdAt,omitempty"`
	}
	o := out{ID: r.ID, TripID: r.TripID, Trip: r.Trip, Seat: int(r.Seat), Segment: r.Segment, Status: r.Status}
	if !r.CreatedAt.IsZero() {
		o.CreatedAt = &r.CreatedAt
	}
	return json.Marshal(o)
}
