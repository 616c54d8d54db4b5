// Package queue carries reservation change notifications between the
// Booking API and open seat maps: the event payload, an in-process hub
// that fans events out to subscribers, and the AMQP and Redis transports
// that feed it.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Event types emitted by the Booking API.
const (
	EventReservationCreated = seatmap.ChangeCreated
	EventReservationDeleted = seatmap.ChangeDeleted
	EventReservationUpdated = seatmap.ChangeUpdated
	// EventMonitoringUpdate reports which administrators are connected.
	EventMonitoringUpdate = "monitoring_update"
)

// ErrUnknownEvent is returned by Decode for event types this client does
// not consume.
var ErrUnknownEvent = errors.New("queue: unknown event type")

// TripSummary is the populated trip some payloads embed.
type TripSummary struct {
	ID           string `json:"_id"`
	VilleDepart  string `json:"villeDepart,omitempty"`
	VilleArrivee string `json:"villeArrivee,omitempty"`
}

// ReservationEvent is a reservation_created / _deleted / _updated
// notification, or a monitoring_update carrying admin presence.  Payloads
// are partial: any field but Type may be missing.
//
// Fields:
//
//	Type          – event name.
//	TripID        – trip reference when sent as "trajetId" or as a bare
//	                "trajet" string.
//	Trip          – populated trip when "trajet" is an object.
//	Seat          – seat number, informational only.
//	ReservationID – reservations._id.
//	Status        – new statut for updates.
//	OccurredAt    – when the change happened, if known.
//	Admins        – connected administrators (monitoring_update).
//	AdminCount    – how many are connected; nil when not sent.
type ReservationEvent struct {
	Type          string        `json:"type"`
	TripID        string        `json:"trajetId,omitempty"`
	Trip          *TripSummary  `json:"trajet,omitempty"`
	Seat          model.FlexInt `json:"seat,omitempty"`
	ReservationID string        `json:"_id,omitempty"`
	Status        string        `json:"statut,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt,omitempty"`

	Admins     []model.AdminPresence `json:"admins,omitempty"`
	AdminCount *int                  `json:"adminCount,omitempty"`
}

// UnmarshalJSON accepts "trajet" as an id or an object.
func (e *ReservationEvent) UnmarshalJSON(b []byte) error {
	type plain ReservationEvent
	var w struct {
		plain
		Trip json.RawMessage `json:"trajet,omitempty"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = ReservationEvent(w.plain)
	e.Trip = nil
	if len(w.Trip) == 0 || string(w.Trip) == "null" {
		return nil
	}
	var id string
	if json.Unmarshal(w.Trip, &id) == nil {
		if e.TripID == "" {
			e.TripID = id
		}
		return nil
	}
	var ts TripSummary
	if err := json.Unmarshal(w.Trip, &ts); err == nil {
		e.Trip = &ts
	}
	return nil
}

// TripRef resolves the trip identifier, or "" when the payload has none.
func (e ReservationEvent) TripRef() string {
	if e.TripID != "" {
		return e.TripID
	}
	if e.Trip != nil {
		return e.Trip.ID
	}
	return ""
}

// IsReservation reports whether the event is about a reservation, as
// opposed to a monitoring update.
func (e ReservationEvent) IsReservation() bool {
	switch e.Type {
	case EventReservationCreated, EventReservationDeleted, EventReservationUpdated:
		return true
	}
	return false
}

// Change converts the event for seatmap.Controller.OnExternalChange.
func (e ReservationEvent) Change() seatmap.Change {
	return seatmap.Change{Type: e.Type, TripID: e.TripRef(), Seat: int(e.Seat)}
}

// Decode parses a message body.  Unknown types yield ErrUnknownEvent.
func Decode(body []byte) (ReservationEvent, error) {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ReservationEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.IsReservation() || ev.Type == EventMonitoringUpdate {
		return ev, nil
	}
	return ReservationEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

// Encode marshals ev, stamping OccurredAt when unset.
func Encode(ev ReservationEvent) ([]byte, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(ev)
}
