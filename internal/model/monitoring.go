package model

import "time"

// AdminPresence is one administrator connected to the Booking API's live
// channel, as listed by GET /monitoring and monitoring_update pushes.
type AdminPresence struct {
	Email      string    `json:"email"`
	LastActive time.Time `json:"lastActive,omitempty"`
}
