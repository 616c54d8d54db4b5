package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Monitoring is the admin activity snapshot of GET /monitoring.
type Monitoring struct {
	Admins             []model.AdminPresence `json:"admins"`
	ConnectedAdmins    int                   `json:"connectedAdmins"`
	RecentReservations []model.Reservation   `json:"recentReservations"`
}

// Monitoring fetches who is connected to the live channel and the latest
// reservations (admin).
func (c *Client) Monitoring(ctx context.Context) (Monitoring, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/monitoring", nil, &raw); err != nil {
		return Monitoring{}, err
	}
	var m Monitoring
	if err := decodeObject(raw, &m, "/monitoring"); err != nil {
		return Monitoring{}, err
	}
	if m.ConnectedAdmins == 0 {
		m.ConnectedAdmins = len(m.Admins)
	}
	return m, nil
}

// Users lists the registered accounts (admin).  Both a bare array and
// {data: [...]} are accepted.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users", nil, &raw); err != nil {
		return nil, err
	}
	var users []model.User
	if err := decodeList(raw, &users, "/users"); err != nil {
		return nil, err
	}
	return users, nil
}
