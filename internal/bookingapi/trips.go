package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Trips searches trips by origin and destination.  Empty arguments are
// not sent.
func (c *Client) Trips(ctx context.Context, depart, arrivee string) ([]model.Trip, error) {
	q := url.Values{}
	if d := strings.TrimSpace(depart); d != "" {
		q.Set("depart", d)
	}
	if a := strings.TrimSpace(arrivee); a != "" {
		q.Set("arrivee", a)
	}
	path := "/trajets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	var trips []model.Trip
	if err := decodeList(raw, &trips, path); err != nil {
		return nil, err
	}
	return trips, nil
}

// Trip fetches a single trip.
func (c *Client) Trip(ctx context.Context, id string) (model.Trip, error) {
	path := "/trajets/" + url.PathEscape(id)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return model.Trip{}, err
	}
	var t model.Trip
	if err := decodeObject(raw, &t, path); err != nil {
		return model.Trip{}, err
	}
	return t, nil
}
