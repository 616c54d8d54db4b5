package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Settings fetches the company branding.  Both {data: {...}} and a bare
// object are accepted.
func (c *Client) Settings(ctx context.Context) (model.Settings, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &raw); err != nil {
		return model.Settings{}, err
	}
	var s model.Settings
	if err := decodeObject(raw, &s, "/settings"); err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}
