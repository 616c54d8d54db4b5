package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

var _ seatmap.ReservationSource = (*Client)(nil)

// CreateReservationRequest is the body of POST /reservations.
type CreateReservationRequest struct {
	TripID  string         `json:"trajetId"`
	Seat    int            `json:"seat"`
	Segment *model.Segment `json:"segment,omitempty"`
}

// AdminFilter narrows GET /reservations/admin/reservations.  Zero fields
// are omitted from the query.
type AdminFilter struct {
	Status       model.ReservationStatus
	Email        string
	Company      string
	VilleDepart  string
	VilleArrivee string
	DateDepart   string
	Page         int
	Limit        int
	All          bool
}

func (f AdminFilter) query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("statut", string(f.Status))
	set("email", f.Email)
	set("compagnie", f.Company)
	set("villeDepart", f.VilleDepart)
	set("villeArrivee", f.VilleArrivee)
	set("dateDepart", f.DateDepart)
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.All {
		q.Set("all", "true")
	}
	return q
}

// ReservationPage is one page of the admin listing.
type ReservationPage struct {
	Data        []model.Reservation `json:"data"`
	TotalPages  int                 `json:"totalPages"`
	CurrentPage int                 `json:"currentPage"`
}

// ReservedSeats returns the raw seat values of the trip's live
// reservations.  Values are left as sent (numbers or strings) for the
// caller to normalize; cancelled reservations are skipped.
func (c *Client) ReservedSeats(ctx context.Context, tripID string) ([]any, error) {
	path := "/reservations/trajet/" + url.PathEscape(tripID)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	var rows []struct {
		Seat   any    `json:"seat"`
		Statut string `json:"statut"`
	}
	if err := decodeList(raw, &rows, path); err != nil {
		return nil, err
	}
	seats := make([]any, 0, len(rows))
	for _, r := range rows {
		if st, ok := model.ParseStatus(r.Statut); ok && st == model.StatusCancelled {
			continue
		}
		seats = append(seats, r.Seat)
	}
	return seats, nil
}

// CreateReservation books one seat.
func (c *Client) CreateReservation(ctx context.Context, req CreateReservationRequest) (model.Reservation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/reservations", req, &raw); err != nil {
		return model.Reservation{}, err
	}
	var res model.Reservation
	if len(raw) > 0 {
		if err := decodeObject(raw, &res, "/reservations"); err != nil {
			return model.Reservation{}, err
		}
	}
	if res.TripID == "" {
		res.TripID = req.TripID
	}
	return res, nil
}

// Reserve adapts CreateReservation to the seat map controller.
func (c *Client) Reserve(ctx context.Context, req seatmap.ReserveRequest) (model.Reservation, error) {
	return c.CreateReservation(ctx, CreateReservationRequest{TripID: req.TripID, Seat: req.Seat, Segment: req.Segment})
}

// DeleteReservation removes a reservation.
func (c *Client) DeleteReservation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/reservations/"+url.PathEscape(id), nil, nil)
}

// CancelReservation marks a reservation annulée (admin).
func (c *Client) CancelReservation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/reservations/"+url.PathEscape(id)+"/cancel", struct{}{}, nil)
}

// ValidateReservation marks a reservation validée, i.e. the passenger
// boarded (admin).
func (c *Client) ValidateReservation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/reservations/"+url.PathEscape(id)+"/validate", struct{}{}, nil)
}

// MyReservations lists the reservations of the authenticated user.
func (c *Client) MyReservations(ctx context.Context) ([]model.Reservation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/reservations", nil, &raw); err != nil {
		return nil, err
	}
	var out []model.Reservation
	if err := decodeList(raw, &out, "/reservations"); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminReservations lists reservations across users.
func (c *Client) AdminReservations(ctx context.Context, f AdminFilter) (ReservationPage, error) {
	path := "/reservations/admin/reservations"
	if q := f.query().Encode(); q != "" {
		path += "?" + q
	}
	var page ReservationPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return ReservationPage{}, err
	}
	if page.TotalPages < 1 {
		page.TotalPages = 1
	}
	if page.CurrentPage < 1 {
		page.CurrentPage = 1
	}
	return page, nil
}
