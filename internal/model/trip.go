package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const (
	// MaxSeats is the largest seat map a bus can expose.
	MaxSeats = 60
	// DefaultSeats is used when a trip carries no usable seat count.
	DefaultSeats = 50
)

// Trip ("trajet") is a scheduled bus journey as returned by GET /trajets.
// It is owned by the admin subsystem; this client only reads it.
//
// Fields:
//
//	ID              – upstream identifier (trajets._id).
//	VilleDepart     – origin city.
//	VilleArrivee    – destination city.
//	Compagnie       – operating company.
//	DateDepart      – departure date as sent by the API (ISO or YYYY-MM-DD).
//	HeureDepart     – departure time HH:mm.
//	HeureArrivee    – arrival time HH:mm.
//	TypeVehicule    – autocar, minibus, bus VIP, autre.
//	Prix            – price of the full journey.
//	PrixTotal       – alternative price field used by some API versions.
//	NombrePlaces    – seat capacity.
//	PlacesRestantes – remaining seats according to the server.
//	Segments        – intermediate legs that can be booked on their own.
type Trip struct {
	ID              string    `json:"_id"`
	VilleDepart     string    `json:"villeDepart"`
	VilleArrivee    string    `json:"villeArrivee"`
	Compagnie       string    `json:"compagnie,omitempty"`
	DateDepart      string    `json:"dateDepart,omitempty"`
	HeureDepart     string    `json:"heureDepart,omitempty"`
	HeureArrivee    string    `json:"heureArrivee,omitempty"`
	TypeVehicule    string    `json:"typeVehicule,omitempty"`
	Prix            FlexInt   `json:"prix,omitempty"`
	PrixTotal       FlexInt   `json:"prixTotal,omitempty"`
	NombrePlaces    FlexInt   `json:"nombrePlaces,omitempty"`
	PlacesRestantes FlexInt   `json:"placesRestantes,omitempty"`
	Segments        []Segment `json:"segments,omitempty"`
}

// Segment is a bookable leg of a trip.  Booking a segment still consumes
// a seat of the parent trip.
type Segment struct {
	Depart  string  `json:"depart"`
	Arrivee string  `json:"arrivee"`
	Prix    FlexInt `json:"prix,omitempty"`
}

// SeatCount returns the seat capacity clamped to [1, MaxSeats].  Trips
// without a positive capacity fall back to DefaultSeats.
func (t Trip) SeatCount() int {
	n := int(t.NombrePlaces)
	if n <= 0 {
		return DefaultSeats
	}
	if n > MaxSeats {
		return MaxSeats
	}
	return n
}

// Price prefers prixTotal over prix, like the search results page does.
func (t Trip) Price() int {
	if t.PrixTotal > 0 {
		return int(t.PrixTotal)
	}
	return int(t.Prix)
}

// TripOption is one bookable line of a search result: either the
// principal trip or one of its segments.
type TripOption struct {
	Key             string   `json:"key"`
	Type            string   `json:"type"` // principal | segment
	TripID          string   `json:"trajetId"`
	SegmentIndex    int      `json:"segmentIndex"`
	Segment         *Segment `json:"segment,omitempty"`
	VilleDepart     string   `json:"villeDepart"`
	VilleArrivee    string   `json:"villeArrivee"`
	Compagnie       string   `json:"compagnie,omitempty"`
	Prix            int      `json:"prix"`
	NombrePlaces    int      `json:"nombrePlaces"`
	PlacesRestantes int      `json:"placesRestantes"`
}

// ExpandOptions flattens trips into bookable options: the principal trip
// followed by each of its segments.  Segment options keep the parent trip
// ID because reservations are always made against the parent.
func ExpandOptions(trips []Trip) []TripOption {
	out := make([]TripOption, 0, len(trips))
	for _, t := range trips {
		out = append(out, TripOption{
			Key:             t.ID,
			Type:            "principal",
			TripID:          t.ID,
			SegmentIndex:    -1,
			VilleDepart:     t.VilleDepart,
			VilleArrivee:    t.VilleArrivee,
			Compagnie:       t.Compagnie,
			Prix:            t.Price(),
			NombrePlaces:    t.SeatCount(),
			PlacesRestantes: int(t.PlacesRestantes),
		})
		for i := range t.Segments {
			seg := t.Segments[i]
			out = append(out, TripOption{
				Key:             t.ID + "-seg-" + strconv.Itoa(i),
				Type:            "segment",
				TripID:          t.ID,
				SegmentIndex:    i,
				Segment:         &seg,
				VilleDepart:     seg.Depart,
				VilleArrivee:    seg.Arrivee,
				Compagnie:       t.Compagnie,
				Prix:            int(seg.Prix),
				NombrePlaces:    t.SeatCount(),
				PlacesRestantes: int(t.PlacesRestantes),
			})
		}
	}
	return out
}

// FlexInt decodes a JSON number or numeric string into an int.  Values
// that are not whole numbers (see ParseWhole) decode to zero, the same
// values NormalizeSeats drops; upstream payloads are not strict about
// types.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	n, _ := ParseWhole(string(b))
	*f = FlexInt(n)
	return nil
}
