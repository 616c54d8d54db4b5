// Package seatmap holds the seat selection model for one open trip: which
// seats are reserved on the server, which ones the current user picked, and
// the controller that keeps both consistent while a booking is submitted
// and other passengers book or cancel concurrently.
package seatmap

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// State is the lifecycle state of a Controller.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Submitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Submitting:
		return "submitting"
	}
	return "unknown"
}

// MarshalText lets State travel as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Idle, Loading, Ready, Submitting} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown seat map state %q", b)
}

// SeatMap is an immutable snapshot of a controller, safe to hand to a
// renderer.  Reserved is sorted; Selected keeps the order in which the
// user picked the seats.
type SeatMap struct {
	TripID     string         `json:"trip_id"`
	TotalSeats int            `json:"total_seats"`
	Reserved   []int          `json:"reserved"`
	Selected   []int          `json:"selected"`
	State      State          `json:"state"`
	Segment    *model.Segment `json:"segment,omitempty"`
	Generation uint64         `json:"generation"`
}

// Available reports whether seat can be picked in this snapshot.
func (m SeatMap) Available(seat int) bool {
	if seat < 1 || seat > m.TotalSeats {
		return false
	}
	i := sort.SearchInts(m.Reserved, seat)
	return i >= len(m.Reserved) || m.Reserved[i] != seat
}

// IsSelected reports whether seat is part of the current selection.
func (m SeatMap) IsSelected(seat int) bool {
	for _, s := range m.Selected {
		if s == seat {
			return true
		}
	}
	return false
}

// ClampTotal bounds a seat count to [1, model.MaxSeats].
func ClampTotal(n int) int {
	if n < 1 {
		return 1
	}
	if n > model.MaxSeats {
		return model.MaxSeats
	}
	return n
}

// NormalizeSeats coerces raw seat identifiers to integers.  Numbers and
// numeric strings are accepted; anything non-numeric, non-integral or
// outside [1, total] is dropped.  The result is sorted and deduplicated.
func NormalizeSeats(raw []any, total int) []int {
	seen := make(map[int]struct{}, len(raw))
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		n, ok := seatNumber(v)
		if !ok || n < 1 || n > total {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func seatNumber(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return model.Whole(t)
	case json.Number:
		return model.ParseWhole(t.String())
	case string:
		return model.ParseWhole(t)
	}
	return 0, false
}
