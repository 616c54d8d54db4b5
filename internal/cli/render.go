package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// seatsPerRow is the bus layout: two seats, the aisle, three seats.
const seatsPerRow = 5

func seatCell(m seatmap.SeatMap, seat int) string {
	switch {
	case seat > m.TotalSeats:
		return ""
	case m.IsSelected(seat):
		return fmt.Sprintf("[%02d]", seat)
	case !m.Available(seat):
		return "XX"
	default:
		return fmt.Sprintf("%02d", seat)
	}
}

// renderSeatMap draws the seat grid row by row, front of the bus first.
func renderSeatMap(w io.Writer, title string, m seatmap.SeatMap) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("%s", title)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = true
	t.Style().Options.SeparateColumns = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignCenter},
		{Number: 2, Align: text.AlignCenter},
		{Number: 3, WidthMin: 3},
		{Number: 4, Align: text.AlignCenter},
		{Number: 5, Align: text.AlignCenter},
		{Number: 6, Align: text.AlignCenter},
	})
	for first := 1; first <= m.TotalSeats; first += seatsPerRow {
		t.AppendRow(table.Row{
			seatCell(m, first),
			seatCell(m, first+1),
			"",
			seatCell(m, first+2),
			seatCell(m, first+3),
			seatCell(m, first+4),
		})
	}
	free := m.TotalSeats - len(m.Reserved)
	t.SetCaption("%d/%d free   XX reserved   [nn] selected", free, m.TotalSeats)
	t.Render()
}

func renderTrips(w io.Writer, opts []model.TripOption) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Trip", "Segment", "From", "To", "Company", "Price", "Seats left"})
	for _, o := range opts {
		seg := "-"
		if o.SegmentIndex >= 0 {
			seg = strconv.Itoa(o.SegmentIndex)
		}
		t.AppendRow(table.Row{o.TripID, seg, o.VilleDepart, o.VilleArrivee, orDash(o.Compagnie), formatPrice(o.Prix), o.PlacesRestantes})
	}
	t.SetCaption("%d option(s); book a segment with --segment", len(opts))
	t.Render()
}

func renderReservations(w io.Writer, rs []model.Reservation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Reservation", "Trip", "Seat", "Segment", "Status", "Booked"})
	for _, r := range rs {
		trip := r.TripID
		if r.Trip != nil {
			trip = r.Trip.VilleDepart + " → " + r.Trip.VilleArrivee
		}
		seg := "-"
		if r.Segment != nil {
			seg = r.Segment.Depart + " → " + r.Segment.Arrivee
		}
		booked := "-"
		if !r.CreatedAt.IsZero() {
			booked = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{r.ID, trip, int(r.Seat), seg, string(r.Status), booked})
	}
	t.Render()
}

func formatPrice(p int) string {
	if p <= 0 {
		return "-"
	}
	return strconv.Itoa(p) + " FCFA"
}
