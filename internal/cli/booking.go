package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

func tripsCmd(app *App) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "trips",
		Short: "Search trips, segments included",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trips, err := app.api.Trips(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			opts := model.ExpandOptions(trips)
			if len(opts) == 0 {
				fmt.Fprintln(app.out, "No trip matches.")
				return nil
			}
			renderTrips(app.out, opts)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "departure city")
	cmd.Flags().StringVar(&to, "to", "", "arrival city")
	return cmd
}

// openSeatMap resolves the trip and loads its seat map into a new
// controller.  The caller closes the controller.
func (a *App) openSeatMap(ctx context.Context, tripID string, segment int, opts seatmap.Options) (*seatmap.Controller, model.Trip, seatmap.SeatMap, error) {
	trip, err := a.api.Trip(ctx, tripID)
	if err != nil {
		return nil, model.Trip{}, seatmap.SeatMap{}, err
	}
	var seg *model.Segment
	if segment >= 0 {
		if segment >= len(trip.Segments) {
			return nil, model.Trip{}, seatmap.SeatMap{}, fmt.Errorf("trip %s has %d segment(s), no segment %d", tripID, len(trip.Segments), segment)
		}
		s := trip.Segments[segment]
		seg = &s
	}
	if opts.Logger == nil {
		opts.Logger = a.log
	}
	if opts.SubmitTimeout == 0 {
		opts.SubmitTimeout = a.cfg.SubmitTimeout
	}
	ctrl := seatmap.NewController(a.api, opts)
	m, err := ctrl.Open(ctx, trip, seg)
	if err != nil {
		ctrl.Close()
		return nil, model.Trip{}, seatmap.SeatMap{}, err
	}
	return ctrl, trip, m, nil
}

func tripTitle(trip model.Trip, m seatmap.SeatMap) string {
	from, to := trip.VilleDepart, trip.VilleArrivee
	if m.Segment != nil {
		from, to = m.Segment.Depart, m.Segment.Arrivee
	}
	return from + " → " + to
}

func departure(trip model.Trip) string {
	return strings.TrimSpace(trip.DateDepart + " " + trip.HeureDepart)
}

func seatsCmd(app *App) *cobra.Command {
	var segment int
	cmd := &cobra.Command{
		Use:   "seats <trip-id>",
		Short: "Show the seat map of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, trip, m, err := app.openSeatMap(cmd.Context(), args[0], segment, seatmap.Options{})
			if err != nil {
				return err
			}
			defer ctrl.Close()
			if d := departure(trip); d != "" {
				fmt.Fprintf(app.out, "Departure %s, %s\n", d, orDash(trip.Compagnie))
			}
			renderSeatMap(app.out, tripTitle(trip, m), m)
			return nil
		},
	}
	cmd.Flags().IntVarP(&segment, "segment", "s", -1, "segment index from the trips listing")
	return cmd
}

func bookCmd(app *App) *cobra.Command {
	var segment int
	cmd := &cobra.Command{
		Use:   "book <trip-id> <seat>",
		Short: "Book one seat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			seat, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("seat must be a number, got %q", args[1])
			}
			ctrl, trip, _, err := app.openSeatMap(cmd.Context(), args[0], segment, seatmap.Options{})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.ToggleSeat(seat); err != nil {
				var su *seatmap.SeatUnavailableError
				if errors.As(err, &su) && su.Reason == seatmap.ReasonReserved {
					return fmt.Errorf("seat %d is already reserved", seat)
				}
				if errors.As(err, &su) {
					return fmt.Errorf("seat %d does not exist on this bus (1-%d)", seat, ctrl.Snapshot().TotalSeats)
				}
				return err
			}
			res, err := ctrl.Submit(cmd.Context())
			if err != nil {
				return submitFailure(err)
			}
			m := ctrl.Snapshot()
			fmt.Fprintf(app.out, "Seat %d booked on %s.\nReservation %s, status %s.\n",
				int(res.Seat), tripTitle(trip, m), res.ID, orDash(string(res.Status)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&segment, "segment", "s", -1, "segment index from the trips listing")
	return cmd
}

func submitFailure(err error) error {
	var se *seatmap.SubmitError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Kind {
	case seatmap.KindConflict:
		return errors.New(messageOr(se.Message, "this seat was just taken, pick another one"))
	case seatmap.KindRejected:
		return errors.New(messageOr(se.Message, "the reservation was rejected"))
	case seatmap.KindNetwork:
		return fmt.Errorf("the booking service cannot be reached, nothing was booked: %w", se.Err)
	}
	return errors.New("the booking service failed, check your reservations before retrying")
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

func reservationsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "reservations",
		Aliases: []string{"mine"},
		Short:   "List your reservations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			rs, err := app.api.MyReservations(cmd.Context())
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				fmt.Fprintln(app.out, "No reservation yet.")
				return nil
			}
			renderReservations(app.out, rs)
			return nil
		},
	}
}

func cancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <reservation-id>",
		Short: "Cancel one of your reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			if err := app.api.DeleteReservation(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.out, "Reservation %s cancelled.\n", args[0])
			return nil
		},
	}
}
