package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

func watchCmd(app *App) *cobra.Command {
	var (
		segment int
		hold    int
		poll    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <trip-id>",
		Short: "Follow reservations on a trip until interrupted",
		Long: `Follow reservations on a trip.  Changes arrive on the event channel
configured by EVENTS_TRANSPORT (amqp or redis); without one, the seat map
is polled.  With --seat, you are told when that seat gets taken.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.watch(ctx, args[0], segment, hold, poll)
		},
	}
	cmd.Flags().IntVarP(&segment, "segment", "s", -1, "segment index from the trips listing")
	cmd.Flags().IntVar(&hold, "seat", 0, "seat to keep an eye on")
	cmd.Flags().DurationVar(&poll, "poll", 0, "refresh interval when no event channel is configured (default 10s)")
	return cmd
}

// changePrinter reports reserved-seat differences between snapshots.
type changePrinter struct {
	out  io.Writer
	mu   sync.Mutex
	last map[int]bool
}

func newChangePrinter(out io.Writer, m seatmap.SeatMap) *changePrinter {
	p := &changePrinter{out: out, last: map[int]bool{}}
	for _, s := range m.Reserved {
		p.last[s] = true
	}
	return p
}

func (p *changePrinter) onChange(m seatmap.SeatMap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := make(map[int]bool, len(m.Reserved))
	stamp := time.Now().Format("15:04:05")
	for _, s := range m.Reserved {
		now[s] = true
		if !p.last[s] {
			fmt.Fprintf(p.out, "%s  seat %02d reserved  (%d/%d free)\n", stamp, s, m.TotalSeats-len(m.Reserved), m.TotalSeats)
		}
	}
	for s := 1; s <= m.TotalSeats; s++ {
		if p.last[s] && !now[s] {
			fmt.Fprintf(p.out, "%s  seat %02d released  (%d/%d free)\n", stamp, s, m.TotalSeats-len(m.Reserved), m.TotalSeats)
		}
	}
	p.last = now
}

func (p *changePrinter) onNotice(n seatmap.Notice) {
	if n.Kind != seatmap.NoticeSeatTaken {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "!! %s: %v\n", n.Message, n.Seats)
}

func (a *App) watch(ctx context.Context, tripID string, segment, hold int, poll time.Duration) error {
	var printer *changePrinter
	opts := seatmap.Options{
		OnChange: func(m seatmap.SeatMap) {
			if printer != nil {
				printer.onChange(m)
			}
		},
		Notify: func(n seatmap.Notice) {
			if printer != nil {
				printer.onNotice(n)
			}
		},
	}
	ctrl, trip, m, err := a.openSeatMap(ctx, tripID, segment, opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	renderSeatMap(a.out, tripTitle(trip, m), m)
	// Set after the first render; the callbacks run on later updates only.
	printer = newChangePrinter(a.out, m)

	if hold > 0 {
		if err := ctrl.ToggleSeat(hold); err != nil {
			return fmt.Errorf("cannot watch seat %d: %w", hold, err)
		}
	}
	if a.sess.LoggedIn() {
		go a.auth.KeepAlive(ctx, 0)
	}

	events, err := a.startEvents(ctx, trip.ID, ctrl)
	if err != nil {
		return err
	}
	if events {
		fmt.Fprintf(a.out, "Watching %s via %s, Ctrl-C to stop.\n", trip.ID, a.cfg.EventsTransport)
		<-ctx.Done()
		return nil
	}

	if poll <= 0 {
		poll = 10 * time.Second
	}
	fmt.Fprintf(a.out, "Watching %s every %s, Ctrl-C to stop.\n", trip.ID, poll)
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := ctrl.Reload(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).Warn("refresh failed, retrying on next tick")
			}
		}
	}
}

// startEvents connects the configured event channel to ctrl.  It reports
// false when no channel is configured.
func (a *App) startEvents(ctx context.Context, tripID string, ctrl *seatmap.Controller) (bool, error) {
	hub := queue.NewHub(a.log)
	go func() {
		<-ctx.Done()
		hub.Close()
	}()
	switch a.cfg.EventsTransport {
	case config.EventsNone, "":
		return false, nil
	case config.EventsAMQP:
		c := &queue.Consumer{URL: a.cfg.RabbitMQURL, Exchange: a.cfg.EventsExchange, Out: hub, Log: a.log}
		go func() { _ = c.Run(ctx) }()
	case config.EventsRedis:
		rdb, err := config.NewRedisClient(a.cfg.Redis)
		if err != nil {
			return false, err
		}
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		s := &queue.RedisSubscriber{Client: rdb, Channel: a.cfg.EventsExchange, Out: hub, Log: a.log}
		go func() { _ = s.Run(ctx) }()
	default:
		return false, errors.New("unknown EVENTS_TRANSPORT " + a.cfg.EventsTransport)
	}
	hub.Subscribe(tripID, func(ev queue.ReservationEvent) {
		if err := ctrl.OnExternalChange(ctx, ev.Change()); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Warn("refresh after event failed")
		}
	})
	return true, nil
}
