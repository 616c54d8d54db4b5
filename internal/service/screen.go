package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

// Event kinds streamed to screen listeners.
const (
	EventSnapshot = "snapshot"
	EventNotice   = "notice"
)

// Event is one message for a listener: a new seat map or a notice.
type Event struct {
	Kind     string           `json:"kind"`
	Snapshot *seatmap.SeatMap `json:"snapshot,omitempty"`
	Notice   *seatmap.Notice  `json:"notice,omitempty"`
}

const listenerBuffer = 32

// Screen is one open booking screen: a controller, the credentials it
// calls the API with and the listeners following it.
type Screen struct {
	ID        string
	Owner     string
	TripID    string
	Device    utils.DeviceInfo
	CreatedAt time.Time

	now         func() time.Time
	ctrl        *seatmap.Controller
	sess        *session.Session
	log         logrus.FieldLogger
	publisher   queue.Publisher
	unsubscribe func()

	mu        sync.Mutex
	lastSeen  time.Time
	nextID    uint64
	listeners map[uint64]chan Event
	closed    bool
}

// Snapshot returns the current seat map.
func (sc *Screen) Snapshot() seatmap.SeatMap { return sc.ctrl.Snapshot() }

// Toggle flips a seat and returns the resulting map.
func (sc *Screen) Toggle(seat int) (seatmap.SeatMap, error) {
	if err := sc.ctrl.ToggleSeat(seat); err != nil {
		return seatmap.SeatMap{}, err
	}
	snap := sc.ctrl.Snapshot()
	sc.publishSnapshot(snap)
	return snap, nil
}

// Reload refetches the reserved seats, the manual retry.
func (sc *Screen) Reload(ctx context.Context) (seatmap.SeatMap, error) {
	return sc.ctrl.Reload(ctx)
}

// Submit books the first selected seat.  A successful booking is
// announced to peer replicas when a publisher is configured; announcing
// is best effort.
func (sc *Screen) Submit(ctx context.Context) (model.Reservation, error) {
	res, err := sc.ctrl.Submit(ctx)
	if err != nil {
		return model.Reservation{}, err
	}
	sc.log.WithFields(logrus.Fields{"seat": int(res.Seat), "reservation_id": res.ID}).Info("seat booked")
	if sc.publisher != nil {
		ev := queue.ReservationEvent{
			Type:          queue.EventReservationCreated,
			TripID:        sc.TripID,
			Seat:          res.Seat,
			ReservationID: res.ID,
			Status:        string(res.Status),
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if perr := sc.publisher.Publish(pctx, ev); perr != nil {
			sc.log.WithError(perr).Warn("announce booking failed")
		}
	}
	return res, nil
}

// Listen streams events until the returned cancel func is called or the
// screen closes, which closes the channel.  A listener that falls behind
// misses events; the next snapshot catches it up.
func (sc *Screen) Listen() (<-chan Event, func()) {
	ch := make(chan Event, listenerBuffer)
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	sc.nextID++
	id := sc.nextID
	sc.listeners[id] = ch
	sc.mu.Unlock()

	snap := sc.ctrl.Snapshot()
	ch <- Event{Kind: EventSnapshot, Snapshot: &snap}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sc.mu.Lock()
			defer sc.mu.Unlock()
			if l, ok := sc.listeners[id]; ok {
				delete(sc.listeners, id)
				close(l)
			}
			sc.lastSeen = sc.now()
		})
	}
}

func (sc *Screen) publishSnapshot(m seatmap.SeatMap) {
	sc.broadcast(Event{Kind: EventSnapshot, Snapshot: &m})
}

func (sc *Screen) publishNotice(n seatmap.Notice) {
	sc.log.WithFields(logrus.Fields{"kind": n.Kind, "seats": n.Seats}).Info(n.Message)
	sc.broadcast(Event{Kind: EventNotice, Notice: &n})
}

func (sc *Screen) broadcast(ev Event) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for id, ch := range sc.listeners {
		select {
		case ch <- ev:
		default:
			sc.log.WithField("listener", id).Debug("listener behind, event dropped")
		}
	}
}

func (sc *Screen) touch(now time.Time) {
	sc.mu.Lock()
	sc.lastSeen = now
	sc.mu.Unlock()
}

func (sc *Screen) idleSince(cutoff time.Time) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.listeners) == 0 && sc.lastSeen.Before(cutoff)
}

func (sc *Screen) shutdown() {
	if sc.unsubscribe != nil {
		sc.unsubscribe()
	}
	sc.ctrl.Close()
	sc.mu.Lock()
	sc.closed = true
	for id, ch := range sc.listeners {
		delete(sc.listeners, id)
		close(ch)
	}
	sc.mu.Unlock()
}
