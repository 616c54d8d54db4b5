package queue

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher receives decoded events from a transport.
type Dispatcher interface {
	Dispatch(ev ReservationEvent)
}

// Handler processes one event for a subscriber.
type Handler func(ReservationEvent)

// Hub fans events out to subscribers in process.  Each subscriber runs its
// handler on its own goroutine and has a one-slot mailbox: while the
// handler is busy, newer events replace the pending one, since a single
// refetch catches up with any number of changes.
type Hub struct {
	log logrus.FieldLogger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

type subscriber struct {
	tripID  string
	types   map[string]bool
	mailbox chan ReservationEvent
	done    chan struct{}
	once    sync.Once
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log, subs: map[uint64]*subscriber{}}
}

// Subscribe registers h for events about tripID.  An empty tripID
// receives everything.  Events without a trip reference reach every
// subscriber.  types restricts the event types delivered; without it only
// reservation events are.  Each subscription has its own mailbox, so a
// burst of one type never displaces a pending event of another.  The
// returned func unsubscribes and is safe to call twice.
func (h *Hub) Subscribe(tripID string, handler Handler, types ...string) (unsubscribe func()) {
	sub := &subscriber{
		tripID:  tripID,
		types:   typeSet(types),
		mailbox: make(chan ReservationEvent, 1),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.mailbox:
				select {
				case <-sub.done:
					return
				default:
				}
				handler(ev)
			}
		}
	}()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}
}

// Dispatch delivers ev to matching subscribers without blocking.
func (h *Hub) Dispatch(ev ReservationEvent) {
	ref := ev.TripRef()
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if sub.tripID != "" && ref != "" && sub.tripID != ref {
			continue
		}
		if !sub.wants(ev) {
			continue
		}
		sub.offer(ev)
		n++
	}
	h.log.WithFields(logrus.Fields{"type": ev.Type, "trip_id": ref, "subscribers": n}).Debug("queue: event dispatched")
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*subscriber{}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (s *subscriber) offer(ev ReservationEvent) {
	select {
	case s.mailbox <- ev:
		return
	default:
	}
	// Mailbox full: replace the pending event with the newer one.
	select {
	case <-s.mailbox:
	default:
	}
	select {
	case s.mailbox <- ev:
	default:
	}
}

func typeSet(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func (s *subscriber) wants(ev ReservationEvent) bool {
	if s.types == nil {
		return ev.IsReservation()
	}
	return s.types[ev.Type]
}
