package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
)

// MonitorAPI is the part of the Booking API behind the admin counters.
type MonitorAPI interface {
	Trips(ctx context.Context, depart, arrivee string) ([]model.Trip, error)
	Users(ctx context.Context) ([]model.User, error)
	AdminReservations(ctx context.Context, f bookingapi.AdminFilter) (bookingapi.ReservationPage, error)
	Monitoring(ctx context.Context) (bookingapi.Monitoring, error)
}

// Counter names used in Counters.Changes.
const (
	CounterTrips              = "trips"
	CounterUsers              = "users"
	CounterActiveReservations = "active_reservations"
	CounterConnectedAdmins    = "connected_admins"
)

// RecentLimit is how many of the latest reservations Counters carries.
const RecentLimit = 5

// Counters is the live admin overview.  Changes holds the difference from
// the previous counters, keyed by counter name, and is empty on the first
// count and when nothing moved.
type Counters struct {
	Trips              int                   `json:"trips"`
	Users              int                   `json:"users"`
	ActiveReservations int                   `json:"active_reservations"`
	ConnectedAdmins    int                   `json:"connected_admins"`
	Admins             []model.AdminPresence `json:"admins"`
	RecentReservations []model.Reservation   `json:"recent_reservations"`
	Changes            map[string]int        `json:"changes,omitempty"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Monitor keeps Counters in sync with the Booking API.  Reservation
// events trigger a recount; monitoring_update events replace the admin
// presence without calling the API.  One Monitor serves one admin
// connection and calls the API with that admin's credentials.
type Monitor struct {
	api MonitorAPI
	log logrus.FieldLogger
	now func() time.Time

	// RefreshTimeout bounds a recount triggered by an event.
	RefreshTimeout time.Duration

	refreshMu sync.Mutex

	mu        sync.Mutex
	counters  Counters
	loaded    bool
	nextID    uint64
	listeners map[uint64]chan Counters
	unsubs    []func()
	closed    bool
}

func NewMonitor(api MonitorAPI, log logrus.FieldLogger) *Monitor {
	if api == nil {
		panic("nil api passed to NewMonitor")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		api:            api,
		log:            log,
		now:            time.Now,
		RefreshTimeout: 15 * time.Second,
		listeners:      map[uint64]chan Counters{},
	}
}

// Refresh recounts trips, users and confirmed reservations and reloads
// the latest reservations and admin presence.  A failed count leaves the
// previous counters in place.  Presence is best effort: when /monitoring
// fails the last known presence is kept.
func (m *Monitor) Refresh(ctx context.Context) (Counters, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	trips, err := m.api.Trips(ctx, "", "")
	if err != nil {
		return Counters{}, fmt.Errorf("count trips: %w", err)
	}
	users, err := m.api.Users(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("count users: %w", err)
	}
	active, err := m.api.AdminReservations(ctx, bookingapi.AdminFilter{Status: model.StatusConfirmed, All: true})
	if err != nil {
		return Counters{}, fmt.Errorf("count reservations: %w", err)
	}
	recent, err := m.api.AdminReservations(ctx, bookingapi.AdminFilter{Limit: RecentLimit})
	if err != nil {
		return Counters{}, fmt.Errorf("recent reservations: %w", err)
	}
	mon, monErr := m.api.Monitoring(ctx)
	if monErr != nil {
		m.log.WithError(monErr).Warn("admin presence unavailable, keeping last value")
	}

	m.mu.Lock()
	next := Counters{
		Trips:              len(trips),
		Users:              len(users),
		ActiveReservations: len(active.Data),
		ConnectedAdmins:    m.counters.ConnectedAdmins,
		Admins:             m.counters.Admins,
		RecentReservations: recent.Data,
		UpdatedAt:          m.now(),
	}
	if len(next.RecentReservations) > RecentLimit {
		next.RecentReservations = next.RecentReservations[:RecentLimit]
	}
	if monErr == nil {
		next.Admins = mon.Admins
		next.ConnectedAdmins = mon.ConnectedAdmins
	}
	if m.loaded {
		next.Changes = diff(m.counters, next)
	}
	m.counters = next
	m.loaded = true
	m.broadcastLocked(next)
	m.mu.Unlock()
	return next, nil
}

// Counters returns the last counters.
func (m *Monitor) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Follow subscribes the monitor to hub until Close.  Reservation events
// and presence updates use separate subscriptions so that one kind never
// displaces a pending event of the other.
func (m *Monitor) Follow(hub Subscriber) {
	recount := hub.Subscribe("", func(ev queue.ReservationEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), m.RefreshTimeout)
		defer cancel()
		if _, err := m.Refresh(ctx); err != nil {
			m.log.WithError(err).WithField("type", ev.Type).Warn("recount after reservation event failed")
		}
	})
	presence := hub.Subscribe("", m.applyPresence, queue.EventMonitoringUpdate)

	m.mu.Lock()
	closed := m.closed
	if !closed {
		m.unsubs = append(m.unsubs, recount, presence)
	}
	m.mu.Unlock()
	if closed {
		recount()
		presence()
	}
}

func (m *Monitor) applyPresence(ev queue.ReservationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.counters.ConnectedAdmins
	if ev.Admins != nil {
		m.counters.Admins = ev.Admins
		m.counters.ConnectedAdmins = len(ev.Admins)
	}
	if ev.AdminCount != nil {
		m.counters.ConnectedAdmins = *ev.AdminCount
	}
	m.counters.Changes = nil
	if d := m.counters.ConnectedAdmins - prev; d != 0 && m.loaded {
		m.counters.Changes = map[string]int{CounterConnectedAdmins: d}
	}
	m.counters.UpdatedAt = m.now()
	m.broadcastLocked(m.counters)
}

// Listen streams counters until the returned cancel func is called or the
// monitor closes.  The current counters come first when a count has
// completed.  A listener that falls behind misses updates.
func (m *Monitor) Listen() (<-chan Counters, func()) {
	ch := make(chan Counters, 8)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = ch
	if m.loaded {
		ch <- m.counters
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if l, ok := m.listeners[id]; ok {
				delete(m.listeners, id)
				close(l)
			}
		})
	}
}

// Close unsubscribes from the hub and ends every listener.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	for id, ch := range m.listeners {
		delete(m.listeners, id)
		close(ch)
	}
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (m *Monitor) broadcastLocked(c Counters) {
	for id, ch := range m.listeners {
		select {
		case ch <- c:
		default:
			m.log.WithField("listener", id).Debug("monitor listener behind, update dropped")
		}
	}
}

func diff(prev, next Counters) map[string]int {
	out := map[string]int{}
	add := func(name string, d int) {
		if d != 0 {
			out[name] = d
		}
	}
	add(CounterTrips, next.Trips-prev.Trips)
	add(CounterUsers, next.Users-prev.Users)
	add(CounterActiveReservations, next.ActiveReservations-prev.ActiveReservations)
	add(CounterConnectedAdmins, next.ConnectedAdmins-prev.ConnectedAdmins)
	if len(out) == 0 {
		return nil
	}
	return out
}
