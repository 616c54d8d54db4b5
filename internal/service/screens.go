package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

var (
	ErrScreenNotFound = errors.New("screen not found")
	ErrForbidden      = errors.New("screen belongs to another user")
	ErrBadSegment     = errors.New("segment does not exist on this trip")
)

// Backend is the Booking API as seen by one screen.
type Backend interface {
	seatmap.ReservationSource
	Trip(ctx context.Context, id string) (model.Trip, error)
}

// BackendFactory binds the Booking API to a screen's credentials.
type BackendFactory func(creds bookingapi.Credentials) Backend

// Subscriber is the part of queue.Hub that screens and monitors use.
type Subscriber interface {
	Subscribe(tripID string, handler queue.Handler, types ...string) (unsubscribe func())
}

// ScreensConfig wires a Screens registry.  Hub and Publisher are
// optional.
type ScreensConfig struct {
	Backend       BackendFactory
	Hub           Subscriber
	Publisher     queue.Publisher
	Log           logrus.FieldLogger
	IdleTTL       time.Duration
	SubmitTimeout time.Duration
	// ChangeTimeout bounds the refetch triggered by one event.
	ChangeTimeout time.Duration
}

// Screens keeps one seat map controller per open booking screen.  A
// screen lives until its owner closes it or it sits idle, with no event
// listener attached, for longer than IdleTTL.
type Screens struct {
	cfg ScreensConfig
	log logrus.FieldLogger
	now func() time.Time

	mu      sync.Mutex
	screens map[string]*Screen
}

// OpenRequest describes a screen to open.  SegmentIndex is -1 for the
// whole trip.
type OpenRequest struct {
	Owner        string
	Token        string
	TripID       string
	SegmentIndex int
	UserAgent    string
}

func NewScreens(cfg ScreensConfig) *Screens {
	if cfg.Backend == nil {
		panic("service: ScreensConfig.Backend is required")
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.ChangeTimeout <= 0 {
		cfg.ChangeTimeout = 15 * time.Second
	}
	return &Screens{cfg: cfg, log: cfg.Log, now: time.Now, screens: map[string]*Screen{}}
}

// Open resolves the trip, loads its seat map and registers the screen.
// Trip lookup errors are returned as they come from the backend; a failed
// seat load returns a *seatmap.LoadError and nothing is registered.
func (s *Screens) Open(ctx context.Context, req OpenRequest) (*Screen, seatmap.SeatMap, error) {
	id := uuid.NewString()
	sess := session.New(session.NewMemoryStore(), "screen:"+id, s.log)
	if err := sess.SetAccessToken(req.Token); err != nil {
		return nil, seatmap.SeatMap{}, err
	}
	backend := s.cfg.Backend(sess)

	trip, err := backend.Trip(ctx, req.TripID)
	if err != nil {
		return nil, seatmap.SeatMap{}, fmt.Errorf("resolve trip %s: %w", req.TripID, err)
	}
	var segment *model.Segment
	if req.SegmentIndex >= 0 {
		if req.SegmentIndex >= len(trip.Segments) {
			return nil, seatmap.SeatMap{}, ErrBadSegment
		}
		seg := trip.Segments[req.SegmentIndex]
		segment = &seg
	}

	device := utils.ParseUserAgent(req.UserAgent)
	log := s.log.WithFields(logrus.Fields{
		"screen_id": id,
		"trip_id":   trip.ID,
		"user_id":   req.Owner,
		"device":    device.String(),
	})
	sc := &Screen{
		ID:        id,
		Owner:     req.Owner,
		TripID:    trip.ID,
		Device:    device,
		CreatedAt: s.now(),
		now:       s.now,
		sess:      sess,
		log:       log,
		publisher: s.cfg.Publisher,
		listeners: map[uint64]chan Event{},
		lastSeen:  s.now(),
	}
	sc.ctrl = seatmap.NewController(backend, seatmap.Options{
		Logger:        log,
		Notify:        sc.publishNotice,
		OnChange:      sc.publishSnapshot,
		SubmitTimeout: s.cfg.SubmitTimeout,
	})

	// Subscribe before the first fetch so that a change landing between
	// the server's answer and the subscription still triggers a refetch.
	if s.cfg.Hub != nil {
		sc.unsubscribe = s.cfg.Hub.Subscribe(trip.ID, func(ev queue.ReservationEvent) {
			cctx, cancel := context.WithTimeout(context.Background(), s.cfg.ChangeTimeout)
			defer cancel()
			if err := sc.ctrl.OnExternalChange(cctx, ev.Change()); err != nil {
				log.WithError(err).Warn("refresh after reservation event failed")
			}
		})
	}

	snap, err := sc.ctrl.Open(ctx, trip, segment)
	if err != nil {
		sc.shutdown()
		return nil, seatmap.SeatMap{}, err
	}

	s.mu.Lock()
	s.screens[id] = sc
	s.mu.Unlock()
	log.Info("screen opened")
	return sc, snap, nil
}

// Get returns the screen if owner may use it and marks it active.  A
// non-empty token replaces the one forwarded upstream.
func (s *Screens) Get(id, owner, token string) (*Screen, error) {
	s.mu.Lock()
	sc, ok := s.screens[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrScreenNotFound
	}
	if sc.Owner != owner {
		return nil, ErrForbidden
	}
	sc.touch(s.now())
	if token != "" && token != sc.sess.AccessToken() {
		if err := sc.sess.SetAccessToken(token); err != nil {
			return nil, err
		}
	}
	return sc, nil
}

// Close tears the screen down.  It is what navigating away does.
func (s *Screens) Close(id, owner string) error {
	s.mu.Lock()
	sc, ok := s.screens[id]
	if ok && sc.Owner != owner {
		s.mu.Unlock()
		return ErrForbidden
	}
	delete(s.screens, id)
	s.mu.Unlock()
	if !ok {
		return ErrScreenNotFound
	}
	sc.shutdown()
	sc.log.Info("screen closed")
	return nil
}

// Len returns the number of open screens.
func (s *Screens) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.screens)
}

// Reap closes screens idle for longer than IdleTTL and returns how many
// it closed.
func (s *Screens) Reap() int {
	cutoff := s.now().Add(-s.cfg.IdleTTL)
	var stale []*Screen
	s.mu.Lock()
	for id, sc := range s.screens {
		if sc.idleSince(cutoff) {
			stale = append(stale, sc)
			delete(s.screens, id)
		}
	}
	s.mu.Unlock()
	for _, sc := range stale {
		sc.shutdown()
		sc.log.Info("idle screen reaped")
	}
	return len(stale)
}

// Run reaps idle screens until ctx ends, then closes everything.
func (s *Screens) Run(ctx context.Context) {
	every := s.cfg.IdleTTL / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-t.C:
			if n := s.Reap(); n > 0 {
				s.log.WithField("count", n).Debug("reaped idle screens")
			}
		}
	}
}

// CloseAll tears every screen down, on shutdown.
func (s *Screens) CloseAll() {
	s.mu.Lock()
	all := s.screens
	s.screens = map[string]*Screen{}
	s.mu.Unlock()
	for _, sc := range all {
		sc.shutdown()
	}
}
