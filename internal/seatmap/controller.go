package seatmap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ReserveRequest is one booking submission: a single seat on a trip,
// optionally restricted to a segment.
type ReserveRequest struct {
	TripID  string
	Seat    int
	Segment *model.Segment
}

// ReservationSource is the slice of the Booking API the controller needs.
// ReservedSeats returns the raw seat values of all non-cancelled
// reservations on the trip; the controller normalizes them.
type ReservationSource interface {
	ReservedSeats(ctx context.Context, tripID string) ([]any, error)
	Reserve(ctx context.Context, req ReserveRequest) (model.Reservation, error)
}

// Change types understood by OnExternalChange.
const (
	ChangeCreated = "reservation_created"
	ChangeDeleted = "reservation_deleted"
	ChangeUpdated = "reservation_updated"
)

// Change is a push notification that someone else changed reservations.
// TripID may be empty when the sender did not include it; such events are
// treated as relevant.  Seat is informational only and never trusted.
type Change struct {
	Type   string
	TripID string
	Seat   int
}

// Notice kinds.
const (
	NoticeSeatTaken = "seat_taken"
	NoticeSeatFreed = "seat_freed"
)

// Notice is a non-blocking message for the user, emitted when the seat
// map changed under them.
type Notice struct {
	Kind    string `json:"kind"`
	TripID  string `json:"trip_id"`
	Seats   []int  `json:"seats"`
	Message string `json:"message"`
}

// Options tunes a Controller.  Zero values are usable.
type Options struct {
	Logger        logrus.FieldLogger
	Notify        func(Notice)  // called outside the lock; must not block for long
	OnChange      func(SeatMap) // called after every applied update
	SubmitTimeout time.Duration // default 30s
}

// Controller owns the seat map of one trip.  All methods are safe for
// concurrent use: mutable state sits behind a single mutex and network
// calls are made with the lock released.
type Controller struct {
	source        ReservationSource
	log           logrus.FieldLogger
	notify        func(Notice)
	onChange      func(SeatMap)
	submitTimeout time.Duration

	mu       sync.Mutex
	state    State
	tripID   string
	total    int
	segment  *model.Segment
	reserved map[int]struct{}
	selected []int

	// gen changes on every Open and Close; results from an older
	// generation are discarded.
	gen      uint64
	lifetime context.Context
	cancel   context.CancelFunc

	// issued/applied order reserved-seat fetches: a result is applied
	// only if it was issued after the one currently shown.
	issued  uint64
	applied uint64

	// inflight is the seat being submitted, 0 when none.
	inflight int
	// committed holds seats booked by this controller, keyed to the last
	// ticket issued when the booking landed.  Fetches issued at or before
	// that ticket may predate the booking, so the seat is merged back in.
	committed map[int]uint64
}

// NewController returns an idle controller bound to source.
func NewController(source ReservationSource, opts Options) *Controller {
	if source == nil {
		panic("nil reservation source passed to NewController")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := opts.SubmitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Controller{
		source:        source,
		log:           log,
		notify:        opts.Notify,
		onChange:      opts.OnChange,
		submitTimeout: timeout,
		reserved:      map[int]struct{}{},
		committed:     map[int]uint64{},
	}
}

// Open loads the seat map for trip.  Any previously open trip is torn
// down first.  On failure the controller returns to Idle and a *LoadError
// is returned; there is no automatic retry.
func (c *Controller) Open(ctx context.Context, trip model.Trip, segment *model.Segment) (SeatMap, error) {
	c.mu.Lock()
	c.teardownLocked()
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	c.state = Loading
	c.tripID = trip.ID
	c.total = ClampTotal(trip.SeatCount())
	c.segment = segment
	gen := c.gen
	c.issued++
	ticket := c.issued
	life := c.lifetime
	c.mu.Unlock()

	seats, err := c.fetch(ctx, life, trip.ID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return SeatMap{}, ErrClosed
	}
	if err != nil {
		if c.state == Loading {
			c.state = Idle
			c.mu.Unlock()
			return SeatMap{}, &LoadError{TripID: trip.ID, Err: err}
		}
		// A newer refetch already populated the map.
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	var notices []Notice
	if ticket > c.applied {
		notices = c.applyLocked(ticket, seats)
	}
	if c.state == Loading {
		c.state = Ready
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(notices, snap)
	return snap, nil
}

// Reload refetches the reserved seats of the open trip.  It is the manual
// retry after a failed refresh and the work behind OnExternalChange.
func (c *Controller) Reload(ctx context.Context) (SeatMap, error) {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return SeatMap{}, ErrNoTripLoaded
	}
	gen := c.gen
	c.issued++
	ticket := c.issued
	life := c.lifetime
	tripID := c.tripID
	c.mu.Unlock()

	seats, err := c.fetch(ctx, life, tripID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return SeatMap{}, ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		return SeatMap{}, &LoadError{TripID: tripID, Err: err}
	}
	var notices []Notice
	if ticket > c.applied {
		notices = c.applyLocked(ticket, seats)
		if c.state == Loading {
			c.state = Ready
		}
	} else {
		c.log.WithFields(logrus.Fields{"trip_id": tripID, "ticket": ticket, "applied": c.applied}).
			Debug("seatmap: discarding stale reserved-seat result")
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(notices, snap)
	return snap, nil
}

// ToggleSeat adds seat to the selection or removes it.  Reserved and
// out-of-range seats are rejected with a *SeatUnavailableError.
func (c *Controller) ToggleSeat(seat int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Ready && c.state != Submitting {
		return ErrNoTripLoaded
	}
	if seat < 1 || seat > c.total {
		return &SeatUnavailableError{Seat: seat, Reason: ReasonOutOfRange}
	}
	if _, taken := c.reserved[seat]; taken {
		return &SeatUnavailableError{Seat: seat, Reason: ReasonReserved}
	}
	for i, s := range c.selected {
		if s == seat {
			c.selected = append(c.selected[:i:i], c.selected[i+1:]...)
			return nil
		}
	}
	c.selected = append(c.selected, seat)
	return nil
}

// Submit books the first selected seat.  Only one seat is sent per call;
// the rest of the selection is cleared on success like the seat that was
// booked.  The request is detached from ctx cancellation and from Close:
// once sent, a booking is allowed to complete server-side.
func (c *Controller) Submit(ctx context.Context) (model.Reservation, error) {
	c.mu.Lock()
	switch c.state {
	case Idle, Loading:
		c.mu.Unlock()
		return model.Reservation{}, ErrNoTripLoaded
	case Submitting:
		c.mu.Unlock()
		return model.Reservation{}, ErrSubmitInProgress
	}
	if len(c.selected) == 0 {
		c.mu.Unlock()
		return model.Reservation{}, ErrNoSeatSelected
	}
	seat := c.selected[0]
	req := ReserveRequest{TripID: c.tripID, Seat: seat, Segment: c.segment}
	gen := c.gen
	c.state = Submitting
	c.inflight = seat
	c.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.submitTimeout)
	defer cancel()
	res, err := c.source.Reserve(sctx, req)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"trip_id": req.TripID, "seat": seat}).
			Info("seatmap: submission finished after teardown")
		if err != nil {
			return model.Reservation{}, classifySubmit(seat, err)
		}
		return res, nil
	}
	c.state = Ready
	c.inflight = 0
	if err != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(nil, snap)
		return model.Reservation{}, classifySubmit(seat, err)
	}
	c.reserved[seat] = struct{}{}
	c.committed[seat] = c.issued
	c.selected = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(nil, snap)
	if int(res.Seat) == 0 {
		res.Seat = model.FlexInt(seat)
	}
	if res.TripID == "" {
		res.TripID = req.TripID
	}
	return res, nil
}

// OnExternalChange reacts to another party's reservation activity.  Events
// for other trips are ignored; anything else triggers a refetch, since the
// event payload may be partial.
func (c *Controller) OnExternalChange(ctx context.Context, ch Change) error {
	switch ch.Type {
	case ChangeCreated, ChangeDeleted, ChangeUpdated:
	default:
		return nil
	}
	c.mu.Lock()
	if c.state == Idle || (ch.TripID != "" && ch.TripID != c.tripID) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	_, err := c.Reload(ctx)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrNoTripLoaded) {
		return nil
	}
	return err
}

// Close tears the controller down: in-flight loads are cancelled and
// their results discarded, the map is cleared and the state goes back to
// Idle.  A submission already sent is not cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

// Snapshot returns a copy of the current seat map.
func (c *Controller) Snapshot() SeatMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TripID returns the open trip, or "" when idle.
func (c *Controller) TripID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripID
}

func (c *Controller) teardownLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	c.lifetime = nil
	c.state = Idle
	c.tripID = ""
	c.total = 0
	c.segment = nil
	c.reserved = map[int]struct{}{}
	c.selected = nil
	c.inflight = 0
	c.committed = map[int]uint64{}
	c.applied = c.issued
}

// fetch runs the reserved-seat request under ctx, aborting early when the
// controller lifetime ends.
func (c *Controller) fetch(ctx, life context.Context, tripID string) ([]any, error) {
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if life != nil {
		stop := context.AfterFunc(life, cancel)
		defer stop()
	}
	return c.source.ReservedSeats(fctx, tripID)
}

// applyLocked replaces the reserved set with the result of fetch ticket and
// restores the selection invariant.  It returns the notices to emit.
func (c *Controller) applyLocked(ticket uint64, raw []any) []Notice {
	next := make(map[int]struct{}, len(raw))
	for _, s := range NormalizeSeats(raw, c.total) {
		next[s] = struct{}{}
	}
	for seat, at := range c.committed {
		if ticket <= at {
			next[seat] = struct{}{}
		} else {
			delete(c.committed, seat)
		}
	}

	var freed []int
	for s := range c.reserved {
		if _, still := next[s]; !still {
			freed = append(freed, s)
		}
	}
	c.reserved = next
	c.applied = ticket

	var taken []int
	kept := c.selected[:0:0]
	for _, s := range c.selected {
		if _, r := c.reserved[s]; r {
			if s != c.inflight {
				taken = append(taken, s)
			}
			continue
		}
		kept = append(kept, s)
	}
	c.selected = kept

	var notices []Notice
	if len(taken) > 0 {
		notices = append(notices, Notice{
			Kind:    NoticeSeatTaken,
			TripID:  c.tripID,
			Seats:   taken,
			Message: "a seat you selected was just taken",
		})
	}
	if len(freed) > 0 {
		sort.Ints(freed)
		notices = append(notices, Notice{
			Kind:    NoticeSeatFreed,
			TripID:  c.tripID,
			Seats:   freed,
			Message: "a seat was just released",
		})
	}
	return notices
}

func (c *Controller) snapshotLocked() SeatMap {
	reserved := make([]int, 0, len(c.reserved))
	for s := range c.reserved {
		reserved = append(reserved, s)
	}
	sort.Ints(reserved)
	selected := make([]int, len(c.selected))
	copy(selected, c.selected)
	var seg *model.Segment
	if c.segment != nil {
		s := *c.segment
		seg = &s
	}
	return SeatMap{
		TripID:     c.tripID,
		TotalSeats: c.total,
		Reserved:   reserved,
		Selected:   selected,
		State:      c.state,
		Segment:    seg,
		Generation: c.gen,
	}
}

func (c *Controller) emit(notices []Notice, snap SeatMap) {
	if c.notify != nil {
		for _, n := range notices {
			c.notify(n)
		}
	}
	if c.onChange != nil {
		c.onChange(snap)
	}
}
