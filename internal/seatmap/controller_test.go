package seatmap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

type httpErr struct {
	status int
	msg    string
}

func (e *httpErr) Error() string       { return e.msg }
func (e *httpErr) HTTPStatus() int     { return e.status }
func (e *httpErr) UserMessage() string { return e.msg }

type fetchCall struct {
	ctx    context.Context
	tripID string
	reply  chan fetchReply
}

type fetchReply struct {
	seats []any
	err   error
}

// fakeSource answers immediately from its fields unless gate is set, in
// which case every ReservedSeats call is handed to the test through calls.
type fakeSource struct {
	mu       sync.Mutex
	seats    []any
	fetchErr error
	gate     bool
	calls    chan fetchCall

	reserveErr   error
	reserveGate  chan struct{}
	reserveCount atomic.Int32
	reserved     []ReserveRequest
	reserveCtx   context.Context
}

func newFake(seats ...any) *fakeSource {
	return &fakeSource{seats: seats, calls: make(chan fetchCall, 8)}
}

func (f *fakeSource) ReservedSeats(ctx context.Context, tripID string) ([]any, error) {
	f.mu.Lock()
	gate := f.gate
	seats, err := f.seats, f.fetchErr
	f.mu.Unlock()
	if !gate {
		return seats, err
	}
	call := fetchCall{ctx: ctx, tripID: tripID, reply: make(chan fetchReply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.seats, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) Reserve(ctx context.Context, req ReserveRequest) (model.Reservation, error) {
	f.reserveCount.Add(1)
	f.mu.Lock()
	f.reserved = append(f.reserved, req)
	f.reserveCtx = ctx
	gate, err := f.reserveGate, f.reserveErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return model.Reservation{}, err
	}
	return model.Reservation{ID: "r1", TripID: req.TripID, Seat: model.FlexInt(req.Seat), Status: model.StatusConfirmed}, nil
}

func (f *fakeSource) setGate(on bool) {
	f.mu.Lock()
	f.gate = on
	f.mu.Unlock()
}

func (f *fakeSource) set(seats ...any) {
	f.mu.Lock()
	f.seats = seats
	f.mu.Unlock()
}

func trip50() model.Trip {
	return model.Trip{ID: "t1", NombrePlaces: 50}
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func openReady(t *testing.T, src *fakeSource, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	c := NewController(src, opts)
	_, err := c.Open(context.Background(), trip50(), nil)
	require.NoError(t, err)
	require.Equal(t, Ready, c.State())
	return c
}

func nextCall(t *testing.T, src *fakeSource) fetchCall {
	t.Helper()
	select {
	case call := <-src.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no reserved-seat fetch issued")
	}
	return fetchCall{}
}

func TestOpenLoadsAndNormalizes(t *testing.T) {
	src := newFake(3, "7", 7.0, "x", 2.5, 0, 51, "12")
	c := openReady(t, src, Options{})

	snap := c.Snapshot()
	assert.Equal(t, "t1", snap.TripID)
	assert.Equal(t, 50, snap.TotalSeats)
	assert.Equal(t, []int{3, 7, 12}, snap.Reserved)
	assert.Empty(t, snap.Selected)
	assert.Equal(t, Ready, snap.State)
}

func TestOpenDefaultsSeatCount(t *testing.T) {
	src := newFake()
	c := NewController(src, Options{Logger: quietLogger()})
	snap, err := c.Open(context.Background(), model.Trip{ID: "t2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSeats, snap.TotalSeats)

	snap, err = c.Open(context.Background(), model.Trip{ID: "t3", NombrePlaces: 90}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.MaxSeats, snap.TotalSeats)
}

func TestOpenFailureReturnsToIdle(t *testing.T) {
	src := newFake()
	src.fetchErr = errors.New("boom")
	c := NewController(src, Options{Logger: quietLogger()})

	_, err := c.Open(context.Background(), trip50(), nil)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "t1", le.TripID)
	assert.Equal(t, Idle, c.State())

	// Manual retry succeeds once the API recovers.
	src.mu.Lock()
	src.fetchErr = nil
	src.mu.Unlock()
	_, err = c.Open(context.Background(), trip50(), nil)
	require.NoError(t, err)
	assert.Equal(t, Ready, c.State())
}

func TestToggleSeat(t *testing.T) {
	c := openReady(t, newFake(3, 7), Options{})

	err := c.ToggleSeat(3)
	var ue *SeatUnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReasonReserved, ue.Reason)
	assert.ErrorIs(t, err, ErrSeatUnavailable)

	err = c.ToggleSeat(51)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReasonOutOfRange, ue.Reason)
	assert.ErrorIs(t, c.ToggleSeat(0), ErrSeatUnavailable)

	require.NoError(t, c.ToggleSeat(10))
	require.NoError(t, c.ToggleSeat(4))
	assert.Equal(t, []int{10, 4}, c.Snapshot().Selected)

	require.NoError(t, c.ToggleSeat(10))
	assert.Equal(t, []int{4}, c.Snapshot().Selected)
}

func TestToggleWithoutTrip(t *testing.T) {
	c := NewController(newFake(), Options{Logger: quietLogger()})
	assert.ErrorIs(t, c.ToggleSeat(1), ErrNoTripLoaded)
}

func TestSubmitWithoutSelectionMakesNoCall(t *testing.T) {
	src := newFake()
	c := openReady(t, src, Options{})

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoSeatSelected)
	assert.Zero(t, src.reserveCount.Load())
}

func TestSubmitWithoutTrip(t *testing.T) {
	src := newFake()
	c := NewController(src, Options{Logger: quietLogger()})
	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoTripLoaded)
	assert.Zero(t, src.reserveCount.Load())
}

func TestSubmitSuccess(t *testing.T) {
	src := newFake(3, 7)
	var changes []SeatMap
	c := openReady(t, src, Options{OnChange: func(m SeatMap) { changes = append(changes, m) }})

	require.Error(t, c.ToggleSeat(3))
	require.NoError(t, c.ToggleSeat(10))

	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, int(res.Seat))
	assert.Equal(t, "t1", res.TripID)

	snap := c.Snapshot()
	assert.Equal(t, []int{3, 7, 10}, snap.Reserved)
	assert.Empty(t, snap.Selected)
	assert.Equal(t, Ready, snap.State)
	require.NotEmpty(t, changes)
	assert.Equal(t, []int{3, 7, 10}, changes[len(changes)-1].Reserved)
}

func TestSubmitBooksFirstSelectedSeatOnly(t *testing.T) {
	src := newFake()
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(5))
	require.NoError(t, c.ToggleSeat(2))

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, src.reserved, 1)
	assert.Equal(t, 5, src.reserved[0].Seat)

	snap := c.Snapshot()
	assert.Equal(t, []int{5}, snap.Reserved)
	assert.Empty(t, snap.Selected)
}

func TestSubmitForwardsSegment(t *testing.T) {
	src := newFake()
	c := NewController(src, Options{Logger: quietLogger()})
	seg := &model.Segment{Depart: "Lyon", Arrivee: "Paris", Prix: 20}
	_, err := c.Open(context.Background(), trip50(), seg)
	require.NoError(t, err)
	require.NoError(t, c.ToggleSeat(1))
	_, err = c.Submit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, src.reserved[0].Segment)
	assert.Equal(t, "Lyon", src.reserved[0].Segment.Depart)
}

func TestSubmitConflictKeepsSelection(t *testing.T) {
	src := newFake(3)
	src.reserveErr = &httpErr{status: 409, msg: "Siège déjà réservé"}
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(10))
	require.NoError(t, c.ToggleSeat(11))

	_, err := c.Submit(context.Background())
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindConflict, se.Kind)
	assert.Equal(t, "Siège déjà réservé", se.Message)
	assert.True(t, IsConflict(err))

	snap := c.Snapshot()
	assert.Equal(t, []int{10, 11}, snap.Selected)
	assert.Equal(t, []int{3}, snap.Reserved)
	assert.Equal(t, Ready, snap.State)
}

func TestSubmitErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind SubmitKind
	}{
		{"network", errors.New("dial tcp: refused"), KindNetwork},
		{"rejected", &httpErr{status: 400, msg: "segment invalide"}, KindRejected},
		{"server", &httpErr{status: 503, msg: "down"}, KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFake()
			src.reserveErr = tt.err
			c := openReady(t, src, Options{})
			require.NoError(t, c.ToggleSeat(1))
			_, err := c.Submit(context.Background())
			var se *SubmitError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, []int{1}, c.Snapshot().Selected)
		})
	}
}

func TestSecondSubmitRejectedWhilePending(t *testing.T) {
	src := newFake()
	src.reserveGate = make(chan struct{})
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(4))

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == Submitting }, time.Second, 5*time.Millisecond)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	// Toggles remain allowed while submitting.
	require.NoError(t, c.ToggleSeat(9))

	close(src.reserveGate)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, src.reserveCount.Load())
	assert.Equal(t, Ready, c.State())
}

func TestSubmitDetachedFromCallerCancellation(t *testing.T) {
	src := newFake()
	src.reserveGate = make(chan struct{})
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(4))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == Submitting }, time.Second, 5*time.Millisecond)
	cancel()
	c.Close()

	src.mu.Lock()
	rctx := src.reserveCtx
	src.mu.Unlock()
	assert.NoError(t, rctx.Err())

	close(src.reserveGate)
	require.NoError(t, <-done)
	// The late result does not resurrect the torn-down map.
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Snapshot().Reserved)
}

func TestExternalChangeEvictsSelectedSeat(t *testing.T) {
	src := newFake(3)
	var notices []Notice
	c := openReady(t, src, Options{Notify: func(n Notice) { notices = append(notices, n) }})
	require.NoError(t, c.ToggleSeat(8))
	require.NoError(t, c.ToggleSeat(9))

	src.set(3, 8)
	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeCreated, TripID: "t1", Seat: 8}))

	snap := c.Snapshot()
	assert.Equal(t, []int{3, 8}, snap.Reserved)
	assert.Equal(t, []int{9}, snap.Selected)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeSeatTaken, notices[0].Kind)
	assert.Equal(t, []int{8}, notices[0].Seats)
}

func TestExternalDeletionFreesSeat(t *testing.T) {
	src := newFake(3, 7)
	var notices []Notice
	c := openReady(t, src, Options{Notify: func(n Notice) { notices = append(notices, n) }})

	src.set(3)
	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeDeleted, TripID: "t1"}))
	assert.Equal(t, []int{3}, c.Snapshot().Reserved)
	require.NoError(t, c.ToggleSeat(7))
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeSeatFreed, notices[0].Kind)
}

func TestExternalChangeFiltering(t *testing.T) {
	src := newFake(3)
	c := openReady(t, src, Options{})
	src.set(3, 4)

	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeCreated, TripID: "other"}))
	assert.Equal(t, []int{3}, c.Snapshot().Reserved)

	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: "trajet_updated", TripID: "t1"}))
	assert.Equal(t, []int{3}, c.Snapshot().Reserved)

	// No trip identifier: treated as relevant.
	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeCreated}))
	assert.Equal(t, []int{3, 4}, c.Snapshot().Reserved)
}

func TestExternalChangeWhileIdleIsIgnored(t *testing.T) {
	c := NewController(newFake(), Options{Logger: quietLogger()})
	assert.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeCreated, TripID: "t1"}))
	assert.Equal(t, Idle, c.State())
}

func TestOlderRefetchDoesNotOverwriteNewer(t *testing.T) {
	src := newFake()
	c := openReady(t, src, Options{})
	src.setGate(true)

	first := make(chan error, 1)
	go func() { _, err := c.Reload(context.Background()); first <- err }()
	call1 := nextCall(t, src)

	second := make(chan error, 1)
	go func() { _, err := c.Reload(context.Background()); second <- err }()
	call2 := nextCall(t, src)

	call2.reply <- fetchReply{seats: []any{1, 2}}
	require.NoError(t, <-second)
	call1.reply <- fetchReply{seats: []any{1}}
	require.NoError(t, <-first)

	assert.Equal(t, []int{1, 2}, c.Snapshot().Reserved)
}

func TestRefetchDuringSubmitKeepsInvariant(t *testing.T) {
	src := newFake(3)
	src.reserveGate = make(chan struct{})
	var notices []Notice
	var nmu sync.Mutex
	c := openReady(t, src, Options{Notify: func(n Notice) {
		nmu.Lock()
		notices = append(notices, n)
		nmu.Unlock()
	}})
	require.NoError(t, c.ToggleSeat(10))
	require.NoError(t, c.ToggleSeat(12))

	done := make(chan error, 1)
	go func() { _, err := c.Submit(context.Background()); done <- err }()
	require.Eventually(t, func() bool { return c.State() == Submitting }, time.Second, 5*time.Millisecond)

	// Our own booking lands server-side and someone else takes 12.
	src.set(3, 10, 12)
	require.NoError(t, c.OnExternalChange(context.Background(), Change{Type: ChangeCreated, TripID: "t1"}))
	snap := c.Snapshot()
	assert.Empty(t, snap.Selected)
	assert.Equal(t, Submitting, snap.State)

	close(src.reserveGate)
	require.NoError(t, <-done)
	snap = c.Snapshot()
	assert.Equal(t, []int{3, 10, 12}, snap.Reserved)
	assert.Empty(t, snap.Selected)

	nmu.Lock()
	defer nmu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, []int{12}, notices[0].Seats)
}

func TestStaleRefetchAfterSubmitKeepsCommittedSeat(t *testing.T) {
	src := newFake(3)
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(10))

	// A refetch started before the booking lands returns the old view.
	src.setGate(true)
	stale := make(chan error, 1)
	go func() { _, err := c.Reload(context.Background()); stale <- err }()
	call := nextCall(t, src)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	call.reply <- fetchReply{seats: []any{3}}
	require.NoError(t, <-stale)
	assert.Equal(t, []int{3, 10}, c.Snapshot().Reserved)

	// A refetch issued after the commit is authoritative.
	go func() { _, err := c.Reload(context.Background()); stale <- err }()
	call = nextCall(t, src)
	call.reply <- fetchReply{seats: []any{3}}
	require.NoError(t, <-stale)
	assert.Equal(t, []int{3}, c.Snapshot().Reserved)
}

func TestCloseCancelsInflightOpen(t *testing.T) {
	src := newFake()
	src.setGate(true)
	c := NewController(src, Options{Logger: quietLogger()})

	done := make(chan error, 1)
	go func() { _, err := c.Open(context.Background(), trip50(), nil); done <- err }()
	call := nextCall(t, src)
	assert.Equal(t, Loading, c.State())

	c.Close()
	select {
	case <-call.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("fetch context not cancelled on close")
	}
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Snapshot().TripID)
}

func TestCloseDiscardsLateRefetch(t *testing.T) {
	src := newFake(1)
	c := openReady(t, src, Options{})
	src.setGate(true)

	done := make(chan error, 1)
	go func() { _, err := c.Reload(context.Background()); done <- err }()
	call := nextCall(t, src)
	c.Close()

	call.reply <- fetchReply{seats: []any{1, 2, 3}}
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Snapshot().Reserved)
}

func TestReopenDiscardsPreviousTrip(t *testing.T) {
	src := newFake(5)
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(6))
	gen := c.Snapshot().Generation

	src.set(1)
	snap, err := c.Open(context.Background(), model.Trip{ID: "t9", NombrePlaces: 20}, nil)
	require.NoError(t, err)
	assert.Equal(t, "t9", snap.TripID)
	assert.Equal(t, 20, snap.TotalSeats)
	assert.Equal(t, []int{1}, snap.Reserved)
	assert.Empty(t, snap.Selected)
	assert.Greater(t, snap.Generation, gen)
}

func TestReloadFailureKeepsState(t *testing.T) {
	src := newFake(2)
	c := openReady(t, src, Options{})
	require.NoError(t, c.ToggleSeat(4))
	src.mu.Lock()
	src.fetchErr = errors.New("timeout")
	src.mu.Unlock()

	_, err := c.Reload(context.Background())
	var le *LoadError
	require.ErrorAs(t, err, &le)
	snap := c.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, []int{2}, snap.Reserved)
	assert.Equal(t, []int{4}, snap.Selected)
}

func TestConcurrentUseKeepsInvariant(t *testing.T) {
	src := newFake()
	c := openReady(t, src, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for s := 1; s <= 50; s++ {
				_ = c.ToggleSeat((s*7+i)%50 + 1)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			src.set(i+1, i+10, i+20)
			_ = c.OnExternalChange(context.Background(), Change{Type: ChangeCreated, TripID: "t1"})
		}(i)
	}
	wg.Wait()

	snap := c.Snapshot()
	for _, s := range snap.Selected {
		assert.NotContains(t, snap.Reserved, s)
	}
}
