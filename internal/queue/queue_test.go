package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

func TestDecodeTripReferenceForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		trip string
		seat int
	}{
		{"trajetId", `{"type":"reservation_created","trajetId":"t1","seat":4}`, "t1", 4},
		{"trajet string", `{"type":"reservation_deleted","trajet":"t2","seat":"9"}`, "t2", 9},
		{"trajet object", `{"type":"reservation_updated","trajet":{"_id":"t3","villeDepart":"Lyon"}}`, "t3", 0},
		{"no trip", `{"type":"reservation_deleted","_id":"r1"}`, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.trip, ev.TripRef())
			ch := ev.Change()
			assert.Equal(t, tt.trip, ch.TripID)
			assert.Equal(t, tt.seat, ch.Seat)
			assert.Equal(t, ev.Type, ch.Type)
		})
	}
}

func TestDecodeMonitoringUpdate(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"monitoring_update","adminCount":2,
		"admins":[{"email":"a@kocrou.sn","lastActive":"2026-10-16T08:30:00.000Z"},{"email":"b@kocrou.sn"}]}`))
	require.NoError(t, err)
	assert.False(t, ev.IsReservation())
	require.NotNil(t, ev.AdminCount)
	assert.Equal(t, 2, *ev.AdminCount)
	require.Len(t, ev.Admins, 2)
	assert.Equal(t, "a@kocrou.sn", ev.Admins[0].Email)
	assert.Equal(t, 8, ev.Admins[0].LastActive.Hour())
	assert.True(t, ev.Admins[1].LastActive.IsZero())

	ev, err = Decode([]byte(`{"type":"monitoring_update"}`))
	require.NoError(t, err)
	assert.Nil(t, ev.AdminCount)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"admin_ping"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeStampsTime(t *testing.T) {
	b, err := Encode(ReservationEvent{Type: EventReservationCreated, TripID: "t1", Seat: 2})
	require.NoError(t, err)
	ev, err := Decode(b)
	require.NoError(t, err)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.Equal(t, "t1", ev.TripRef())
	assert.Equal(t, seatmap.ChangeCreated, ev.Type)
}

func TestHubFiltersByTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	defer h.Close()

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(name string) Handler {
		return func(ev ReservationEvent) {
			mu.Lock()
			got[name] = append(got[name], ev.TripRef())
			mu.Unlock()
		}
	}
	h.Subscribe("t1", record("a"))
	h.Subscribe("t2", record("b"))
	h.Subscribe("", record("all"))

	count := func(name string) int {
		mu.Lock()
		defer mu.Unlock()
		return len(got[name])
	}

	// One event at a time: a busy subscriber would coalesce them.
	h.Dispatch(ReservationEvent{Type: EventReservationCreated, TripID: "t1"})
	require.Eventually(t, func() bool { return count("a") == 1 && count("all") == 1 }, time.Second, 5*time.Millisecond)
	h.Dispatch(ReservationEvent{Type: EventReservationCreated})
	require.Eventually(t, func() bool { return count("a") == 2 && count("all") == 2 && count("b") == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{""}, got["b"])
}

func TestHubFiltersByType(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	defer h.Close()

	var seats, monitor atomic.Int32
	h.Subscribe("t1", func(ReservationEvent) { seats.Add(1) })
	h.Subscribe("", func(ReservationEvent) { monitor.Add(1) }, EventMonitoringUpdate)

	h.Dispatch(ReservationEvent{Type: EventMonitoringUpdate})
	require.Eventually(t, func() bool { return monitor.Load() == 1 }, time.Second, 5*time.Millisecond)
	h.Dispatch(ReservationEvent{Type: EventReservationDeleted, TripID: "t1"})
	require.Eventually(t, func() bool { return seats.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, seats.Load())
	assert.EqualValues(t, 1, monitor.Load())
}

func TestHubCoalescesWhileBusy(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	defer h.Close()

	release := make(chan struct{})
	var calls atomic.Int32
	var last atomic.Value
	h.Subscribe("t1", func(ev ReservationEvent) {
		if calls.Add(1) == 1 {
			<-release
		}
		last.Store(ev.ReservationID)
	})

	h.Dispatch(ReservationEvent{Type: EventReservationCreated, TripID: "t1", ReservationID: "r0"})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Handler is blocked: bursts collapse into the latest event.
	for _, id := range []string{"r1", "r2", "r3"} {
		h.Dispatch(ReservationEvent{Type: EventReservationCreated, TripID: "t1", ReservationID: id})
	}
	close(release)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "r3", last.Load())
}

func TestHubUnsubscribe(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	var calls atomic.Int32
	unsub := h.Subscribe("t1", func(ReservationEvent) { calls.Add(1) })
	assert.Equal(t, 1, h.Len())

	unsub()
	unsub()
	assert.Equal(t, 0, h.Len())
	h.Dispatch(ReservationEvent{Type: EventReservationCreated, TripID: "t1"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

type recorder struct {
	mu  sync.Mutex
	evs []ReservationEvent
}

func (r *recorder) Dispatch(ev ReservationEvent) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func TestConsumerHandle(t *testing.T) {
	rec := &recorder{}
	log, _ := test.NewNullLogger()
	c := &Consumer{Out: rec, Log: log}

	require.NoError(t, c.handle([]byte(`{"type":"reservation_created","trajetId":"t1"}`)))
	assert.Error(t, c.handle([]byte(`{"type":"other"}`)))
	assert.Error(t, c.handle([]byte(`{`)))
	require.Len(t, rec.evs, 1)
	assert.Equal(t, DefaultExchange, c.exchange())
}

func TestLocalPublisher(t *testing.T) {
	rec := &recorder{}
	p := LocalPublisher{Hub: rec}
	require.NoError(t, p.Publish(context.Background(), ReservationEvent{Type: EventReservationCreated, TripID: "t1"}))
	require.NoError(t, p.Close())
	assert.Len(t, rec.evs, 1)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(20*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Minute))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}
