package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// ScreenHandler exposes booking screens: one seat map per screen, driven
// by the browser through toggle and submit calls, with changes streamed
// back as server-sent events.  All routes sit behind JWTAuth.
type ScreenHandler struct {
	Screens   *service.Screens
	Log       logrus.FieldLogger
	Heartbeat time.Duration // SSE keep-alive comment interval, default 25s
}

func NewScreenHandler(screens *service.Screens, log logrus.FieldLogger) *ScreenHandler {
	if screens == nil {
		panic("nil screens passed to NewScreenHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ScreenHandler{Screens: screens, Log: log, Heartbeat: 25 * time.Second}
}

type screenView struct {
	ScreenID string          `json:"screen_id"`
	SeatMap  seatmap.SeatMap `json:"seat_map"`
}

// Open handles POST /v1/screens.  Body: {"trip_id": "...", "segment": 0}.
// segment is optional; omit it to book the whole trip.
func (h *ScreenHandler) Open(c echo.Context) error {
	var body struct {
		TripID  string `json:"trip_id"`
		Segment *int   `json:"segment"`
	}
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_body", "invalid request body")
	}
	body.TripID = strings.TrimSpace(body.TripID)
	if body.TripID == "" {
		return fail(c, http.StatusBadRequest, "invalid_body", "trip_id is required")
	}
	segment := -1
	if body.Segment != nil {
		if *body.Segment < 0 {
			return fail(c, http.StatusBadRequest, "invalid_segment", "segment must be a non-negative index")
		}
		segment = *body.Segment
	}

	sc, snap, err := h.Screens.Open(c.Request().Context(), service.OpenRequest{
		Owner:        middleware.UserID(c),
		Token:        middleware.BearerToken(c),
		TripID:       body.TripID,
		SegmentIndex: segment,
		UserAgent:    c.Request().UserAgent(),
	})
	if err != nil {
		var le *seatmap.LoadError
		switch {
		case errors.Is(err, service.ErrBadSegment):
			return fail(c, http.StatusBadRequest, "invalid_segment", err.Error())
		case errors.As(err, &le) && !bookingapi.IsUnauthorized(err):
			return fail(c, http.StatusBadGateway, "load_failed", "could not load reserved seats, please retry")
		}
		return upstream(c, err)
	}
	return c.JSON(http.StatusCreated, screenView{ScreenID: sc.ID, SeatMap: snap})
}

// Get handles GET /v1/screens/:id.
func (h *ScreenHandler) Get(c echo.Context) error {
	sc, err := h.lookup(c)
	if sc == nil {
		return err
	}
	return c.JSON(http.StatusOK, screenView{ScreenID: sc.ID, SeatMap: sc.Snapshot()})
}

// Reload handles POST /v1/screens/:id/reload, the manual retry after a
// failed refresh.
func (h *ScreenHandler) Reload(c echo.Context) error {
	sc, err := h.lookup(c)
	if sc == nil {
		return err
	}
	snap, err := sc.Reload(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, screenView{ScreenID: sc.ID, SeatMap: snap})
	case errors.Is(err, seatmap.ErrNoTripLoaded), errors.Is(err, seatmap.ErrClosed):
		return fail(c, http.StatusConflict, "no_trip_loaded", "this screen has no seat map loaded")
	case bookingapi.IsUnauthorized(err):
		return upstream(c, err)
	default:
		return fail(c, http.StatusBadGateway, "load_failed", "could not load reserved seats, please retry")
	}
}

// Toggle handles POST /v1/screens/:id/seats/:seat/toggle.
func (h *ScreenHandler) Toggle(c echo.Context) error {
	sc, err := h.lookup(c)
	if sc == nil {
		return err
	}
	seat, err := strconv.Atoi(c.Param("seat"))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid_seat", "seat must be a number")
	}
	snap, err := sc.Toggle(seat)
	if err != nil {
		var su *seatmap.SeatUnavailableError
		switch {
		case errors.As(err, &su):
			return c.JSON(http.StatusConflict, echo.Map{
				"error":   "seat_unavailable",
				"message": fmt.Sprintf("seat %d is not available", seat),
				"reason":  su.Reason,
			})
		case errors.Is(err, seatmap.ErrNoTripLoaded):
			return fail(c, http.StatusConflict, "no_trip_loaded", "this screen has no seat map loaded")
		}
		return err
	}
	return c.JSON(http.StatusOK, screenView{ScreenID: sc.ID, SeatMap: snap})
}

// Submit handles POST /v1/screens/:id/submit.  It books the first
// selected seat and answers 201 with the reservation and the new map.
func (h *ScreenHandler) Submit(c echo.Context) error {
	sc, err := h.lookup(c)
	if sc == nil {
		return err
	}
	res, err := sc.Submit(c.Request().Context())
	if err == nil {
		return c.JSON(http.StatusCreated, echo.Map{
			"reservation": res,
			"screen_id":   sc.ID,
			"seat_map":    sc.Snapshot(),
		})
	}

	var se *seatmap.SubmitError
	switch {
	case errors.Is(err, seatmap.ErrNoSeatSelected):
		return fail(c, http.StatusBadRequest, "no_seat_selected", "select a seat first")
	case errors.Is(err, seatmap.ErrSubmitInProgress):
		return fail(c, http.StatusConflict, "submit_in_progress", "a reservation is already being submitted")
	case errors.Is(err, seatmap.ErrNoTripLoaded):
		return fail(c, http.StatusConflict, "no_trip_loaded", "this screen has no seat map loaded")
	case bookingapi.IsUnauthorized(err):
		return upstream(c, err)
	case errors.As(err, &se):
		h.Log.WithFields(logrus.Fields{"screen_id": sc.ID, "seat": se.Seat, "kind": se.Kind}).Warn("submit failed")
		switch se.Kind {
		case seatmap.KindConflict:
			return fail(c, http.StatusConflict, "seat_taken", messageOr(se.Message, "this seat was just taken"))
		case seatmap.KindRejected:
			return fail(c, http.StatusUnprocessableEntity, "rejected", messageOr(se.Message, "reservation rejected"))
		case seatmap.KindNetwork:
			return fail(c, http.StatusBadGateway, "network", "the booking service cannot be reached, please retry")
		default:
			return fail(c, http.StatusBadGateway, "server_error", "the booking service failed, please retry")
		}
	}
	return err
}

// Close handles DELETE /v1/screens/:id.
func (h *ScreenHandler) Close(c echo.Context) error {
	if err := h.Screens.Close(c.Param("id"), middleware.UserID(c)); err != nil {
		return screenError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Events handles GET /v1/screens/:id/events.  The stream starts with the
// current seat map and then carries "snapshot" and "notice" events until
// the client leaves or the screen is closed.
func (h *ScreenHandler) Events(c echo.Context) error {
	sc, err := h.lookup(c)
	if sc == nil {
		return err
	}
	events, stop := sc.Listen()
	defer stop()

	res := openStream(c)

	beat := h.Heartbeat
	if beat <= 0 {
		beat = 25 * time.Second
	}
	tick := time.NewTicker(beat)
	defer tick.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := sendPing(res); err != nil {
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				sendClosed(res)
				return nil
			}
			if err := writeEvent(res, ev); err != nil {
				h.Log.WithError(err).WithField("screen_id", sc.ID).Debug("event stream ended")
				return nil
			}
		}
	}
}

func writeEvent(res *echo.Response, ev service.Event) error {
	var payload any = ev.Snapshot
	if ev.Kind == service.EventNotice {
		payload = ev.Notice
	}
	return sendEvent(res, ev.Kind, payload)
}

// lookup resolves :id for the caller.  When it returns a nil screen the
// error response has been written and err is the result of writing it.
func (h *ScreenHandler) lookup(c echo.Context) (*service.Screen, error) {
	sc, err := h.Screens.Get(c.Param("id"), middleware.UserID(c), middleware.BearerToken(c))
	if err != nil {
		return nil, screenError(c, err)
	}
	return sc, nil
}

func screenError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrScreenNotFound):
		return fail(c, http.StatusNotFound, "screen_not_found", "this booking screen is closed or does not exist")
	case errors.Is(err, service.ErrForbidden):
		return fail(c, http.StatusForbidden, "forbidden", "this booking screen belongs to another user")
	}
	return err
}
