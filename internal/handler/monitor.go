package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

// MonitorHandler serves the admin live counters.  Every request gets its
// own service.Monitor bound to the caller's token.
type MonitorHandler struct {
	API func(token string) service.MonitorAPI
	// Hub feeds reservation and presence events to streams; nil leaves
	// streams on the periodic recount only.
	Hub       service.Subscriber
	Log       logrus.FieldLogger
	Heartbeat time.Duration // SSE keep-alive comment interval, default 25s
	Every     time.Duration // periodic recount on streams, default 60s
}

func NewMonitorHandler(api func(token string) service.MonitorAPI, hub service.Subscriber, log logrus.FieldLogger) *MonitorHandler {
	if api == nil {
		panic("nil api passed to NewMonitorHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MonitorHandler{API: api, Hub: hub, Log: log, Heartbeat: 25 * time.Second, Every: time.Minute}
}

// Snapshot handles GET /v1/admin/monitoring.
func (h *MonitorHandler) Snapshot(c echo.Context) error {
	m := service.NewMonitor(h.API(middleware.BearerToken(c)), h.Log)
	counters, err := m.Refresh(c.Request().Context())
	if err != nil {
		return upstream(c, err)
	}
	return c.JSON(http.StatusOK, counters)
}

// Events handles GET /v1/admin/monitoring/events.  The stream starts with
// a fresh count and then carries a "counters" event each time a
// reservation or the admin presence changes.
func (h *MonitorHandler) Events(c echo.Context) error {
	log := h.Log.WithField("user_id", middleware.UserID(c))
	m := service.NewMonitor(h.API(middleware.BearerToken(c)), log)
	defer m.Close()

	ctx := c.Request().Context()
	if _, err := m.Refresh(ctx); err != nil {
		return upstream(c, err)
	}
	if h.Hub != nil {
		m.Follow(h.Hub)
	}
	updates, stop := m.Listen()
	defer stop()

	res := openStream(c)

	beat := h.Heartbeat
	if beat <= 0 {
		beat = 25 * time.Second
	}
	every := h.Every
	if every <= 0 {
		every = time.Minute
	}
	tick := time.NewTicker(beat)
	defer tick.Stop()
	recount := time.NewTicker(every)
	defer recount.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := sendPing(res); err != nil {
				return nil
			}
		case <-recount.C:
			rctx, cancel := context.WithTimeout(ctx, m.RefreshTimeout)
			if _, err := m.Refresh(rctx); err != nil {
				log.WithError(err).Warn("periodic recount failed")
			}
			cancel()
		case counters, ok := <-updates:
			if !ok {
				sendClosed(res)
				return nil
			}
			if err := sendEvent(res, "counters", counters); err != nil {
				log.WithError(err).Debug("monitoring stream ended")
				return nil
			}
		}
	}
}
