package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/branding"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// CatalogAPI is the read-only, anonymous part of the Booking API.
type CatalogAPI interface {
	Trips(ctx context.Context, depart, arrivee string) ([]model.Trip, error)
	Ping(ctx context.Context) error
}

// CatalogHandler serves trip search, branding and the upstream ping.
// These routes need no login and are cached by the response cache.
type CatalogHandler struct {
	API      CatalogAPI
	Branding *branding.Provider
	Log      logrus.FieldLogger
}

func NewCatalogHandler(api CatalogAPI, brand *branding.Provider, log logrus.FieldLogger) *CatalogHandler {
	if api == nil || brand == nil {
		panic("nil dependency passed to NewCatalogHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CatalogHandler{API: api, Branding: brand, Log: log}
}

// Trips handles GET /v1/trips?depart=&arrivee=.  Each trip is expanded
// into the principal option plus one option per segment.
func (h *CatalogHandler) Trips(c echo.Context) error {
	depart := strings.TrimSpace(c.QueryParam("depart"))
	arrivee := strings.TrimSpace(c.QueryParam("arrivee"))
	trips, err := h.API.Trips(c.Request().Context(), depart, arrivee)
	if err != nil {
		h.Log.WithError(err).Warn("trip search failed")
		return upstream(c, err)
	}
	opts := model.ExpandOptions(trips)
	return c.JSON(http.StatusOK, echo.Map{"count": len(opts), "data": opts})
}

// Settings handles GET /v1/settings.  The last good settings are served;
// they are fetched on demand only before the first refresh succeeded.
func (h *CatalogHandler) Settings(c echo.Context) error {
	settings, theme, ok := h.Branding.Current()
	if !ok {
		var err error
		settings, theme, err = h.Branding.Refresh(c.Request().Context())
		if err != nil {
			h.Log.WithError(err).Warn("settings unavailable")
			return upstream(c, err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"settings": settings, "theme": theme})
}

// Ping handles GET /v1/ping: is the Booking API reachable?
func (h *CatalogHandler) Ping(c echo.Context) error {
	if err := h.API.Ping(c.Request().Context()); err != nil {
		h.Log.WithError(err).Warn("booking api ping failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"status": "down", "error": "api_unreachable", "message": "the booking service cannot be reached"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
