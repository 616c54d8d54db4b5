package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RegisterAdmin registers reservation management.  All routes require a
// valid JWT and the admin role; the Booking API checks the role again.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("admin"),
	)
	g.GET("/reservations", h.List)
	g.PUT("/reservations/:id/cancel", h.Cancel)
	g.PUT("/reservations/:id/validate", h.Validate)
	g.DELETE("/reservations/:id", h.Delete)
}

// RegisterMonitoring registers the admin live counters, as a snapshot and
// as a server-sent event stream.
func RegisterMonitoring(e *echo.Echo, h *handler.MonitorHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin/monitoring",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("admin"),
	)
	g.GET("", h.Snapshot)
	g.GET("/events", h.Events)
}
