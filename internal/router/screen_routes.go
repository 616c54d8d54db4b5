package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RegisterScreens registers the booking screen endpoints under
// /v1/screens.  Any authenticated caller may open screens; ownership is
// checked per screen by the handler.  Submits go through their own,
// smaller rate limit bucket.
func RegisterScreens(e *echo.Echo, h *handler.ScreenHandler, jwtSecret string, l Limits) {
	g := e.Group("/v1/screens", middleware.JWTAuth(jwtSecret))
	g.POST("", h.Open)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Close)
	g.POST("/:id/reload", h.Reload)
	g.POST("/:id/seats/:seat/toggle", h.Toggle)
	g.POST("/:id/submit", h.Submit, middleware.NewSubmitBucket(l.RateLimit, l.scripter(), l.Log))
	g.GET("/:id/events", h.Events)
}
