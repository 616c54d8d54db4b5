package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// Limits bundles the Redis-backed middleware settings.  Redis may be nil,
// in which case rate limiting and caching are off.
type Limits struct {
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       logrus.FieldLogger
}

func (l Limits) scripter() redis.Scripter {
	if l.Redis == nil {
		return nil
	}
	return l.Redis
}

func (l Limits) cacheStore() middleware.CacheStore {
	if l.Redis == nil {
		return nil
	}
	return l.Redis
}

// RegisterMiddleware installs the global chain: panic recovery, CORS,
// request ids, request logging and the per-caller rate limit.
func RegisterMiddleware(e *echo.Echo, l Limits) {
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(l.Log))
	e.Use(middleware.NewTokenBucket(l.RateLimit, l.scripter(), l.Log))
}

// RegisterRoutes registers routes that need no authentication.  For now
// that is only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the account relay under /v1/auth and the
// protected /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterCatalog registers the anonymous catalog routes.  Trip search
// and settings go through the response cache; ping never does.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, l Limits) {
	cached := middleware.NewRedisCache(l.Cache, l.cacheStore(), l.Log)
	e.GET("/v1/trips", h.Trips, cached)
	e.GET("/v1/settings", h.Settings, cached)
	e.GET("/v1/ping", h.Ping)
}
