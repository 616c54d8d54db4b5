package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/branding"
	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

const brandingKey = "server:branding"

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("invalid LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it caching and rate limiting are off.
	var rdb *redis.Client
	if client, err := config.NewRedisClient(cfg.Redis); err != nil {
		logger.WithError(err).Warn("redis unavailable, cache and rate limit disabled")
	} else {
		rdb = client
		defer func() { _ = rdb.Close() }()
	}

	store, closeStore, err := openStore(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatalf("session store: %v", err)
	}
	defer closeStore()
	sess, err := session.Load(ctx, store, brandingKey, logger)
	if err != nil {
		logger.Fatalf("load server session: %v", err)
	}

	api := bookingapi.New(bookingapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Logger:  logger.WithField("component", "bookingapi"),
	}, nil)

	hub := queue.NewHub(logger.WithField("component", "hub"))
	defer hub.Close()
	publisher, err := startEvents(ctx, cfg, rdb, hub, logger)
	if err != nil {
		logger.Fatalf("event channel: %v", err)
	}
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
	}

	screens := service.NewScreens(service.ScreensConfig{
		Backend: func(creds bookingapi.Credentials) service.Backend {
			return api.WithCredentials(creds)
		},
		Hub:           hub,
		Publisher:     publisher,
		Log:           logger.WithField("component", "screens"),
		IdleTTL:       cfg.ScreenIdleTTL,
		SubmitTimeout: cfg.SubmitTimeout,
	})
	go screens.Run(ctx)

	brand := branding.New(api, sess, logger.WithField("component", "branding"))
	go brand.Run(ctx, cfg.SettingsRefresh)

	limits := router.Limits{Redis: rdb, RateLimit: cfg.RateLimit, Cache: cfg.Cache, Log: logger}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterMiddleware(e, limits)
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(api, logger), cfg.JWTSecret)
	router.RegisterCatalog(e, handler.NewCatalogHandler(api, brand, logger), limits)
	router.RegisterScreens(e, handler.NewScreenHandler(screens, logger), cfg.JWTSecret, limits)
	router.RegisterAdmin(e, handler.NewAdminHandler(func(token string) handler.AdminAPI {
		return api.WithCredentials(bookingapi.StaticToken(token))
	}, logger), cfg.JWTSecret)
	router.RegisterMonitoring(e, handler.NewMonitorHandler(func(token string) service.MonitorAPI {
		return api.WithCredentials(bookingapi.StaticToken(token))
	}, hub, logger.WithField("component", "monitoring")), cfg.JWTSecret)

	// No write timeout: event streams stay open.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "api": cfg.APIBaseURL}).Info("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	screens.CloseAll()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("forced shutdown")
	}
	logger.Info("server stopped")
}
