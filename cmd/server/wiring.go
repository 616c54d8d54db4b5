package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

const purgeEvery = time.Hour

// openStore builds the configured session backend, sealed when
// SESSION_KEY is set.  The returned func releases it.
func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client, log logrus.FieldLogger) (session.Store, func(), error) {
	var (
		inner   session.Store
		release = func() {}
	)
	switch cfg.SessionBackend {
	case config.SessionMemory:
		inner = session.NewMemoryStore()
	case config.SessionFile:
		dir := cfg.SessionDir
		if dir == "" {
			d, err := session.DefaultDir()
			if err != nil {
				return nil, nil, err
			}
			dir = d
		}
		inner = session.FileStore{Dir: dir}
	case config.SessionRedis:
		if rdb == nil {
			return nil, nil, errors.New("SESSION_BACKEND=redis needs a reachable redis")
		}
		inner = session.RedisStore{Client: rdb, Prefix: "bsr:session:", TTL: cfg.SessionTTL}
	case config.SessionMySQL:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, fmt.Errorf("mysql: %w", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		repo := repository.NewSessionRepo(db, cfg.SessionTTL)
		go purgeLoop(ctx, repo, log)
		inner = repo
		release = func() { _ = db.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	log.WithFields(logrus.Fields{"backend": cfg.SessionBackend, "sealed": cfg.SessionKey != ""}).Info("session store ready")
	return session.NewSealedStore(inner, cfg.SessionKey), release, nil
}

func purgeLoop(ctx context.Context, repo *repository.SessionRepo, log logrus.FieldLogger) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				log.WithError(err).Warn("purge expired sessions failed")
				continue
			}
			if n > 0 {
				log.WithField("rows", n).Info("expired sessions purged")
			}
		}
	}
}

// startEvents starts the configured event consumer feeding hub and
// returns the publisher screens announce their bookings with, if any.
// Without a broker, bookings are dispatched to the local hub directly.
func startEvents(ctx context.Context, cfg config.Config, rdb *redis.Client, hub *queue.Hub, log *logrus.Logger) (queue.Publisher, error) {
	switch cfg.EventsTransport {
	case config.EventsNone:
		return queue.LocalPublisher{Hub: hub}, nil
	case config.EventsAMQP:
		c := &queue.Consumer{URL: cfg.RabbitMQURL, Exchange: cfg.EventsExchange, Out: hub, Log: log.WithField("component", "amqp")}
		go func() { _ = c.Run(ctx) }()
		if !cfg.EventsAnnounce {
			return nil, nil
		}
		return &queue.AMQPPublisher{URL: cfg.RabbitMQURL, Exchange: cfg.EventsExchange, Log: log.WithField("component", "amqp")}, nil
	case config.EventsRedis:
		if rdb == nil {
			return nil, errors.New("EVENTS_TRANSPORT=redis needs a reachable redis")
		}
		s := &queue.RedisSubscriber{Client: rdb, Channel: cfg.EventsExchange, Out: hub, Log: log.WithField("component", "redis-events")}
		go func() { _ = s.Run(ctx) }()
		if !cfg.EventsAnnounce {
			return nil, nil
		}
		return &queue.RedisPublisher{Client: rdb, Channel: cfg.EventsExchange}, nil
	}
	return nil, fmt.Errorf("unknown events transport %q", cfg.EventsTransport)
}
