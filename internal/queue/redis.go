package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisSubscriber reads reservation events from a Redis pub/sub channel.
// go-redis re-subscribes on its own after connection loss.
type RedisSubscriber struct {
	Client  *redis.Client
	Channel string
	Out     Dispatcher
	Log     logrus.FieldLogger
}

// Run blocks until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	channel := s.Channel
	if channel == "" {
		channel = DefaultExchange
	}
	sub := s.Client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	log.WithField("channel", channel).Info("event-subscriber: listening")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			ev, err := Decode([]byte(m.Payload))
			if err != nil {
				log.WithError(err).Warn("event-subscriber: dropping message")
				continue
			}
			s.Out.Dispatch(ev)
		}
	}
}
