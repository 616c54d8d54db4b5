package queue

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher announces reservation events to other replicas.  Errors are
// logged and returned so callers can ignore them without interrupting the
// request flow.
type Publisher interface {
	Publish(ctx context.Context, ev ReservationEvent) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to the fanout exchange.
// The connection is opened lazily and re-dialled after a failure.
type AMQPPublisher struct {
	URL      string
	Exchange string
	Log      logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev ReservationEvent) error {
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	body, err := Encode(ev)
	if err != nil {
		log.WithError(err).Warn("rabbitmq: marshal event failed")
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		log.WithError(err).Warn("rabbitmq: connect failed")
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange(), "", false, false, pub); err != nil {
		log.WithError(err).Warn("rabbitmq: publish failed")
		p.resetLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) connectLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.resetLocked()
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange(), amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *AMQPPublisher) exchange() string {
	if p.Exchange == "" {
		return DefaultExchange
	}
	return p.Exchange
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	Client  redis.Cmdable
	Channel string
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ReservationEvent) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	channel := p.Channel
	if channel == "" {
		channel = DefaultExchange
	}
	return p.Client.Publish(ctx, channel, body).Err()
}

func (p *RedisPublisher) Close() error { return nil }

// LocalPublisher dispatches straight into a hub.  Used when no broker is
// configured so a single server still propagates its own bookings to the
// other screens on the same trip.
type LocalPublisher struct {
	Hub Dispatcher
}

func (p LocalPublisher) Publish(_ context.Context, ev ReservationEvent) error {
	p.Hub.Dispatch(ev)
	return nil
}

func (p LocalPublisher) Close() error { return nil }
