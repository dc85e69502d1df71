// Package amqpfeed delivers order change events from the relay's topic exchange.
// Each connection gets its own exclusive queue bound to the scope's routing key,
// so closing the connection is all it takes to unsubscribe.
package amqpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/connections/rabbitmq"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
)

var ErrStreamClosed = errors.New("amqpfeed: delivery channel closed")

// RoutingKey is the key the relay publishes a row under for the given scope.
func RoutingKey(s domain.Scope) string {
	switch s.Kind {
	case domain.ScopeUser:
		return "orders.user." + s.ID
	case domain.ScopeRestaurant:
		return "orders.restaurant." + s.ID
	}
	return ""
}

type Config struct {
	Broker   rabbitmq.Config
	Exchange string
	Prefetch int
}

type Transport struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Transport {
	if cfg.Exchange == "" {
		cfg.Exchange = "order_changes"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Transport{cfg: cfg, log: log}
}

// Connect dials the broker and starts consuming the scope's events.
func (t *Transport) Connect(ctx context.Context, scope domain.Scope) (feed.Stream, error) {
	key := RoutingKey(scope)
	if key == "" {
		return nil, feed.ErrNoScope
	}
	client, err := rabbitmq.Dial(ctx, t.cfg.Broker, false)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	deliveries, err := t.consume(client.Channel(), key)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &stream{client: client, deliveries: deliveries, closed: client.NotifyClose()}, nil
}

func (t *Transport) consume(ch *amqp.Channel, key string) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(t.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", t.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, key, t.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind %s: %w", key, err)
	}
	// prefetch is the only buffer between the broker and the engine
	if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
		return nil, err
	}
	tag := "ordersync-" + uuid.NewString()
	deliveries, err := ch.Consume(q.Name, tag, false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	t.log.Debug("feed_queue_bound", zap.String("queue", q.Name), zap.String("routing_key", key), zap.String("consumer", tag))
	return deliveries, nil
}

type stream struct {
	client     *rabbitmq.Client
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
}

func (s *stream) Recv(ctx context.Context) (feed.Message, error) {
	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return feed.Message{}, ErrStreamClosed
		}
		return toMessage(d), nil
	case e := <-s.closed:
		if e != nil {
			return feed.Message{}, fmt.Errorf("amqp closed: %d %s", e.Code, e.Reason)
		}
		return feed.Message{}, ErrStreamClosed
	case <-ctx.Done():
		return feed.Message{}, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.client.Close()
	return nil
}

type acker interface {
	Ack(tag uint64, multiple bool) error
}

// toMessage never fails: a body that does not parse yields an empty message
// that the decoder rejects, and it is still acked so it does not come back.
func toMessage(d amqp.Delivery) feed.Message {
	var m feed.Message
	_ = json.Unmarshal(d.Body, &m)
	m.ReceivedAt = time.Now()
	m.Ack = ackFunc(d.Acknowledger, d.DeliveryTag)
	return m
}

func ackFunc(a acker, tag uint64) func() error {
	if a == nil {
		return nil
	}
	return func() error { return a.Ack(tag, false) }
}
