package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"order-sync/internal/common/config"
)

const defaultDialTimeout = 10 * time.Second

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string // default "/"
	UseTLS   bool
}

func ConfigFrom(m config.MQ) Config {
	return Config{Host: m.Host, Port: m.Port, User: m.User, Password: m.Pass, VHost: m.VHost, UseTLS: m.UseTLS}
}

func (c Config) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	scheme := "amqp"
	if c.UseTLS {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s",
		scheme, url.UserPassword(c.User, c.Password).String(), c.Host, c.Port, url.PathEscape(vhost))
}

type Client struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed <-chan *amqp.Error

	acks <-chan amqp.Confirmation // nil unless dialled with confirms
	mu   sync.Mutex               // confirms are matched in publish order
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

// NotifyClose fires once when the connection or channel goes away.
func (c *Client) NotifyClose() <-chan *amqp.Error { return c.closed }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Dial connects and opens one channel. The ctx deadline bounds the TCP/TLS
// handshake. With confirms the channel is put in publisher-confirm mode.
func Dial(ctx context.Context, cfg Config, confirms bool) (*Client, error) {
	timeout := defaultDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	acfg := amqp.Config{Dial: amqp.DefaultDial(timeout), Heartbeat: 10 * time.Second}
	if cfg.UseTLS {
		acfg.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Host}
	}

	conn, err := amqp.DialConfig(cfg.URL(), acfg)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	closed := make(chan *amqp.Error, 1)
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		select {
		case e := <-connClosed:
			closed <- e
		case e := <-chClosed:
			closed <- e
		}
	}()

	c := &Client{conn: conn, ch: ch, closed: closed}
	if confirms {
		if err := ch.Confirm(false); err != nil {
			c.Close()
			return nil, err
		}
		c.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return c, nil
}

// DeclareTopic declares a durable topic exchange.
func (c *Client) DeclareTopic(name string) error {
	return c.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

type Publishing struct {
	Exchange    string
	Key         string
	Body        []byte
	Headers     amqp.Table
	ContentType string
	MessageID   string
	Persistent  bool
}

// Publish sends one message and, in confirm mode, waits for the broker's ack.
func (c *Client) Publish(ctx context.Context, p Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mode := amqp.Transient
	if p.Persistent {
		mode = amqp.Persistent
	}
	if err := c.ch.PublishWithContext(ctx, p.Exchange, p.Key, false, false, amqp.Publishing{
		DeliveryMode: mode,
		ContentType:  p.ContentType,
		MessageId:    p.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      p.Headers,
		Body:         p.Body,
	}); err != nil {
		return err
	}
	if c.acks == nil {
		return nil
	}

	select {
	case conf, ok := <-c.acks:
		if !ok {
			return errors.New("channel closed before publish confirm")
		}
		if conf.Ack {
			return nil
		}
		return errors.New("publish NACK from broker")
	case <-ctx.Done():
		return ctx.Err()
	}
}
