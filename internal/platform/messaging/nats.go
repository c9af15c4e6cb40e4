// Package messaging publishes domain events to NATS for downstream consumers
// such as paging systems and analytics.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "smartslot",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Drain() error
}

// Client is a thin publish/subscribe wrapper over a NATS connection.
type Client struct {
	conn       natsConn
	logger     zerolog.Logger
	reconnects atomic.Int64
}

// Connect dials NATS. Reconnects and disconnects are logged.
func Connect(cfg Config, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "nats").Logger()
	c := &Client{logger: logger}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.reconnects.Add(1)
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	c.conn = conn
	return c, nil
}

func newClient(conn natsConn, logger zerolog.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// Publish marshals v as JSON and publishes it on subject.
func (c *Client) Publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil || !c.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers raw message payloads on subject to handler until ctx
// is done.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	<-ctx.Done()
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns how many times the connection was re-established.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}
