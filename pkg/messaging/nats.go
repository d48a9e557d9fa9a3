// Package messaging publishes payout lifecycle events over NATS. Events are
// advisory: the store is the source of truth and a publish failure never
// blocks a pipeline tick.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
}

// ClientOptions configures the connection.
type ClientOptions struct {
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// NewClient connects to NATS at url.
func NewClient(url string, opts ClientOptions) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Publish marshals v as JSON and publishes it on subject.
func (c *Client) Publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for subject.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	if _, err := c.conn.Subscribe(subject, handler); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
		c.conn.Close()
	}
}
