// Package bus wraps the NATS connection behind the small publish/subscribe
// surface the worker needs, and provides an in-memory implementation with the
// same contract for tests.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the capability handed to anything that emits events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Handler consumes one delivered message. Subject is the concrete subject
// the message arrived on, which matters for wildcard subscriptions.
type Handler func(subject string, data []byte)

// Subscription is a cancelable subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber is the capability to attach handlers to subject patterns.
type Subscriber interface {
	Subscribe(subject string, handler Handler) (Subscription, error)
}

// Bus is the full transport surface: publish plus subscribe.
type Bus interface {
	Publisher
	Subscriber
}

// Conn is the NATS-backed Bus used in production. Publish is concurrent-safe;
// the process holds exactly one Conn.
type Conn struct {
	nc *nats.Conn
}

// Connect dials NATS and waits for the connection to be ready.
func Connect(url string, name string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Conn{nc: nc}, nil
}

// Publish sends data on subject. NATS publish is synchronous and does not
// take a context, so cancellation is checked up front.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	return c.nc.Publish(subject, data)
}

// Subscribe attaches handler to a subject pattern.
func (c *Conn) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (c *Conn) Close() {
	if c.nc == nil {
		return
	}
	_ = c.nc.Drain()
	c.nc.Close()
}
