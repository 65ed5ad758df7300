package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	HostOutcomeSubject    = "fleetboot.hosts.outcome"
	RunFinishedSubject    = "fleetboot.runs.finished"
	SwitchFinishedSubject = "fleetboot.switch.finished"

	// DefaultPublishTimeout bounds the wait for a JetStream ack when the
	// caller's context has no earlier deadline.
	DefaultPublishTimeout = 5 * time.Second
)

// Bus wraps a NATS JetStream connection for publishing fleet events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	publishTimeout time.Duration
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	opts = append([]nats.Option{
		nats.Name("fleetboot"),
		nats.Timeout(5 * time.Second),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js, publishTimeout: DefaultPublishTimeout}, nil
}

// SetPublishTimeout changes the per-publish ack deadline. Zero or less restores
// DefaultPublishTimeout.
func (b *Bus) SetPublishTimeout(d time.Duration) {
	if b == nil {
		return
	}
	if d <= 0 {
		d = DefaultPublishTimeout
	}
	b.publishTimeout = d
}

// Close flushes pending publications and shuts down the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject, waiting at
// most the publish timeout for the stream to acknowledge it. A subject with no
// stream behind it never acks, so the wait is always bounded.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	timeout := b.publishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := b.js.Publish(subj, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}
