// Package events publishes committed lifecycle events to NATS. Every event is
// a JSON document on subject <prefix>.<event type>, for example
// slipta.audit.transitioned.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"sliptacore/pkg/domain"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "slipta"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher implements domain.EventPublisher on a NATS connection.
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher wraps an established connection.
func NewPublisher(conn Conn, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t domain.EventType) string {
	return p.prefix + "." + string(t)
}

// Publish encodes the event and hands it to the connection. NATS core
// publishing is fire-and-forget; the context is only checked up front.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Config selects the NATS server. An empty URL disables publishing.
type Config struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// Enabled reports whether a server is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

// Connect dials the configured server and returns a publisher plus a close
// function that drains the connection.
func Connect(cfg Config) (*Publisher, func(), error) {
	name := cfg.Name
	if name == "" {
		name = "sliptacore"
	}
	opts := []nats.Option{nats.Name(name)}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	closeFn := func() {
		_ = nc.Drain()
		nc.Close()
	}
	return NewPublisher(nc, cfg.SubjectPrefix), closeFn, nil
}
