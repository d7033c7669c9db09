// Package natspub publishes pool connection events to NATS as CloudEvents.
package natspub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/gluk-w/devsync/internal/pool"
)

const (
	eventSource      = "devsync/pool"
	eventTypePrefix  = "io.devsync.connection."
	eventContentType = "application/json"
)

// CloudEvent is the envelope published for every pool event.
type CloudEvent struct {
	SpecVersion     string     `json:"specversion"`
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Type            string     `json:"type"`
	Subject         string     `json:"subject"`
	DataContentType string     `json:"datacontenttype"`
	Time            time.Time  `json:"time"`
	Data            pool.Event `json:"data"`
}

// Publisher forwards pool events to NATS subjects "<prefix>.<event type>".
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials url and returns a Publisher. The connection reconnects on
// its own; events emitted while disconnected are buffered by the client.
func Connect(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	logger = logger.With().Str("component", "natspub").Logger()
	nc, err := nats.Connect(url,
		nats.Name("devsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject an event of type typ is published on.
func (p *Publisher) Subject(typ pool.EventType) string {
	return p.prefix + "." + string(typ)
}

// Publish sends ev. It does not wait for delivery.
func (p *Publisher) Publish(ev pool.Event) error {
	subject := p.Subject(ev.Type)
	msg := CloudEvent{
		SpecVersion:     "1.0",
		ID:              ev.ID,
		Source:          eventSource,
		Type:            eventTypePrefix + string(ev.Type),
		Subject:         ev.Hostname,
		DataContentType: eventContentType,
		Time:            ev.Timestamp,
		Data:            ev,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := p.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Listener returns a pool.EventListener that publishes every event and logs
// failures.
func (p *Publisher) Listener() pool.EventListener {
	return func(ev pool.Event) {
		if err := p.Publish(ev); err != nil {
			p.logger.Warn().Err(err).Str("hostname", ev.Hostname).Msg("Failed to publish event")
		}
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
