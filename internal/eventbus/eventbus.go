// Package eventbus publishes dispatcher outcomes onto a NATS subject for
// any external consumer (alerting, analytics, a UI) that wants to observe
// the pipeline without polling the metrics hub. It is optional: wiring
// never blocks the pipeline on a slow or absent subscriber.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/dispatcher"
)

// Config configures the outbound event publisher.
type Config struct {
	URL     string
	Subject string // default "mevpipe.outcomes"
}

func (c Config) withDefaults() Config {
	if c.Subject == "" {
		c.Subject = "mevpipe.outcomes"
	}
	return c
}

// Publisher fans dispatcher outcomes out to NATS.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     zerolog.Logger
}

// New connects to NATS and returns a Publisher. It does not enable
// JetStream: outcome events are fire-and-forget, not replayed.
func New(cfg Config, log zerolog.Logger) (*Publisher, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("mevpipe-eventbus"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("eventbus disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("eventbus reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to NATS: %w", err)
	}

	return &Publisher{
		nc:      nc,
		subject: cfg.Subject,
		log:     log.With().Str("component", "eventbus").Logger(),
	}, nil
}

// outcomeEvent is the wire shape published for each dispatcher outcome.
type outcomeEvent struct {
	OpportunityID string    `json:"opportunity_id"`
	Kind          string    `json:"kind"`
	BundleID      string    `json:"bundle_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Slot          uint64    `json:"slot,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// Publish serializes o and publishes it on the configured subject. A
// publish error is logged and swallowed: the event bus is observability,
// not a delivery guarantee the pipeline depends on.
func (p *Publisher) Publish(o dispatcher.Outcome) {
	evt := outcomeEvent{
		OpportunityID: o.OpportunityID,
		Kind:          string(o.Kind),
		BundleID:      o.Submission.BundleID,
		Status:        string(o.Submission.Status),
		Slot:          o.Submission.Slot,
		Reason:        o.Submission.Reason,
		PublishedAt:   time.Now(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to marshal outcome event")
		return
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		p.log.Warn().Err(err).Msg("failed to publish outcome event")
	}
}

// Close closes the NATS connection without draining it.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
