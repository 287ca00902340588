// Package streamer is the ingestion front door of the pipeline (spec
// §4.H): it dials the upstream transaction feed over a websocket,
// supervises reconnection with backoff, and hands decoded transactions
// to a bounded, drop-oldest ingress channel. The connection lifecycle and
// ping/pong keepalive are adapted from the teacher's WebSocket Hub
// read/write pump idiom.
package streamer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/backoff"
	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/metrics"
)

// State is the supervisor's connection lifecycle state (spec §4.H).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// IngressCapacity bounds the decoded-transaction channel; once full the
	// supervisor drops the oldest buffered item rather than blocking reads.
	IngressCapacity = 10_000
)

// Config configures the upstream feed endpoint and subscription payload.
type Config struct {
	Endpoint          string
	SubscribeMessage  []byte
	DialTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// frame is the upstream wire envelope; Streamer decodes it into an
// EnrichedTransaction before handing it to the ingress channel.
type frame struct {
	Slot        uint64                       `json:"slot"`
	Transaction classifier.EnrichedTransaction `json:"transaction"`
}

// Streamer supervises a single upstream websocket connection, decoding
// frames and enforcing the slot-non-decreasing invariant (spec I4/P8).
type Streamer struct {
	cfg     Config
	policy  backoff.Policy
	metrics *metrics.Hub
	log     zerolog.Logger

	mu          sync.Mutex
	state       State
	lastSlot    uint64
	haveLastSlot bool

	ingress chan classifier.EnrichedTransaction
}

// New builds a Streamer with the spec's unbounded-retry Streamer backoff
// profile and a bounded, drop-oldest ingress channel.
func New(cfg Config, hub *metrics.Hub, log zerolog.Logger) *Streamer {
	return &Streamer{
		cfg:     cfg.withDefaults(),
		policy:  backoff.StreamerPolicy(),
		metrics: hub,
		log:     log.With().Str("component", "streamer").Logger(),
		state:   StateDisconnected,
		ingress: make(chan classifier.EnrichedTransaction, IngressCapacity),
	}
}

// Ingress is the channel decoded transactions are published on.
func (s *Streamer) Ingress() <-chan classifier.EnrichedTransaction {
	return s.ingress
}

// State returns the current supervisor lifecycle state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Streamer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the connect/stream/reconnect supervisor loop until ctx is
// canceled, at which point it transitions to Stopped and returns.
func (s *Streamer) Run(ctx context.Context) {
	counter := backoff.NewCounter(s.policy)
	for {
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		default:
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("streamer dial failed")
			s.sleepBeforeRetry(ctx, counter)
			continue
		}

		s.setState(StateSubscribed)
		if err := s.subscribe(conn); err != nil {
			s.log.Warn().Err(err).Msg("streamer subscribe failed")
			conn.Close()
			s.sleepBeforeRetry(ctx, counter)
			continue
		}

		counter.Reset()
		s.setState(StateStreaming)
		s.stream(ctx, conn)

		s.setState(StateDisconnected)
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		default:
		}
	}
}

func (s *Streamer) sleepBeforeRetry(ctx context.Context, counter *backoff.Counter) {
	delay := counter.Next()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *Streamer) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

func (s *Streamer) subscribe(conn *websocket.Conn) error {
	if len(s.cfg.SubscribeMessage) == 0 {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, s.cfg.SubscribeMessage)
}

// stream runs the read loop and a ping ticker until the connection errors
// or ctx is canceled; it returns (without closing the ingress channel) so
// Run can redial.
func (s *Streamer) stream(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleFrame(raw)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Streamer) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.metrics.IncDroppedIngress()
		return
	}

	s.mu.Lock()
	if s.haveLastSlot && f.Slot < s.lastSlot {
		s.mu.Unlock()
		s.metrics.IncDroppedIngress()
		return
	}
	s.lastSlot = f.Slot
	s.haveLastSlot = true
	s.mu.Unlock()

	s.metrics.IncIngress()
	tx := f.Transaction
	tx.Slot = f.Slot

	select {
	case s.ingress <- tx:
	default:
		// Ingress is full; drop the oldest buffered entry to admit this
		// one, matching the spec's drop-oldest backpressure policy.
		select {
		case <-s.ingress:
			s.metrics.IncDroppedIngress()
		default:
		}
		select {
		case s.ingress <- tx:
		default:
		}
	}
}
