// Package metrics is the pipeline's atomic counter and rolling-latency
// state hub (spec §4.K): a typed handle passed by construction to every
// component, Prometheus-registered via promauto, with bounded-cardinality
// label normalization on anomaly reasons.
package metrics

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded anomaly-reason labels, normalized so per-component free-form
// error text never grows the metric's label cardinality unboundedly.
const (
	ReasonExpiredBeforeStart = "expired_before_start"
	ReasonBackpressureDrop   = "backpressure_drop"
	ReasonBreakerOpen        = "breaker_open"
	ReasonUnprofitable       = "unprofitable"
	ReasonProtocolRefused    = "protocol_refused"
	ReasonTimeout            = "timeout"
	ReasonMalformed          = "malformed"
	ReasonOther              = "other"
)

// NormalizeDropReason maps arbitrary free-form reasons to the bounded set
// above, following the teacher's label-normalization idiom.
func NormalizeDropReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "expired"):
		return ReasonExpiredBeforeStart
	case strings.Contains(lower, "backpressure") || strings.Contains(lower, "dropped"):
		return ReasonBackpressureDrop
	case strings.Contains(lower, "breaker"):
		return ReasonBreakerOpen
	case strings.Contains(lower, "unprofitable") || strings.Contains(lower, "profit"):
		return ReasonUnprofitable
	case strings.Contains(lower, "refused") || strings.Contains(lower, "invalid") || strings.Contains(lower, "bad"):
		return ReasonProtocolRefused
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ReasonTimeout
	case strings.Contains(lower, "malformed") || strings.Contains(lower, "parse"):
		return ReasonMalformed
	default:
		return ReasonOther
	}
}

// counters holds the named atomic counters of spec §4.K.
type counters struct {
	ingress             atomic.Uint64
	classified          atomic.Uint64
	deduped             atomic.Uint64
	dispatched          atomic.Uint64
	advisorSuccess      atomic.Uint64
	advisorFallback     atomic.Uint64
	submitted           atomic.Uint64
	confirmed           atomic.Uint64
	rejected            atomic.Uint64
	dropped             atomic.Uint64
	timedOut            atomic.Uint64
	droppedIngress      atomic.Uint64
	expiredBeforeStart  atomic.Uint64
	skipped             atomic.Uint64
	unprofitable        atomic.Uint64
	backpressureDropped atomic.Uint64
}

// Hub is the typed metrics handle injected into every pipeline component
// (spec §9 "global singleton metrics" redesign note: constructed once,
// passed by reference, no process-wide mutable state).
type Hub struct {
	c counters

	promCounters *prometheus.CounterVec
	latency      *latencyHub
}

var (
	eventsTotal     *prometheus.CounterVec
	eventsTotalOnce sync.Once
)

// New builds a Hub. Its Prometheus series are registered via promauto on
// the first call and shared by every Hub built afterwards; the atomic
// counters read by Read are per Hub.
func New() *Hub {
	eventsTotalOnce.Do(func() {
		eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mevpipe_events_total",
			Help: "Pipeline stage event counters.",
		}, []string{"stage"})
	})
	h := &Hub{
		promCounters: eventsTotal,
		latency:      newLatencyHub(),
	}
	return h
}

func (h *Hub) bump(counter *atomic.Uint64, stage string) {
	counter.Add(1)
	h.promCounters.WithLabelValues(stage).Inc()
}

func (h *Hub) IncIngress()            { h.bump(&h.c.ingress, "ingress") }
func (h *Hub) IncClassified()         { h.bump(&h.c.classified, "classified") }
func (h *Hub) IncDeduped()            { h.bump(&h.c.deduped, "deduped") }
func (h *Hub) IncDispatched()         { h.bump(&h.c.dispatched, "dispatched") }
func (h *Hub) IncAdvisorSuccess()     { h.bump(&h.c.advisorSuccess, "advisor_success") }
func (h *Hub) IncAdvisorFallback()    { h.bump(&h.c.advisorFallback, "advisor_fallback") }
func (h *Hub) IncSubmitted()          { h.bump(&h.c.submitted, "submitted") }
func (h *Hub) IncConfirmed()          { h.bump(&h.c.confirmed, "confirmed") }
func (h *Hub) IncRejected()           { h.bump(&h.c.rejected, "rejected") }
func (h *Hub) IncDropped()            { h.bump(&h.c.dropped, "dropped") }
func (h *Hub) IncTimedOut()           { h.bump(&h.c.timedOut, "timed_out") }
func (h *Hub) IncDroppedIngress()     { h.bump(&h.c.droppedIngress, "dropped_ingress") }
func (h *Hub) IncExpiredBeforeStart() { h.bump(&h.c.expiredBeforeStart, "expired_before_start") }
func (h *Hub) IncSkipped()            { h.bump(&h.c.skipped, "skipped") }
func (h *Hub) IncUnprofitable()       { h.bump(&h.c.unprofitable, "unprofitable") }
func (h *Hub) IncBackpressureDrop()   { h.bump(&h.c.backpressureDropped, "backpressure_drop") }

// ObserveLatency records a stage-latency sample into the rolling windows.
func (h *Hub) ObserveLatency(stage string, nanos int64) {
	h.latency.observe(stage, nanos)
}

// Snapshot is a coherent, per-counter consistent read of the hub (spec
// §4.K: "per-counter coherent; cross-counter atomicity not required").
type Snapshot struct {
	Ingress             uint64
	Classified           uint64
	Deduped              uint64
	Dispatched           uint64
	AdvisorSuccess       uint64
	AdvisorFallback      uint64
	Submitted            uint64
	Confirmed            uint64
	Rejected             uint64
	Dropped              uint64
	TimedOut             uint64
	DroppedIngress       uint64
	ExpiredBeforeStart   uint64
	Skipped              uint64
	Unprofitable         uint64
	BackpressureDropped  uint64
	LatencyByStage       map[string]LatencyPercentiles
}

// Read returns a consistent snapshot of all counters and latency windows.
func (h *Hub) Read() Snapshot {
	return Snapshot{
		Ingress:             h.c.ingress.Load(),
		Classified:          h.c.classified.Load(),
		Deduped:             h.c.deduped.Load(),
		Dispatched:          h.c.dispatched.Load(),
		AdvisorSuccess:      h.c.advisorSuccess.Load(),
		AdvisorFallback:     h.c.advisorFallback.Load(),
		Submitted:           h.c.submitted.Load(),
		Confirmed:           h.c.confirmed.Load(),
		Rejected:            h.c.rejected.Load(),
		Dropped:             h.c.dropped.Load(),
		TimedOut:            h.c.timedOut.Load(),
		DroppedIngress:      h.c.droppedIngress.Load(),
		ExpiredBeforeStart:  h.c.expiredBeforeStart.Load(),
		Skipped:             h.c.skipped.Load(),
		Unprofitable:        h.c.unprofitable.Load(),
		BackpressureDropped: h.c.backpressureDropped.Load(),
		LatencyByStage:      h.latency.snapshot(),
	}
}
