package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// HealthSettings tunes one of the ambient gobreaker instances.
type HealthSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

func blockEngineDefaults() HealthSettings {
	return HealthSettings{MinRequests: 5, FailureRatio: 0.6, OpenTimeout: 30 * time.Second, HalfOpenMaxReqs: 3, CountInterval: 10 * time.Second}
}

func dependencyDefaults() HealthSettings {
	return HealthSettings{MinRequests: 10, FailureRatio: 0.6, OpenTimeout: 15 * time.Second, HalfOpenMaxReqs: 5, CountInterval: 10 * time.Second}
}

var (
	healthMetrics     *healthBreakerMetrics
	healthMetricsOnce sync.Once
)

type healthBreakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

func initHealthMetrics() *healthBreakerMetrics {
	healthMetricsOnce.Do(func() {
		healthMetrics = &healthBreakerMetrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mevpipe_health_breaker_state",
				Help: "Ambient health breaker state per dependency (0=closed, 1=open, 2=half_open)",
			}, []string{"dependency"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mevpipe_health_breaker_requests_total",
				Help: "Requests observed by the ambient health breaker per dependency and outcome",
			}, []string{"dependency", "result"}),
		}
	})
	return healthMetrics
}

// HealthManager wraps gobreaker circuit breakers around downstream
// dependencies that are not part of the spec-exact advisor/submitter
// breaker (component B): the block-engine HTTP transport, Redis, and the
// secret store. It exists to stop hammering a visibly unhealthy dependency
// rather than to implement the precise three-state contract tested in P4.
type HealthManager struct {
	blockEngine *gobreaker.CircuitBreaker
	dependency  *gobreaker.CircuitBreaker
	metrics     *healthBreakerMetrics
}

// NewHealthManager builds the block-engine and generic-dependency breakers.
func NewHealthManager() *HealthManager {
	metrics := initHealthMetrics()
	m := &HealthManager{metrics: metrics}

	be := blockEngineDefaults()
	m.blockEngine = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "block_engine",
		MaxRequests: be.HalfOpenMaxReqs,
		Interval:    be.CountInterval,
		Timeout:     be.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= be.MinRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= be.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.updateMetrics("block_engine", to)
		},
	})

	dep := dependencyDefaults()
	m.dependency = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dependency",
		MaxRequests: dep.HalfOpenMaxReqs,
		Interval:    dep.CountInterval,
		Timeout:     dep.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= dep.MinRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= dep.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.updateMetrics("dependency", to)
		},
	})

	m.updateMetrics("block_engine", m.blockEngine.State())
	m.updateMetrics("dependency", m.dependency.State())
	return m
}

func (m *HealthManager) updateMetrics(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.state.WithLabelValues(name).Set(v)
}

// BlockEngine executes fn through the block-engine health breaker.
func (m *HealthManager) BlockEngine(fn func() (interface{}, error)) (interface{}, error) {
	result, err := m.blockEngine.Execute(fn)
	m.record("block_engine", err)
	return result, err
}

// Dependency executes fn through the generic dependency health breaker
// (Redis, secret store).
func (m *HealthManager) Dependency(fn func() (interface{}, error)) (interface{}, error) {
	result, err := m.dependency.Execute(fn)
	m.record("dependency", err)
	return result, err
}

func (m *HealthManager) record(name string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.metrics.requests.WithLabelValues(name, result).Inc()
}
