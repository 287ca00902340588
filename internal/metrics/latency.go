package metrics

import (
	"sort"
	"sync"
	"time"
)

// windowDurations are the three rolling windows spec §4.K requires per stage.
var windowDurations = []time.Duration{time.Second, 10 * time.Second, time.Minute}
var windowNames = []string{"1s", "10s", "1m"}

type sample struct {
	at    time.Time
	nanos int64
}

// stageWindow keeps a bounded ring of recent samples per stage; percentiles
// are computed lazily on read by filtering to each window's age cutoff.
type stageWindow struct {
	mu      sync.Mutex
	samples []sample
}

const maxSamplesPerStage = 8192

func (w *stageWindow) observe(nanos int64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample{at: now, nanos: nanos})
	if len(w.samples) > maxSamplesPerStage {
		w.samples = w.samples[len(w.samples)-maxSamplesPerStage:]
	}
}

func (w *stageWindow) percentilesSince(cutoff time.Time) LatencyPercentiles {
	w.mu.Lock()
	vals := make([]int64, 0, len(w.samples))
	for _, s := range w.samples {
		if s.at.After(cutoff) {
			vals = append(vals, s.nanos)
		}
	}
	w.mu.Unlock()

	if len(vals) == 0 {
		return LatencyPercentiles{}
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return LatencyPercentiles{
		P50: percentile(vals, 0.50),
		P90: percentile(vals, 0.90),
		P99: percentile(vals, 0.99),
	}
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// LatencyPercentiles is the {p50,p90,p99}_ns triple of spec §6.
type LatencyPercentiles struct {
	P50 int64
	P90 int64
	P99 int64
}

// WindowedLatency carries percentiles for each of the three rolling windows.
type WindowedLatency struct {
	OneSecond  LatencyPercentiles
	TenSeconds LatencyPercentiles
	OneMinute  LatencyPercentiles
}

type latencyHub struct {
	mu     sync.Mutex
	stages map[string]*stageWindow
	now    func() time.Time
}

func newLatencyHub() *latencyHub {
	return &latencyHub{stages: make(map[string]*stageWindow), now: time.Now}
}

func (h *latencyHub) windowFor(stage string) *stageWindow {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.stages[stage]
	if !ok {
		w = &stageWindow{}
		h.stages[stage] = w
	}
	return w
}

func (h *latencyHub) observe(stage string, nanos int64) {
	h.windowFor(stage).observe(nanos, h.now())
}

func (h *latencyHub) snapshot() map[string]LatencyPercentiles {
	h.mu.Lock()
	stages := make(map[string]*stageWindow, len(h.stages))
	for k, v := range h.stages {
		stages[k] = v
	}
	h.mu.Unlock()

	now := h.now()
	out := make(map[string]LatencyPercentiles, len(stages))
	for stage, w := range stages {
		// Report the 1-second window by default; callers needing the
		// wider windows can call WindowedSnapshot instead.
		out[stage] = w.percentilesSince(now.Add(-windowDurations[0]))
	}
	return out
}

// WindowedSnapshot returns the full {1s,10s,1m} breakdown per stage.
func (h *latencyHub) WindowedSnapshot() map[string]WindowedLatency {
	h.mu.Lock()
	stages := make(map[string]*stageWindow, len(h.stages))
	for k, v := range h.stages {
		stages[k] = v
	}
	h.mu.Unlock()

	now := h.now()
	out := make(map[string]WindowedLatency, len(stages))
	for stage, w := range stages {
		out[stage] = WindowedLatency{
			OneSecond:  w.percentilesSince(now.Add(-windowDurations[0])),
			TenSeconds: w.percentilesSince(now.Add(-windowDurations[1])),
			OneMinute:  w.percentilesSince(now.Add(-windowDurations[2])),
		}
	}
	return out
}

// WindowedSnapshot exposes the Hub's full per-stage {1s,10s,1m} breakdown.
func (h *Hub) WindowedSnapshot() map[string]WindowedLatency {
	return h.latency.WindowedSnapshot()
}

var _ = windowNames // referenced for documentation purposes only
