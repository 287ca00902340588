package rulefallback

import (
	"math"
	"sync"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

const (
	rsiPeriod     = 14
	shortEMAPeriod = 9
	longEMAPeriod  = 21
	historyCap     = 64
)

// History is a bounded per-mint rolling price buffer that feeds RSI/EMA
// computation for the FeatureSnapshot the rule fallback (and the advisor
// prompt) consume. One History per mint; its mutex serializes access.
type History struct {
	mu     sync.Mutex
	prices []float64
}

// NewHistory creates an empty rolling history.
func NewHistory() *History {
	return &History{prices: make([]float64, 0, historyCap)}
}

// Push records a new observed price, evicting the oldest sample once the
// buffer exceeds its cap.
func (h *History) Push(price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prices = append(h.prices, price)
	if len(h.prices) > historyCap {
		h.prices = h.prices[len(h.prices)-historyCap:]
	}
}

// Snapshot computes RSI(14) and EMA(9)/EMA(21) over the current buffer. It
// returns nils for any indicator that doesn't yet have enough samples,
// matching the feature snapshot's optional RSI/moving-average fields.
func (h *History) Snapshot() (rsi, shortMA, longMA *float64) {
	h.mu.Lock()
	prices := append([]float64(nil), h.prices...)
	h.mu.Unlock()

	if len(prices) > rsiPeriod {
		if v, ok := computeRSI(prices, rsiPeriod); ok {
			rsi = &v
		}
	}
	if len(prices) > shortEMAPeriod {
		if v, ok := computeEMA(prices, shortEMAPeriod); ok {
			shortMA = &v
		}
	}
	if len(prices) > longEMAPeriod {
		if v, ok := computeEMA(prices, longEMAPeriod); ok {
			longMA = &v
		}
	}
	return rsi, shortMA, longMA
}

func computeRSI(prices []float64, period int) (float64, bool) {
	in := make(chan float64, len(prices))
	for _, p := range prices {
		in <- p
	}
	close(in)

	out := momentum.NewRsiWithPeriod[float64](period).Compute(in)
	var last float64
	found := false
	for v := range out {
		if !math.IsNaN(v) {
			last = v
			found = true
		}
	}
	return last, found
}

func computeEMA(prices []float64, period int) (float64, bool) {
	in := make(chan float64, len(prices))
	for _, p := range prices {
		in <- p
	}
	close(in)

	out := trend.NewEmaWithPeriod[float64](period).Compute(in)
	var last float64
	found := false
	for v := range out {
		if !math.IsNaN(v) {
			last = v
			found = true
		}
	}
	return last, found
}
