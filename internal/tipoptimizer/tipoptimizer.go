// Package tipoptimizer computes the dynamic priority bid for a bundle (spec
// §4.E) from estimated profit, bid tier, and a rolling EWMA of recent
// acceptance ratios.
package tipoptimizer

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Tier is the priority tier attached to an Opportunity; it selects the base
// fraction of profit offered as a tip.
type Tier string

const (
	TierLow      Tier = "low"
	TierNormal   Tier = "normal"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
	TierMEV      Tier = "mev"
)

var tierFraction = map[Tier]decimal.Decimal{
	TierLow:      decimal.NewFromFloat(0.01),
	TierNormal:   decimal.NewFromFloat(0.03),
	TierHigh:     decimal.NewFromFloat(0.05),
	TierCritical: decimal.NewFromFloat(0.08),
	TierMEV:      decimal.NewFromFloat(0.12),
}

const (
	targetRatio      = 0.6
	maxSpendFraction = 0.25
	defaultAlpha     = 0.2
)

// State is the optional persistence/backing-store interface for per-tier
// EWMA acceptance ratios, satisfied by the in-memory store and the
// Redis-backed store (redis_state.go).
type State interface {
	Get(tier Tier) (ewma float64, ok bool)
	Update(tier Tier, observed float64, alpha float64)
}

// MemoryState is the default in-process EWMA store: single-writer updates
// (owned by the outcome reconciler per spec §4.E), lock-free-ish reads via
// RWMutex.
type MemoryState struct {
	mu    sync.RWMutex
	ratio map[Tier]float64
}

// NewMemoryState creates an empty in-memory EWMA store.
func NewMemoryState() *MemoryState {
	return &MemoryState{ratio: make(map[Tier]float64)}
}

// Get returns the current EWMA for tier, or !ok if never observed.
func (m *MemoryState) Get(tier Tier) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ratio[tier]
	return v, ok
}

// Update folds a new observed ratio into the tier's EWMA.
func (m *MemoryState) Update(tier Tier, observed float64, alpha float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.ratio[tier]
	if !ok {
		m.ratio[tier] = observed
		return
	}
	m.ratio[tier] = alpha*observed + (1-alpha)*prev
}

// Snapshot returns a copy of all tracked per-tier EWMAs.
func (m *MemoryState) Snapshot() map[Tier]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Tier]float64, len(m.ratio))
	for k, v := range m.ratio {
		out[k] = v
	}
	return out
}

// Optimizer computes bids per spec §4.E.
type Optimizer struct {
	state           State
	alpha           float64
	engineMinimum   decimal.Decimal
}

// Config tunes the optimizer.
type Config struct {
	EngineMinimumLamports uint64
	Alpha                 float64
}

// New builds an Optimizer backed by the given State (MemoryState or a
// Redis-backed implementation).
func New(cfg Config, state State) *Optimizer {
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	return &Optimizer{
		state:         state,
		alpha:         alpha,
		engineMinimum: decimal.NewFromInt(int64(cfg.EngineMinimumLamports)),
	}
}

// Bid is the computed result: Lamports is zero and Rejected is true when
// profit is non-positive, or when the capped bid would fall below the
// engine minimum, per spec §4.E.
type Bid struct {
	Lamports uint64
	Rejected bool
}

// Compute implements the bid formula of spec §4.E.
func (o *Optimizer) Compute(grossLamports, costLamports uint64, tier Tier) Bid {
	gross := decimal.NewFromInt(int64(grossLamports))
	cost := decimal.NewFromInt(int64(costLamports))
	profit := gross.Sub(cost)
	if profit.Sign() <= 0 {
		return Bid{Rejected: true}
	}

	fraction, ok := tierFraction[tier]
	if !ok {
		fraction = tierFraction[TierNormal]
	}

	base := profit.Mul(fraction)
	if base.LessThan(o.engineMinimum) {
		base = o.engineMinimum
	}

	ewma := 0.0
	if o.state != nil {
		if v, ok := o.state.Get(tier); ok {
			ewma = v
		}
	}
	gapAbove := targetRatio - ewma
	if gapAbove < 0 {
		gapAbove = 0
	}
	adjusted := base.Mul(decimal.NewFromFloat(1 + gapAbove))

	spendCap := profit.Mul(decimal.NewFromFloat(maxSpendFraction))
	if adjusted.GreaterThan(spendCap) {
		adjusted = spendCap
	}
	if adjusted.GreaterThan(profit) {
		adjusted = profit
	}
	if adjusted.Sign() < 0 {
		adjusted = decimal.Zero
	}
	if adjusted.LessThan(o.engineMinimum) {
		return Bid{Rejected: true}
	}

	return Bid{Lamports: uint64(adjusted.IntPart())}
}

// RecordOutcome folds an accepted/rejected bundle outcome into the tier's
// EWMA, called by the outcome reconciler (single writer).
func (o *Optimizer) RecordOutcome(tier Tier, bidLamports, grossLamports uint64, accepted bool) {
	if o.state == nil || grossLamports == 0 {
		return
	}
	observed := 0.0
	if accepted {
		observed = float64(bidLamports) / float64(grossLamports)
	}
	o.state.Update(tier, observed, o.alpha)
}
