// Package dispatcher is the bounded-concurrency orchestrator (spec §4.I):
// it spawns one handler task per Opportunity under a semaphore, enforces
// a per-opportunity deadline, and strings together Advisor → Fallback →
// Tip Optimizer → Bundle Submitter before forwarding the outcome.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/advisor"
	"github.com/ajitpratap0/solmev/internal/bundle"
	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/metrics"
	"github.com/ajitpratap0/solmev/internal/rulefallback"
	"github.com/ajitpratap0/solmev/internal/tipoptimizer"
)

// DefaultMaxInFlight is the default dispatcher concurrency ceiling (I6).
const DefaultMaxInFlight = 100

// FeatureLookup resolves the FeatureSnapshot the advisor and fallback need
// for a given opportunity's origin transaction; supplied by the wiring
// layer since snapshot construction is classifier/indicator-dependent.
type FeatureLookup func(origin classifier.Opportunity) advisor.FeatureSnapshot

// TierSelector resolves the BidTier to use for an opportunity when no
// operator tier override is set for its kind; overrides are applied by the
// dispatcher before the selector is consulted.
type TierSelector func(origin classifier.Opportunity) tipoptimizer.Tier

// Config configures dispatcher concurrency and collaborators.
type Config struct {
	MaxInFlight int
}

func (c Config) withDefaults() Config {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	return c
}

// Dispatcher receives Opportunity values and drives each through the
// advisor/fallback/tip/submit pipeline under bounded concurrency.
type Dispatcher struct {
	cfg       Config
	sem       chan struct{}
	advisor   *advisor.Client
	optimizer *tipoptimizer.Optimizer
	submitter *bundle.Submitter
	dedup     *classifier.Dedup
	metrics   *metrics.Hub
	features  FeatureLookup
	tierOf    TierSelector
	log       zerolog.Logger

	mu            sync.Mutex
	paused        bool
	tierOverrides map[string]tipoptimizer.Tier

	highWaterMark int
}

// New builds a Dispatcher wired to its collaborators.
func New(cfg Config, adv *advisor.Client, optimizer *tipoptimizer.Optimizer, submitter *bundle.Submitter, dedup *classifier.Dedup, hub *metrics.Hub, features FeatureLookup, tierOf TierSelector, log zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxInFlight),
		advisor:   adv,
		optimizer: optimizer,
		submitter: submitter,
		dedup:     dedup,
		metrics:   hub,
		features:  features,
		tierOf:    tierOf,
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// Pause stops admitting new opportunities without disturbing in-flight
// handlers (spec §6 "dispatcher pause/resume").
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume re-enables admission of new opportunities.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

func (d *Dispatcher) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// SetTierOverride pins every opportunity of the given kind to tier,
// bypassing the injected TierSelector (spec §6 "tier override map").
// The selector is the opportunity Kind's string form (e.g. "arbitrage").
func (d *Dispatcher) SetTierOverride(selector string, tier tipoptimizer.Tier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tierOverrides == nil {
		d.tierOverrides = make(map[string]tipoptimizer.Tier)
	}
	d.tierOverrides[selector] = tier
}

// ClearTierOverride removes a previously set tier override for selector.
func (d *Dispatcher) ClearTierOverride(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tierOverrides, selector)
}

// TierOverrides returns a snapshot of the current override map.
func (d *Dispatcher) TierOverrides() map[string]tipoptimizer.Tier {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]tipoptimizer.Tier, len(d.tierOverrides))
	for k, v := range d.tierOverrides {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) resolveTier(opp classifier.Opportunity) tipoptimizer.Tier {
	d.mu.Lock()
	tier, ok := d.tierOverrides[string(opp.Kind)]
	d.mu.Unlock()
	if ok {
		return tier
	}
	return d.tierOf(opp)
}

// Outcome is the terminal classification of one dispatched opportunity,
// forwarded downstream to Metrics (spec P1: exactly one of these per
// opportunity that enters the dispatcher).
type Outcome struct {
	OpportunityID string
	Kind          OutcomeKind
	Submission    bundle.Outcome
}

// OutcomeKind enumerates the mutually exclusive terminal outcomes (P1).
type OutcomeKind string

const (
	OutcomeSkipped           OutcomeKind = "skipped"
	OutcomeUnprofitable      OutcomeKind = "unprofitable"
	OutcomeExpiredBeforeStart OutcomeKind = "expired_before_start"
	OutcomeTimedOut          OutcomeKind = "timed_out"
	OutcomeSubmitted         OutcomeKind = "submitted"
)

// Run reads opportunities from opps until the channel closes or ctx is
// canceled, spawning one handler per admitted opportunity and forwarding
// outcomes to out.
func (d *Dispatcher) Run(ctx context.Context, opps <-chan classifier.Opportunity, out chan<- Outcome) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-opps:
			if !ok {
				return
			}
			if d.isPaused() {
				continue
			}
			if !time.Now().Before(opp.Deadline) {
				d.metrics.IncExpiredBeforeStart()
				forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeExpiredBeforeStart})
				continue
			}

			select {
			case d.sem <- struct{}{}:
			case <-time.After(time.Until(opp.Deadline)):
				d.metrics.IncExpiredBeforeStart()
				forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeExpiredBeforeStart})
				continue
			case <-ctx.Done():
				return
			}

			d.trackHighWaterMark()
			wg.Add(1)
			go func(opp classifier.Opportunity) {
				defer wg.Done()
				defer func() { <-d.sem }()
				d.handle(ctx, opp, out)
			}(opp)
		}
	}
}

func (d *Dispatcher) trackHighWaterMark() {
	d.mu.Lock()
	inFlight := len(d.sem)
	if inFlight > d.highWaterMark {
		d.highWaterMark = inFlight
	}
	d.mu.Unlock()
}

// HighWaterMark returns the largest observed concurrent in-flight count,
// used by tests probing P2.
func (d *Dispatcher) HighWaterMark() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.highWaterMark
}

func (d *Dispatcher) handle(ctx context.Context, opp classifier.Opportunity, out chan<- Outcome) {
	d.metrics.IncDispatched()

	handlerCtx, cancel := context.WithDeadline(ctx, opp.Deadline)
	defer cancel()

	snap := d.features(opp)
	decision, err := d.advisor.Decide(handlerCtx, snap)
	if err != nil {
		decision = rulefallback.Decide(snap)
		d.metrics.IncAdvisorFallback()
	} else {
		d.metrics.IncAdvisorSuccess()
	}

	if handlerCtx.Err() != nil {
		d.metrics.IncTimedOut()
		d.dedup.Clear(opp.Fingerprint)
		forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeTimedOut})
		return
	}

	if decision.Action != advisor.ActionExecute {
		d.metrics.IncSkipped()
		forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeSkipped})
		return
	}

	tier := d.resolveTier(opp)
	bid := d.optimizer.Compute(opp.EstimatedGrossValue, opp.EstimatedCost, tier)
	if bid.Rejected || bid.Lamports == 0 {
		d.metrics.IncUnprofitable()
		forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeUnprofitable})
		return
	}

	d.metrics.IncSubmitted()
	submission := d.submit(handlerCtx, opp, bid)
	d.reconcile(opp, tier, bid, submission)
	forward(ctx, out, Outcome{OpportunityID: opp.ID, Kind: OutcomeSubmitted, Submission: submission})
}

func (d *Dispatcher) submit(ctx context.Context, opp classifier.Opportunity, bid tipoptimizer.Bid) bundle.Outcome {
	b, err := d.submitter.Build([][]byte{[]byte(opp.OriginSignature)}, "", bid.Lamports)
	if err != nil {
		return bundle.Outcome{BundleID: opp.ID, Status: bundle.StatusRejected, Reason: err.Error()}
	}
	engineID, err := d.submitter.Submit(ctx, b)
	if err != nil {
		if ctx.Err() != nil {
			return bundle.Outcome{BundleID: b.ID, Status: bundle.StatusTimedOut}
		}
		return bundle.Outcome{BundleID: b.ID, Status: bundle.StatusRejected, Reason: err.Error()}
	}
	return d.submitter.Poll(ctx, engineID, opp.Deadline)
}

func (d *Dispatcher) reconcile(opp classifier.Opportunity, tier tipoptimizer.Tier, bid tipoptimizer.Bid, outcome bundle.Outcome) {
	d.dedup.Clear(opp.Fingerprint)
	switch outcome.Status {
	case bundle.StatusConfirmed:
		d.metrics.IncConfirmed()
		d.optimizer.RecordOutcome(tier, bid.Lamports, opp.EstimatedGrossValue, true)
	case bundle.StatusRejected:
		d.metrics.IncRejected()
		d.optimizer.RecordOutcome(tier, bid.Lamports, opp.EstimatedGrossValue, false)
	case bundle.StatusDropped:
		d.metrics.IncDropped()
		d.optimizer.RecordOutcome(tier, bid.Lamports, opp.EstimatedGrossValue, false)
	case bundle.StatusTimedOut:
		d.metrics.IncTimedOut()
	}
}

func forward(ctx context.Context, out chan<- Outcome, o Outcome) {
	select {
	case out <- o:
	case <-ctx.Done():
	}
}
