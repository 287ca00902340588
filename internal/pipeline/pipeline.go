// Package pipeline wires the streamer, classifier, and dispatcher into the
// three typed channels described in spec §4.L: ingress (owned by the
// streamer), opps (bounded 1,024, blocking-send respecting the
// opportunity's own deadline), and outcomes (bounded 4,096, drop-oldest).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solmev/internal/classifier"
	"github.com/ajitpratap0/solmev/internal/dispatcher"
	"github.com/ajitpratap0/solmev/internal/metrics"
	"github.com/ajitpratap0/solmev/internal/streamer"
)

// OppsCapacity and OutcomesCapacity size the two internal channels (spec §4.L).
const (
	OppsCapacity     = 1024
	OutcomesCapacity = 4096
)

// Source produces EnrichedTransaction frames; satisfied by *streamer.Streamer.
type Source interface {
	Ingress() <-chan classifier.EnrichedTransaction
	Run(ctx context.Context)
}

// Pipeline strings the streamer's ingress into the classifier and the
// classifier's opportunities into the dispatcher, then drains dispatcher
// outcomes.
type Pipeline struct {
	source     Source
	classifier *classifier.Classifier
	dispatcher *dispatcher.Dispatcher
	hub        *metrics.Hub
	log        zerolog.Logger

	onOutcome func(dispatcher.Outcome)
}

// New builds a Pipeline. onOutcome, if non-nil, is invoked for every
// terminal dispatcher outcome (e.g. to forward it to an event bus).
func New(source Source, cls *classifier.Classifier, disp *dispatcher.Dispatcher, hub *metrics.Hub, log zerolog.Logger, onOutcome func(dispatcher.Outcome)) *Pipeline {
	return &Pipeline{
		source:     source,
		classifier: cls,
		dispatcher: disp,
		hub:        hub,
		log:        log.With().Str("component", "pipeline").Logger(),
		onOutcome:  onOutcome,
	}
}

// Run drives the pipeline until ctx is canceled. It starts the source,
// classifies ingress frames into the opps channel, runs the dispatcher
// over opps, and drains outcomes until every stage has shut down.
func (p *Pipeline) Run(ctx context.Context) {
	opps := make(chan classifier.Opportunity, OppsCapacity)
	rawOutcomes := make(chan dispatcher.Outcome, OutcomesCapacity)
	outcomes := make(chan dispatcher.Outcome, OutcomesCapacity)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.source.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(opps)
		p.classify(ctx, opps)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(rawOutcomes)
		p.dispatcher.Run(ctx, opps, rawOutcomes)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(outcomes)
		p.relayOutcomesDropOldest(rawOutcomes, outcomes)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.drainOutcomes(outcomes)
	}()

	wg.Wait()
}

// relayOutcomesDropOldest forwards rawOutcomes into outcomes, dropping the
// oldest buffered outcome on overflow rather than blocking the dispatcher
// (spec §4.L "outcomes ... drop-oldest counts as anomaly").
func (p *Pipeline) relayOutcomesDropOldest(rawOutcomes <-chan dispatcher.Outcome, outcomes chan<- dispatcher.Outcome) {
	for o := range rawOutcomes {
		select {
		case outcomes <- o:
		default:
			select {
			case <-outcomes:
				p.log.Warn().Msg("outcomes channel full: dropped oldest outcome")
			default:
			}
			select {
			case outcomes <- o:
			default:
			}
		}
	}
}

func (p *Pipeline) classify(ctx context.Context, opps chan<- classifier.Opportunity) {
	ingress := p.source.Ingress()
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-ingress:
			if !ok {
				return
			}
			opp, matched := p.classifier.Classify(tx, time.Now())
			if !matched {
				continue
			}
			p.hub.IncClassified()
			p.sendOpportunity(ctx, opps, opp)
		}
	}
}

// sendOpportunity blocks on opps but never past the opportunity's own
// deadline (spec §5 "opp channel uses blocking send but never past
// opportunity deadline").
func (p *Pipeline) sendOpportunity(ctx context.Context, opps chan<- classifier.Opportunity, opp classifier.Opportunity) {
	select {
	case opps <- opp:
	case <-time.After(time.Until(opp.Deadline)):
		p.hub.IncBackpressureDrop()
		p.log.Warn().Str("opportunity_id", opp.ID).Msg("opportunity dropped: opps channel backpressure past deadline")
	case <-ctx.Done():
	}
}

func (p *Pipeline) drainOutcomes(outcomes <-chan dispatcher.Outcome) {
	for o := range outcomes {
		if p.onOutcome != nil {
			p.onOutcome(o)
		}
	}
}
