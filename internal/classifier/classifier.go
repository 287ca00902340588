package classifier

import (
	"time"

	"github.com/google/uuid"
)

const (
	sandwichLookaheadSize = 256
	frontRunWindow        = 400 * time.Millisecond
)

// Config tunes the classifier's thresholds.
type Config struct {
	MinGrossLamports uint64 // default 0.01 SOL equivalent
	OpportunityTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinGrossLamports == 0 {
		c.MinGrossLamports = 10_000_000 // 0.01 SOL at 1e9 lamports/SOL
	}
	if c.OpportunityTTL == 0 {
		c.OpportunityTTL = 10 * time.Second
	}
	return c
}

type poolTouch struct {
	signature string
	signer    string
	slot      uint64
	seenAt    time.Time
}

// Classifier maps EnrichedTransactions to Opportunities and owns the
// bounded lookahead state needed for sandwich/front-run/back-run detection.
// It is a single-writer component: one goroutine feeds Classify in slot
// order (spec §5 "within one origin signature, ordering preserved").
type Classifier struct {
	cfg   Config
	dedup *Dedup

	// poolTouches is the bounded FIFO of the most recently seen pool-state
	// touches, keyed by pool, used for sandwich detection.
	poolTouches    []poolTouch
	poolTouchIndex map[string][]int

	// recentSwapsByPool supports front-run/back-run detection: the last
	// swap seen against a pool within frontRunWindow.
	recentSwapsByPool map[string]poolTouch
}

// New creates a Classifier backed by the given Dedup set.
func New(cfg Config, dedup *Dedup) *Classifier {
	return &Classifier{
		cfg:               cfg.withDefaults(),
		dedup:             dedup,
		poolTouchIndex:    make(map[string][]int),
		recentSwapsByPool: make(map[string]poolTouch),
	}
}

// Classify inspects tx and returns an Opportunity if one qualifies, or
// ok=false if the transaction produced nothing emittable (below minimum
// gross, no recognizable pattern, or deduplicated).
func (c *Classifier) Classify(tx EnrichedTransaction, now time.Time) (Opportunity, bool) {
	kind, ok := c.detectKind(tx)
	if !ok {
		return Opportunity{}, false
	}

	gross, cost, ok := estimateValue(tx)
	if !ok || gross < c.cfg.MinGrossLamports {
		return Opportunity{}, false
	}

	programIDs := make([]string, 0, len(tx.Instructions))
	var inputMint, outputMint string
	for _, ins := range tx.Instructions {
		programIDs = append(programIDs, ins.ProgramID)
		if inputMint == "" {
			inputMint = ins.InputMint
		}
		outputMint = ins.OutputMint
	}

	fp := Fingerprint(kind, programIDs, inputMint, outputMint, gross)
	id := uuid.NewString()
	if c.dedup.CheckAndInsert(fp, id, now) {
		return Opportunity{}, false
	}

	return Opportunity{
		ID:                  id,
		OriginSignature:     tx.Signature,
		Kind:                kind,
		EstimatedGrossValue: gross,
		EstimatedCost:       cost,
		Deadline:            now.Add(c.cfg.OpportunityTTL),
		Fingerprint:         fp,
		ConstructedAt:       now,
	}, true
}

// detectKind implements the pattern checks of spec §4.F in tie-break order.
func (c *Classifier) detectKind(tx EnrichedTransaction) (Kind, bool) {
	candidates := make(map[Kind]bool)

	for _, ins := range tx.Instructions {
		if ins.Kind == "liquidation" {
			candidates[KindLiquidation] = true
		}
	}

	if hasRoundTripSwap(tx.Instructions) {
		candidates[KindArbitrage] = true
	}

	if c.isSandwiched(tx) {
		candidates[KindSandwich] = true
	}

	if fr, br := c.isFrontOrBackRun(tx); fr {
		candidates[KindFrontRun] = true
	} else if br {
		candidates[KindBackRun] = true
	}

	c.recordPoolState(tx)

	if len(candidates) == 0 {
		if tx.Kind == TxKindSwap || tx.Kind == TxKindLiquidity {
			return KindOther, true
		}
		return "", false
	}

	best := KindOther
	bestPriority := kindPriority[KindOther]
	for k := range candidates {
		if p := kindPriority[k]; p < bestPriority {
			best = k
			bestPriority = p
		}
	}
	return best, true
}

// hasRoundTripSwap reports a swap-program instruction whose input mint
// equals a later instruction's output mint on the reverse leg (A->B->A).
func hasRoundTripSwap(instructions []Instruction) bool {
	for i, a := range instructions {
		if a.Kind != "swap" {
			continue
		}
		for _, b := range instructions[i+1:] {
			if b.Kind != "swap" {
				continue
			}
			if a.InputMint == b.OutputMint && a.OutputMint == b.InputMint {
				return true
			}
		}
	}
	return false
}

// isSandwiched checks the bounded pool-touch lookahead buffer for pending
// pool-state touches bracketing tx on both sides at adjacent slots (spec
// §4.F: "bracketed by two pending pool-state-touching transactions at
// adjacent slots").
func (c *Classifier) isSandwiched(tx EnrichedTransaction) bool {
	if tx.Pool == "" || tx.Kind != TxKindSwap {
		return false
	}
	var before, after bool
	idxs := c.poolTouchIndex[tx.Pool]
	for _, idx := range idxs {
		touch := c.poolTouches[idx]
		if touch.signature == tx.Signature {
			continue
		}
		switch int64(touch.slot) - int64(tx.Slot) {
		case -1:
			before = true
		case 1:
			after = true
		}
		if before && after {
			return true
		}
	}
	return false
}

// recordPoolState appends tx's pool touch to the bounded FIFO, evicting the
// oldest entry once full (256 most-recent signatures, spec §4.F).
func (c *Classifier) recordPoolState(tx EnrichedTransaction) {
	if tx.Pool == "" {
		return
	}
	c.poolTouches = append(c.poolTouches, poolTouch{signature: tx.Signature, signer: tx.Signer, slot: tx.Slot, seenAt: time.Unix(0, tx.TimestampNanos)})
	idx := len(c.poolTouches) - 1
	c.poolTouchIndex[tx.Pool] = append(c.poolTouchIndex[tx.Pool], idx)

	if len(c.poolTouches) > sandwichLookaheadSize {
		evicted := len(c.poolTouches) - sandwichLookaheadSize
		c.poolTouches = c.poolTouches[evicted:]
		for pool, idxs := range c.poolTouchIndex {
			shifted := idxs[:0]
			for _, i := range idxs {
				if i >= evicted {
					shifted = append(shifted, i-evicted)
				}
			}
			c.poolTouchIndex[pool] = shifted
		}
	}

	if tx.Kind == TxKindSwap {
		c.recentSwapsByPool[tx.Pool] = poolTouch{signature: tx.Signature, signer: tx.Signer, slot: tx.Slot, seenAt: time.Unix(0, tx.TimestampNanos)}
	}
}

// isFrontOrBackRun detects a single swap whose signer isn't the origin of a
// prior swap against the same pool within frontRunWindow, classifying by
// slot ordering. Spec §4.F requires "signer is not the origin of the
// triggering signal": a repeat swap by the same signer against its own
// prior touch is not front-running or back-running itself.
func (c *Classifier) isFrontOrBackRun(tx EnrichedTransaction) (frontRun, backRun bool) {
	if tx.Kind != TxKindSwap || tx.Pool == "" {
		return false, false
	}
	prior, ok := c.recentSwapsByPool[tx.Pool]
	if !ok || prior.signature == tx.Signature {
		return false, false
	}
	if tx.Signer != "" && tx.Signer == prior.signer {
		return false, false
	}
	elapsed := time.Unix(0, tx.TimestampNanos).Sub(prior.seenAt)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	if elapsed > frontRunWindow {
		return false, false
	}
	if tx.Slot < prior.slot {
		return true, false
	}
	return false, true
}

// estimateValue computes the value estimate of spec §4.F: the minimum
// token-transfer notional along the profitable leg minus aggregate fees.
// ok=false when the result would be negative (not emitted).
func estimateValue(tx EnrichedTransaction) (gross uint64, cost uint64, ok bool) {
	if tx.EstimatedValue != nil {
		gross = *tx.EstimatedValue
	} else {
		var min uint64
		for i, t := range tx.TokenTransfers {
			if i == 0 || t.Amount < min {
				min = t.Amount
			}
		}
		gross = min
	}
	cost = tx.FeeLamports
	if gross <= cost {
		return 0, 0, false
	}
	return gross, cost, true
}
