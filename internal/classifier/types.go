// Package classifier maps enriched transactions to opportunity candidates
// (spec §4.F), computes their dedup fingerprint (§4.G), and owns the
// short-TTL in-flight dedup set.
package classifier

import "time"

// Instruction is one parsed instruction within an EnrichedTransaction.
type Instruction struct {
	ProgramID string
	Kind      string // "swap", "liquidation", "pool_touch", other program-defined tag
	InputMint string
	OutputMint string
	Payload   []byte
}

// AccountDelta is a single account balance change observed in a transaction.
type AccountDelta struct {
	Account string
	Delta   int64
}

// TokenTransfer is a single SPL token movement observed in a transaction.
type TokenTransfer struct {
	Mint     string
	Amount   uint64
	FromAcct string
	ToAcct   string
}

// TxKind tags the coarse transaction category carried on the wire.
type TxKind string

const (
	TxKindSwap      TxKind = "swap"
	TxKindTransfer  TxKind = "transfer"
	TxKindLiquidity TxKind = "liquidity"
	TxKindOther     TxKind = "other"
)

// EnrichedTransaction is the ingested, immutable record described in spec §3.
type EnrichedTransaction struct {
	Signature        string
	Slot             uint64
	TimestampNanos   int64
	FeeLamports      uint64
	Success          bool
	Instructions     []Instruction
	AccountDeltas    []AccountDelta
	TokenTransfers   []TokenTransfer
	Kind             TxKind
	EstimatedValue   *uint64
	Pool             string // affected pool address, when known; used by sandwich/front-run detection
	Signer           string
}

// Kind is the tagged opportunity variant (spec §3 OpportunityKind).
type Kind string

const (
	KindArbitrage   Kind = "arbitrage"
	KindSandwich    Kind = "sandwich"
	KindFrontRun    Kind = "front_run"
	KindBackRun     Kind = "back_run"
	KindLiquidation Kind = "liquidation"
	KindOther       Kind = "other"
)

// kindPriority implements the tie-break order of spec §4.F: Liquidation >
// Arbitrage > Sandwich > FrontRun > BackRun > Other. Lower is higher priority.
var kindPriority = map[Kind]int{
	KindLiquidation: 0,
	KindArbitrage:   1,
	KindSandwich:    2,
	KindFrontRun:    3,
	KindBackRun:     4,
	KindOther:       5,
}

// Opportunity is a classifier-emitted extractable-value candidate (spec §3).
type Opportunity struct {
	ID                 string
	OriginSignature    string
	Kind               Kind
	EstimatedGrossValue uint64
	EstimatedCost      uint64
	Deadline           time.Time
	Fingerprint        uint64
	ConstructedAt      time.Time
}
