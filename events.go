package coinledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates the NormalizedEvent union.
type EventKind string

const (
	KindDeposit        EventKind = "deposit"
	KindWithdrawal     EventKind = "withdrawal"
	KindTradeLeg       EventKind = "trade-leg"
	KindFee            EventKind = "fee"
	KindIncome         EventKind = "income"
	KindSpend          EventKind = "spend"
	KindInternalMove   EventKind = "internal-move"
	KindMarginOpen     EventKind = "margin-open"
	KindMarginRollover EventKind = "margin-rollover"
	KindMarginSettle   EventKind = "margin-settle"
	KindMarginClose    EventKind = "margin-close"
)

// SourcePriority is the fixed tie-breaker between ledger universes: the
// exchange ledger orders before on-chain confirmations, which order before
// tags-derived synthetic events.
type SourcePriority int

const (
	PriorityExchange SourcePriority = iota
	PriorityOnChain
	PrioritySynthetic
)

// TradeSide tells which way a trade leg moves the base asset.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// NormalizedEvent is one economic event in the merged stream, the common
// language both ledger universes are translated into. Amounts are always
// positive magnitudes; the Kind says which way value moves.
type NormalizedEvent struct {
	Kind     EventKind
	Time     time.Time
	Ref      RowRef         // source-row provenance
	Seq      int            // source row index, third key of the total order
	Priority SourcePriority // second key of the total order

	Account string // owning account (exchange id or wallet id)
	Asset   Asset
	Amount  Amount

	// Trade legs carry the counterparty side of the same exchange trade.
	Side     TradeSide
	Quote    Amount          // counterparty asset+amount
	Price    decimal.Decimal // quote per base, from the trades file
	RefGroup string          // joins legs of one exchange trade

	Fee Amount // fee in its own asset, zero value when absent

	// On-chain movement details.
	OutPoints []OutPoint // UTXOs consumed by this transaction
	Outputs   []UTXO     // UTXOs created for the wallet

	// Transfers between controlled accounts.
	FromAccount string
	ToAccount   string

	// Income events.
	TagID       string
	FMVOverride Rate // usd_value_override from the tags file, zero if unset

	// Margin events.
	Pair       string
	MarginSide MarginSide

	// Exchange ledger rows declare a running balance; the simulator
	// reconciles it against the lot queues.
	DeclaredBalance decimal.Decimal
	HasDeclared     bool
}

// UTXO is one output created for a controlled wallet. One transaction may
// fan out to several controlled wallets, so each output names its owner.
type UTXO struct {
	OutPoint OutPoint
	Amount   Amount
	Wallet   string
}

// Category classifies a TaxableEvent for reporting.
type Category string

const (
	CategoryCapital        Category = "capital"
	CategoryMargin         Category = "margin"
	CategoryMarginInterest Category = "margin-interest"
	CategoryOrdinaryIncome Category = "ordinary-income"
	CategoryWash           Category = "wash" // reserved
)

// TaxableEvent is one realized disposition (or income/interest record),
// append-only once emitted. For capital events the atom amounts sum to
// Amount exactly.
type TaxableEvent struct {
	Time     time.Time
	Account  string
	Asset    Asset
	Amount   Amount
	Proceeds Dollars
	Atoms    []TradeAtom
	Category Category
	Ref      RowRef
}

// Basis sums the cost basis over the event's atoms.
func (e TaxableEvent) Basis() Dollars {
	var total Dollars
	for _, atom := range e.Atoms {
		total = total.Add(atom.Basis())
	}
	return total
}

// Gain is proceeds minus basis. Fees never appear here: a fee is its own
// zero-proceeds disposition, so its loss is a separate event.
func (e TaxableEvent) Gain() Dollars {
	return e.Proceeds.Sub(e.Basis())
}
