package coinledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarginSide is the direction of a margin position.
type MarginSide string

const (
	Long  MarginSide = "long"
	Short MarginSide = "short"
)

// MarginStatus tracks a position through its life.
type MarginStatus string

const (
	MarginOpen            MarginStatus = "open"
	MarginPartiallyClosed MarginStatus = "partially-closed"
	MarginClosed          MarginStatus = "closed"
	MarginSettled         MarginStatus = "settled"
)

// RolloverAccrual is one rollover fee charge against a position. Accruals
// keep their own timestamps because the interest expense belongs to the
// year it accrued in, not the year the position terminates.
type RolloverAccrual struct {
	Time   time.Time
	Amount Amount // in the quote currency
}

// MarginPosition is an open leveraged position. The opened leg creates no
// held lot: the asset is loaned, so closing produces a single synthetic
// atom instead of lot-level basis history.
type MarginPosition struct {
	ID         string
	OpenedAt   time.Time
	Side       MarginSide
	Pair       string
	Volume     Amount // base units still open
	OpenPrice  decimal.Decimal
	QuoteAsset Asset
	Rollovers  []RolloverAccrual
	Status     MarginStatus
}

// IsOpen reports whether any volume remains.
func (p *MarginPosition) IsOpen() bool {
	return p.Status == MarginOpen || p.Status == MarginPartiallyClosed
}

// RolloverTotal sums the accrued rollover fees.
func (p *MarginPosition) RolloverTotal() Amount {
	total := A(0, p.QuoteAsset)
	for _, acc := range p.Rollovers {
		total = total.Add(acc.Amount)
	}
	return total
}

// oldestOpen returns the earliest-opened position matching the pair, or
// any pair when pair is empty. Kraken documents that partial closes fill
// oldest positions first.
func oldestOpen(positions []*MarginPosition, pair string) *MarginPosition {
	var oldest *MarginPosition
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		if pair != "" && p.Pair != pair {
			continue
		}
		if oldest == nil || p.OpenedAt.Before(oldest.OpenedAt) {
			oldest = p
		}
	}
	return oldest
}
