// Package kraken reads the exchange ledger and trades CSV exports.
//
// The ledger is authoritative for balance movements but double-entry: each
// logical trade appears as two rows sharing a refid. The trades export
// carries price, volume, order type and the margin marker for the same
// refid. Columns beyond the documented set are ignored.
package kraken

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row types of the ledger export.
const (
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
	TypeTrade      = "trade"
	TypeMargin     = "margin"
	TypeRollover   = "rollover"
	TypeSettled    = "settled"
	TypeTransfer   = "transfer"
)

// LedgerRow is one row of the exchange ledger CSV.
type LedgerRow struct {
	TxID    string
	RefID   string
	Time    time.Time
	Type    string
	Subtype string
	AClass  string
	Asset   string
	Amount  decimal.Decimal
	Fee     decimal.Decimal
	Balance decimal.Decimal

	File string // source file, for provenance
	Line int    // 1-based data row index
}

// TradeRow is one row of the trades CSV.
type TradeRow struct {
	TxID      string
	OrderTxID string
	Pair      string
	Time      time.Time
	Type      string // buy or sell
	OrderType string
	Price     decimal.Decimal
	Cost      decimal.Decimal
	Fee       decimal.Decimal
	Volume    decimal.Decimal
	Margin    decimal.Decimal // non-zero marks a margin trade
	Misc      string
	Ledgers   string

	File string
	Line int
}

// IsMargin reports whether the trade was executed on margin.
func (t TradeRow) IsMargin() bool { return !t.Margin.IsZero() }

// timeFormats accepted in exchange exports, most specific first.
var timeFormats = []string{
	"2006-01-02 15:04:05.9999",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseTime(s string) (time.Time, error) {
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// header indexes column names so extra columns are ignored and column
// order does not matter.
type header map[string]int

func readHeader(record []string) header {
	h := make(header, len(record))
	for i, name := range record {
		h[strings.TrimSpace(strings.Trim(name, `"`))] = i
	}
	return h
}

func (h header) get(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (h header) decimal(record []string, name string) (decimal.Decimal, error) {
	s := h.get(record, name)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// ReadLedger decodes a ledger CSV. The name is recorded in each row for
// provenance.
func ReadLedger(r io.Reader, name string) ([]LedgerRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	h := readHeader(records[0])
	for _, col := range []string{"refid", "time", "type", "asset", "amount"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("ledger %s: missing column %q", name, col)
		}
	}

	rows := make([]LedgerRow, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 1
		ts, err := parseTime(h.get(record, "time"))
		if err != nil {
			return nil, fmt.Errorf("ledger %s:%d: %w", name, line, err)
		}
		amount, err := h.decimal(record, "amount")
		if err != nil {
			return nil, fmt.Errorf("ledger %s:%d: bad amount: %w", name, line, err)
		}
		fee, err := h.decimal(record, "fee")
		if err != nil {
			return nil, fmt.Errorf("ledger %s:%d: bad fee: %w", name, line, err)
		}
		balance, err := h.decimal(record, "balance")
		if err != nil {
			return nil, fmt.Errorf("ledger %s:%d: bad balance: %w", name, line, err)
		}
		rows = append(rows, LedgerRow{
			TxID:    h.get(record, "txid"),
			RefID:   h.get(record, "refid"),
			Time:    ts,
			Type:    h.get(record, "type"),
			Subtype: h.get(record, "subtype"),
			AClass:  h.get(record, "aclass"),
			Asset:   h.get(record, "asset"),
			Amount:  amount,
			Fee:     fee,
			Balance: balance,
			File:    name,
			Line:    line,
		})
	}
	return rows, nil
}

// ReadTrades decodes a trades CSV.
func ReadTrades(r io.Reader, name string) ([]TradeRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("trades %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	h := readHeader(records[0])
	for _, col := range []string{"txid", "pair", "time", "type", "price", "vol"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("trades %s: missing column %q", name, col)
		}
	}

	rows := make([]TradeRow, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 1
		ts, err := parseTime(h.get(record, "time"))
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: %w", name, line, err)
		}
		price, err := h.decimal(record, "price")
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: bad price: %w", name, line, err)
		}
		cost, err := h.decimal(record, "cost")
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: bad cost: %w", name, line, err)
		}
		fee, err := h.decimal(record, "fee")
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: bad fee: %w", name, line, err)
		}
		vol, err := h.decimal(record, "vol")
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: bad vol: %w", name, line, err)
		}
		margin, err := h.decimal(record, "margin")
		if err != nil {
			return nil, fmt.Errorf("trades %s:%d: bad margin: %w", name, line, err)
		}
		rows = append(rows, TradeRow{
			TxID:      h.get(record, "txid"),
			OrderTxID: h.get(record, "ordertxid"),
			Pair:      h.get(record, "pair"),
			Time:      ts,
			Type:      h.get(record, "type"),
			OrderType: h.get(record, "ordertype"),
			Price:     price,
			Cost:      cost,
			Fee:       fee,
			Volume:    vol,
			Margin:    margin,
			Misc:      h.get(record, "misc"),
			Ledgers:   h.get(record, "ledgers"),
			File:      name,
			Line:      line,
		})
	}
	return rows, nil
}
