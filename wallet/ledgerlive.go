package wallet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerLive reads the operations CSV exported by Ledger Live: columns
// Operation Date, Currency Ticker, Operation Type, Operation Amount,
// Operation Fees, Operation Hash, Account Name, Account xpub. Amounts are
// unsigned; the operation type carries the direction.
type LedgerLive struct{}

func (LedgerLive) Format() string { return "ledgerlive" }

func (LedgerLive) Read(r io.Reader, walletID, name string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledgerlive %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	h := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		h[strings.TrimSpace(col)] = i
	}
	for _, col := range []string{"Operation Date", "Operation Type", "Operation Amount", "Operation Hash"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("ledgerlive %s: missing column %q", name, col)
		}
	}

	var out []Record
	for i, record := range records[1:] {
		line := i + 1
		get := func(col string) string {
			idx, ok := h[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		if ticker := get("Currency Ticker"); ticker != "" && ticker != "BTC" {
			continue // other Ledger Live accounts share the export
		}
		amount, err := decimal.NewFromString(get("Operation Amount"))
		if err != nil {
			return nil, fmt.Errorf("ledgerlive %s:%d: bad amount: %w", name, line, err)
		}
		var fee decimal.Decimal
		if s := get("Operation Fees"); s != "" {
			if fee, err = decimal.NewFromString(s); err != nil {
				return nil, fmt.Errorf("ledgerlive %s:%d: bad fees: %w", name, line, err)
			}
		}
		ts, err := parseLedgerLiveTime(get("Operation Date"))
		if err != nil {
			return nil, fmt.Errorf("ledgerlive %s:%d: %w", name, line, err)
		}

		// OUT amounts include the fee; the net flow is what actually left
		// the wallet.
		net := amount
		switch get("Operation Type") {
		case "OUT":
			net = amount.Neg()
		case "IN":
			// already positive
		case "FEES":
			net = fee.Neg()
		default:
			return nil, fmt.Errorf("ledgerlive %s:%d: unknown operation type %q", name, line, get("Operation Type"))
		}
		out = append(out, Record{
			TxID:     get("Operation Hash"),
			WalletID: walletID,
			Time:     ts,
			NetFlow:  map[string]decimal.Decimal{"": net},
			File:     name,
			Line:     line,
		})
	}
	return out, nil
}

func parseLedgerLiveTime(s string) (time.Time, error) {
	for _, format := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
