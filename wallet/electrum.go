package wallet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Electrum reads the history CSV exported by the Electrum desktop wallet:
// columns transaction_hash, label, confirmations, value, fiat_value, fee,
// fiat_fee, timestamp. Values are BTC with a leading sign; no per-address
// detail is available, so the flow lands on the aggregate address.
type Electrum struct{}

func (Electrum) Format() string { return "electrum" }

func (Electrum) Read(r io.Reader, walletID, name string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("electrum %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	h := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		h[strings.TrimSpace(col)] = i
	}
	for _, col := range []string{"transaction_hash", "value", "timestamp"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("electrum %s: missing column %q", name, col)
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
		value, err := decimal.NewFromString(get("value"))
		if err != nil {
			return nil, fmt.Errorf("electrum %s:%d: bad value: %w", name, line, err)
		}
		ts, err := parseElectrumTime(get("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("electrum %s:%d: %w", name, line, err)
		}
		out = append(out, Record{
			TxID:     get("transaction_hash"),
			WalletID: walletID,
			Time:     ts,
			NetFlow:  map[string]decimal.Decimal{"": value},
			File:     name,
			Line:     line,
		})
	}
	return out, nil
}

func parseElectrumTime(s string) (time.Time, error) {
	for _, format := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
