package wallet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Generic reads the manual-input format: columns txid, timestamp, address,
// amount. Several rows may share a txid to describe per-address flows;
// they are folded into one record.
type Generic struct{}

func (Generic) Format() string { return "generic" }

func (Generic) Read(r io.Reader, walletID, name string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("generic %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	h := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		h[strings.TrimSpace(col)] = i
	}
	for _, col := range []string{"txid", "timestamp", "amount"} {
		if _, ok := h[col]; !ok {
			return nil, fmt.Errorf("generic %s: missing column %q", name, col)
		}
	}

	var out []Record
	index := make(map[string]int)
	for i, record := range records[1:] {
		line := i + 1
		get := func(col string) string {
			idx, ok := h[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		txid := get("txid")
		amount, err := decimal.NewFromString(get("amount"))
		if err != nil {
			return nil, fmt.Errorf("generic %s:%d: bad amount: %w", name, line, err)
		}
		ts, err := time.Parse(time.RFC3339, get("timestamp"))
		if err != nil {
			if ts, err = time.Parse("2006-01-02 15:04:05", get("timestamp")); err != nil {
				return nil, fmt.Errorf("generic %s:%d: bad timestamp %q", name, line, get("timestamp"))
			}
		}
		addr := get("address")

		if j, seen := index[txid]; seen {
			out[j].NetFlow[addr] = out[j].NetFlow[addr].Add(amount)
			continue
		}
		index[txid] = len(out)
		out = append(out, Record{
			TxID:     txid,
			WalletID: walletID,
			Time:     ts.UTC(),
			NetFlow:  map[string]decimal.Decimal{addr: amount},
			File:     name,
			Line:     line,
		})
	}
	return out, nil
}
