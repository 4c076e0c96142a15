package coinledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BasisOverride declares the basis for a lot the ledgers cannot explain:
// airdrops, reconstructed history, pre-period UTXOs. The normalizer
// consults overrides when constructing inbound lots; a pre-period UTXO
// without one is a BootstrapIncomplete failure.
type BasisOverride struct {
	OutPoint     OutPoint
	Asset        Asset
	Amount       Amount
	BasisPerUnit Rate
	AcquiredAt   time.Time
	Ref          RowRef
}

// BasisOverrides indexes overrides by outpoint.
type BasisOverrides struct {
	byOutPoint map[OutPoint]BasisOverride
}

// Lookup returns the override declared for an outpoint.
func (b *BasisOverrides) Lookup(op OutPoint) (BasisOverride, bool) {
	if b == nil {
		return BasisOverride{}, false
	}
	o, ok := b.byOutPoint[op]
	return o, ok
}

// ReadBasisOverrides decodes a basis-overrides CSV with columns
// outpoint, asset, amount, basis_per_unit, acquired_at.
func ReadBasisOverrides(r io.Reader, name string) (*BasisOverrides, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("basis overrides %s: %w", name, err)
	}
	overrides := &BasisOverrides{byOutPoint: make(map[OutPoint]BasisOverride)}
	if len(records) == 0 {
		return overrides, nil
	}

	h := make(map[string]int, len(records[0]))
	for i, col := range records[0] {
		h[strings.TrimSpace(col)] = i
	}
	get := func(record []string, col string) string {
		i, ok := h[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	for i, record := range records[1:] {
		line := i + 1
		op, err := ParseOutPoint(get(record, "outpoint"))
		if err != nil {
			return nil, fmt.Errorf("basis overrides %s:%d: %w", name, line, err)
		}
		a, err := ParseAsset(get(record, "asset"))
		if err != nil {
			return nil, fmt.Errorf("basis overrides %s:%d: %w", name, line, err)
		}
		amount, err := ParseAmount(get(record, "amount"), a)
		if err != nil {
			return nil, fmt.Errorf("basis overrides %s:%d: %w", name, line, err)
		}
		basis, err := decimal.NewFromString(get(record, "basis_per_unit"))
		if err != nil {
			return nil, fmt.Errorf("%w: basis overrides %s:%d: bad basis_per_unit: %v", ErrParse, name, line, err)
		}
		acquired, err := time.Parse("2006-01-02 15:04:05", get(record, "acquired_at"))
		if err != nil {
			if acquired, err = time.Parse("2006-01-02", get(record, "acquired_at")); err != nil {
				return nil, fmt.Errorf("%w: basis overrides %s:%d: bad acquired_at: %v", ErrParse, name, line, err)
			}
		}
		overrides.byOutPoint[op] = BasisOverride{
			OutPoint:     op,
			Asset:        a,
			Amount:       amount,
			BasisPerUnit: R(basis),
			AcquiredAt:   acquired.UTC(),
			Ref:          RowRef{File: name, Row: line},
		}
	}
	return overrides, nil
}
