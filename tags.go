package coinledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TagKind is the user-declared intent of an on-chain transaction.
type TagKind string

const (
	TagIncome       TagKind = "income"
	TagSpend        TagKind = "spend"
	TagTransferTo   TagKind = "transfer-to"
	TagTransferFrom TagKind = "transfer-from"
	TagMining       TagKind = "mining"
	TagLabor        TagKind = "labor"
	TagLending      TagKind = "lending"
	TagLost         TagKind = "lost"
)

// ParseTagKind resolves the tag column of the tx-tags file.
func ParseTagKind(s string) (TagKind, error) {
	switch TagKind(strings.ToLower(strings.TrimSpace(s))) {
	case TagIncome:
		return TagIncome, nil
	case TagSpend:
		return TagSpend, nil
	case TagTransferTo:
		return TagTransferTo, nil
	case TagTransferFrom:
		return TagTransferFrom, nil
	case TagMining:
		return TagMining, nil
	case TagLabor:
		return TagLabor, nil
	case TagLending:
		return TagLending, nil
	case TagLost:
		return TagLost, nil
	}
	return "", fmt.Errorf("%w: unknown tag %q", ErrParse, s)
}

// IsIncome reports whether the tag marks inbound value as ordinary income.
func (k TagKind) IsIncome() bool {
	switch k {
	case TagIncome, TagMining, TagLabor, TagLending:
		return true
	}
	return false
}

// TxTag annotates one transaction (or one of its outputs) with intent.
type TxTag struct {
	TxID     TxID
	Index    int  // output index; -1 when the tag covers the whole tx
	HasIndex bool // distinguishes index 0 from "no index"
	Kind     TagKind
	Detail   string // payer, payee, or controlled account name
	Override Rate   // usd_value_override, zero when unset
	Ref      RowRef
}

// TagSet indexes tags by txid for the normalizer.
type TagSet struct {
	byTx map[TxID][]TxTag
}

// Lookup returns the tags declared for a txid, in file order.
func (ts *TagSet) Lookup(txid TxID) []TxTag {
	if ts == nil {
		return nil
	}
	return ts.byTx[txid]
}

// For returns the tag covering a specific output, preferring an
// index-specific tag over a whole-transaction one.
func (ts *TagSet) For(txid TxID, vout uint32) (TxTag, bool) {
	var whole TxTag
	var haveWhole bool
	for _, tag := range ts.Lookup(txid) {
		if tag.HasIndex && tag.Index == int(vout) {
			return tag, true
		}
		if !tag.HasIndex {
			whole, haveWhole = tag, true
		}
	}
	return whole, haveWhole
}

// ReadTags decodes a tx-tags CSV with columns
// txid, index, tag, detail, usd_value_override. Index and override may be
// empty; extra columns are ignored.
func ReadTags(r io.Reader, name string) (*TagSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tags %s: %w", name, err)
	}
	ts := &TagSet{byTx: make(map[TxID][]TxTag)}
	if len(records) == 0 {
		return ts, nil
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
		txid := get(record, "txid")
		if txid == "" {
			return nil, fmt.Errorf("%w: tags %s:%d: missing txid", ErrParse, name, line)
		}
		kind, err := ParseTagKind(get(record, "tag"))
		if err != nil {
			return nil, fmt.Errorf("tags %s:%d: %w", name, line, err)
		}
		tag := TxTag{
			TxID:   TxID(txid),
			Index:  -1,
			Kind:   kind,
			Detail: get(record, "detail"),
			Ref:    RowRef{File: name, Row: line},
		}
		if idx := get(record, "index"); idx != "" {
			n, err := strconv.Atoi(idx)
			if err != nil {
				return nil, fmt.Errorf("%w: tags %s:%d: bad index %q", ErrParse, name, line, idx)
			}
			tag.Index = n
			tag.HasIndex = true
		}
		if override := get(record, "usd_value_override"); override != "" {
			d, err := decimal.NewFromString(override)
			if err != nil {
				return nil, fmt.Errorf("%w: tags %s:%d: bad override %q", ErrParse, name, line, override)
			}
			tag.Override = R(d)
		}
		ts.byTx[tag.TxID] = append(ts.byTx[tag.TxID], tag)
	}
	return ts, nil
}
