package coinledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TxID is an on-chain transaction id in display (big-endian hex) form.
type TxID string

// OutPoint names one output of an on-chain transaction. On-chain BTC is
// consumed by outpoint, never by FIFO position, because transaction inputs
// reference specific UTXOs.
type OutPoint struct {
	TxID TxID
	Vout uint32
}

func (o OutPoint) String() string { return string(o.TxID) + ":" + strconv.FormatUint(uint64(o.Vout), 10) }

// ParseOutPoint parses the "txid:vout" form.
func ParseOutPoint(s string) (OutPoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return OutPoint{}, fmt.Errorf("%w: bad outpoint %q", ErrParse, s)
	}
	vout, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return OutPoint{}, fmt.Errorf("%w: bad outpoint %q: %v", ErrParse, s, err)
	}
	return OutPoint{TxID: TxID(s[:i]), Vout: uint32(vout)}, nil
}

// RowRef records where an input row came from, for error messages and
// worksheet lineage.
type RowRef struct {
	File string
	Row  int
}

func (r RowRef) String() string { return r.File + ":" + strconv.Itoa(r.Row) }

// LotID identifies one lot. Ids are drawn from a per-state sequence so that
// replaying the same inputs assigns the same ids; a split retires the
// original id and issues two new ones.
type LotID int64

func (id LotID) String() string { return "lot-" + strconv.FormatInt(int64(id), 10) }

// OriginKind tells how a lot entered the books.
type OriginKind string

const (
	OriginUTXO        OriginKind = "on-chain-utxo"
	OriginExchangeBuy OriginKind = "exchange-buy"
	OriginIncome      OriginKind = "income"
	OriginBootstrap   OriginKind = "bootstrap"
)

// Origin carries a lot's provenance. Both halves of a split inherit it.
type Origin struct {
	Kind     OriginKind
	OutPoint OutPoint // set only for on-chain-utxo lots
	Ref      RowRef   // source row that created the lot
	Tag      string   // tag id for income lots
}

// LongTerm reports whether a holding period qualifies as long-term:
// strictly more than one year between acquisition and disposition,
// measured in UTC calendar days.
func LongTerm(acquired, disposed time.Time) bool {
	a := acquired.UTC()
	d := disposed.UTC()
	return d.After(a.AddDate(1, 0, 0))
}
