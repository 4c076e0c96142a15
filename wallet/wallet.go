// Package wallet reads on-chain wallet history exports.
//
// Each supported format reduces to the same canonical record: a txid, the
// owning wallet, the confirmation time and the wallet's net flow. The
// record deliberately carries no classification; intent comes from the
// tx-tags file and ownership from the resolved transaction.
package wallet

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Record is the canonical wallet-history row.
type Record struct {
	TxID     string
	WalletID string
	Time     time.Time

	// NetFlow is the wallet's net value change per address, in BTC. The
	// empty address key aggregates formats that do not report addresses.
	NetFlow map[string]decimal.Decimal

	File string
	Line int
}

// Net sums the flow over all addresses.
func (r Record) Net() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.NetFlow {
		total = total.Add(v)
	}
	return total
}

// Reader decodes one wallet export format.
type Reader interface {
	Format() string
	Read(r io.Reader, walletID, name string) ([]Record, error)
}

// ForFormat returns the reader for a format name.
func ForFormat(format string) (Reader, error) {
	switch format {
	case "electrum":
		return Electrum{}, nil
	case "ledgerlive":
		return LedgerLive{}, nil
	case "generic":
		return Generic{}, nil
	}
	return nil, fmt.Errorf("unknown wallet format %q", format)
}
