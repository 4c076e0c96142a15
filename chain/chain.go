// Package chain resolves raw on-chain transactions for the normalizer.
//
// The backend is pluggable; the engine only needs inputs spent, outputs
// created, and the confirmation time of each txid the wallet histories
// mention. Resolution happens in an I/O-parallel read phase before
// normalization and is memoized in a per-backend cache file, so a yearly
// run touches the network only for txids it has never seen.
package chain

import (
	"context"
	"errors"
	"time"
)

// ErrBackend marks any failure to resolve a transaction: transport
// errors, RPC errors, and unconfirmed or unknown txids. Callers test it
// with errors.Is.
var ErrBackend = errors.New("blockchain backend error")

// Network selects the bitcoin network the backend talks to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// TxIn is one input of a resolved transaction: the outpoint it spends and
// the address and value of the spent output.
type TxIn struct {
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Address string `json:"address"`
	Sats    int64  `json:"sats"`
}

// TxOut is one output of a resolved transaction.
type TxOut struct {
	Address string `json:"address"`
	Sats    int64  `json:"sats"`
}

// Tx is a resolved transaction, reduced to what the accounting needs.
type Tx struct {
	TxID string    `json:"txid"`
	Time time.Time `json:"time"` // block time of the confirmation
	Ins  []TxIn    `json:"ins"`
	Outs []TxOut   `json:"outs"`
}

// Fee is the miner fee in satoshis: inputs minus outputs.
func (tx *Tx) Fee() int64 {
	var in, out int64
	for _, i := range tx.Ins {
		in += i.Sats
	}
	for _, o := range tx.Outs {
		out += o.Sats
	}
	return in - out
}

// Resolver looks up a transaction by txid.
type Resolver interface {
	// Tx returns the resolved transaction or an error; a missing txid is
	// an error, never a nil transaction.
	Tx(ctx context.Context, txid string) (*Tx, error)

	// Name identifies the backend, used to name its cache file.
	Name() string
}
