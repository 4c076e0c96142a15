package coinledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mstrand/coinledger/chain"
	"github.com/mstrand/coinledger/wallet"
)

// WalletOwnership maps wallet ids to the addresses they control, declared
// in configuration (derived from xpubs or listed manually).
type WalletOwnership map[string]map[string]bool

// Owner returns the wallet controlling an address, if any.
func (w WalletOwnership) Owner(address string) (string, bool) {
	if address == "" {
		return "", false
	}
	// Deterministic even if two wallets were misconfigured to share an
	// address: the lexically first wallet wins.
	var owner string
	for id, addrs := range w {
		if addrs[address] && (owner == "" || id < owner) {
			owner = id
		}
	}
	return owner, owner != ""
}

// satsToBTC converts a satoshi count to an exact BTC amount.
func satsToBTC(sats int64) Amount {
	return A(decimal.New(sats, -8), BTC)
}

// NormalizeWallets converts wallet histories into NormalizedEvents.
// Transactions are resolved through the blockchain client beforehand; the
// normalizer works off the deterministic txid-keyed map. A transaction
// appearing in several wallet histories (an internal move) is normalized
// exactly once.
func NormalizeWallets(records []wallet.Record, owners WalletOwnership, txs map[string]*chain.Tx, tags *TagSet) ([]NormalizedEvent, error) {
	// Pick one history record per txid; the earliest row seen wins, which
	// is stable because records arrive in file order.
	byTx := make(map[string]wallet.Record)
	var txids []string
	for _, rec := range records {
		if _, seen := byTx[rec.TxID]; !seen {
			byTx[rec.TxID] = rec
			txids = append(txids, rec.TxID)
		}
	}
	sort.Slice(txids, func(i, j int) bool {
		a, b := byTx[txids[i]], byTx[txids[j]]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return txids[i] < txids[j]
	})

	var events []NormalizedEvent
	for _, txid := range txids {
		rec := byTx[txid]
		tx, ok := txs[txid]
		if !ok {
			return nil, fmt.Errorf("%w: %s:%d: transaction %s was not resolved", ErrBackend, rec.File, rec.Line, txid)
		}
		ev, err := normalizeChainTx(rec, tx, owners, tags)
		if err != nil {
			return nil, err
		}
		events = append(events, ev...)
	}
	return events, nil
}

func normalizeChainTx(rec wallet.Record, tx *chain.Tx, owners WalletOwnership, tags *TagSet) ([]NormalizedEvent, error) {
	ref := RowRef{File: rec.File, Row: rec.Line}
	when := tx.Time
	if when.IsZero() {
		when = rec.Time
	}

	// Partition the transaction into what the user spent and received.
	var spentPoints []OutPoint
	var spentTotal int64
	sendingWallet := ""
	for _, in := range tx.Ins {
		owner, owned := owners.Owner(in.Address)
		if !owned {
			continue
		}
		if sendingWallet == "" {
			sendingWallet = owner
		} else if sendingWallet != owner {
			return nil, fmt.Errorf("%w: %s: transaction %s spends from wallets %s and %s", ErrUnclassified, ref, tx.TxID, sendingWallet, owner)
		}
		spentPoints = append(spentPoints, OutPoint{TxID: TxID(in.TxID), Vout: in.Vout})
		spentTotal += in.Sats
	}

	var ownedOuts []UTXO
	var externalSats int64
	for i, out := range tx.Outs {
		if owner, owned := owners.Owner(out.Address); owned {
			ownedOuts = append(ownedOuts, UTXO{
				OutPoint: OutPoint{TxID: TxID(tx.TxID), Vout: uint32(i)},
				Amount:   satsToBTC(out.Sats),
				Wallet:   owner,
			})
		} else {
			externalSats += out.Sats
		}
	}

	if sendingWallet == "" {
		// Inbound: the user spent nothing, so each owned output is a
		// deposit, an income lot, or the arrival of a transfer.
		var events []NormalizedEvent
		for _, utxo := range ownedOuts {
			ev := NormalizedEvent{
				Time:      when,
				Ref:       ref,
				Seq:       rec.Line,
				Priority:  PriorityOnChain,
				Account:   utxo.Wallet,
				ToAccount: utxo.Wallet,
				Asset:     BTC,
				Amount:    utxo.Amount,
				Outputs:   []UTXO{utxo},
			}
			tag, tagged := tags.For(TxID(tx.TxID), utxo.OutPoint.Vout)
			switch {
			case tagged && tag.Kind.IsIncome():
				ev.Kind = KindIncome
				ev.TagID = string(tag.Kind)
				ev.FMVOverride = tag.Override
			case tagged && tag.Kind == TagTransferFrom:
				ev.Kind = KindInternalMove
				ev.FromAccount = tag.Detail
			default:
				ev.Kind = KindDeposit
			}
			events = append(events, ev)
		}
		return events, nil
	}

	// Outbound or internal: the user signed the inputs, so the miner fee
	// is theirs either way.
	fee := satsToBTC(tx.Fee())
	base := NormalizedEvent{
		Time:        when,
		Ref:         ref,
		Seq:         rec.Line,
		Priority:    PriorityOnChain,
		Account:     sendingWallet,
		FromAccount: sendingWallet,
		Asset:       BTC,
		Fee:         fee,
		OutPoints:   spentPoints,
		Outputs:     ownedOuts,
	}

	if externalSats == 0 {
		base.Kind = KindInternalMove
		base.Amount = satsToBTC(spentTotal - tx.Fee())
		return []NormalizedEvent{base}, nil
	}

	base.Amount = satsToBTC(externalSats)
	tag, tagged := tags.For(TxID(tx.TxID), 0)
	switch {
	case tagged && tag.Kind == TagTransferTo:
		base.Kind = KindWithdrawal
		base.ToAccount = tag.Detail
	case tagged && tag.Kind == TagSpend:
		base.Kind = KindSpend
	case tagged && tag.Kind == TagLost:
		base.Kind = KindSpend
		base.TagID = string(TagLost)
	default:
		return nil, fmt.Errorf("%w: %s: outbound transaction %s to an unknown address has no tag", ErrUnclassified, ref, tx.TxID)
	}
	return []NormalizedEvent{base}, nil
}
