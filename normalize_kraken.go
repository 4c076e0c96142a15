package coinledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mstrand/coinledger/kraken"
)

// SplitPair resolves an exchange pair code like "XXBTZUSD" or "XBTUSD"
// into its base and quote assets.
func SplitPair(pair string) (base, quote Asset, err error) {
	codes := make([]string, 0, len(krakenAliases))
	for code := range krakenAliases {
		codes = append(codes, code)
	}
	// Longest codes first so XXBT wins over XBT.
	sort.Slice(codes, func(i, j int) bool { return len(codes[i]) > len(codes[j]) })
	for _, baseCode := range codes {
		if !strings.HasPrefix(pair, baseCode) {
			continue
		}
		for _, quoteCode := range codes {
			if pair == baseCode+quoteCode {
				return krakenAliases[baseCode], krakenAliases[quoteCode], nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: pair %q", ErrUnknownAsset, pair)
}

// NormalizeExchange converts one exchange's ledger and trades exports into
// NormalizedEvents. The ledger is authoritative for balance movements;
// the trades file disambiguates price, volume, order type and margin for
// each refid group.
//
// Tags may reference exchange ledger txids to classify withdrawals as
// transfers to a controlled wallet; an exchange withdrawal without a tag
// is left for the receiving wallet to claim, and only its fee is
// normalized at the exchange.
func NormalizeExchange(exchangeID string, ledger []kraken.LedgerRow, trades []kraken.TradeRow, tags *TagSet) ([]NormalizedEvent, error) {
	tradeByRef := make(map[string]kraken.TradeRow, len(trades))
	for _, t := range trades {
		tradeByRef[t.TxID] = t
	}

	groups := make(map[string][]kraken.LedgerRow)
	var order []string
	for _, row := range ledger {
		if _, seen := groups[row.RefID]; !seen {
			order = append(order, row.RefID)
		}
		groups[row.RefID] = append(groups[row.RefID], row)
	}

	var events []NormalizedEvent
	for _, refid := range order {
		group := groups[refid]
		groupEvents, err := normalizeRefGroup(exchangeID, refid, group, tradeByRef, tags)
		if err != nil {
			return nil, err
		}
		events = append(events, groupEvents...)
	}
	return events, nil
}

func normalizeRefGroup(exchangeID, refid string, group []kraken.LedgerRow, tradeByRef map[string]kraken.TradeRow, tags *TagSet) ([]NormalizedEvent, error) {
	var events []NormalizedEvent

	switch group[0].Type {
	case kraken.TypeDeposit:
		for _, row := range group {
			// The request/fulfilled double entry shares a refid; only the
			// fulfilled row carries a txid.
			if row.TxID == "" {
				continue
			}
			ev, err := normalizeExchangeDeposit(exchangeID, row, tags)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}

	case kraken.TypeWithdrawal:
		for _, row := range group {
			if row.TxID == "" {
				continue
			}
			evs, err := normalizeExchangeWithdrawal(exchangeID, row, tags)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		}

	case kraken.TypeTrade, kraken.TypeMargin:
		trade, ok := tradeByRef[refid]
		if ok && trade.IsMargin() {
			return normalizeMarginTrade(exchangeID, refid, group, trade)
		}
		return normalizeSpotTrade(exchangeID, refid, group, trade, ok)

	case kraken.TypeRollover:
		for _, row := range group {
			a, err := ParseAsset(row.Asset)
			if err != nil {
				return nil, rowErr(row, err)
			}
			trade, ok := tradeByRef[refid]
			pair := ""
			if ok {
				pair = trade.Pair
			}
			events = append(events, NormalizedEvent{
				Kind:     KindMarginRollover,
				Time:     row.Time,
				Ref:      RowRef{File: row.File, Row: row.Line},
				Seq:      row.Line,
				Priority: PriorityExchange,
				Account:  exchangeID,
				Asset:    a,
				Amount:   A(row.Fee, a),
				RefGroup: refid,
				Pair:     pair,
			})
		}

	case kraken.TypeSettled:
		for _, row := range group {
			a, err := ParseAsset(row.Asset)
			if err != nil {
				return nil, rowErr(row, err)
			}
			events = append(events, NormalizedEvent{
				Kind:     KindMarginSettle,
				Time:     row.Time,
				Ref:      RowRef{File: row.File, Row: row.Line},
				Seq:      row.Line,
				Priority: PriorityExchange,
				Account:  exchangeID,
				Asset:    a,
				Amount:   A(row.Amount.Neg(), a), // repayment debits the balance
				Fee:      A(row.Fee, a),
				RefGroup: refid,
			})
		}

	case kraken.TypeTransfer:
		// Kraken uses transfer rows for futures moves and token renames;
		// they neither create nor destroy value here.

	default:
		row := group[0]
		return nil, fmt.Errorf("%w: %s:%d: unknown ledger row type %q", ErrParse, row.File, row.Line, row.Type)
	}
	return events, nil
}

func normalizeExchangeDeposit(exchangeID string, row kraken.LedgerRow, tags *TagSet) (NormalizedEvent, error) {
	a, err := ParseAsset(row.Asset)
	if err != nil {
		return NormalizedEvent{}, rowErr(row, err)
	}
	ev := NormalizedEvent{
		Kind:      KindDeposit,
		Time:      row.Time,
		Ref:       RowRef{File: row.File, Row: row.Line},
		Seq:       row.Line,
		Priority:  PriorityExchange,
		Account:   exchangeID,
		Asset:     a,
		Amount:    A(row.Amount, a),
		Fee:       A(row.Fee, a),
		ToAccount: exchangeID,

		DeclaredBalance: row.Balance,
		HasDeclared:     true,
	}
	if tag, ok := tags.For(TxID(row.TxID), 0); ok {
		switch {
		case tag.Kind == TagTransferFrom:
			// The sending wallet already moved the lots; this row only
			// confirms arrival.
			ev.Kind = KindInternalMove
			ev.FromAccount = tag.Detail
		case tag.Kind.IsIncome():
			ev.Kind = KindIncome
			ev.TagID = string(tag.Kind)
			ev.FMVOverride = tag.Override
		}
	}
	return ev, nil
}

func normalizeExchangeWithdrawal(exchangeID string, row kraken.LedgerRow, tags *TagSet) ([]NormalizedEvent, error) {
	a, err := ParseAsset(row.Asset)
	if err != nil {
		return nil, rowErr(row, err)
	}
	ref := RowRef{File: row.File, Row: row.Line}
	ev := NormalizedEvent{
		Time:        row.Time,
		Ref:         ref,
		Seq:         row.Line,
		Priority:    PriorityExchange,
		Account:     exchangeID,
		Asset:       a,
		Amount:      A(row.Amount.Neg(), a),
		Fee:         A(row.Fee, a),
		FromAccount: exchangeID,

		DeclaredBalance: row.Balance,
		HasDeclared:     true,
	}
	tag, tagged := tags.For(TxID(row.TxID), 0)
	switch {
	case tagged && tag.Kind == TagTransferTo:
		ev.Kind = KindWithdrawal
		ev.ToAccount = tag.Detail
	case tagged && tag.Kind == TagSpend:
		ev.Kind = KindSpend
	case a.IsFiat():
		// Fiat withdrawal to a bank account leaves the books untaxed.
		ev.Kind = KindWithdrawal
	default:
		return nil, fmt.Errorf("%w: %s: withdrawal %s of %s has no tag", ErrUnclassified, ref, row.TxID, a)
	}
	return []NormalizedEvent{ev}, nil
}

// normalizeSpotTrade emits the sell leg then the buy leg of one refid
// group, joined by the refid.
func normalizeSpotTrade(exchangeID, refid string, group []kraken.LedgerRow, trade kraken.TradeRow, haveTrade bool) ([]NormalizedEvent, error) {
	var sellRow, buyRow *kraken.LedgerRow
	for i := range group {
		row := &group[i]
		if row.Amount.IsNegative() {
			sellRow = row
		} else {
			buyRow = row
		}
	}
	if sellRow == nil || buyRow == nil {
		row := group[0]
		return nil, fmt.Errorf("%w: %s:%d: trade group %s lacks a %s leg", ErrParse,
			row.File, row.Line, refid, map[bool]string{true: "buy", false: "sell"}[sellRow != nil])
	}
	sellAsset, err := ParseAsset(sellRow.Asset)
	if err != nil {
		return nil, rowErr(*sellRow, err)
	}
	buyAsset, err := ParseAsset(buyRow.Asset)
	if err != nil {
		return nil, rowErr(*buyRow, err)
	}

	sell := NormalizedEvent{
		Kind:     KindTradeLeg,
		Side:     SideSell,
		Time:     sellRow.Time,
		Ref:      RowRef{File: sellRow.File, Row: sellRow.Line},
		Seq:      sellRow.Line,
		Priority: PriorityExchange,
		Account:  exchangeID,
		Asset:    sellAsset,
		Amount:   A(sellRow.Amount.Neg(), sellAsset),
		Quote:    A(buyRow.Amount, buyAsset),
		Fee:      A(sellRow.Fee, sellAsset),
		RefGroup: refid,

		DeclaredBalance: sellRow.Balance,
		HasDeclared:     true,
	}
	buy := NormalizedEvent{
		Kind:     KindTradeLeg,
		Side:     SideBuy,
		Time:     buyRow.Time,
		Ref:      RowRef{File: buyRow.File, Row: buyRow.Line},
		Seq:      buyRow.Line,
		Priority: PriorityExchange,
		Account:  exchangeID,
		Asset:    buyAsset,
		Amount:   A(buyRow.Amount, buyAsset),
		Quote:    A(sellRow.Amount.Neg(), sellAsset),
		Fee:      A(buyRow.Fee, buyAsset),
		RefGroup: refid,

		DeclaredBalance: buyRow.Balance,
		HasDeclared:     true,
	}
	if haveTrade {
		sell.Price, buy.Price = trade.Price, trade.Price
		sell.Pair, buy.Pair = trade.Pair, trade.Pair
	}
	// Sell before buy: the sale funds the purchase.
	return []NormalizedEvent{sell, buy}, nil
}

// normalizeMarginTrade emits MarginOpen or MarginClose for a margin trade,
// using the trades-file misc marker to tell closing trades from opening
// ones, the way the exchange reports them.
func normalizeMarginTrade(exchangeID, refid string, group []kraken.LedgerRow, trade kraken.TradeRow) ([]NormalizedEvent, error) {
	base, quote, err := SplitPair(trade.Pair)
	if err != nil {
		return nil, fmt.Errorf("trades %s:%d: %w", trade.File, trade.Line, err)
	}
	kind := KindMarginOpen
	if strings.Contains(trade.Misc, "closing") {
		kind = KindMarginClose
	}
	side := Long
	if trade.Type == "sell" {
		side = Short
	}

	ev := NormalizedEvent{
		Kind:       kind,
		Time:       trade.Time,
		Ref:        RowRef{File: trade.File, Row: trade.Line},
		Seq:        trade.Line,
		Priority:   PriorityExchange,
		Account:    exchangeID,
		Asset:      base,
		Amount:     A(trade.Volume, base),
		Quote:      A(trade.Cost, quote),
		Price:      trade.Price,
		Fee:        A(trade.Fee, quote),
		RefGroup:   refid,
		Pair:       trade.Pair,
		MarginSide: side,
	}
	// Margin ledger rows only restate the trades row; the event carries
	// everything the simulator needs.
	_ = group
	return []NormalizedEvent{ev}, nil
}

func rowErr(row kraken.LedgerRow, err error) error {
	return fmt.Errorf("%s:%d: %w", row.File, row.Line, err)
}
