package coinledger

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mstrand/coinledger/kraken"
)

func TestSplitPair(t *testing.T) {
	tests := []struct {
		pair        string
		base, quote Asset
	}{
		{"XXBTZUSD", BTC, USD},
		{"XBTUSD", BTC, USD},
		{"XETHZEUR", ETH, EUR},
		{"ETHUSDT", ETH, USDT},
		{"USDCUSD", USDC, USD},
	}
	for _, tt := range tests {
		base, quote, err := SplitPair(tt.pair)
		require.NoError(t, err, tt.pair)
		require.Equal(t, tt.base, base, tt.pair)
		require.Equal(t, tt.quote, quote, tt.pair)
	}
	_, _, err := SplitPair("DOGEUSD")
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func ledgerRow(line int, txid, refid, typ, asset string, amount, fee, balance float64, day string) kraken.LedgerRow {
	return kraken.LedgerRow{
		TxID: txid, RefID: refid, Time: date(day), Type: typ, Asset: asset,
		Amount:  decimal.NewFromFloat(amount),
		Fee:     decimal.NewFromFloat(fee),
		Balance: decimal.NewFromFloat(balance),
		File:    "ledger.csv", Line: line,
	}
}

func TestNormalizeSpotTradeLegs(t *testing.T) {
	ledger := []kraken.LedgerRow{
		ledgerRow(1, "L1", "T-1", kraken.TypeTrade, "ZUSD", -30000, 48, 20000, "2021-01-05"),
		ledgerRow(2, "L2", "T-1", kraken.TypeTrade, "XXBT", 1, 0, 1, "2021-01-05"),
	}
	trades := []kraken.TradeRow{{
		TxID: "T-1", Pair: "XXBTZUSD", Time: date("2021-01-05"), Type: "buy",
		Price: decimal.NewFromInt(30000), Cost: decimal.NewFromInt(30000),
		Volume: decimal.NewFromInt(1),
		File:   "trades.csv", Line: 1,
	}}

	events, err := NormalizeExchange("kraken", ledger, trades, &TagSet{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	sell, buy := events[0], events[1]
	require.Equal(t, SideSell, sell.Side, "sell leg comes first")
	require.Equal(t, USD, sell.Asset)
	require.True(t, sell.Amount.Equal(A(30000, USD)), "amounts are positive magnitudes")
	require.True(t, sell.Fee.Equal(A(48, USD)))
	require.True(t, sell.Quote.Equal(A(1, BTC)))

	require.Equal(t, SideBuy, buy.Side)
	require.Equal(t, BTC, buy.Asset)
	require.True(t, buy.Quote.Equal(A(30000, USD)))
	require.Equal(t, "T-1", buy.RefGroup)
	require.Equal(t, sell.RefGroup, buy.RefGroup)
	require.Equal(t, "XXBTZUSD", buy.Pair)

	require.True(t, sell.HasDeclared)
	require.True(t, sell.DeclaredBalance.Equal(decimal.NewFromInt(20000)))
}

func TestNormalizeMarginOpenAndClose(t *testing.T) {
	ledger := []kraken.LedgerRow{
		ledgerRow(1, "L1", "M-1", kraken.TypeMargin, "ZUSD", 0, 0, 1000, "2021-01-01"),
		ledgerRow(2, "L2", "M-2", kraken.TypeMargin, "ZUSD", 5000, 0, 6000, "2021-01-11"),
	}
	trades := []kraken.TradeRow{
		{
			TxID: "M-1", Pair: "XXBTZUSD", Time: date("2021-01-01"), Type: "buy",
			Price: decimal.NewFromInt(30000), Cost: decimal.NewFromInt(30000),
			Volume: decimal.NewFromInt(1), Margin: decimal.NewFromInt(6000),
			File: "trades.csv", Line: 1,
		},
		{
			TxID: "M-2", Pair: "XXBTZUSD", Time: date("2021-01-11"), Type: "sell",
			Price: decimal.NewFromInt(35000), Cost: decimal.NewFromInt(35000),
			Volume: decimal.NewFromInt(1), Margin: decimal.NewFromInt(7000),
			Misc: "closing",
			File: "trades.csv", Line: 2,
		},
	}

	events, err := NormalizeExchange("kraken", ledger, trades, &TagSet{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	open := events[0]
	require.Equal(t, KindMarginOpen, open.Kind)
	require.Equal(t, Long, open.MarginSide)
	require.Equal(t, BTC, open.Asset)
	require.True(t, open.Amount.Equal(A(1, BTC)))
	require.True(t, open.Price.Equal(decimal.NewFromInt(30000)))
	require.Equal(t, "XXBTZUSD", open.Pair)

	// The misc marker, not the trade direction, tells a close from an open.
	cls := events[1]
	require.Equal(t, KindMarginClose, cls.Kind)
	require.True(t, cls.Price.Equal(decimal.NewFromInt(35000)))
}

func TestNormalizeRolloverAndSettle(t *testing.T) {
	ledger := []kraken.LedgerRow{
		ledgerRow(1, "L1", "R-1", kraken.TypeRollover, "ZUSD", 0, 5, 995, "2021-01-02"),
		ledgerRow(2, "L2", "S-1", kraken.TypeSettled, "XXBT", -1, 0, 0, "2021-01-11"),
	}
	trades := []kraken.TradeRow{{
		TxID: "R-1", Pair: "XXBTZUSD", Time: date("2021-01-02"), Type: "buy",
		Margin: decimal.NewFromInt(6000),
		File:   "trades.csv", Line: 1,
	}}

	events, err := NormalizeExchange("kraken", ledger, trades, &TagSet{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	roll := events[0]
	require.Equal(t, KindMarginRollover, roll.Kind)
	require.True(t, roll.Amount.Equal(A(5, USD)), "the rollover charge is the fee column")
	require.Equal(t, "XXBTZUSD", roll.Pair)

	settle := events[1]
	require.Equal(t, KindMarginSettle, settle.Kind)
	require.Equal(t, BTC, settle.Asset)
	require.True(t, settle.Amount.Equal(A(1, BTC)), "repayment amount is the negated debit")
}

func TestNormalizeDepositDedupsRequestRow(t *testing.T) {
	ledger := []kraken.LedgerRow{
		// Request row: same refid, no txid yet.
		ledgerRow(1, "", "D-1", kraken.TypeDeposit, "ZUSD", 1000, 0, 0, "2021-01-01"),
		ledgerRow(2, "L2", "D-1", kraken.TypeDeposit, "ZUSD", 1000, 0, 1000, "2021-01-01"),
	}
	events, err := NormalizeExchange("kraken", ledger, nil, &TagSet{})
	require.NoError(t, err)
	require.Len(t, events, 1, "the request row must not double the deposit")
	require.Equal(t, KindDeposit, events[0].Kind)
	require.True(t, events[0].Amount.Equal(A(1000, USD)))
}

func TestNormalizeWithdrawalClassification(t *testing.T) {
	fiat := []kraken.LedgerRow{
		ledgerRow(1, "W1", "WD-1", kraken.TypeWithdrawal, "ZUSD", -500, 0.09, 499.91, "2021-02-01"),
	}
	events, err := NormalizeExchange("kraken", fiat, nil, &TagSet{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, KindWithdrawal, events[0].Kind)
	require.Empty(t, events[0].ToAccount, "fiat exits to a bank, not a tracked account")

	// A crypto withdrawal without a tag cannot be classified.
	crypto := []kraken.LedgerRow{
		ledgerRow(1, "W2", "WD-2", kraken.TypeWithdrawal, "XXBT", -0.5, 0.0005, 0, "2021-02-01"),
	}
	_, err = NormalizeExchange("kraken", crypto, nil, &TagSet{})
	require.ErrorIs(t, err, ErrUnclassified)
}

func TestNormalizeTaggedTransferWithdrawal(t *testing.T) {
	ts, err := ReadTags(strings.NewReader("txid,tag,detail\nW3,transfer-to,cold\n"), "tags.csv")
	require.NoError(t, err)

	ledger := []kraken.LedgerRow{
		ledgerRow(1, "W3", "WD-3", kraken.TypeWithdrawal, "XXBT", -0.5, 0.0005, 0, "2021-02-01"),
	}
	events, err := NormalizeExchange("kraken", ledger, nil, ts)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, KindWithdrawal, events[0].Kind)
	require.Equal(t, "cold", events[0].ToAccount)
	require.True(t, events[0].Amount.Equal(A(0.5, BTC)))
	require.True(t, events[0].Fee.Equal(A(0.0005, BTC)))
}

func TestNormalizeTaggedIncomeDeposit(t *testing.T) {
	ts, err := ReadTags(strings.NewReader("txid,tag,detail,usd_value_override\nD9,labor,acme,41000\n"), "tags.csv")
	require.NoError(t, err)

	ledger := []kraken.LedgerRow{
		ledgerRow(1, "D9", "D-9", kraken.TypeDeposit, "XXBT", 0.1, 0, 0.1, "2021-03-01"),
	}
	events, err := NormalizeExchange("kraken", ledger, nil, ts)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, KindIncome, events[0].Kind)
	require.Equal(t, string(TagLabor), events[0].TagID)
	require.True(t, events[0].FMVOverride.Equal(R(41000)))
}
