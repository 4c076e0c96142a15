package kraken

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestReadLedger(t *testing.T) {
	const export = `"txid","refid","time","type","subtype","aclass","asset","amount","fee","balance"
"L1","T-1","2021-01-05 14:30:00","trade","","currency","ZUSD","-30000.0000","48.0000","20000.0000"
"L2","T-1","2021-01-05 14:30:00","trade","","currency","XXBT","1.0000000000","0.0000000000","1.0000000000"
`
	rows, err := ReadLedger(strings.NewReader(export), "ledger.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	r := rows[0]
	if r.TxID != "L1" || r.RefID != "T-1" || r.Type != "trade" || r.Asset != "ZUSD" {
		t.Errorf("row = %+v", r)
	}
	if !r.Amount.Equal(decimal.RequireFromString("-30000")) {
		t.Errorf("amount = %s", r.Amount)
	}
	if !r.Fee.Equal(decimal.RequireFromString("48")) {
		t.Errorf("fee = %s", r.Fee)
	}
	if !r.Balance.Equal(decimal.RequireFromString("20000")) {
		t.Errorf("balance = %s", r.Balance)
	}
	want := time.Date(2021, 1, 5, 14, 30, 0, 0, time.UTC)
	if !r.Time.Equal(want) {
		t.Errorf("time = %s", r.Time)
	}
	if r.File != "ledger.csv" || r.Line != 1 || rows[1].Line != 2 {
		t.Errorf("provenance = %s:%d", r.File, r.Line)
	}
}

func TestReadLedgerIgnoresExtraColumns(t *testing.T) {
	const export = `refid,time,type,asset,amount,wallet,futures_margin
T-1,2021-01-05 14:30:00,trade,ZUSD,-30000,spot,no
`
	rows, err := ReadLedger(strings.NewReader(export), "ledger.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].RefID != "T-1" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestReadLedgerRejectsMissingColumn(t *testing.T) {
	const export = `refid,time,type,asset
T-1,2021-01-05 14:30:00,trade,ZUSD
`
	if _, err := ReadLedger(strings.NewReader(export), "ledger.csv"); err == nil {
		t.Fatal("export without amount column accepted")
	}
}

func TestReadTrades(t *testing.T) {
	const export = `"txid","ordertxid","pair","time","type","ordertype","price","cost","fee","vol","margin","misc","ledgers"
"T-1","O-1","XXBTZUSD","2021-01-05 14:30:00.1234","buy","limit","30000.0","30000.0","48.0","1.0","0.0","","L1,L2"
"T-2","O-2","XXBTZUSD","2021-01-11 10:00:00","sell","market","35000.0","35000.0","56.0","1.0","7000.0","closing","L3,L4"
`
	rows, err := ReadTrades(strings.NewReader(export), "trades.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	spot, margin := rows[0], rows[1]
	if spot.IsMargin() {
		t.Error("zero margin column reported as margin trade")
	}
	if !margin.IsMargin() {
		t.Error("non-zero margin column not reported as margin trade")
	}
	if margin.Misc != "closing" {
		t.Errorf("misc = %q", margin.Misc)
	}
	if !spot.Price.Equal(decimal.RequireFromString("30000")) {
		t.Errorf("price = %s", spot.Price)
	}
	// Sub-second precision survives.
	if spot.Time.Nanosecond() == 0 {
		t.Errorf("time = %s lost sub-second precision", spot.Time)
	}
}

func TestParseTimeFormats(t *testing.T) {
	for _, s := range []string{
		"2021-01-05 14:30:00.1234",
		"2021-01-05 14:30:00",
		"2021-01-05T14:30:00Z",
	} {
		ts, err := parseTime(s)
		if err != nil {
			t.Errorf("parseTime(%q): %v", s, err)
			continue
		}
		if ts.Year() != 2021 || ts.Location() != time.UTC {
			t.Errorf("parseTime(%q) = %s", s, ts)
		}
	}
	if _, err := parseTime("05/01/2021"); err == nil {
		t.Error("ambiguous date format accepted")
	}
}
