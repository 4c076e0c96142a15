package wallet

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestElectrumRead(t *testing.T) {
	const export = `transaction_hash,label,confirmations,value,fiat_value,fee,fiat_fee,timestamp
aa11,from pool,120,+0.5,15000.,,,2021-01-05 14:30
bb22,coffee,80,-0.013,-390.,0.0001,3.,2021-02-01 09:15
`
	records, err := Electrum{}.Read(strings.NewReader(export), "hot", "hot.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	r := records[0]
	if r.TxID != "aa11" || r.WalletID != "hot" || r.File != "hot.csv" || r.Line != 1 {
		t.Errorf("record = %+v", r)
	}
	if !r.Net().Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("net = %s", r.Net())
	}
	want := time.Date(2021, 1, 5, 14, 30, 0, 0, time.UTC)
	if !r.Time.Equal(want) {
		t.Errorf("time = %s", r.Time)
	}
	if !records[1].Net().Equal(decimal.RequireFromString("-0.013")) {
		t.Errorf("outbound net = %s", records[1].Net())
	}
}

func TestLedgerLiveRead(t *testing.T) {
	const export = `Operation Date,Currency Ticker,Operation Type,Operation Amount,Operation Fees,Operation Hash,Account Name,Account xpub
2021-01-05T14:30:00.000Z,BTC,IN,0.5,,aa11,BTC main,xpub1
2021-02-01T09:15:00.000Z,BTC,OUT,0.0131,0.0001,bb22,BTC main,xpub1
2021-02-02T10:00:00.000Z,ETH,IN,1.5,,cc33,ETH main,xpub2
2021-03-01T08:00:00.000Z,BTC,FEES,0,0.0002,dd44,BTC main,xpub1
`
	records, err := LedgerLive{}.Read(strings.NewReader(export), "ledger", "ledger.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (the ETH row is skipped)", len(records))
	}
	// OUT rows are unsigned in the export, negative in the record.
	if !records[1].Net().Equal(decimal.RequireFromString("-0.0131")) {
		t.Errorf("OUT net = %s", records[1].Net())
	}
	// FEES rows flow only the fee.
	if !records[2].Net().Equal(decimal.RequireFromString("-0.0002")) {
		t.Errorf("FEES net = %s", records[2].Net())
	}
}

func TestLedgerLiveRejectsUnknownType(t *testing.T) {
	const export = `Operation Date,Currency Ticker,Operation Type,Operation Amount,Operation Hash
2021-01-05T14:30:00.000Z,BTC,STAKE,0.5,aa11
`
	if _, err := (LedgerLive{}).Read(strings.NewReader(export), "ledger", "ledger.csv"); err == nil {
		t.Fatal("unknown operation type accepted")
	}
}

func TestGenericFoldsRowsByTxID(t *testing.T) {
	const export = `txid,timestamp,address,amount
aa11,2021-01-05T14:30:00Z,bc1qfirst,0.3
aa11,2021-01-05T14:30:00Z,bc1qsecond,0.2
bb22,2021-02-01T09:15:00Z,bc1qfirst,-0.1
`
	records, err := Generic{}.Read(strings.NewReader(export), "hot", "hot.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (shared txid folds)", len(records))
	}
	r := records[0]
	if !r.Net().Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("folded net = %s", r.Net())
	}
	if !r.NetFlow["bc1qsecond"].Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("per-address flow = %s", r.NetFlow["bc1qsecond"])
	}
}

func TestReadersRejectMissingColumns(t *testing.T) {
	if _, err := (Electrum{}).Read(strings.NewReader("transaction_hash,label\naa,x\n"), "w", "f"); err == nil {
		t.Error("electrum accepted export without value column")
	}
	if _, err := (Generic{}).Read(strings.NewReader("txid,amount\naa,1\n"), "w", "f"); err == nil {
		t.Error("generic accepted export without timestamp column")
	}
}

func TestForFormat(t *testing.T) {
	for _, format := range []string{"electrum", "ledgerlive", "generic"} {
		r, err := ForFormat(format)
		if err != nil {
			t.Errorf("ForFormat(%q): %v", format, err)
			continue
		}
		if r.Format() != format {
			t.Errorf("ForFormat(%q).Format() = %q", format, r.Format())
		}
	}
	if _, err := ForFormat("exodus"); err == nil {
		t.Error("unknown format accepted")
	}
}
