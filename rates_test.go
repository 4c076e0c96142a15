package coinledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseRateTableBareValues(t *testing.T) {
	table, err := parseRateTable(`{ 1640995200: "47034.968", 1641081600: "47196.520" }`)
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != 2 {
		t.Fatalf("got %d entries, want 2", len(table))
	}
	if !table[1640995200].Equal(R(47034.968)) {
		t.Errorf("entry = %s, want 47034.968", table[1640995200])
	}
}

func TestParseRateTableTuples(t *testing.T) {
	table, err := parseRateTable(`{
	1640995200: (vwap: "47034.968", volume: "123.45"),
	1641081600: (vwap: "47196.520", volume: "98.7"),
}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != 2 {
		t.Fatalf("got %d entries, want 2", len(table))
	}
	if !table[1641081600].Equal(R(47196.520)) {
		t.Errorf("entry = %s, want 47196.520", table[1641081600])
	}
}

func TestParseRateTableRejectsGarbage(t *testing.T) {
	for _, src := range []string{
		`{ notanumber: "1" }`,
		`{ 1640995200 "1" }`,
		`{ 1640995200: (volume: "1") }`,
	} {
		if _, err := parseRateTable(src); err == nil {
			t.Errorf("parseRateTable(%q) accepted garbage", src)
		}
	}
}

func TestOracleLookup(t *testing.T) {
	o := testOracle(map[Asset]map[string]float64{
		BTC: {"2021-01-01": 30000, "2021-01-02": 31000, "2021-01-03": 29000},
	})

	// At-or-before: an instant inside a day resolves to that day's entry.
	at := date("2021-01-02").Add(13 * time.Hour)
	rate, err := o.Rate(BTC, at)
	if err != nil {
		t.Fatal(err)
	}
	if !rate.Equal(R(31000)) {
		t.Errorf("rate = %s, want 31000", rate)
	}

	// Before the table starts.
	if _, err := o.Rate(BTC, date("2020-12-31")); !errors.Is(err, ErrNoRate) {
		t.Errorf("err = %v, want ErrNoRate", err)
	}
	// No table at all.
	if _, err := o.Rate(ETH, date("2021-01-02")); !errors.Is(err, ErrNoRate) {
		t.Errorf("err = %v, want ErrNoRate", err)
	}
	// USD is identity.
	rate, err = o.Rate(USD, date("2021-01-02"))
	if err != nil || !rate.Equal(R(1)) {
		t.Errorf("USD rate = %s, %v; want 1", rate, err)
	}
}

func TestOpenRateDB(t *testing.T) {
	dir := t.TempDir()
	content := `{ 1609459200: "29000", 1609545600: "29500" }`
	if err := os.WriteFile(filepath.Join(dir, "2021-kraken-btcusd.ron"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Files without a recognized pair suffix are skipped.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	o, err := OpenRateDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	rate, err := o.Rate(BTC, date("2021-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	if !rate.Equal(R(29500)) {
		t.Errorf("rate = %s, want 29500", rate)
	}
}

func TestOpenRateDBRejectsMixedGranularity(t *testing.T) {
	dir := t.TempDir()
	content := `{ 1609459200: "29000", 1609545600: "29500", 1609549200: "29600" }`
	if err := os.WriteFile(filepath.Join(dir, "2021-kraken-btcusd.ron"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenRateDB(dir); !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestOracleValue(t *testing.T) {
	o := testOracle(map[Asset]map[string]float64{BTC: {"2021-01-01": 30000}})
	usd, err := o.Value(A(0.5, BTC), date("2021-01-01"))
	if err != nil {
		t.Fatal(err)
	}
	if !usd.Equal(Usd(15000)) {
		t.Errorf("value = %s, want 15000 USD", usd)
	}
}
