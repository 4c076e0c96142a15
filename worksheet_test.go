package coinledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWorksheetCapitalRows(t *testing.T) {
	dir := t.TempDir()
	events := []TaxableEvent{{
		Time: date("2021-06-01"), Account: "kraken", Asset: BTC,
		Amount: A(0.5, BTC), Proceeds: Usd(30000),
		Atoms: []TradeAtom{{
			LotID: 2, Amount: A(0.5, BTC),
			BasisPerUnit: R(50000), ProceedsPerUnit: R(60000),
			AcquiredAt: date("2020-03-01"), DisposedAt: date("2021-06-01"),
			LongTerm: true,
		}},
		Category: CategoryCapital,
		Ref:      RowRef{File: "ledger.csv", Row: 42},
	}}

	paths, err := Worksheet{Dir: dir, Prefix: "8949-"}.Write(events)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "8949-kraken.csv")}, paths)

	rows := readCSV(t, paths[0])
	require.Equal(t, capitalHeader, rows[0])
	require.Len(t, rows, 2)
	row := rows[1]
	require.Equal(t, "0.5 BTC", row[0])
	require.Equal(t, "2020-03-01", row[1])
	require.Equal(t, "2021-06-01", row[2])
	require.Equal(t, "$30,000.00", row[3])
	require.Equal(t, "$25,000.00", row[4])
	require.Equal(t, "$5,000.00", row[5])
	require.Equal(t, "long", row[6])
	require.Equal(t, "", row[7])
	require.Equal(t, "ledger.csv", row[8])
	require.Equal(t, "42", row[9])
	require.Equal(t, "lot-2", row[10])
}

func TestWorksheetBonaFideDoublesRow(t *testing.T) {
	dir := t.TempDir()
	events := []TaxableEvent{{
		Time: date("2021-01-01"), Account: "kraken", Asset: BTC,
		Amount: A(1, BTC), Proceeds: Usd(30000),
		Atoms: []TradeAtom{{
			LotID: 7, Amount: A(1, BTC),
			BasisPerUnit: R(4000), ProceedsPerUnit: R(30000),
			AcquiredAt: date("2019-01-01"), DisposedAt: date("2021-01-01"),
			LongTerm: true,
			BonaFide: &BonaFideSplit{USBasisPerUnit: R(4000), TerritoryBasisPerUnit: R(3700)},
		}},
		Category: CategoryCapital,
		Ref:      RowRef{File: "ledger.csv", Row: 9},
	}}

	paths, err := Worksheet{Dir: dir, Prefix: "8949-"}.Write(events)
	require.NoError(t, err)

	rows := readCSV(t, paths[0])
	require.Len(t, rows, 3, "one labeled atom renders as two sourcing rows")

	// The lot appreciated 4000 → 3700 → 30000 across the election date;
	// the rows split the 26000 total gain at the territory basis.
	us, pr := rows[1], rows[2]
	require.Equal(t, "US", us[7])
	require.Equal(t, "$3,700.00", us[3])
	require.Equal(t, "$4,000.00", us[4])
	require.Equal(t, "-$300.00", us[5])
	require.Equal(t, "PR", pr[7])
	require.Equal(t, "$30,000.00", pr[3])
	require.Equal(t, "$3,700.00", pr[4])
	require.Equal(t, "$26,300.00", pr[5])
	// Dates agree between the two rows.
	require.Equal(t, us[1], pr[1])
	require.Equal(t, us[2], pr[2])
}

func TestWorksheetSplitsFilesPerAccount(t *testing.T) {
	dir := t.TempDir()
	atom := TradeAtom{LotID: 1, Amount: A(0.1, BTC), BasisPerUnit: R(10000), ProceedsPerUnit: R(20000),
		AcquiredAt: date("2020-01-01"), DisposedAt: date("2021-01-01")}
	events := []TaxableEvent{
		{Time: date("2021-01-01"), Account: "hot", Asset: BTC, Amount: A(0.1, BTC),
			Proceeds: Usd(2000), Atoms: []TradeAtom{atom}, Category: CategoryCapital},
		{Time: date("2021-01-01"), Account: "kraken", Asset: BTC, Amount: A(0.1, BTC),
			Proceeds: Usd(2000), Atoms: []TradeAtom{atom}, Category: CategoryCapital},
		{Time: date("2021-03-01"), Account: "kraken", Asset: BTC, Amount: A(0.05, BTC),
			Proceeds: Usd(400), Category: CategoryOrdinaryIncome, Ref: RowRef{File: "tags.csv", Row: 2}},
		{Time: date("2021-12-31"), Account: "kraken", Asset: USD, Amount: A(50, USD),
			Proceeds: Usd(50), Category: CategoryMarginInterest},
	}

	paths, err := Worksheet{Dir: dir, Prefix: "8949-"}.Write(events)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "8949-hot.csv"),
		filepath.Join(dir, "8949-kraken.csv"),
		filepath.Join(dir, "8949-income.csv"),
		filepath.Join(dir, "8949-interest.csv"),
	}, paths)

	income := readCSV(t, filepath.Join(dir, "8949-income.csv"))
	require.Len(t, income, 2)
	require.Equal(t, []string{"2021-03-01", "kraken", "BTC", "0.05", "$400.00", "tags.csv", "2"}, income[1])

	interest := readCSV(t, filepath.Join(dir, "8949-interest.csv"))
	require.Len(t, interest, 2)
	require.Equal(t, "$50.00", interest[1][4])
}

func TestWorksheetMarginDescription(t *testing.T) {
	dir := t.TempDir()
	events := []TaxableEvent{{
		Time: date("2021-01-11"), Account: "kraken", Asset: BTC,
		Amount: A(1, BTC), Proceeds: Usd(5000),
		Atoms: []TradeAtom{{
			Amount: A(1, BTC), ProceedsPerUnit: R(5000),
			AcquiredAt: date("2021-01-01"), DisposedAt: date("2021-01-11"),
		}},
		Category: CategoryMargin,
	}}

	paths, err := Worksheet{Dir: dir, Prefix: ""}.Write(events)
	require.NoError(t, err)

	rows := readCSV(t, paths[0])
	require.Equal(t, "margin 1 BTC", rows[1][0])
	require.Equal(t, "$5,000.00", rows[1][3])
	require.Equal(t, "$0.00", rows[1][4], "margin P/L has no lot basis")
}

func TestUsdCentsRounding(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1234.5, "$1,234.50"},
		{0.005, "$0.01"}, // half away from zero
		{-25, "-$25.00"},
		{0.004, "$0.00"},
	}
	for _, tt := range tests {
		if got := usdDisplay(Usd(tt.in)); got != tt.want {
			t.Errorf("usdDisplay(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
