package coinledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Rhymond/go-money"
)

// usdCents rounds an exact dollar figure to cents. All accounting upstream
// is exact; this is the one place money gets rounded.
func usdCents(d Dollars) *money.Money {
	return money.New(d.Decimal().Shift(2).Round(0).IntPart(), money.USD)
}

func usdDisplay(d Dollars) string {
	return usdCents(d).Display()
}

func worksheetDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Worksheet writes the per-lot Form 8949 rows. Capital and margin events
// produce one file per account named {prefix}{account}.csv; ordinary
// income and margin interest go to {prefix}income.csv and
// {prefix}interest.csv. Output is deterministic: accounts are sorted,
// rows keep event order.
type Worksheet struct {
	Dir    string
	Prefix string
}

var capitalHeader = []string{
	"description", "date_acquired", "date_sold",
	"proceeds", "cost_basis", "gain_loss", "term", "sourcing",
	"source_file", "source_row", "lot_id",
}

// Write renders every TaxableEvent and returns the created file paths.
func (w Worksheet) Write(events []TaxableEvent) ([]string, error) {
	byAccount := make(map[string][][]string)
	var income, interest [][]string

	for _, ev := range events {
		switch ev.Category {
		case CategoryCapital, CategoryMargin:
			for _, atom := range ev.Atoms {
				byAccount[ev.Account] = append(byAccount[ev.Account], atomRows(ev, atom)...)
			}
		case CategoryOrdinaryIncome:
			income = append(income, []string{
				worksheetDate(ev.Time), ev.Account, string(ev.Asset),
				ev.Amount.Decimal().String(), usdDisplay(ev.Proceeds),
				ev.Ref.File, fmt.Sprint(ev.Ref.Row),
			})
		case CategoryMarginInterest:
			interest = append(interest, []string{
				worksheetDate(ev.Time), ev.Account, string(ev.Asset),
				ev.Amount.Decimal().String(), usdDisplay(ev.Proceeds),
				ev.Ref.File, fmt.Sprint(ev.Ref.Row),
			})
		}
	}

	var paths []string
	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		path := filepath.Join(w.Dir, w.Prefix+account+".csv")
		if err := writeCSV(path, capitalHeader, byAccount[account]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if len(income) > 0 {
		path := filepath.Join(w.Dir, w.Prefix+"income.csv")
		header := []string{"date", "account", "asset", "amount", "fair_market_value", "source_file", "source_row"}
		if err := writeCSV(path, header, income); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if len(interest) > 0 {
		path := filepath.Join(w.Dir, w.Prefix+"interest.csv")
		header := []string{"date", "account", "asset", "amount", "interest_expense", "source_file", "source_row"}
		if err := writeCSV(path, header, interest); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// atomRows renders one atom. An atom labeled by the bona-fide-residency
// election renders twice and the two rows partition its gain: the
// US-sourced row carries the appreciation accrued before the election
// (territory basis over declared basis), the PR-sourced row everything
// after it (proceeds over territory basis).
func atomRows(ev TaxableEvent, atom TradeAtom) [][]string {
	if atom.BonaFide == nil {
		return [][]string{atomRow(ev, atom, "", atom.Proceeds(), atom.Basis())}
	}
	declared := atom.BonaFide.USBasisPerUnit.Mul(atom.Amount)
	territory := atom.BonaFide.TerritoryBasisPerUnit.Mul(atom.Amount)
	return [][]string{
		atomRow(ev, atom, "US", territory, declared),
		atomRow(ev, atom, "PR", atom.Proceeds(), territory),
	}
}

func atomRow(ev TaxableEvent, atom TradeAtom, sourcing string, proceeds, basis Dollars) []string {
	term := "short"
	if atom.LongTerm {
		term = "long"
	}
	description := atom.Amount.String()
	if ev.Category == CategoryMargin {
		description = "margin " + description
	}
	return []string{
		description,
		worksheetDate(atom.AcquiredAt),
		worksheetDate(atom.DisposedAt),
		usdDisplay(proceeds),
		usdDisplay(basis),
		usdDisplay(proceeds.Sub(basis)),
		term,
		sourcing,
		ev.Ref.File,
		fmt.Sprint(ev.Ref.Row),
		atom.LotID.String(),
	}
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("worksheet %s: %w", path, err)
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("worksheet %s: %w", path, err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("worksheet %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("worksheet %s: %w", path, err)
	}
	return f.Close()
}
