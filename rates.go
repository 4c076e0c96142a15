package coinledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateOracle answers "most recent VWAP at or before T" for every supported
// asset, against USD. It is a read-only map built in one pass over the
// exchange-rates database directory; lookups are O(log n).
//
// The oracle is granularity-agnostic: callers never learn whether the
// underlying tables are daily or hourly.
type RateOracle struct {
	granularity int64 // seconds between table keys; uniform across the db
	tables      map[Asset]rateTable
}

// rateTable holds one asset's VWAP history sorted by timestamp.
type rateTable struct {
	keys  []int64
	rates []Rate
}

// OpenRateDB builds a RateOracle from a directory of
// {YEAR}-{PROVIDER}-{PAIR}.ron files. The pair suffix selects the table
// (e.g. 2021-kraken-btcusd.ron feeds the BTC table).
func OpenRateDB(dir string) (*RateOracle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("exchange rates db: %w", err)
	}

	raw := make(map[Asset]map[int64]Rate)
	pairSuffixes := map[string]Asset{
		"btcusd": BTC, "ethusd": ETH, "ethwusd": ETHW,
		"usdcusd": USDC, "usdtusd": USDT,
		"eurusd": EUR, "chfusd": CHF, "jpyusd": JPY,
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ron") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".ron")
		var asset Asset
		for suffix, a := range pairSuffixes {
			if strings.HasSuffix(stem, "-"+suffix) {
				asset = a
				break
			}
		}
		if asset == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("exchange rates db: %w", err)
		}
		table, err := parseRateTable(string(data))
		if err != nil {
			return nil, fmt.Errorf("exchange rates db %s: %w", entry.Name(), err)
		}
		if raw[asset] == nil {
			raw[asset] = make(map[int64]Rate)
		}
		for ts, r := range table {
			raw[asset][ts] = r
		}
	}

	oracle := &RateOracle{tables: make(map[Asset]rateTable)}
	for asset, entries := range raw {
		keys := make([]int64, 0, len(entries))
		for ts := range entries {
			keys = append(keys, ts)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		rates := make([]Rate, len(keys))
		for i, ts := range keys {
			rates[i] = entries[ts]
		}
		if err := oracle.checkGranularity(keys); err != nil {
			return nil, fmt.Errorf("exchange rates db %s: %w", asset, err)
		}
		oracle.tables[asset] = rateTable{keys: keys, rates: rates}
	}
	return oracle, nil
}

// checkGranularity verifies that table keys are uniformly spaced and that
// the spacing agrees across tables. Mixed granularity would make "entry at
// or before T" ambiguous between providers.
func (o *RateOracle) checkGranularity(keys []int64) error {
	for i := 1; i < len(keys); i++ {
		step := keys[i] - keys[i-1]
		if o.granularity == 0 {
			o.granularity = step
		} else if step != o.granularity {
			return fmt.Errorf("%w: inconsistent granularity %ds vs %ds", ErrParse, step, o.granularity)
		}
	}
	return nil
}

// Rate returns the most recent USD rate for the asset at or before the
// given instant. USD is always 1. A miss is ErrNoRate.
func (o *RateOracle) Rate(a Asset, at time.Time) (Rate, error) {
	if a == USD {
		return R(1), nil
	}
	table, ok := o.tables[a]
	if !ok || len(table.keys) == 0 {
		return Rate{}, fmt.Errorf("%w: no table for %s", ErrNoRate, a)
	}
	ts := at.UTC().Unix()
	// Index of the first key strictly after ts; the entry before it is the
	// most recent one at or before ts.
	i := sort.Search(len(table.keys), func(i int) bool { return table.keys[i] > ts })
	if i == 0 {
		return Rate{}, fmt.Errorf("%w: %s at %s predates the table", ErrNoRate, a, at.UTC().Format(time.RFC3339))
	}
	return table.rates[i-1], nil
}

// Value converts an amount into dollars at the oracle rate for the
// amount's asset at the given instant.
func (o *RateOracle) Value(amount Amount, at time.Time) (Dollars, error) {
	rate, err := o.Rate(amount.Asset(), at)
	if err != nil {
		return Dollars{}, err
	}
	return rate.Mul(amount), nil
}

// parseRateTable reads a RON associative table of the two shapes the
// database builder emits:
//
//	{ 1640995200: "47034.968", 1641081600: "47196.520" }
//	{ 1640995200: (vwap: "47034.968", volume: "123.45") }
//
// There is no RON codec for Go, so this scanner accepts exactly the subset
// the builder writes.
func parseRateTable(src string) (map[int64]Rate, error) {
	out := make(map[int64]Rate)
	s := strings.TrimSpace(src)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	// Split on top-level commas only; tuple values contain commas of
	// their own.
	var entries []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				entries = append(entries, s[start:i])
				start = i + 1
			}
		}
	}
	entries = append(entries, s[start:])

	for _, line := range entries {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: bad rate entry %q", ErrParse, line)
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad rate timestamp %q: %v", ErrParse, key, err)
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "(") {
			// Tuple form: keep the vwap field, ignore the volume figure.
			vwapIdx := strings.Index(value, "vwap:")
			if vwapIdx < 0 {
				return nil, fmt.Errorf("%w: rate tuple without vwap: %q", ErrParse, value)
			}
			rest := value[vwapIdx+len("vwap:"):]
			if end := strings.IndexAny(rest, ",)"); end >= 0 {
				rest = rest[:end]
			}
			value = strings.TrimSpace(rest)
		}
		value = strings.Trim(value, `"`)
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad vwap %q: %v", ErrParse, value, err)
		}
		out[ts] = R(d)
	}
	return out, nil
}
