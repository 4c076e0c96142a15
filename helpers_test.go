package coinledger

import (
	"sort"
	"time"
)

// date parses a YYYY-MM-DD test fixture date as midnight UTC.
func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

// testOracle builds a daily oracle from literal tables.
func testOracle(entries map[Asset]map[string]float64) *RateOracle {
	o := &RateOracle{granularity: 86400, tables: make(map[Asset]rateTable)}
	for asset, table := range entries {
		keys := make([]int64, 0, len(table))
		byKey := make(map[int64]Rate, len(table))
		for day, value := range table {
			ts := date(day).Unix()
			keys = append(keys, ts)
			byKey[ts] = R(value)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		rt := rateTable{keys: keys}
		for _, k := range keys {
			rt.rates = append(rt.rates, byKey[k])
		}
		o.tables[asset] = rt
	}
	return o
}
