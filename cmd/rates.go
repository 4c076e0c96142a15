package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/mstrand/coinledger"
)

// ratesCmd holds the flags for the 'rates' subcommand.
type ratesCmd struct {
	db    string
	asset string
	at    string
}

func (*ratesCmd) Name() string     { return "rates" }
func (*ratesCmd) Synopsis() string { return "query the exchange-rates database" }
func (*ratesCmd) Usage() string {
	return `cgt rates -db <dir> -asset BTC [-at <RFC3339 instant>]

  Looks up the most recent VWAP at or before the given instant, the same
  lookup the simulator performs. Useful for auditing a single figure on a
  worksheet.
`
}

func (c *ratesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "", "Path to the exchange-rates database directory")
	f.StringVar(&c.asset, "asset", "BTC", "Asset code to look up")
	f.StringVar(&c.at, "at", time.Now().UTC().Format(time.RFC3339), "Instant to look up, RFC3339")
}

func (c *ratesCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	oracle, err := coinledger.OpenRateDB(c.db)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	asset, err := coinledger.ParseAsset(c.asset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	at, err := time.Parse(time.RFC3339, c.at)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -at instant: %v\n", err)
		return subcommands.ExitUsageError
	}
	rate, err := oracle.Rate(asset, at)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s %s = %s USD\n", at.UTC().Format(time.RFC3339), asset, rate)
	return subcommands.ExitSuccess
}
