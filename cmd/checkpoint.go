package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mstrand/coinledger"
)

// checkpointCmd holds the flags for the 'checkpoint' subcommand.
type checkpointCmd struct {
	path string
}

func (*checkpointCmd) Name() string     { return "checkpoint" }
func (*checkpointCmd) Synopsis() string { return "inspect a checkpoint file" }
func (*checkpointCmd) Usage() string {
	return `cgt checkpoint <path>

  Prints the balances and open margin positions a checkpoint carries.
`
}

func (c *checkpointCmd) SetFlags(f *flag.FlagSet) {}

func (c *checkpointCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "checkpoint: expected exactly one path")
		return subcommands.ExitUsageError
	}
	state, err := coinledger.ReadCheckpoint(f.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	for _, key := range state.Lots.Accounts() {
		balance := state.Lots.Balance(key.Account, key.Asset)
		lots := len(state.Lots.Queue(key.Account, key.Asset))
		fmt.Printf("%-20s %-5s %s (%d lots)\n", key.Account, key.Asset, balance.Decimal(), lots)
	}
	for _, pos := range state.Margins {
		if !pos.IsOpen() {
			continue
		}
		fmt.Printf("margin %-12s %-5s %s %s opened %s\n",
			pos.ID, pos.Side, pos.Volume, pos.Pair, pos.OpenedAt.UTC().Format("2006-01-02"))
	}
	return subcommands.ExitSuccess
}
