package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/mstrand/coinledger"
)

// computeCmd holds the flags for the 'compute' subcommand.
type computeCmd struct {
	config string
}

func (*computeCmd) Name() string     { return "compute" }
func (*computeCmd) Synopsis() string { return "run the capital-gains computation for one tax year" }
func (*computeCmd) Usage() string {
	return `cgt compute -c <config.toml>

  Reads the configured exchange and wallet exports, replays every economic
  event against the lot queues, and writes the Form 8949 worksheets and the
  output checkpoint.
`
}

func (c *computeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "c", "coinledger.toml", "Path to the run configuration file")
}

func (c *computeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := Logger()
	cfg, err := coinledger.LoadConfig(c.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if err := coinledger.NewEngine(cfg, log).Run(ctx); err != nil {
		log.Error().Err(err).Msg("run failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
