package cmd

import (
	"flag"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&computeCmd{}, "accounting")
	c.Register(&checkpointCmd{}, "accounting")

	c.Register(&ratesCmd{}, "rates")

	c.Register(&versionCmd{}, "")
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
}

var verbose = flag.Bool("v", false, "enable debug logging")

// Logger builds the process logger. Output is human-readable on a
// terminal; set COINLEDGER_LOG_JSON for structured output.
func Logger() zerolog.Logger {
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	if os.Getenv("COINLEDGER_LOG_JSON") != "" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
