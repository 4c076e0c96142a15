package coinledger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mstrand/coinledger/chain"
	"github.com/mstrand/coinledger/kraken"
	"github.com/mstrand/coinledger/wallet"
)

// resolveParallelism bounds the I/O-parallel transaction resolution phase.
// Esplora instances throttle aggressively beyond a handful of streams.
const resolveParallelism = 8

// Engine drives one run end to end: load state, parse inputs, resolve
// on-chain transactions, normalize, merge, simulate, write worksheets and
// the output checkpoint. Everything after the resolution phase is
// single-threaded and deterministic.
type Engine struct {
	cfg *Config
	log zerolog.Logger
}

func NewEngine(cfg *Config, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Run executes the engine. No state is committed until the worksheets are
// written and the checkpoint renamed into place; a failed run leaves the
// previous checkpoint untouched.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.cfg

	oracle, err := OpenRateDB(cfg.RatesDB)
	if err != nil {
		return err
	}

	state := NewAccountState()
	if cfg.CheckpointIn != "" {
		if state, err = ReadCheckpoint(cfg.CheckpointIn); err != nil {
			return err
		}
		e.log.Info().Str("path", cfg.CheckpointIn).Msg("loaded checkpoint")
	}
	if residency, err := cfg.Residency(); err != nil {
		return err
	} else if !residency.IsZero() {
		state.ResidencyStart = residency
	}

	tags := &TagSet{}
	if cfg.Tags != "" {
		if tags, err = readTagsFile(cfg.Tags); err != nil {
			return err
		}
	}
	var overrides *BasisOverrides
	if cfg.BasisOverrides != "" {
		if overrides, err = readOverridesFile(cfg.BasisOverrides); err != nil {
			return err
		}
	}

	var streams [][]NormalizedEvent
	for _, ex := range cfg.Exchanges {
		stream, err := e.normalizeExchange(ex, tags)
		if err != nil {
			return err
		}
		streams = append(streams, stream)
	}

	records, err := e.readWalletHistories()
	if err != nil {
		return err
	}
	var cache *chain.Cache
	if len(records) > 0 {
		var stream []NormalizedEvent
		if stream, cache, err = e.normalizeWallets(ctx, records, tags); err != nil {
			return err
		}
		streams = append(streams, stream)
	}

	merged := Merge(streams...)
	e.log.Info().Int("events", len(merged)).Msg("merged event stream")

	collateral, err := cfg.Collateral()
	if err != nil {
		return err
	}
	sim := NewSimulator(state, oracle, overrides, collateral, e.log)
	events, err := sim.Run(merged)
	if err != nil {
		return err
	}
	e.log.Info().Int("taxable", len(events)).Msg("simulation complete")

	var capitalGain, ordinaryIncome, interestExpense Dollars
	for _, ev := range events {
		switch ev.Category {
		case CategoryCapital, CategoryMargin:
			capitalGain = capitalGain.Add(ev.Gain())
		case CategoryOrdinaryIncome:
			ordinaryIncome = ordinaryIncome.Add(ev.Proceeds)
		case CategoryMarginInterest:
			interestExpense = interestExpense.Add(ev.Proceeds)
		}
	}
	e.log.Info().
		Str("capital_gain", capitalGain.String()).
		Str("ordinary_income", ordinaryIncome.String()).
		Str("interest_expense", interestExpense.String()).
		Msg("summary totals")

	sheet := Worksheet{Dir: cfg.WorksheetDir, Prefix: cfg.WorksheetPrefix}
	paths, err := sheet.Write(events)
	if err != nil {
		return err
	}
	for _, p := range paths {
		e.log.Info().Str("path", p).Msg("worksheet written")
	}

	if cfg.CheckpointOut != "" {
		if err := WriteCheckpoint(cfg.CheckpointOut, state); err != nil {
			return err
		}
		e.log.Info().Str("path", cfg.CheckpointOut).Msg("checkpoint written")
	}
	// The memo file is written only now, at clean shutdown.
	if cache != nil {
		if err := cache.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) normalizeExchange(ex ExchangeConfig, tags *TagSet) ([]NormalizedEvent, error) {
	var ledger []kraken.LedgerRow
	for _, path := range ex.Ledgers {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("ledger %s: %w", path, err)
		}
		rows, err := kraken.ReadLedger(f, path)
		f.Close()
		if err != nil {
			return nil, err
		}
		ledger = append(ledger, rows...)
	}
	var trades []kraken.TradeRow
	for _, path := range ex.Trades {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("trades %s: %w", path, err)
		}
		rows, err := kraken.ReadTrades(f, path)
		f.Close()
		if err != nil {
			return nil, err
		}
		trades = append(trades, rows...)
	}
	e.log.Info().Str("exchange", ex.ID).Int("ledger_rows", len(ledger)).Int("trade_rows", len(trades)).Msg("exchange export read")
	return NormalizeExchange(ex.ID, ledger, trades, tags)
}

func (e *Engine) readWalletHistories() ([]wallet.Record, error) {
	var records []wallet.Record
	for _, w := range e.cfg.Wallets {
		reader, err := wallet.ForFormat(w.Format)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
		}
		for _, path := range w.Histories {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
			}
			rows, err := reader.Read(f, w.ID, path)
			f.Close()
			if err != nil {
				return nil, err
			}
			records = append(records, rows...)
		}
	}
	return records, nil
}

func (e *Engine) normalizeWallets(ctx context.Context, records []wallet.Record, tags *TagSet) ([]NormalizedEvent, *chain.Cache, error) {
	cfg := e.cfg
	var resolver chain.Resolver
	if cfg.Backend.Kind == "bitcoind" {
		resolver = chain.NewBitcoind(cfg.Backend.URL, cfg.Backend.Username, cfg.Backend.Password)
	} else {
		url := cfg.Backend.URL
		if url == "" {
			url = "https://blockstream.info/api"
			if chain.Network(cfg.Network) == chain.Testnet {
				url = "https://blockstream.info/testnet/api"
			}
		}
		resolver = chain.NewEsplora(url, cfg.Backend.Username, cfg.Backend.Password)
	}
	cacheDir := cfg.Backend.CacheDir
	if cacheDir == "" {
		var err error
		if cacheDir, err = os.UserCacheDir(); err != nil {
			return nil, nil, fmt.Errorf("%w: no cache directory: %v", ErrBackend, err)
		}
	}
	cache, err := chain.OpenCache(cacheDir, resolver)
	if err != nil {
		return nil, nil, err
	}

	txids := make([]string, 0, len(records))
	for _, rec := range records {
		txids = append(txids, rec.TxID)
	}
	start := time.Now()
	txs, err := chain.ResolveAll(ctx, cache, txids, resolveParallelism)
	if err != nil {
		return nil, nil, err
	}
	e.log.Info().Int("transactions", len(txs)).Dur("took", time.Since(start)).Msg("on-chain transactions resolved")

	stream, err := NormalizeWallets(records, cfg.Ownership(), txs, tags)
	if err != nil {
		return nil, nil, err
	}
	return stream, cache, nil
}

func readTagsFile(path string) (*TagSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tags %s: %w", path, err)
	}
	defer f.Close()
	return ReadTags(f, path)
}

func readOverridesFile(path string) (*BasisOverrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("basis overrides %s: %w", path, err)
	}
	defer f.Close()
	return ReadBasisOverrides(f, path)
}
