package coinledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountState is the complete mutable state of a simulation run. It is
// what checkpoints persist between tax years.
type AccountState struct {
	Lots           *LotStore
	Margins        []*MarginPosition
	ResidencyStart time.Time // zero when no bona-fide election applies
}

// NewAccountState returns an empty state.
func NewAccountState() *AccountState {
	return &AccountState{Lots: NewLotStore()}
}

// defaultCollateral is the loss-deduction preference order used when the
// configuration declares none: stable value first, volatile assets last.
var defaultCollateral = []Asset{USD, USDC, USDT, EUR, CHF, JPY, BTC, ETH}

// Simulator consumes the merged event stream and updates one AccountState.
// It is single-threaded and deterministic: the same stream against the
// same state and oracle always yields the same TaxableEvents and the same
// lot ids.
type Simulator struct {
	state      *AccountState
	oracle     *RateOracle
	overrides  *BasisOverrides
	collateral []Asset
	log        zerolog.Logger

	events []TaxableEvent
}

// NewSimulator binds a simulator to its state. The collateral slice is the
// preference order for deducting realized margin losses; nil selects the
// default order.
func NewSimulator(state *AccountState, oracle *RateOracle, overrides *BasisOverrides, collateral []Asset, log zerolog.Logger) *Simulator {
	if len(collateral) == 0 {
		collateral = defaultCollateral
	}
	return &Simulator{
		state:      state,
		oracle:     oracle,
		overrides:  overrides,
		collateral: collateral,
		log:        log,
	}
}

// Run applies the stream in order and returns the TaxableEvents it emitted.
// Any error aborts the run; the state is then not fit for checkpointing.
func (s *Simulator) Run(stream []NormalizedEvent) ([]TaxableEvent, error) {
	for _, ev := range stream {
		var err error
		switch ev.Kind {
		case KindDeposit:
			err = s.applyDeposit(ev)
		case KindWithdrawal:
			err = s.applyWithdrawal(ev)
		case KindTradeLeg:
			err = s.applyTradeLeg(ev)
		case KindFee:
			err = s.payFee(ev.Account, ev.Amount, ev.Time, ev.Ref)
		case KindIncome:
			err = s.applyIncome(ev)
		case KindSpend:
			err = s.applySpend(ev)
		case KindInternalMove:
			err = s.applyInternalMove(ev)
		case KindMarginOpen:
			err = s.applyMarginOpen(ev)
		case KindMarginRollover:
			err = s.applyMarginRollover(ev)
		case KindMarginSettle:
			err = s.applyMarginSettle(ev)
		case KindMarginClose:
			err = s.applyMarginClose(ev)
		default:
			err = fmt.Errorf("%w: unhandled event kind %q", ErrParse, ev.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Ref, err)
		}
		s.reconcile(ev)
	}
	return s.events, nil
}

func (s *Simulator) emit(ev TaxableEvent) {
	s.log.Debug().
		Str("category", string(ev.Category)).
		Str("asset", string(ev.Asset)).
		Str("amount", ev.Amount.Decimal().String()).
		Str("gain", ev.Gain().Decimal().String()).
		Str("ref", ev.Ref.String()).
		Msg("taxable event")
	s.events = append(s.events, ev)
}

// finalize stamps disposition metadata onto consumed atoms and applies the
// bona-fide-residency labeling to atoms acquired before the election date.
// The labeling is output-only: lot accounting is unchanged by it.
func (s *Simulator) finalize(atoms []TradeAtom, perUnit Rate, disposedAt time.Time) ([]TradeAtom, error) {
	for i := range atoms {
		atoms[i].ProceedsPerUnit = perUnit
		atoms[i].DisposedAt = disposedAt
		atoms[i].LongTerm = LongTerm(atoms[i].AcquiredAt, disposedAt)

		start := s.state.ResidencyStart
		if start.IsZero() || !atoms[i].AcquiredAt.Before(start) {
			continue
		}
		historical, err := s.oracle.Rate(atoms[i].Amount.Asset(), atoms[i].AcquiredAt)
		if err != nil {
			return nil, err
		}
		atoms[i].BonaFide = &BonaFideSplit{
			USBasisPerUnit:        atoms[i].BasisPerUnit,
			TerritoryBasisPerUnit: historical,
		}
	}
	return atoms, nil
}

// payFee treats a fee as a micro-sale: the fee amount is basis-consumed
// FIFO with zero proceeds, a capital loss equal to the basis. Fiat is no
// exception; a dollar fee books a one-dollar loss.
func (s *Simulator) payFee(account string, fee Amount, at time.Time, ref RowRef) error {
	if !fee.IsPositive() {
		return nil
	}
	atoms, err := s.state.Lots.Consume(account, fee.Asset(), fee)
	if err != nil {
		return err
	}
	atoms, err = s.finalize(atoms, R(0), at)
	if err != nil {
		return err
	}
	s.emit(TaxableEvent{
		Time:     at,
		Account:  account,
		Asset:    fee.Asset(),
		Amount:   fee,
		Proceeds: Usd(0),
		Atoms:    atoms,
		Category: CategoryCapital,
		Ref:      ref,
	})
	return nil
}

// feeLossFromAtoms emits the fee micro-sale for atoms already carved off an
// on-chain input pool (the miner fee remainder of a send).
func (s *Simulator) feeLossFromAtoms(account string, atoms []TradeAtom, at time.Time, ref RowRef) error {
	if len(atoms) == 0 {
		return nil
	}
	total := A(0, atoms[0].Amount.Asset())
	for _, atom := range atoms {
		total = total.Add(atom.Amount)
	}
	atoms, err := s.finalize(atoms, R(0), at)
	if err != nil {
		return err
	}
	s.emit(TaxableEvent{
		Time:     at,
		Account:  account,
		Asset:    total.Asset(),
		Amount:   total,
		Proceeds: Usd(0),
		Atoms:    atoms,
		Category: CategoryCapital,
		Ref:      ref,
	})
	return nil
}

// ---- deposits, income ----

func (s *Simulator) applyDeposit(ev NormalizedEvent) error {
	if len(ev.Outputs) > 0 {
		// External on-chain deposit: basis must come from the overrides
		// file, there is no purchase record to derive it from.
		for _, utxo := range ev.Outputs {
			ov, ok := s.overrides.Lookup(utxo.OutPoint)
			if !ok {
				return fmt.Errorf("%w: utxo %s has no basis override", ErrBootstrapIncomplete, utxo.OutPoint)
			}
			_, err := s.state.Lots.Push(utxo.Wallet, Lot{
				Asset:        utxo.Amount.Asset(),
				Remaining:    utxo.Amount,
				BasisPerUnit: ov.BasisPerUnit,
				AcquiredAt:   ov.AcquiredAt,
				Origin:       Origin{Kind: OriginBootstrap, OutPoint: utxo.OutPoint, Ref: ev.Ref},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
	if !ev.Asset.IsFiat() {
		return fmt.Errorf("%w: exchange deposit of %s %s has no transfer or income tag", ErrBootstrapIncomplete, ev.Amount, ev.Asset)
	}
	rate, err := s.oracle.Rate(ev.Asset, ev.Time)
	if err != nil {
		return err
	}
	if _, err := s.state.Lots.Push(ev.Account, Lot{
		Asset:        ev.Asset,
		Remaining:    ev.Amount,
		BasisPerUnit: rate,
		AcquiredAt:   ev.Time,
		Origin:       Origin{Kind: OriginBootstrap, Ref: ev.Ref},
	}); err != nil {
		return err
	}
	return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

func (s *Simulator) applyIncome(ev NormalizedEvent) error {
	rate := ev.FMVOverride
	if rate.IsZero() {
		var err error
		if rate, err = s.oracle.Rate(ev.Asset, ev.Time); err != nil {
			return err
		}
	}
	origin := Origin{Kind: OriginIncome, Ref: ev.Ref, Tag: ev.TagID}
	if len(ev.Outputs) > 0 {
		origin.OutPoint = ev.Outputs[0].OutPoint
	}
	if _, err := s.state.Lots.Push(ev.Account, Lot{
		Asset:        ev.Asset,
		Remaining:    ev.Amount,
		BasisPerUnit: rate,
		AcquiredAt:   ev.Time,
		Origin:       origin,
	}); err != nil {
		return err
	}
	// Informational: income totals are reported, but the rows never reach
	// the capital-gains worksheet.
	s.emit(TaxableEvent{
		Time:     ev.Time,
		Account:  ev.Account,
		Asset:    ev.Asset,
		Amount:   ev.Amount,
		Proceeds: rate.Mul(ev.Amount),
		Category: CategoryOrdinaryIncome,
		Ref:      ev.Ref,
	})
	return nil
}

// ---- trades ----

func (s *Simulator) applyTradeLeg(ev NormalizedEvent) error {
	switch ev.Side {
	case SideSell:
		return s.applySell(ev)
	case SideBuy:
		return s.applyBuy(ev)
	}
	return fmt.Errorf("%w: trade leg without a side", ErrParse)
}

func (s *Simulator) applySell(ev NormalizedEvent) error {
	if ev.Asset == USD {
		// Spending dollars is not a disposition.
		if _, err := s.state.Lots.Consume(ev.Account, USD, ev.Amount); err != nil {
			return err
		}
		return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
	}
	proceeds, err := s.oracle.Value(ev.Quote, ev.Time)
	if err != nil {
		return err
	}
	atoms, err := s.state.Lots.Consume(ev.Account, ev.Asset, ev.Amount)
	if err != nil {
		return err
	}
	if atoms, err = s.finalize(atoms, proceeds.PerUnit(ev.Amount), ev.Time); err != nil {
		return err
	}
	s.emit(TaxableEvent{
		Time:     ev.Time,
		Account:  ev.Account,
		Asset:    ev.Asset,
		Amount:   ev.Amount,
		Proceeds: proceeds,
		Atoms:    atoms,
		Category: CategoryCapital,
		Ref:      ev.Ref,
	})
	return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

func (s *Simulator) applyBuy(ev NormalizedEvent) error {
	basis := R(1)
	if ev.Asset != USD {
		cost, err := s.oracle.Value(ev.Quote, ev.Time)
		if err != nil {
			return err
		}
		basis = cost.PerUnit(ev.Amount)
	}
	if _, err := s.state.Lots.Push(ev.Account, Lot{
		Asset:        ev.Asset,
		Remaining:    ev.Amount,
		BasisPerUnit: basis,
		AcquiredAt:   ev.Time,
		Origin:       Origin{Kind: OriginExchangeBuy, Ref: ev.Ref},
	}); err != nil {
		return err
	}
	// The purchase is credited in full before the fee so a fee taken out
	// of the bought units (or out of fresh sale proceeds) finds its lot.
	return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

// ---- spends, withdrawals, transfers ----

func (s *Simulator) applySpend(ev NormalizedEvent) error {
	rate := R(0)
	if ev.TagID != string(TagLost) {
		var err error
		if rate, err = s.oracle.Rate(ev.Asset, ev.Time); err != nil {
			return err
		}
	}

	if len(ev.OutPoints) == 0 {
		// Exchange-side spend.
		atoms, err := s.state.Lots.Consume(ev.Account, ev.Asset, ev.Amount)
		if err != nil {
			return err
		}
		if atoms, err = s.finalize(atoms, rate, ev.Time); err != nil {
			return err
		}
		s.emit(TaxableEvent{
			Time:     ev.Time,
			Account:  ev.Account,
			Asset:    ev.Asset,
			Amount:   ev.Amount,
			Proceeds: rate.Mul(ev.Amount),
			Atoms:    atoms,
			Category: CategoryCapital,
			Ref:      ev.Ref,
		})
		return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
	}

	pool, err := s.consumeInputs(ev.Account, ev.OutPoints)
	if err != nil {
		return err
	}
	cursor := atomCursor{pool: pool}
	spent := cursor.take(ev.Amount)
	if spent, err = s.finalize(spent, rate, ev.Time); err != nil {
		return err
	}
	s.emit(TaxableEvent{
		Time:     ev.Time,
		Account:  ev.Account,
		Asset:    ev.Asset,
		Amount:   ev.Amount,
		Proceeds: rate.Mul(ev.Amount),
		Atoms:    spent,
		Category: CategoryCapital,
		Ref:      ev.Ref,
	})
	if err := s.rekeyOutputs(&cursor, ev.Outputs, ev.Ref); err != nil {
		return err
	}
	return s.feeLossFromAtoms(ev.Account, cursor.rest(), ev.Time, ev.Ref)
}

func (s *Simulator) applyWithdrawal(ev NormalizedEvent) error {
	if len(ev.OutPoints) > 0 {
		// Wallet-side send to a controlled exchange account: the external
		// portion keeps its basis and acquisition dates, parked unkeyed
		// until the exchange credits it.
		pool, err := s.consumeInputs(ev.Account, ev.OutPoints)
		if err != nil {
			return err
		}
		cursor := atomCursor{pool: pool}
		for _, atom := range cursor.take(ev.Amount) {
			origin := atom.Origin
			origin.OutPoint = OutPoint{}
			if _, err := s.state.Lots.Push(ev.ToAccount, Lot{
				Asset:        atom.Amount.Asset(),
				Remaining:    atom.Amount,
				BasisPerUnit: atom.BasisPerUnit,
				AcquiredAt:   atom.AcquiredAt,
				Origin:       origin,
			}); err != nil {
				return err
			}
		}
		if err := s.rekeyOutputs(&cursor, ev.Outputs, ev.Ref); err != nil {
			return err
		}
		return s.feeLossFromAtoms(ev.Account, cursor.rest(), ev.Time, ev.Ref)
	}

	if ev.ToAccount == "" {
		// Fiat exit to a bank account: the money leaves the books untaxed.
		if _, err := s.state.Lots.Consume(ev.Account, ev.Asset, ev.Amount); err != nil {
			return err
		}
		return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
	}

	// Exchange-side withdrawal to a controlled wallet: move the lots now,
	// unkeyed; the on-chain arrival re-keys them to real UTXOs.
	atoms, err := s.state.Lots.Consume(ev.Account, ev.Asset, ev.Amount)
	if err != nil {
		return err
	}
	for _, atom := range atoms {
		origin := atom.Origin
		origin.OutPoint = OutPoint{}
		if _, err := s.state.Lots.Push(ev.ToAccount, Lot{
			Asset:        atom.Amount.Asset(),
			Remaining:    atom.Amount,
			BasisPerUnit: atom.BasisPerUnit,
			AcquiredAt:   atom.AcquiredAt,
			Origin:       origin,
		}); err != nil {
			return err
		}
	}
	return s.payFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

func (s *Simulator) applyInternalMove(ev NormalizedEvent) error {
	switch {
	case len(ev.OutPoints) > 0:
		// Wallet-to-wallet move: re-key every owned output, basis and
		// acquisition dates preserved; only the miner fee is a disposition.
		pool, err := s.consumeInputs(ev.Account, ev.OutPoints)
		if err != nil {
			return err
		}
		cursor := atomCursor{pool: pool}
		if err := s.rekeyOutputs(&cursor, ev.Outputs, ev.Ref); err != nil {
			return err
		}
		return s.feeLossFromAtoms(ev.Account, cursor.rest(), ev.Time, ev.Ref)

	case len(ev.Outputs) > 0:
		// Arrival of an exchange withdrawal: bind the in-flight lots to the
		// UTXOs the transaction actually created.
		for _, utxo := range ev.Outputs {
			atoms, err := s.state.Lots.ConsumeUnkeyed(utxo.Wallet, utxo.Amount.Asset(), utxo.Amount)
			if err != nil {
				return err
			}
			for _, atom := range atoms {
				origin := atom.Origin
				origin.OutPoint = utxo.OutPoint
				if _, err := s.state.Lots.Push(utxo.Wallet, Lot{
					Asset:        atom.Amount.Asset(),
					Remaining:    atom.Amount,
					BasisPerUnit: atom.BasisPerUnit,
					AcquiredAt:   atom.AcquiredAt,
					Origin:       origin,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Exchange ledger confirming an inbound transfer: the sending side
	// already moved the lots.
	return nil
}

// consumeInputs pops every lot behind the transaction's inputs.
func (s *Simulator) consumeInputs(account string, points []OutPoint) ([]TradeAtom, error) {
	var pool []TradeAtom
	for _, op := range points {
		atoms, err := s.state.Lots.ConsumeUTXO(account, op)
		if err != nil {
			return nil, err
		}
		pool = append(pool, atoms...)
	}
	return pool, nil
}

// rekeyOutputs pushes lots for owned outputs, carving basis fragments off
// the consumed-input pool in FIFO order.
func (s *Simulator) rekeyOutputs(cursor *atomCursor, outputs []UTXO, ref RowRef) error {
	for _, utxo := range outputs {
		for _, atom := range cursor.take(utxo.Amount) {
			origin := atom.Origin
			origin.OutPoint = utxo.OutPoint
			origin.Ref = ref
			if _, err := s.state.Lots.Push(utxo.Wallet, Lot{
				Asset:        atom.Amount.Asset(),
				Remaining:    atom.Amount,
				BasisPerUnit: atom.BasisPerUnit,
				AcquiredAt:   atom.AcquiredAt,
				Origin:       origin,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// atomCursor carves fragments off a consumed-atom pool in FIFO order. What
// is never taken remains as the miner-fee remainder.
type atomCursor struct {
	pool []TradeAtom
}

func (c *atomCursor) take(amount Amount) []TradeAtom {
	var out []TradeAtom
	need := amount
	for need.IsPositive() && len(c.pool) > 0 {
		head := c.pool[0]
		if head.Amount.GreaterThan(need) {
			frag := head
			frag.Amount = need
			out = append(out, frag)
			c.pool[0].Amount = head.Amount.Sub(need)
			return out
		}
		out = append(out, head)
		need = need.Sub(head.Amount)
		c.pool = c.pool[1:]
	}
	return out
}

func (c *atomCursor) rest() []TradeAtom {
	rest := c.pool
	c.pool = nil
	// Drop zero fragments so a fee of exactly zero emits nothing.
	out := rest[:0:0]
	for _, atom := range rest {
		if atom.Amount.IsPositive() {
			out = append(out, atom)
		}
	}
	return out
}

// ---- margin ----

func (s *Simulator) applyMarginOpen(ev NormalizedEvent) error {
	pos := &MarginPosition{
		ID:         ev.RefGroup,
		OpenedAt:   ev.Time,
		Side:       ev.MarginSide,
		Pair:       ev.Pair,
		Volume:     ev.Amount,
		OpenPrice:  ev.Price,
		QuoteAsset: ev.Quote.Asset(),
		Status:     MarginOpen,
	}
	s.state.Margins = append(s.state.Margins, pos)
	return s.payMarginFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

func (s *Simulator) applyMarginRollover(ev NormalizedEvent) error {
	pos := oldestOpen(s.state.Margins, ev.Pair)
	if pos == nil {
		return fmt.Errorf("%w: rollover on %s with no open position", ErrParse, ev.Pair)
	}
	pos.Rollovers = append(pos.Rollovers, RolloverAccrual{Time: ev.Time, Amount: ev.Amount})
	// The fee is charged against the balance as it accrues; the expense is
	// reported when the position terminates.
	return s.payMarginFee(ev.Account, ev.Amount, ev.Time, ev.Ref)
}

func (s *Simulator) applyMarginSettle(ev NormalizedEvent) error {
	pos := oldestOpen(s.state.Margins, ev.Pair)
	if pos == nil {
		return fmt.Errorf("%w: settlement with no open position", ErrParse)
	}

	// Repaying the lent asset in kind is a disposition at market value of
	// the lots it consumes; the position itself realizes no trade P/L.
	if ev.Amount.IsPositive() && ev.Asset != USD {
		rate, err := s.oracle.Rate(ev.Asset, ev.Time)
		if err != nil {
			return err
		}
		atoms, err := s.state.Lots.Consume(ev.Account, ev.Asset, ev.Amount)
		if err != nil {
			return err
		}
		if atoms, err = s.finalize(atoms, rate, ev.Time); err != nil {
			return err
		}
		s.emit(TaxableEvent{
			Time:     ev.Time,
			Account:  ev.Account,
			Asset:    ev.Asset,
			Amount:   ev.Amount,
			Proceeds: rate.Mul(ev.Amount),
			Atoms:    atoms,
			Category: CategoryCapital,
			Ref:      ev.Ref,
		})
	} else if ev.Amount.IsPositive() {
		if _, err := s.state.Lots.Consume(ev.Account, USD, ev.Amount); err != nil {
			return err
		}
	}

	pos.Status = MarginSettled
	pos.Volume = A(0, pos.Volume.Asset())
	if err := s.emitMarginInterest(pos, ev.Account, ev.Ref); err != nil {
		return err
	}
	return s.payMarginFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

func (s *Simulator) applyMarginClose(ev NormalizedEvent) error {
	remaining := ev.Amount
	for remaining.IsPositive() {
		pos := oldestOpen(s.state.Margins, ev.Pair)
		if pos == nil {
			return fmt.Errorf("%w: close of %s %s with no open position", ErrParse, remaining, ev.Pair)
		}
		take := pos.Volume
		if take.GreaterThan(remaining) {
			take = remaining
		}

		perUnitQuote := ev.Price.Sub(pos.OpenPrice)
		if pos.Side == Short {
			perUnitQuote = pos.OpenPrice.Sub(ev.Price)
		}
		plQuote := A(perUnitQuote.Mul(take.Decimal()), pos.QuoteAsset)
		quoteRate, err := s.oracle.Rate(pos.QuoteAsset, ev.Time)
		if err != nil {
			return err
		}
		plUSD := quoteRate.Mul(plQuote)

		// Margin has no lot-level basis history; the whole realized P/L
		// rides on one synthetic atom.
		s.emit(TaxableEvent{
			Time:     ev.Time,
			Account:  ev.Account,
			Asset:    ev.Asset,
			Amount:   take,
			Proceeds: plUSD,
			Atoms: []TradeAtom{{
				Amount:          take,
				ProceedsPerUnit: plUSD.PerUnit(take),
				AcquiredAt:      pos.OpenedAt,
				DisposedAt:      ev.Time,
				LongTerm:        LongTerm(pos.OpenedAt, ev.Time),
			}},
			Category: CategoryMargin,
			Ref:      ev.Ref,
		})

		switch {
		case plUSD.IsPositive():
			if _, err := s.state.Lots.Push(ev.Account, Lot{
				Asset:        pos.QuoteAsset,
				Remaining:    plQuote,
				BasisPerUnit: quoteRate,
				AcquiredAt:   ev.Time,
				Origin:       Origin{Kind: OriginExchangeBuy, Ref: ev.Ref},
			}); err != nil {
				return err
			}
		case plUSD.IsNegative():
			if err := s.deductCollateral(ev.Account, plUSD.Neg(), ev.Time, ev.Ref); err != nil {
				return err
			}
		}

		pos.Volume = pos.Volume.Sub(take)
		if pos.Volume.IsPositive() {
			pos.Status = MarginPartiallyClosed
		} else {
			pos.Status = MarginClosed
			if err := s.emitMarginInterest(pos, ev.Account, ev.Ref); err != nil {
				return err
			}
		}
		remaining = remaining.Sub(take)
	}
	return s.payMarginFee(ev.Account, ev.Fee, ev.Time, ev.Ref)
}

// payMarginFee settles a margin fee against the balance. Margin fees are
// interest-like costs, not capital dispositions, so fiat fees consume lots
// silently; a fee charged in crypto still realizes the consumed basis.
func (s *Simulator) payMarginFee(account string, fee Amount, at time.Time, ref RowRef) error {
	if !fee.IsPositive() {
		return nil
	}
	if fee.Asset().IsFiat() {
		_, err := s.state.Lots.Consume(account, fee.Asset(), fee)
		return err
	}
	return s.payFee(account, fee, at, ref)
}

// emitMarginInterest reports the accrued rollover fees as investment
// interest expense. Expenses are grouped by the calendar year they accrued
// in, each valued at its accrual dates, so a position straddling a year
// boundary books its interest in the right year.
func (s *Simulator) emitMarginInterest(pos *MarginPosition, account string, ref RowRef) error {
	if len(pos.Rollovers) == 0 {
		return nil
	}
	type yearTotal struct {
		last   time.Time
		amount Amount
		usd    Dollars
	}
	byYear := make(map[int]*yearTotal)
	var years []int
	for _, acc := range pos.Rollovers {
		y := acc.Time.UTC().Year()
		usd, err := s.oracle.Value(acc.Amount, acc.Time)
		if err != nil {
			return err
		}
		entry, ok := byYear[y]
		if !ok {
			entry = &yearTotal{amount: A(0, pos.QuoteAsset)}
			byYear[y] = entry
			years = append(years, y)
		}
		entry.amount = entry.amount.Add(acc.Amount)
		entry.usd = entry.usd.Add(usd)
		if acc.Time.After(entry.last) {
			entry.last = acc.Time
		}
	}
	sort.Ints(years)
	for _, y := range years {
		entry := byYear[y]
		s.emit(TaxableEvent{
			Time:     entry.last,
			Account:  account,
			Asset:    pos.QuoteAsset,
			Amount:   entry.amount,
			Proceeds: entry.usd,
			Category: CategoryMarginInterest,
			Ref:      ref,
		})
	}
	pos.Rollovers = nil
	return nil
}

// deductCollateral covers a realized margin loss from the account's
// balances, in the configured currency preference order. Paying a loss
// with a non-USD asset is itself a disposition at market value.
func (s *Simulator) deductCollateral(account string, loss Dollars, at time.Time, ref RowRef) error {
	remaining := loss
	for _, a := range s.collateral {
		if !remaining.IsPositive() {
			break
		}
		held := s.state.Lots.Balance(account, a)
		if !held.IsPositive() {
			continue
		}
		rate, err := s.oracle.Rate(a, at)
		if err != nil {
			return err
		}
		heldUSD := rate.Mul(held)
		takeUSD := remaining
		take := held
		if heldUSD.Decimal().GreaterThan(remaining.Decimal()) {
			take = A(remaining.Decimal().Div(rate.Decimal()), a)
		} else {
			takeUSD = heldUSD
		}
		atoms, err := s.state.Lots.Consume(account, a, take)
		if err != nil {
			return err
		}
		if a != USD {
			if atoms, err = s.finalize(atoms, rate, at); err != nil {
				return err
			}
			s.emit(TaxableEvent{
				Time:     at,
				Account:  account,
				Asset:    a,
				Amount:   take,
				Proceeds: takeUSD,
				Atoms:    atoms,
				Category: CategoryCapital,
				Ref:      ref,
			})
		}
		remaining = remaining.Sub(takeUSD)
	}
	if remaining.IsPositive() {
		return fmt.Errorf("%w: margin loss leaves %s uncovered in %s", ErrInsufficientBalance, remaining, account)
	}
	return nil
}

// ---- reconciliation ----

// elisionTolerance bounds the drift accepted between tracked lots and the
// exchange's declared balance column. Kraken elides sub-satoshi dust when
// printing balances.
func elisionTolerance(a Asset) decimal.Decimal {
	if a.IsFiat() {
		return decimal.New(1, -2)
	}
	return decimal.New(1, -6)
}

// reconcile compares the tracked balance against the declared balance of
// the ledger row just applied. Drift beyond the tolerance is reported but
// not fatal: transfers in flight legitimately diverge from the column
// until the counterpart row lands.
func (s *Simulator) reconcile(ev NormalizedEvent) {
	if !ev.HasDeclared {
		return
	}
	held := s.state.Lots.Balance(ev.Account, ev.Asset)
	diff := held.Decimal().Sub(ev.DeclaredBalance).Abs()
	if diff.LessThanOrEqual(elisionTolerance(ev.Asset)) {
		return
	}
	s.log.Warn().
		Str("account", ev.Account).
		Str("asset", string(ev.Asset)).
		Str("tracked", held.Decimal().String()).
		Str("declared", ev.DeclaredBalance.String()).
		Str("ref", ev.Ref.String()).
		Msg("balance drift beyond elision tolerance")
}
