package coinledger

import (
	"fmt"
	"sort"
	"time"
)

// Lot is one acquisition of an asset with its own basis and acquisition
// time. Lots are immutable: a partial consumption retires the lot and
// produces a new, smaller lot carrying the same basis metadata.
type Lot struct {
	ID           LotID
	Asset        Asset
	Remaining    Amount // always > 0 while stored
	BasisPerUnit Rate   // USD per unit at acquisition
	AcquiredAt   time.Time
	Origin       Origin
}

// TradeAtom records one lot (or lot-fragment) being consumed by one
// disposition. It snapshots the lot's basis metadata by value so the
// consumed lot can be dropped.
type TradeAtom struct {
	LotID           LotID
	Amount          Amount
	BasisPerUnit    Rate
	ProceedsPerUnit Rate
	AcquiredAt      time.Time
	DisposedAt      time.Time
	LongTerm        bool
	Origin          Origin

	// BonaFide is set when the lot predates the bona-fide-residency start
	// date; the gain is then reported twice, labeled US-sourced and
	// territory-sourced. Lot accounting is unchanged by the split.
	BonaFide *BonaFideSplit
}

// BonaFideSplit labels a pre-residency atom with the two basis lines used
// for sourcing gains under the Puerto Rico Bona Fide Residency election.
type BonaFideSplit struct {
	USBasisPerUnit        Rate // the declared basis
	TerritoryBasisPerUnit Rate // historical rate at the acquisition date
}

// Basis is the atom's total cost basis.
func (t TradeAtom) Basis() Dollars { return t.BasisPerUnit.Mul(t.Amount) }

// Proceeds is the atom's total proceeds.
func (t TradeAtom) Proceeds() Dollars { return t.ProceedsPerUnit.Mul(t.Amount) }

// Gain is proceeds minus basis.
func (t TradeAtom) Gain() Dollars { return t.Proceeds().Sub(t.Basis()) }

// accountKey addresses one FIFO queue.
type accountKey struct {
	account string
	asset   Asset
}

// LotQueue is the ordered sequence of lots for one (account, asset) pair.
// Insertion order is acquisition order is consumption order.
type LotQueue []Lot

// Balance is the sum of remaining amounts in the queue.
func (q LotQueue) Balance(asset Asset) Amount {
	total := A(0, asset)
	for _, lot := range q {
		total = total.Add(lot.Remaining)
	}
	return total
}

// LotStore holds every lot queue of the account state and issues lot ids.
type LotStore struct {
	queues map[accountKey]LotQueue
	nextID LotID
}

// NewLotStore creates an empty store with the id sequence starting at 1.
func NewLotStore() *LotStore {
	return &LotStore{queues: make(map[accountKey]LotQueue), nextID: 1}
}

// NextID issues a fresh lot id.
func (s *LotStore) NextID() LotID {
	id := s.nextID
	s.nextID++
	return id
}

// Push appends a lot to the tail of the (account, asset) queue and returns
// the id assigned to it. A lot with a zero or negative amount is refused.
func (s *LotStore) Push(account string, lot Lot) (LotID, error) {
	if !lot.Remaining.IsPositive() {
		return 0, fmt.Errorf("cannot store lot with non-positive amount %s in %s", lot.Remaining, account)
	}
	if lot.ID == 0 {
		lot.ID = s.NextID()
	}
	key := accountKey{account: account, asset: lot.Asset}
	s.queues[key] = append(s.queues[key], lot)
	return lot.ID, nil
}

// Balance returns the total held amount of an asset in an account.
func (s *LotStore) Balance(account string, a Asset) Amount {
	return s.queues[accountKey{account: account, asset: a}].Balance(a)
}

// Consume pops lots from the head of the queue until the demand is met,
// splitting the head lot when it exceeds the remaining demand. Atoms come
// back in consumption (FIFO) order and their amounts sum to the demand
// exactly. The retained half of a split keeps the original acquisition
// time and origin but gets a new id; the original id is retired.
func (s *LotStore) Consume(account string, a Asset, amount Amount) ([]TradeAtom, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("cannot consume non-positive amount %s from %s", amount, account)
	}
	key := accountKey{account: account, asset: a}
	queue := s.queues[key]
	if held := queue.Balance(a); held.LessThan(amount) {
		return nil, fmt.Errorf("%w: account %s holds %s, need %s (short %s)",
			ErrInsufficientBalance, account, held, amount, amount.Sub(held))
	}

	var atoms []TradeAtom
	demand := amount
	for !demand.IsZero() {
		head := queue[0]
		if head.Remaining.GreaterThan(demand) {
			// Split: the consumed fragment becomes the atom, the rest stays
			// at the head under a fresh id.
			atoms = append(atoms, TradeAtom{
				LotID:        head.ID,
				Amount:       demand,
				BasisPerUnit: head.BasisPerUnit,
				AcquiredAt:   head.AcquiredAt,
				Origin:       head.Origin,
			})
			retained := head
			retained.ID = s.NextID()
			retained.Remaining = head.Remaining.Sub(demand)
			queue[0] = retained
			demand = A(0, a)
		} else {
			atoms = append(atoms, TradeAtom{
				LotID:        head.ID,
				Amount:       head.Remaining,
				BasisPerUnit: head.BasisPerUnit,
				AcquiredAt:   head.AcquiredAt,
				Origin:       head.Origin,
			})
			demand = demand.Sub(head.Remaining)
			queue = queue[1:]
		}
	}
	s.queues[key] = queue
	return atoms, nil
}

// ConsumeUTXO removes every lot keyed to an outpoint. On-chain inputs name
// UTXOs, never FIFO positions, and one UTXO may carry several lots when a
// change output was carved from a multi-lot send.
func (s *LotStore) ConsumeUTXO(account string, op OutPoint) ([]TradeAtom, error) {
	key := accountKey{account: account, asset: BTC}
	queue := s.queues[key]

	var atoms []TradeAtom
	rest := queue[:0:0]
	for _, lot := range queue {
		if lot.Origin.OutPoint != op {
			rest = append(rest, lot)
			continue
		}
		atoms = append(atoms, TradeAtom{
			LotID:        lot.ID,
			Amount:       lot.Remaining,
			BasisPerUnit: lot.BasisPerUnit,
			AcquiredAt:   lot.AcquiredAt,
			Origin:       lot.Origin,
		})
	}
	if len(atoms) == 0 {
		return nil, fmt.Errorf("%w: utxo %s not held by %s", ErrInsufficientBalance, op, account)
	}
	s.queues[key] = rest
	return atoms, nil
}

// ConsumeUnkeyed pops lots that carry no outpoint, FIFO, up to the demand.
// An exchange withdrawal parks its lots in the receiving wallet without an
// outpoint; when the transaction confirms on chain, the arrival re-keys
// them to the created UTXOs through this call.
func (s *LotStore) ConsumeUnkeyed(account string, a Asset, amount Amount) ([]TradeAtom, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("cannot consume non-positive amount %s from %s", amount, account)
	}
	key := accountKey{account: account, asset: a}
	queue := s.queues[key]

	var atoms []TradeAtom
	demand := amount
	rest := queue[:0:0]
	for _, lot := range queue {
		if demand.IsZero() || lot.Origin.OutPoint != (OutPoint{}) {
			rest = append(rest, lot)
			continue
		}
		if lot.Remaining.GreaterThan(demand) {
			atoms = append(atoms, TradeAtom{
				LotID:        lot.ID,
				Amount:       demand,
				BasisPerUnit: lot.BasisPerUnit,
				AcquiredAt:   lot.AcquiredAt,
				Origin:       lot.Origin,
			})
			retained := lot
			retained.ID = s.NextID()
			retained.Remaining = lot.Remaining.Sub(demand)
			rest = append(rest, retained)
			demand = A(0, a)
			continue
		}
		atoms = append(atoms, TradeAtom{
			LotID:        lot.ID,
			Amount:       lot.Remaining,
			BasisPerUnit: lot.BasisPerUnit,
			AcquiredAt:   lot.AcquiredAt,
			Origin:       lot.Origin,
		})
		demand = demand.Sub(lot.Remaining)
	}
	if !demand.IsZero() {
		return nil, fmt.Errorf("%w: account %s has no in-flight lots for %s (short %s)",
			ErrInsufficientBalance, account, amount, demand)
	}
	s.queues[key] = rest
	return atoms, nil
}

// Accounts lists every (account, asset) pair with a non-empty queue, in a
// deterministic order.
func (s *LotStore) Accounts() []AccountAsset {
	keys := make([]AccountAsset, 0, len(s.queues))
	for k, q := range s.queues {
		if len(q) == 0 {
			continue
		}
		keys = append(keys, AccountAsset{Account: k.account, Asset: k.asset})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Account != keys[j].Account {
			return keys[i].Account < keys[j].Account
		}
		return keys[i].Asset < keys[j].Asset
	})
	return keys
}

// AccountAsset names one queue of the store.
type AccountAsset struct {
	Account string
	Asset   Asset
}

// Queue returns a copy of the queue for inspection.
func (s *LotStore) Queue(account string, a Asset) LotQueue {
	q := s.queues[accountKey{account: account, asset: a}]
	out := make(LotQueue, len(q))
	copy(out, q)
	return out
}
