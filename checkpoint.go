package coinledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EngineVersion is stamped into every checkpoint. Loading a checkpoint
// requires an exact major-version match; accounting semantics may change
// between majors and silently reinterpreting old state would be worse
// than refusing it.
const EngineVersion = "1.0.0"

func majorOf(version string) string {
	head, _, _ := strings.Cut(version, ".")
	return head
}

// The checkpoint carries decimals as strings: msgpack has no decimal type
// and a float detour would break exactness and replay determinism.
type checkpointFile struct {
	Version        string
	NextLotID      int64
	ResidencyStart time.Time
	Queues         []checkpointQueue
	Margins        []checkpointMargin
}

type checkpointQueue struct {
	Account string
	Asset   string
	Lots    []checkpointLot
}

type checkpointLot struct {
	ID         int64
	Remaining  string
	Basis      string
	AcquiredAt time.Time

	OriginKind string
	OriginTxID string
	OriginVout uint32
	OriginFile string
	OriginRow  int
	OriginTag  string
}

type checkpointMargin struct {
	ID         string
	OpenedAt   time.Time
	Side       string
	Pair       string
	Volume     string
	OpenPrice  string
	QuoteAsset string
	Status     string
	Rollovers  []checkpointAccrual
}

type checkpointAccrual struct {
	Time   time.Time
	Amount string
}

// WriteCheckpoint persists the state atomically: the encoding goes to a
// temp file in the target directory and is renamed into place, so a
// crashed run never leaves a truncated checkpoint behind.
func WriteCheckpoint(path string, state *AccountState) error {
	cp := checkpointFile{
		Version:        EngineVersion,
		NextLotID:      int64(state.Lots.nextID),
		ResidencyStart: state.ResidencyStart,
	}
	for _, key := range state.Lots.Accounts() {
		q := checkpointQueue{Account: key.Account, Asset: string(key.Asset)}
		for _, lot := range state.Lots.Queue(key.Account, key.Asset) {
			q.Lots = append(q.Lots, checkpointLot{
				ID:         int64(lot.ID),
				Remaining:  lot.Remaining.Decimal().String(),
				Basis:      lot.BasisPerUnit.Decimal().String(),
				AcquiredAt: lot.AcquiredAt,
				OriginKind: string(lot.Origin.Kind),
				OriginTxID: string(lot.Origin.OutPoint.TxID),
				OriginVout: lot.Origin.OutPoint.Vout,
				OriginFile: lot.Origin.Ref.File,
				OriginRow:  lot.Origin.Ref.Row,
				OriginTag:  lot.Origin.Tag,
			})
		}
		cp.Queues = append(cp.Queues, q)
	}
	for _, pos := range state.Margins {
		m := checkpointMargin{
			ID:         pos.ID,
			OpenedAt:   pos.OpenedAt,
			Side:       string(pos.Side),
			Pair:       pos.Pair,
			Volume:     pos.Volume.Decimal().String(),
			OpenPrice:  pos.OpenPrice.String(),
			QuoteAsset: string(pos.QuoteAsset),
			Status:     string(pos.Status),
		}
		for _, acc := range pos.Rollovers {
			m.Rollovers = append(m.Rollovers, checkpointAccrual{Time: acc.Time, Amount: acc.Amount.Decimal().String()})
		}
		cp.Margins = append(cp.Margins, m)
	}

	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return nil
}

// ReadCheckpoint loads a prior AccountState. The lot id sequence resumes
// where the writing run stopped, so replays with a checkpoint stay
// deterministic.
func ReadCheckpoint(path string) (*AccountState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	var cp checkpointFile
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if majorOf(cp.Version) != majorOf(EngineVersion) {
		return nil, fmt.Errorf("%w: checkpoint written by engine %s, this engine is %s",
			ErrCheckpointVersion, cp.Version, EngineVersion)
	}

	// msgpack restores times in the local zone; normalize back to UTC so a
	// resumed run re-encodes to the same bytes it was loaded from.
	state := NewAccountState()
	if !cp.ResidencyStart.IsZero() {
		state.ResidencyStart = cp.ResidencyStart.UTC()
	}
	for _, q := range cp.Queues {
		asset, err := ParseAsset(q.Asset)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		for _, l := range q.Lots {
			remaining, err := ParseAmount(l.Remaining, asset)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", path, err)
			}
			basis, err := ParseAmount(l.Basis, USD)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", path, err)
			}
			if _, err := state.Lots.Push(q.Account, Lot{
				ID:           LotID(l.ID),
				Asset:        asset,
				Remaining:    remaining,
				BasisPerUnit: R(basis.Decimal()),
				AcquiredAt:   l.AcquiredAt.UTC(),
				Origin: Origin{
					Kind:     OriginKind(l.OriginKind),
					OutPoint: OutPoint{TxID: TxID(l.OriginTxID), Vout: l.OriginVout},
					Ref:      RowRef{File: l.OriginFile, Row: l.OriginRow},
					Tag:      l.OriginTag,
				},
			}); err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", path, err)
			}
		}
	}
	for _, m := range cp.Margins {
		quote, err := ParseAsset(m.QuoteAsset)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		base, _, err := SplitPair(m.Pair)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		volume, err := ParseAmount(m.Volume, base)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		price, err := ParseAmount(m.OpenPrice, quote)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: %w", path, err)
		}
		pos := &MarginPosition{
			ID:         m.ID,
			OpenedAt:   m.OpenedAt.UTC(),
			Side:       MarginSide(m.Side),
			Pair:       m.Pair,
			Volume:     volume,
			OpenPrice:  price.Decimal(),
			QuoteAsset: quote,
			Status:     MarginStatus(m.Status),
		}
		for _, acc := range m.Rollovers {
			amount, err := ParseAmount(acc.Amount, quote)
			if err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", path, err)
			}
			pos.Rollovers = append(pos.Rollovers, RolloverAccrual{Time: acc.Time.UTC(), Amount: amount})
		}
		state.Margins = append(state.Margins, pos)
	}
	state.Lots.nextID = LotID(cp.NextLotID)
	return state, nil
}
