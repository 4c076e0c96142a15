package coinledger

import (
	"errors"
	"testing"
)

func TestConsumeSplitsHeadLot(t *testing.T) {
	s := NewLotStore()
	if _, err := s.Push("kraken", Lot{Asset: BTC, Remaining: A(1, BTC), BasisPerUnit: R(10000), AcquiredAt: date("2020-01-01")}); err != nil {
		t.Fatal(err)
	}

	atoms, err := s.Consume("kraken", BTC, A(0.25, BTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 1 {
		t.Fatalf("got %d atoms, want 1", len(atoms))
	}
	if !atoms[0].Amount.Equal(A(0.25, BTC)) {
		t.Errorf("atom amount = %s, want 0.25 BTC", atoms[0].Amount)
	}
	if got := s.Balance("kraken", BTC); !got.Equal(A(0.75, BTC)) {
		t.Errorf("balance = %s, want 0.75 BTC", got)
	}

	// The retained half keeps the acquisition date under a fresh id.
	queue := s.Queue("kraken", BTC)
	if queue[0].ID == atoms[0].LotID {
		t.Errorf("retained lot kept the retired id %s", queue[0].ID)
	}
	if !queue[0].AcquiredAt.Equal(date("2020-01-01")) {
		t.Errorf("retained lot lost its acquisition date")
	}
}

func TestConsumeSpansLotsFIFO(t *testing.T) {
	s := NewLotStore()
	for i, basis := range []int{10000, 20000, 40000} {
		_, err := s.Push("kraken", Lot{Asset: BTC, Remaining: A(0.5, BTC), BasisPerUnit: R(basis), AcquiredAt: date("2020-01-01").AddDate(0, i, 0)})
		if err != nil {
			t.Fatal(err)
		}
	}

	atoms, err := s.Consume("kraken", BTC, A(1.2, BTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 3 {
		t.Fatalf("got %d atoms, want 3", len(atoms))
	}
	// Oldest basis first.
	for i, want := range []int{10000, 20000, 40000} {
		if !atoms[i].BasisPerUnit.Equal(R(want)) {
			t.Errorf("atom %d basis = %s, want %d", i, atoms[i].BasisPerUnit, want)
		}
	}
	total := A(0, BTC)
	for _, atom := range atoms {
		total = total.Add(atom.Amount)
	}
	if !total.Equal(A(1.2, BTC)) {
		t.Errorf("atoms sum to %s, want 1.2 BTC", total)
	}
	if got := s.Balance("kraken", BTC); !got.Equal(A(0.3, BTC)) {
		t.Errorf("balance = %s, want 0.3 BTC", got)
	}
}

func TestConsumeExactlyToZero(t *testing.T) {
	s := NewLotStore()
	if _, err := s.Push("kraken", Lot{Asset: ETH, Remaining: A(2, ETH), BasisPerUnit: R(1500), AcquiredAt: date("2021-01-01")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Consume("kraken", ETH, A(2, ETH)); err != nil {
		t.Fatal(err)
	}
	if queue := s.Queue("kraken", ETH); len(queue) != 0 {
		t.Errorf("queue still holds %d lots after exact consumption", len(queue))
	}
}

func TestConsumeInsufficient(t *testing.T) {
	s := NewLotStore()
	if _, err := s.Push("kraken", Lot{Asset: BTC, Remaining: A(0.5, BTC), BasisPerUnit: R(10000), AcquiredAt: date("2020-01-01")}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Consume("kraken", BTC, A(1, BTC))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// A failed consume must not mutate the queue.
	if got := s.Balance("kraken", BTC); !got.Equal(A(0.5, BTC)) {
		t.Errorf("balance = %s after failed consume, want 0.5 BTC", got)
	}
}

func TestConsumeUTXOCollectsAllLots(t *testing.T) {
	s := NewLotStore()
	op := OutPoint{TxID: "aa11", Vout: 1}
	// Two basis fragments carved onto the same change output.
	for _, basis := range []int{10000, 30000} {
		_, err := s.Push("cold", Lot{
			Asset: BTC, Remaining: A(0.1, BTC), BasisPerUnit: R(basis),
			AcquiredAt: date("2020-01-01"),
			Origin:     Origin{Kind: OriginUTXO, OutPoint: op},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	atoms, err := s.ConsumeUTXO("cold", op)
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 2 {
		t.Fatalf("got %d atoms, want 2", len(atoms))
	}
	if _, err := s.ConsumeUTXO("cold", op); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("second consume err = %v, want ErrInsufficientBalance", err)
	}
}

func TestConsumeUnkeyedSkipsUTXOLots(t *testing.T) {
	s := NewLotStore()
	op := OutPoint{TxID: "bb22", Vout: 0}
	if _, err := s.Push("cold", Lot{Asset: BTC, Remaining: A(1, BTC), BasisPerUnit: R(10000), AcquiredAt: date("2020-01-01"), Origin: Origin{Kind: OriginUTXO, OutPoint: op}}); err != nil {
		t.Fatal(err)
	}
	// In-flight lot from an exchange withdrawal: no outpoint yet.
	if _, err := s.Push("cold", Lot{Asset: BTC, Remaining: A(0.4, BTC), BasisPerUnit: R(20000), AcquiredAt: date("2021-01-01"), Origin: Origin{Kind: OriginExchangeBuy}}); err != nil {
		t.Fatal(err)
	}

	atoms, err := s.ConsumeUnkeyed("cold", BTC, A(0.4, BTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(atoms) != 1 || !atoms[0].BasisPerUnit.Equal(R(20000)) {
		t.Fatalf("consumed wrong lots: %+v", atoms)
	}
	// The keyed UTXO lot is untouched.
	if got := s.Balance("cold", BTC); !got.Equal(A(1, BTC)) {
		t.Errorf("balance = %s, want 1 BTC", got)
	}
	if _, err := s.ConsumeUnkeyed("cold", BTC, A(0.1, BTC)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestLotIDsAreDeterministic(t *testing.T) {
	run := func() []LotID {
		s := NewLotStore()
		var ids []LotID
		for i := 0; i < 3; i++ {
			id, err := s.Push("kraken", Lot{Asset: BTC, Remaining: A(1, BTC), BasisPerUnit: R(10000), AcquiredAt: date("2020-01-01")})
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, id)
		}
		atoms, err := s.Consume("kraken", BTC, A(1.5, BTC))
		if err != nil {
			t.Fatal(err)
		}
		for _, atom := range atoms {
			ids = append(ids, atom.LotID)
		}
		return ids
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replay diverged at id %d: %s vs %s", i, first[i], second[i])
		}
	}
}
