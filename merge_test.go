package coinledger

import (
	"testing"
)

func TestMergeTotalOrder(t *testing.T) {
	exchange := []NormalizedEvent{
		{Kind: KindTradeLeg, Time: date("2021-01-02"), Priority: PriorityExchange, Seq: 5, Ref: RowRef{File: "ledger.csv", Row: 5}},
		{Kind: KindTradeLeg, Time: date("2021-01-02"), Priority: PriorityExchange, Seq: 6, Ref: RowRef{File: "ledger.csv", Row: 6}},
		{Kind: KindDeposit, Time: date("2021-01-01"), Priority: PriorityExchange, Seq: 1, Ref: RowRef{File: "ledger.csv", Row: 1}},
	}
	onchain := []NormalizedEvent{
		{Kind: KindInternalMove, Time: date("2021-01-02"), Priority: PriorityOnChain, Seq: 1, Ref: RowRef{File: "wallet.csv", Row: 1}},
	}

	merged := Merge(exchange, onchain)

	wantKinds := []EventKind{KindDeposit, KindTradeLeg, KindTradeLeg, KindInternalMove}
	for i, want := range wantKinds {
		if merged[i].Kind != want {
			t.Fatalf("merged[%d] = %s, want %s", i, merged[i].Kind, want)
		}
	}
	// The exchange row at the same instant orders before the on-chain one.
	if merged[3].Priority != PriorityOnChain {
		t.Errorf("on-chain event did not sort last")
	}
	// Paired legs keep their relative order.
	if merged[1].Seq != 5 || merged[2].Seq != 6 {
		t.Errorf("trade legs reordered: %d then %d", merged[1].Seq, merged[2].Seq)
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	a := []NormalizedEvent{{Time: date("2021-01-01"), Priority: PriorityExchange, Ref: RowRef{File: "a.csv", Row: 1}}}
	b := []NormalizedEvent{{Time: date("2021-01-01"), Priority: PriorityExchange, Ref: RowRef{File: "b.csv", Row: 1}}}

	first := Merge(a, b)
	second := Merge(b, a)
	for i := range first {
		if first[i].Ref != second[i].Ref {
			t.Fatalf("merge order depends on stream order: %s vs %s", first[i].Ref, second[i].Ref)
		}
	}
}
