package concurrency

import "testing"

func TestSequenceAcceptsAscendingOrder(t *testing.T) {
	g := NewShardOrderGuard(4)
	if err := g.Sequence([]int{0, 1, 1, 3}); err != nil {
		t.Fatalf("expected ascending sequence to pass, got %v", err)
	}
}

func TestSequenceRejectsDescendingOrder(t *testing.T) {
	g := NewShardOrderGuard(4)
	if err := g.Sequence([]int{2, 1}); err == nil {
		t.Fatal("expected descending sequence to be rejected")
	}
}

func TestSequenceRejectsOutOfRange(t *testing.T) {
	g := NewShardOrderGuard(4)
	if err := g.Sequence([]int{4}); err == nil {
		t.Fatal("expected out-of-range index to be rejected")
	}
}

func TestOrderSortsAndDedupes(t *testing.T) {
	g := NewShardOrderGuard(8)
	ordered := g.Order([]int{3, 1, 1, 2, 0})
	want := []int{0, 1, 2, 3}
	if len(ordered) != len(want) {
		t.Fatalf("expected %v, got %v", want, ordered)
	}
	for i := range want {
		if ordered[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ordered)
		}
	}
}

func TestNumShardsClampedToOne(t *testing.T) {
	g := NewShardOrderGuard(0)
	if g.NumShards() != 1 {
		t.Fatalf("expected clamp to 1 shard, got %d", g.NumShards())
	}
}
