package buffer

import "testing"

func TestRingKeepsMostRecent(t *testing.T) {
	ring := NewRing[int](3)
	for value := 1; value <= 5; value++ {
		ring.Add(value)
	}

	got := ring.List()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRingUnderCapacity(t *testing.T) {
	ring := NewRing[string](4)
	ring.Add("a")
	ring.Add("b")

	if ring.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ring.Len())
	}
	if ring.Cap() != 4 {
		t.Fatalf("expected cap 4, got %d", ring.Cap())
	}
	got := ring.List()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestRingListCopies(t *testing.T) {
	ring := NewRing[int](2)
	ring.Add(1)

	first := ring.List()
	first[0] = 99
	second := ring.List()
	if second[0] != 1 {
		t.Fatalf("expected list to return a copy, got %d", second[0])
	}
}
