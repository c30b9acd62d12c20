package vclock

import "testing"

func TestCompareDominance(t *testing.T) {
	cases := []struct {
		name string
		a, b Clock
		want Order
	}{
		{"equal", New(0, 1, 2, 3), New(0, 1, 2, 3), Equal},
		{"strictly before", New(0, 1, 2, 3), New(0, 2, 2, 3), Before},
		{"strictly after", New(0, 2, 2, 3), New(0, 1, 2, 3), After},
		{"before with zero-extension", New(0, 1), New(0, 1, 1), Before},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compare(tc.a, tc.b); got != tc.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCompareConcurrentTieBreak(t *testing.T) {
	// a = [2,0] from shard 0, b = [0,2] from shard 1: componentwise
	// incomparable. Lower origin wins.
	a := New(0, 2, 0)
	b := New(1, 0, 2)

	if got := Compare(a, b); got != Before {
		t.Errorf("Compare(a, b) = %v, want Before (lower origin wins)", got)
	}
	if got := Compare(b, a); got != After {
		t.Errorf("Compare(b, a) = %v, want After", got)
	}
}

func TestCompareNeverReturnsConcurrent(t *testing.T) {
	pairs := [][2]Clock{
		{New(0, 5, 1), New(0, 1, 5)},
		{New(3, 0, 0, 9), New(3, 9, 0, 0)},
		{New(1, 1, 1), New(1, 1, 1)},
	}
	for _, p := range pairs {
		if got := Compare(p[0], p[1]); got == Concurrent {
			t.Errorf("Compare(%v, %v) returned Concurrent, must always resolve", p[0], p[1])
		}
	}
}

func TestCompareRawDetectsConcurrency(t *testing.T) {
	a := New(0, 2, 0)
	b := New(1, 0, 2)
	if got := compareRaw(a, b); got != Concurrent {
		t.Errorf("compareRaw(a, b) = %v, want Concurrent", got)
	}
}

func TestLessOrEqual(t *testing.T) {
	a := New(0, 1, 1)
	b := New(0, 1, 2)
	if !LessOrEqual(a, b) {
		t.Error("expected a <= b")
	}
	if !LessOrEqual(a, a) {
		t.Error("expected a <= a")
	}
	if LessOrEqual(b, a) {
		t.Error("expected b > a")
	}
}

func TestTick(t *testing.T) {
	c := New(2, 1, 1, 1)
	ticked := Tick(c, 2, 5)
	if ticked.Counters[2] != 5 {
		t.Errorf("Counters[2] = %d, want 5", ticked.Counters[2])
	}
	// Tick never regresses a counter.
	regressed := Tick(ticked, 2, 1)
	if regressed.Counters[2] != 5 {
		t.Errorf("Tick must not regress: got %d, want 5", regressed.Counters[2])
	}
}

func TestMergeIsComponentwiseMax(t *testing.T) {
	a := New(0, 3, 0, 5)
	b := New(1, 1, 4, 2)
	merged := Merge(a, b)
	want := []uint64{3, 4, 5}
	for i, w := range want {
		if merged.Counters[i] != w {
			t.Errorf("Counters[%d] = %d, want %d", i, merged.Counters[i], w)
		}
	}
}

func TestEqualsIgnoresOrigin(t *testing.T) {
	a := Clock{Origin: 0, Counters: []uint64{1, 2}}
	b := Clock{Origin: 7, Counters: []uint64{1, 2}}
	if !Equals(a, b) {
		t.Error("clocks with same counters but different origins should be Equals")
	}
}

func TestOrderString(t *testing.T) {
	if Before.String() != "before" || After.String() != "after" ||
		Equal.String() != "equal" || Concurrent.String() != "concurrent" {
		t.Error("Order.String() mismatch")
	}
}
