package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAccumulator_Basic(t *testing.T) {
	var a Accumulator
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		a.Add(v)
	}

	if a.Count() != 8 {
		t.Errorf("count = %d, want 8", a.Count())
	}
	if !almostEqual(a.Mean(), 5.0) {
		t.Errorf("mean = %v, want 5.0", a.Mean())
	}
	if !almostEqual(a.StdDev(), 2.0) {
		t.Errorf("std = %v, want 2.0", a.StdDev())
	}
	if a.Min() != 2 || a.Max() != 9 {
		t.Errorf("min/max = %v/%v, want 2/9", a.Min(), a.Max())
	}
}

func TestAccumulator_Empty(t *testing.T) {
	var a Accumulator
	if a.Mean() != 0 || a.StdDev() != 0 || a.Count() != 0 {
		t.Error("empty accumulator must report zeros")
	}
}

func TestAccumulator_MergeMatchesSequential(t *testing.T) {
	values := []float64{12.5, 3.2, 8.8, 41.0, 0.5, 19.9, 7.7, 2.2, 33.3, 15.0}

	var whole Accumulator
	for _, v := range values {
		whole.Add(v)
	}

	var left, right Accumulator
	for _, v := range values[:4] {
		left.Add(v)
	}
	for _, v := range values[4:] {
		right.Add(v)
	}
	left.Merge(right)

	if left.Count() != whole.Count() {
		t.Errorf("count = %d, want %d", left.Count(), whole.Count())
	}
	if math.Abs(left.Mean()-whole.Mean()) > 1e-9 {
		t.Errorf("mean = %v, want %v", left.Mean(), whole.Mean())
	}
	if math.Abs(left.StdDev()-whole.StdDev()) > 1e-9 {
		t.Errorf("std = %v, want %v", left.StdDev(), whole.StdDev())
	}
	if left.Min() != whole.Min() || left.Max() != whole.Max() {
		t.Errorf("min/max = %v/%v, want %v/%v", left.Min(), left.Max(), whole.Min(), whole.Max())
	}
}

func TestAccumulator_MergeOrderIndependent(t *testing.T) {
	parts := [][]float64{
		{1, 2, 3},
		{100, 200},
		{0.5},
		{42, 43, 44, 45},
	}

	buildOrder := func(order []int) Accumulator {
		var total Accumulator
		for _, i := range order {
			var part Accumulator
			for _, v := range parts[i] {
				part.Add(v)
			}
			total.Merge(part)
		}
		return total
	}

	forward := buildOrder([]int{0, 1, 2, 3})
	reversed := buildOrder([]int{3, 2, 1, 0})
	shuffled := buildOrder([]int{2, 0, 3, 1})

	for _, other := range []Accumulator{reversed, shuffled} {
		if forward.Count() != other.Count() {
			t.Errorf("count differs: %d vs %d", forward.Count(), other.Count())
		}
		if math.Abs(forward.Mean()-other.Mean()) > 1e-9 {
			t.Errorf("mean differs: %v vs %v", forward.Mean(), other.Mean())
		}
		if math.Abs(forward.StdDev()-other.StdDev()) > 1e-9 {
			t.Errorf("std differs: %v vs %v", forward.StdDev(), other.StdDev())
		}
	}
}

func TestAccumulator_MergeEmpty(t *testing.T) {
	var a, empty Accumulator
	a.Add(5)
	a.Add(7)

	a.Merge(empty)
	if a.Count() != 2 || !almostEqual(a.Mean(), 6) {
		t.Errorf("merge with empty changed state: count=%d mean=%v", a.Count(), a.Mean())
	}

	var b Accumulator
	b.Merge(a)
	if b.Count() != 2 || !almostEqual(b.Mean(), 6) {
		t.Errorf("merge into empty lost state: count=%d mean=%v", b.Count(), b.Mean())
	}
}

func TestFromStats_Roundtrip(t *testing.T) {
	var a Accumulator
	for _, v := range []float64{3, 1, 4, 1, 5, 9, 2, 6} {
		a.Add(v)
	}

	restored := FromStats(a.Snapshot())
	if restored.Count() != a.Count() {
		t.Errorf("count = %d, want %d", restored.Count(), a.Count())
	}
	if math.Abs(restored.Mean()-a.Mean()) > 1e-9 {
		t.Errorf("mean = %v, want %v", restored.Mean(), a.Mean())
	}
	if math.Abs(restored.StdDev()-a.StdDev()) > 1e-9 {
		t.Errorf("std = %v, want %v", restored.StdDev(), a.StdDev())
	}
}
