// Package stats provides streaming aggregate statistics over telemetry
// values using Welford's online algorithm.
package stats

import (
	"math"

	"github.com/sewerwatch/sewerwatch/internal/models"
)

// Accumulator tracks count, mean, variance, min, and max of a value
// stream in a single pass. The zero value is ready to use.
type Accumulator struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// Add folds one value into the accumulator.
func (a *Accumulator) Add(v float64) {
	a.count++
	if a.count == 1 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	delta := v - a.mean
	a.mean += delta / float64(a.count)
	delta2 := v - a.mean
	a.m2 += delta * delta2
}

// Merge folds another accumulator into this one using the parallel
// Welford combination. Merging the same set of accumulators in any
// order yields identical results up to floating-point tolerance, which
// is what lets batch results be aggregated in arrival order.
func (a *Accumulator) Merge(b Accumulator) {
	if b.count == 0 {
		return
	}
	if a.count == 0 {
		*a = b
		return
	}
	if b.min < a.min {
		a.min = b.min
	}
	if b.max > a.max {
		a.max = b.max
	}
	total := a.count + b.count
	delta := b.mean - a.mean
	a.m2 += b.m2 + delta*delta*float64(a.count)*float64(b.count)/float64(total)
	a.mean += delta * float64(b.count) / float64(total)
	a.count = total
}

// Count returns the number of values folded in.
func (a *Accumulator) Count() int64 { return a.count }

// Mean returns the running mean, or 0 for an empty accumulator.
func (a *Accumulator) Mean() float64 { return a.mean }

// StdDev returns the population standard deviation, or 0 when fewer
// than two values have been seen.
func (a *Accumulator) StdDev() float64 {
	if a.count < 2 {
		return 0
	}
	return math.Sqrt(a.m2 / float64(a.count))
}

// Min returns the smallest value seen, or 0 for an empty accumulator.
func (a *Accumulator) Min() float64 { return a.min }

// Max returns the largest value seen, or 0 for an empty accumulator.
func (a *Accumulator) Max() float64 { return a.max }

// FromStats reconstructs an accumulator from a persisted snapshot so
// per-batch statistics can be merged into cycle-wide aggregates.
func FromStats(s models.ParameterStats) Accumulator {
	return Accumulator{
		count: s.Count,
		mean:  s.Mean,
		m2:    s.StdDev * s.StdDev * float64(s.Count),
		min:   s.Min,
		max:   s.Max,
	}
}

// Snapshot converts the accumulator into the wire/persistence shape.
func (a *Accumulator) Snapshot() models.ParameterStats {
	return models.ParameterStats{
		Count:  a.count,
		Mean:   a.Mean(),
		StdDev: a.StdDev(),
		Min:    a.min,
		Max:    a.max,
	}
}
