package aggregate

import (
	"math"
	"sort"
	"strconv"
)

// Percentile returns the nearest-rank percentile of sorted samples.
// The rank is ceil(p*n)-1 clamped to [0, n-1]. Returns 0 for no samples.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	rank := int(math.Ceil(p*float64(n))) - 1
	if rank < 0 {
		rank = 0
	}

	if rank > n-1 {
		rank = n - 1
	}

	return sorted[rank]
}

// PercentileName renders a percentile as its stat name: 0.5 -> "p50",
// 0.999 -> "p99.9".
func PercentileName(p float64) string {
	return "p" + strconv.FormatFloat(math.Round(p*10000)/100, 'f', -1, 64)
}

// summary holds the order statistics of a sample set.
type summary struct {
	min   float64
	max   float64
	sum   float64
	count int
}

func (s summary) avg() float64 {
	if s.count == 0 {
		return 0
	}

	return s.sum / float64(s.count)
}

func summarize(samples []float64) summary {
	if len(samples) == 0 {
		return summary{}
	}

	s := summary{
		min:   math.Inf(1),
		max:   math.Inf(-1),
		count: len(samples),
	}

	for _, v := range samples {
		s.sum += v

		if v < s.min {
			s.min = v
		}

		if v > s.max {
			s.max = v
		}
	}

	return s
}

// sortedCopy returns the samples in ascending order without touching the
// accumulator's own slice.
func sortedCopy(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)

	return out
}
