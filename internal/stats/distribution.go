package stats

import (
	"math"
	"sort"

	"github.com/jengzang/scootermap-go/internal/models"
)

// Summarize describes how vehicles spread over the cells of one snapshot.
// Faded cells with count 0 are included.
func Summarize(counts []int) models.CountDistribution {
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	sort.Float64s(values)

	d := models.CountDistribution{Cells: len(values)}
	if len(values) == 0 {
		return d
	}

	d.Mean = Sum(values) / float64(len(values))
	d.Median = Quantile(values, 0.5)
	d.P90 = Quantile(values, 0.9)
	d.Max = values[len(values)-1]
	d.Entropy = NormalizedEntropy(values)
	return d
}

// Sum returns the sum of values
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

// Quantile interpolates linearly between closest ranks of sorted values.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// NormalizedEntropy is the Shannon entropy of values as a share of the
// maximum for len(values) categories: 1 for an even spread, 0 when every
// vehicle sits in one cell.
func NormalizedEntropy(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	total := Sum(values)
	if total == 0 {
		return 0
	}

	var h float64
	for _, v := range values {
		if v > 0 {
			p := v / total
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(values)))
}
