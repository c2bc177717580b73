// Package weighted holds the two weighted reductions the sky layers share:
// drawing one candidate in proportion to its weight, and averaging values
// by weight.
package weighted

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// Choose draws one candidate with probability proportional to its weight.
// One uniform draw in [0, total) is compared against the running prefix
// sum; negative weights count as zero. It returns false when the lengths
// differ or every weight is zero.
func Choose[T any](candidates []T, weights []int, r *rand.Rand) (T, bool) {
	var zero T
	if len(candidates) != len(weights) || len(candidates) == 0 {
		return zero, false
	}

	total := Total(weights)
	if total <= 0 {
		return zero, false
	}

	pick := r.IntN(total)
	sum := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		sum += w
		if pick < sum {
			return candidates[i], true
		}
	}
	// The running sum always reaches total.
	panic("weighted: prefix scan overran")
}

// Total returns the sum of the positive weights.
func Total(weights []int) int {
	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	return total
}

// Mean returns the weighted mean of values. It returns false when the
// lengths differ or the total weight is zero.
func Mean(values, weights []float64) (float64, bool) {
	if len(values) != len(weights) || len(values) == 0 {
		return 0, false
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return 0, false
	}
	return stat.Mean(values, weights), true
}
