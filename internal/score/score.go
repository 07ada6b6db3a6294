// Package score reshapes already-computed relevance scores for display.
// Everything here is pure: functions operate only on their arguments and
// never touch the index, so callers can apply them to any score slice.
package score

import "math"

// Mode selects how a raw score in [0, 1] is remapped for display.
type Mode string

const (
	// ModeLinear passes scores through unchanged.
	ModeLinear Mode = "linear"
	// ModeLogarithmic compresses low scores and spreads the top of the
	// range, keeping 0 and 1 fixed.
	ModeLogarithmic Mode = "logarithmic"
	// ModeOrdinal replaces each score with its rank position within the
	// population, spread evenly over [0, 1].
	ModeOrdinal Mode = "ordinal"
)

// Valid reports whether m is a recognized transform mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLinear, ModeLogarithmic, ModeOrdinal:
		return true
	}
	return false
}

// Aggregation selects how per-event scores roll up to one conversation.
type Aggregation string

const (
	AggregationMax  Aggregation = "max"
	AggregationMean Aggregation = "mean"
	// AggregationSum totals the scores, capped at 1 so the result stays
	// inside the unit display range.
	AggregationSum Aggregation = "sum"
)

// Valid reports whether a is a recognized aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationMax, AggregationMean, AggregationSum:
		return true
	}
	return false
}

// Transform remaps one raw score. The population is consulted only in
// ordinal mode, where raw's rank in the descending-sorted population
// determines the result: rank 0 maps to 1, the last rank to 0. Equal
// scores share the best of their slots. A population of one or fewer
// entries returns raw unchanged, so a lone result is not forced to
// maximal intensity. A zero raw score stays zero in every mode.
// Unrecognized modes fall back to linear.
func Transform(raw float64, mode Mode, population []float64) float64 {
	if raw == 0 {
		return 0
	}
	switch mode {
	case ModeLogarithmic:
		return math.Log10(raw*9 + 1)
	case ModeOrdinal:
		n := len(population)
		if n <= 1 {
			return raw
		}
		// Counting strictly greater entries gives the first index raw
		// would occupy in the descending-sorted population.
		r := 0
		for _, v := range population {
			if v > raw {
				r++
			}
		}
		return 1 - float64(r)/float64(n-1)
	default:
		return raw
	}
}

// TransformAll maps every score through Transform, using the slice itself
// as the ordinal population. The input is not modified.
func TransformAll(scores []float64, mode Mode) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = Transform(s, mode, scores)
	}
	return out
}

// Aggregate rolls a conversation's per-event scores up to a single value.
// An empty slice aggregates to 0.
func Aggregate(scores []float64, agg Aggregation) float64 {
	if len(scores) == 0 {
		return 0
	}
	switch agg {
	case AggregationMean:
		return total(scores) / float64(len(scores))
	case AggregationSum:
		return math.Min(total(scores), 1)
	default:
		max := scores[0]
		for _, s := range scores[1:] {
			if s > max {
				max = s
			}
		}
		return max
	}
}

func total(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum
}
