package hotune

import (
	"math"
	"reflect"
	"sort"

	"golang.org/x/exp/constraints"
)

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the probability density function of the standard normal.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// toFloat64 converts any Go numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}

	return 0, false
}

// equalValues compares parameter values. Numbers compare by value regardless
// of their Go type, so a YAML-decoded 10 equals 10.0.
func equalValues(a, b any) bool {
	fa, okA := toFloat64(a)
	fb, okB := toFloat64(b)

	if okA && okB {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

// percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. NaNs are ignored.
func percentile(values []float64, p float64) (float64, bool) {
	sorted := make([]float64, 0, len(values))

	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}

	if len(sorted) == 0 {
		return 0, false
	}

	sort.Float64s(sorted)

	rank := clamp(p, 0, 100) / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))

	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo)), true
}
