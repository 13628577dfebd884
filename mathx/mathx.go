// Package mathx provides rounding helpers for values written to disk
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// NaN and Inf pass through unchanged.
func Round(x, unit float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if unit < 1 {
		// divide by the integer inverse so decimal units give the closest float
		inv := math.Round(1 / unit)
		return math.Round(x*inv) / inv
	}
	return math.Round(x/unit) * unit
}
