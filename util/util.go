// Package util contains misc internal utilities.
package util

import "math"

// Limiter describes an inclusive [Min, Max] range that a value must lie in
type Limiter struct {
	Min float64 `yaml:"Min" json:"min"`
	Max float64 `yaml:"Max" json:"max"`
}

// Check returns true if Min <= f <= Max
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp restricts input to [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	} else if input > high {
		return high
	}
	return input
}

// ClampInt restricts input to [low, high]
func ClampInt(input, low, high int) int {
	if input < low {
		return low
	} else if input > high {
		return high
	}
	return input
}

// Linspace returns n evenly spaced samples over [start, end], inclusive of both ends.
// n < 1 yields an empty slice, n == 1 yields []float64{start}
func Linspace(start, end float64, n int) []float64 {
	if n < 1 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// Logspace returns n samples spaced evenly on a log scale between 10^start and 10^end.
// if endpoint is false, 10^end is excluded and the spacing is computed over n+1 points
func Logspace(start, end float64, n int, endpoint bool) []float64 {
	if n < 1 {
		return []float64{}
	}
	div := float64(n - 1)
	if !endpoint {
		div = float64(n)
	}
	out := make([]float64, n)
	if div == 0 {
		out[0] = math.Pow(10, start)
		return out
	}
	step := (end - start) / div
	for i := range out {
		out[i] = math.Pow(10, start+float64(i)*step)
	}
	return out
}
