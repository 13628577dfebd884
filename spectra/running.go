package spectra

import "math"

// RunningMean accumulates spectra with the incremental mean
// avg_n = avg_{n-1} + (x_n - avg_{n-1})/n, per pixel.  NaN pixels are
// skipped so one bad ratio does not poison the running average.
// The zero value is ready to use.
type RunningMean struct {
	mean   []float64
	counts []int
	n      int
}

// Add folds x into the mean.  A length change resets the accumulator
func (m *RunningMean) Add(x []float64) {
	if len(x) != len(m.mean) {
		m.mean = make([]float64, len(x))
		m.counts = make([]int, len(x))
		m.n = 0
	}
	m.n++
	for i, v := range x {
		if math.IsNaN(v) {
			continue
		}
		m.counts[i]++
		m.mean[i] += (v - m.mean[i]) / float64(m.counts[i])
	}
}

// Mean returns a copy of the current mean.  Pixels that have never seen a
// finite value are NaN
func (m *RunningMean) Mean() []float64 {
	out := make([]float64, len(m.mean))
	for i, v := range m.mean {
		if m.counts[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// N returns the number of spectra added since the last reset
func (m *RunningMean) N() int {
	return m.n
}

// Reset clears the accumulator
func (m *RunningMean) Reset() {
	m.mean, m.counts, m.n = nil, nil, 0
}
