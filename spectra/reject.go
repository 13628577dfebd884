package spectra

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Reject tests each row against p and returns a mask of rows to keep.
//
// A row is kept when the mean of row[p.Start:p.End] is within
// p.Threshold percent of the mean over all rows in the same range.
// A threshold at or above 100 keeps everything; an empty range
// (Start == End) keeps nothing.  The policy's Enabled flag is not
// consulted, callers decide whether to reject at all.
func Reject(rows [][]float64, p OutlierPolicy) []bool {
	keep := make([]bool, len(rows))
	if p.Threshold >= DisabledThreshold {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	if p.Start == p.End || len(rows) == 0 {
		return keep
	}

	means := make([]float64, len(rows))
	for i, row := range rows {
		start, end := p.Start, p.End
		if end > len(row) {
			end = len(row)
		}
		if start >= end {
			means[i] = math.NaN()
			continue
		}
		means[i] = floats.Sum(row[start:end]) / float64(end-start)
	}
	// every row has the same width so the mean of row means is the
	// mean over the whole region
	overall := floats.Sum(means) / float64(len(means))
	allowed := p.Threshold / 100. * overall
	for i, m := range means {
		keep[i] = math.Abs(m-overall) <= allowed
	}
	return keep
}

// rejectedPercent is dropped/total*100, and 0 for an empty set
func rejectedPercent(keep []bool) float64 {
	if len(keep) == 0 {
		return 0
	}
	dropped := 0
	for _, k := range keep {
		if !k {
			dropped++
		}
	}
	return float64(dropped) / float64(len(keep)) * 100
}

func and(a, b []bool) []bool {
	out := make([]bool, len(a))
	for i := range a {
		out[i] = a[i] && b[i]
	}
	return out
}
