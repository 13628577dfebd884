package delay

import (
	"fmt"
	"math"
	"sort"

	"github.com/nasa-jpl/tascan/util"
)

// maxRefine bounds the number of passes Exponential makes to hit the
// requested point count
const maxRefine = 100

// Linear returns steps delays evenly spaced from start to end inclusive
func Linear(start, end float64, steps int) ([]float64, error) {
	if start == end || steps < 2 {
		return nil, &ConfigurationError{Reason: "start and end must differ and steps must be at least 2"}
	}
	return util.Linspace(start, end, steps), nil
}

// Exponential returns n delays from tStart to tEnd that are dense around
// time zero.
//
// Negative delays are sampled every 1 ps below -5 ps and every 0.5 ps from
// -5 to -1 ps.  Positive delays are spaced logarithmically from 0 to tEnd,
// and the points falling in (0, 0.99] ps are mirrored to negative time.
// The log-spaced count is refined until the total equals n.
func Exponential(tStart, tEnd float64, n int) ([]float64, error) {
	if tStart >= tEnd || n < 2 {
		return nil, &ConfigurationError{Reason: "start must be before end and steps must be at least 2"}
	}
	pre := []float64{}
	if tStart < 0 {
		t := tStart
		for t < -5 {
			pre = append(pre, t)
			t++
		}
		for t >= -5 && t <= -1 {
			pre = append(pre, t)
			t += 0.5
		}
	}
	remaining := n - len(pre)
	if remaining <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf(
			"%d steps do not cover the %d pre-zero points from %g ps", n, len(pre), tStart)}
	}
	if tEnd <= 0 {
		return nil, &ConfigurationError{Reason: "end must be after time zero for exponential steps"}
	}

	top := math.Log10(tEnd + 1)
	k := remaining
	endpoint := false
	for i := 0; i < maxRefine && k > 0; i++ {
		post := util.Logspace(0, top, k, endpoint)
		for j := range post {
			post[j]--
		}
		mirrored := []float64{}
		for j := len(post) - 1; j >= 0; j-- {
			if post[j] > 0 && post[j] <= 0.99 {
				mirrored = append(mirrored, -post[j])
			}
		}
		if len(post)+len(mirrored) == remaining {
			out := make([]float64, 0, n)
			out = append(out, pre...)
			out = append(out, post...)
			out = append(out, mirrored...)
			sort.Float64s(out)
			return out, nil
		}
		k = remaining - len(mirrored)
		endpoint = true
	}
	return nil, &ConfigurationError{Reason: fmt.Sprintf("could not place exactly %d exponential steps", n)}
}
