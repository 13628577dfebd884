/*Package delay builds and validates the delay programs a measurement sweeps.

A Program is an ordered list of pump-probe delays in picoseconds, relative to
the stage reference position, together with the number of shots per point
and the number of times the whole list is scanned.  The visiting order is
fixed once when the program is built (regular, backwards or shuffled) and is
the same for every scan.
*/
package delay

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/nasa-jpl/tascan/util"
)

// MaxDelay is the travel limit of the delay line in ps
const MaxDelay = 8672.66

// Travel is the range an absolute delay (reference + target) must lie in
var Travel = util.Limiter{Min: 0, Max: MaxDelay}

// Orientation is the order in which the program's delays are visited
type Orientation string

const (
	// Regular visits delays in the order given
	Regular Orientation = "Regular"

	// Backwards visits delays in reverse order
	Backwards Orientation = "Backwards"

	// Random visits delays in a shuffled order, fixed for all scans
	Random Orientation = "Random"
)

// ParseOrientation converts a case-insensitive name to an Orientation.
// The empty string is Regular
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "regular":
		return Regular, nil
	case "backwards", "reverse":
		return Backwards, nil
	case "random":
		return Random, nil
	}
	return "", &ConfigurationError{Reason: fmt.Sprintf("unknown orientation %q", s)}
}

// ConfigurationError is returned for programs that cannot be run.  It is
// always detected before any motion is issued
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid delay program: " + e.Reason
}

// Program is a built, ready to run, delay program
type Program struct {
	// Delays is the visiting order, orientation already applied
	Delays      []float64   `json:"delays" yaml:"Delays"`
	Orientation Orientation `json:"orientation" yaml:"Orientation"`
	Shots       int         `json:"shots" yaml:"Shots"`
	Scans       int         `json:"scans" yaml:"Scans"`
}

// Build copies delays, applies the orientation permutation once and checks
// the shot and scan counts.  rng is only used for Random and may be nil,
// in which case a time-seeded source is used
func Build(delays []float64, o Orientation, shots, scans int, rng *rand.Rand) (Program, error) {
	if len(delays) == 0 {
		return Program{}, &ConfigurationError{Reason: "no delays"}
	}
	if shots < 1 {
		return Program{}, &ConfigurationError{Reason: fmt.Sprintf("shots per point must be at least 1, got %d", shots)}
	}
	if scans < 1 {
		return Program{}, &ConfigurationError{Reason: fmt.Sprintf("scan count must be at least 1, got %d", scans)}
	}
	d := make([]float64, len(delays))
	copy(d, delays)
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Program{}, &ConfigurationError{Reason: fmt.Sprintf("delay %d is not finite", i)}
		}
	}
	switch o {
	case Regular, "":
		o = Regular
	case Backwards:
		for i, j := 0, len(d)-1; i < j; i, j = i+1, j-1 {
			d[i], d[j] = d[j], d[i]
		}
	case Random:
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		rng.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
	default:
		return Program{}, &ConfigurationError{Reason: fmt.Sprintf("unknown orientation %q", o)}
	}
	return Program{Delays: d, Orientation: o, Shots: shots, Scans: scans}, nil
}

// Validate checks every target against the travel range given the stage
// reference, failing on the first violation
func (p Program) Validate(reference float64) error {
	for _, d := range p.Delays {
		if !Travel.Check(reference + d) {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"target %g ps puts the stage at %g ps, outside [%g, %g]", d, reference+d, Travel.Min, Travel.Max)}
		}
	}
	return nil
}

// Len is the number of points per scan
func (p Program) Len() int {
	return len(p.Delays)
}

// Total is the number of points over all scans
func (p Program) Total() int {
	return len(p.Delays) * p.Scans
}
