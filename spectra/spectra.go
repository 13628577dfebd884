/*Package spectra reduces raw camera blocks to probe and ΔA spectra.

Each shot in a block is tagged pump-on or pump-off by a status column.  The
probe spectrum is the mean of the pump-off shots, and ΔA is
-ln(I_on/I_off) averaged over paired shots.  Shots can be rejected as
outliers before averaging, with independent policies for the probe path and
the paired ΔA path.

Reduction never fails on data content: empty survivor sets produce all-zero
spectra.  A pair whose ratio is non-positive or infinite (a pump-off value of
zero) contributes nothing to that pixel's mean, and a pixel left with no
contributing pair is NaN.  Spectra carry NaN as null when encoded to JSON,
see Vector.
*/
package spectra

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/nasa-jpl/tascan/camera"
)

var log = logrus.WithField("component", "spectra")

// Spectra is the reduction of one block
type Spectra struct {
	Probe  Vector `json:"probe"`
	DeltaA Vector `json:"dA"`

	// RejectedProbe and RejectedDeltaA are percentages in [0, 100]
	RejectedProbe  float64 `json:"rejectedProbe"`
	RejectedDeltaA float64 `json:"rejectedDA"`

	PumpOff int `json:"pumpOff"`
	PumpOn  int `json:"pumpOn"`
}

// Reducer turns blocks into Spectra using the configuration in Settings
type Reducer struct {
	Settings *Settings
}

// NewReducer returns a reducer bound to s
func NewReducer(s *Settings) *Reducer {
	return &Reducer{Settings: s}
}

// Reduce reduces one block.  Only a malformed block or a pump column outside
// the row is an error
func (r *Reducer) Reduce(b camera.Block) (Spectra, error) {
	cfg := r.Settings.Snapshot()
	return ReduceWith(*cfg, b)
}

// ReduceWith reduces b with an explicit configuration
func ReduceWith(cfg Config, b camera.Block) (Spectra, error) {
	if err := b.Validate(); err != nil {
		return Spectra{}, err
	}
	if cfg.PumpColumn < 0 || cfg.PumpColumn >= b.Pixels {
		return Spectra{}, fmt.Errorf("pump column %d outside %d pixel rows", cfg.PumpColumn, b.Pixels)
	}
	if cfg.WindowStart < 0 || cfg.WindowEnd > b.Pixels || cfg.Width() == 0 {
		return Spectra{}, fmt.Errorf("pixel window [%d,%d) outside %d pixel rows", cfg.WindowStart, cfg.WindowEnd, b.Pixels)
	}
	width := cfg.Width()
	dark := cfg.Dark
	if dark != nil && len(dark) != width {
		log.Warnf("dark vector has %d pixels, window has %d; not subtracting", len(dark), width)
		dark = nil
	}

	off, on := split(cfg, b, dark)
	out := Spectra{PumpOff: len(off), PumpOn: len(on)}

	// probe
	probe := off
	if cfg.Probe.Enabled {
		keep := Reject(off, cfg.Probe)
		out.RejectedProbe = rejectedPercent(keep)
		probe = filter(off, keep)
	}
	out.Probe = mean(probe, width)

	// ΔA
	if len(off) != len(on) {
		log.Warnf("pump-off and pump-on shot counts differ (%d vs %d), pairing the first %d", len(off), len(on), min(len(off), len(on)))
	}
	n := min(len(off), len(on))
	off, on = off[:n], on[:n]
	if cfg.DeltaA.Enabled {
		keep := and(Reject(off, cfg.DeltaA), Reject(on, cfg.DeltaA))
		out.RejectedDeltaA = rejectedPercent(keep)
		off, on = filter(off, keep), filter(on, keep)
	}
	out.DeltaA = deltaA(off, on, width)
	return out, nil
}

// split windows and dark-corrects every row, sorting them by pump state
func split(cfg Config, b camera.Block, dark []float64) (off, on [][]float64) {
	for i := 0; i < b.Shots; i++ {
		raw := b.Row(i)
		row := make([]float64, cfg.Width())
		for j := range row {
			row[j] = float64(raw[cfg.WindowStart+j])
		}
		if dark != nil {
			floats.Sub(row, dark)
		}
		if raw[cfg.PumpColumn] < cfg.PumpThreshold {
			off = append(off, row)
		} else {
			on = append(on, row)
		}
	}
	return off, on
}

func filter(rows [][]float64, keep []bool) [][]float64 {
	out := make([][]float64, 0, len(rows))
	for i, k := range keep {
		if k {
			out = append(out, rows[i])
		}
	}
	return out
}

// mean is the column mean of rows, all zero if there are none
func mean(rows [][]float64, width int) []float64 {
	acc := make([]float64, width)
	if len(rows) == 0 {
		return acc
	}
	for _, row := range rows {
		floats.Add(acc, row)
	}
	floats.Scale(1/float64(len(rows)), acc)
	return acc
}

// deltaA computes -ln(on/off) per pair and takes the column mean over the
// pairs with a finite positive ratio
func deltaA(off, on [][]float64, width int) []float64 {
	acc := make([]float64, width)
	if len(off) == 0 || len(on) == 0 {
		return acc
	}
	counts := make([]int, width)
	for i := range off {
		for j := 0; j < width; j++ {
			ratio := on[i][j] / off[i][j]
			if !(ratio > 0) || math.IsInf(ratio, 0) {
				continue
			}
			acc[j] += -math.Log(ratio)
			counts[j]++
		}
	}
	for j := range acc {
		if counts[j] == 0 {
			acc[j] = math.NaN()
			continue
		}
		acc[j] /= float64(counts[j])
	}
	return acc
}
