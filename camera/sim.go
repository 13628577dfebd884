package camera

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator produces synthetic pump-probe blocks.  Shots alternate between
// pump-off and pump-on, and pump-on shots carry a decaying absorption band
// whose amplitude depends on the delay reported by Delay.
type Simulator struct {
	sync.Mutex

	// Pixels is the row width, DefaultPixels if zero
	Pixels int

	// Level is the peak probe intensity in counts
	Level float64

	// Noise is the standard deviation of the additive shot noise in counts
	Noise float64

	// Amplitude is the peak ΔA of the simulated band at t=0
	Amplitude float64

	// Lifetime is the decay constant of the band in ps
	Lifetime float64

	// OutlierRate is the probability that a shot is scaled by 10x
	OutlierRate float64

	// Delay returns the current pump-probe delay in ps.  Nil means 0
	Delay func() float64

	// Exposure is slept once per block to mimic readout time
	Exposure time.Duration

	rng *rand.Rand
}

// NewSimulator returns a Simulator with realistic defaults
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		Pixels:    DefaultPixels,
		Level:     30000,
		Noise:     50,
		Amplitude: 0.05,
		Lifetime:  50,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) lamp(px, width int) float64 {
	x := (float64(px) - float64(width)/2) / (float64(width) / 3)
	return s.Level * math.Exp(-x*x)
}

func (s *Simulator) band(px, width int, t float64) float64 {
	if t < 0 {
		return 0
	}
	x := (float64(px) - float64(width)*0.4) / (float64(width) / 10)
	return s.Amplitude * math.Exp(-t/s.Lifetime) * math.Exp(-x*x)
}

// AcquireBlock satisfies Acquirer
func (s *Simulator) AcquireBlock(ctx context.Context, shots, index int) (Block, error) {
	if s.Exposure > 0 {
		select {
		case <-time.After(s.Exposure):
		case <-ctx.Done():
			return Block{}, ctx.Err()
		}
	}
	s.Lock()
	defer s.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(int64(index)))
	}
	width := s.Pixels
	if width == 0 {
		width = DefaultPixels
	}
	t := 0.
	if s.Delay != nil {
		t = s.Delay()
	}
	blk := NewBlock(shots, width)
	for i := 0; i < shots; i++ {
		row := blk.Row(i)
		pumpOn := i%2 == 1
		scale := 1.
		if s.OutlierRate > 0 && s.rng.Float64() < s.OutlierRate {
			scale = 10
		}
		for px := range row {
			v := s.lamp(px, width)
			if pumpOn {
				v *= math.Exp(-s.band(px, width, t))
			}
			v = v*scale + s.rng.NormFloat64()*s.Noise
			row[px] = uint16(math.Max(0, math.Min(v, math.MaxUint16)))
		}
		if pumpOn {
			row[DefaultPumpColumn] = DefaultPumpThreshold
		} else {
			row[DefaultPumpColumn] = 0
		}
	}
	return blk, nil
}
