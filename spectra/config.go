package spectra

import (
	"sync/atomic"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/util"
)

const (
	// DefaultWindowStart is the first pixel of the useful sensor area
	DefaultWindowStart = 12

	// DefaultWindowEnd is one past the last pixel of the useful sensor area
	DefaultWindowEnd = 1035

	// DisabledThreshold is the deviation threshold, in percent, at or above
	// which no rows are rejected
	DisabledThreshold = 100.
)

// OutlierPolicy configures rejection of shots whose mean over a pixel range
// deviates too far from the block mean.  Start and End index the pixel
// window, not the raw row.
type OutlierPolicy struct {
	Enabled   bool    `json:"enabled" yaml:"Enabled" koanf:"Enabled"`
	Threshold float64 `json:"threshold" yaml:"Threshold" koanf:"Threshold"`
	Start     int     `json:"start" yaml:"Start" koanf:"Start"`
	End       int     `json:"end" yaml:"End" koanf:"End"`
}

// DefaultPolicy is disabled and spans the whole default window
func DefaultPolicy() OutlierPolicy {
	return OutlierPolicy{Threshold: DisabledThreshold, Start: 0, End: DefaultWindowEnd - DefaultWindowStart}
}

// normalize orders Start <= End, clamps both to [0, width] and the
// threshold to [0, DisabledThreshold]
func (p OutlierPolicy) normalize(width int) OutlierPolicy {
	p.Threshold = util.Clamp(p.Threshold, 0, DisabledThreshold)
	if p.Start > p.End {
		p.Start, p.End = p.End, p.Start
	}
	p.Start = util.ClampInt(p.Start, 0, width)
	p.End = util.ClampInt(p.End, 0, width)
	return p
}

// Config is an immutable snapshot of everything the reducer needs for one
// block.  Never mutate a Config obtained from Settings.Snapshot
type Config struct {
	// WindowStart and WindowEnd select the [start, end) pixel columns that
	// form the spectrum
	WindowStart int `json:"windowStart" yaml:"WindowStart" koanf:"WindowStart"`
	WindowEnd   int `json:"windowEnd" yaml:"WindowEnd" koanf:"WindowEnd"`

	// PumpColumn is the raw column holding the pump state and
	// PumpThreshold the value at or above which a shot is pump-on
	PumpColumn    int    `json:"pumpColumn" yaml:"PumpColumn" koanf:"PumpColumn"`
	PumpThreshold uint16 `json:"pumpThreshold" yaml:"PumpThreshold" koanf:"PumpThreshold"`

	Probe  OutlierPolicy `json:"probe" yaml:"Probe" koanf:"Probe"`
	DeltaA OutlierPolicy `json:"dA" yaml:"DeltaA" koanf:"DeltaA"`

	// Dark is subtracted from every windowed row when its length matches
	// the window width
	Dark []float64 `json:"-" yaml:"-" koanf:"-"`
}

// DefaultConfig returns the configuration for the stock line camera
func DefaultConfig() Config {
	return Config{
		WindowStart:   DefaultWindowStart,
		WindowEnd:     DefaultWindowEnd,
		PumpColumn:    camera.DefaultPumpColumn,
		PumpThreshold: camera.DefaultPumpThreshold,
		Probe:         DefaultPolicy(),
		DeltaA:        DefaultPolicy(),
	}
}

// Width is the number of pixels in the window
func (c Config) Width() int {
	if c.WindowEnd < c.WindowStart {
		return 0
	}
	return c.WindowEnd - c.WindowStart
}

func (c Config) clone() Config {
	if c.Dark != nil {
		d := make([]float64, len(c.Dark))
		copy(d, c.Dark)
		c.Dark = d
	}
	return c
}

// Settings holds the live-mutable reducer configuration.  Writers replace
// the whole Config; readers take one Snapshot per block, so a threshold and
// its range are always read together.
type Settings struct {
	p atomic.Pointer[Config]
}

// NewSettings creates Settings holding a copy of c
func NewSettings(c Config) *Settings {
	s := &Settings{}
	s.Store(c)
	return s
}

// Snapshot returns the current configuration
func (s *Settings) Snapshot() *Config {
	return s.p.Load()
}

// Store replaces the configuration with a copy of c
func (s *Settings) Store(c Config) {
	c = c.clone()
	c.Probe = c.Probe.normalize(c.Width())
	c.DeltaA = c.DeltaA.normalize(c.Width())
	s.p.Store(&c)
}

// Update applies fn to a copy of the current configuration and publishes it.
// Concurrent updates are retried so none is lost
func (s *Settings) Update(fn func(*Config)) {
	for {
		old := s.p.Load()
		next := old.clone()
		fn(&next)
		next.Probe = next.Probe.normalize(next.Width())
		next.DeltaA = next.DeltaA.normalize(next.Width())
		if s.p.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ProbePolicy returns the current probe outlier policy
func (s *Settings) ProbePolicy() OutlierPolicy {
	return s.Snapshot().Probe
}

// SetProbePolicy replaces the probe outlier policy
func (s *Settings) SetProbePolicy(p OutlierPolicy) {
	s.Update(func(c *Config) { c.Probe = p })
}

// DeltaAPolicy returns the current ΔA outlier policy
func (s *Settings) DeltaAPolicy() OutlierPolicy {
	return s.Snapshot().DeltaA
}

// SetDeltaAPolicy replaces the ΔA outlier policy
func (s *Settings) SetDeltaAPolicy(p OutlierPolicy) {
	s.Update(func(c *Config) { c.DeltaA = p })
}

// Dark returns a copy of the dark-noise vector, nil if none is set
func (s *Settings) Dark() []float64 {
	return s.Snapshot().clone().Dark
}

// SetDark replaces the dark-noise vector.  nil clears it
func (s *Settings) SetDark(d []float64) {
	var cp []float64
	if d != nil {
		cp = append([]float64(nil), d...)
	}
	s.Update(func(c *Config) { c.Dark = cp })
}
