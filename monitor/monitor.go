/*Package monitor runs the camera continuously for live display.

A Monitor acquires a fixed number of shots over and over, reduces every block
with its own spectra.Settings and publishes the spectra to subscribers.  It
owns no program and writes nothing to disk.

The monitor and a measurement never use the camera at the same time.  A
measurement calls Suspend before it touches the hardware, which stops the
loop and saves the monitor's outlier policies, and Resume when it ends, which
restores those policies and restarts the loop if it was running.
*/
package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/events"
	"github.com/nasa-jpl/tascan/spectra"
)

var log = logrus.WithField("component", "monitor")

const (
	// DefaultShots is the block size of the monitor
	DefaultShots = 1000

	// DefaultRate is the maximum number of updates published per second
	DefaultRate = 10.

	// errorPause is slept after a failed acquisition
	errorPause = time.Second
)

var (
	// ErrRunning is returned by Start when the loop is already running
	ErrRunning = errors.New("monitor already running")

	// ErrSuspended is returned by Start while a measurement owns the camera
	ErrSuspended = errors.New("monitor suspended by a measurement")

	// ErrNoSpectrum is returned by CaptureDark before the first block
	ErrNoSpectrum = errors.New("no spectrum acquired yet")
)

// Update is one published block
type Update struct {
	Time  time.Time `json:"time"`
	Block int       `json:"block"`

	Probe          spectra.Vector `json:"probe"`
	DeltaA         spectra.Vector `json:"dA"`
	ProbeAverage   spectra.Vector `json:"probeAverage"`
	DeltaAAverage  spectra.Vector `json:"dAAverage"`
	RejectedProbe  float64        `json:"rejectedProbe"`
	RejectedDeltaA float64        `json:"rejectedDA"`
}

// Monitor is the free running acquisition loop
type Monitor struct {
	Camera   camera.Acquirer
	Settings *spectra.Settings

	// DarkTargets also receive the dark vector on CaptureDark and ClearDark
	DarkTargets []*spectra.Settings

	updates *events.Broadcaster[Update]
	limiter *rate.Limiter
	shots   atomic.Int64
	reset   atomic.Bool
	latest  atomic.Pointer[spectra.Spectra]

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	suspended  bool
	wasRunning bool
	saved      *spectra.Config
}

// New returns a stopped Monitor.  perSecond <= 0 publishes every block
func New(cam camera.Acquirer, s *spectra.Settings, shots int, perSecond float64) *Monitor {
	lim := rate.Limit(perSecond)
	if perSecond <= 0 {
		lim = rate.Inf
	}
	m := &Monitor{
		Camera:   cam,
		Settings: s,
		updates:  events.NewBroadcaster[Update](),
		limiter:  rate.NewLimiter(lim, 1),
	}
	if shots < 1 {
		shots = DefaultShots
	}
	m.shots.Store(int64(shots))
	return m
}

// Subscribe returns a channel of updates and a function to unsubscribe
func (m *Monitor) Subscribe() (<-chan Update, func()) {
	return m.updates.Subscribe()
}

// Subscribers is the number of current update subscribers
func (m *Monitor) Subscribers() int {
	return m.updates.Subscribers()
}

// Shots returns the block size
func (m *Monitor) Shots() int {
	return int(m.shots.Load())
}

// SetShots changes the block size, effective from the next block
func (m *Monitor) SetShots(n int) error {
	if n < 1 {
		return errors.New("shots must be at least 1")
	}
	m.shots.Store(int64(n))
	return nil
}

// Rate returns the maximum number of updates published per second, 0 if
// every block is published
func (m *Monitor) Rate() float64 {
	lim := m.limiter.Limit()
	if lim == rate.Inf {
		return 0
	}
	return float64(lim)
}

// SetRate changes the maximum number of updates published per second.
// 0 publishes every block
func (m *Monitor) SetRate(perSecond float64) error {
	switch {
	case perSecond < 0 || math.IsNaN(perSecond):
		return errors.New("rate must not be negative")
	case perSecond == 0:
		m.limiter.SetLimit(rate.Inf)
	default:
		m.limiter.SetLimit(rate.Limit(perSecond))
	}
	return nil
}

// Latest returns the most recent reduced block, or nil
func (m *Monitor) Latest() *spectra.Spectra {
	return m.latest.Load()
}

// ResetAverage restarts the running averages from the next block
func (m *Monitor) ResetAverage() {
	m.reset.Store(true)
}

// Running returns true if the loop is running
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start starts the loop
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended {
		return ErrSuspended
	}
	return m.startLocked()
}

func (m *Monitor) startLocked() error {
	if m.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	log.Info("started")
	return nil
}

// Stop stops the loop and waits for the block in flight
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	log.Info("stopped")
}

// Suspend stops the loop and saves the reducer configuration.  Calls while
// already suspended are ignored
func (m *Monitor) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended {
		return
	}
	m.suspended = true
	m.wasRunning = m.cancel != nil
	m.saved = m.Settings.Snapshot()
	m.stopLocked()
}

// Resume restores the outlier policies saved by Suspend and restarts the
// loop if it was running.  The dark vector is left as it is, so a dark
// captured during the measurement stays shared with the DarkTargets
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.suspended {
		return
	}
	m.suspended = false
	if saved := m.saved; saved != nil {
		m.Settings.Update(func(c *spectra.Config) {
			c.Probe = saved.Probe
			c.DeltaA = saved.DeltaA
		})
		m.saved = nil
	}
	if m.wasRunning {
		m.startLocked()
	}
}

// Suspended returns true between Suspend and Resume
func (m *Monitor) Suspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

// CaptureDark stores the latest raw probe spectrum as the dark vector of the
// monitor and of every DarkTarget
func (m *Monitor) CaptureDark() ([]float64, error) {
	s := m.latest.Load()
	if s == nil {
		return nil, ErrNoSpectrum
	}
	dark := make([]float64, len(s.Probe))
	copy(dark, s.Probe)
	// the latest probe already has any previous dark removed
	if old := m.Settings.Dark(); len(old) == len(dark) {
		for i := range dark {
			dark[i] += old[i]
		}
	}
	m.setDark(dark)
	log.Infof("captured %d pixel dark spectrum", len(dark))
	return dark, nil
}

// ClearDark removes the dark vector from the monitor and every DarkTarget
func (m *Monitor) ClearDark() {
	m.setDark(nil)
	log.Info("cleared dark spectrum")
}

func (m *Monitor) setDark(d []float64) {
	m.Settings.SetDark(d)
	for _, s := range m.DarkTargets {
		s.SetDark(d)
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	reducer := spectra.NewReducer(m.Settings)
	var probeAvg, dAAvg spectra.RunningMean
	for i := 0; ctx.Err() == nil; i++ {
		blk, err := m.Camera.AcquireBlock(ctx, m.Shots(), i)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("acquiring block %d: %v", i, err)
			select {
			case <-time.After(errorPause):
			case <-ctx.Done():
			}
			continue
		}
		s, err := reducer.Reduce(blk)
		if err != nil {
			log.Errorf("reducing block %d: %v", i, err)
			continue
		}
		m.latest.Store(&s)
		if m.reset.Swap(false) {
			probeAvg.Reset()
			dAAvg.Reset()
		}
		probeAvg.Add(s.Probe)
		dAAvg.Add(s.DeltaA)
		if !m.limiter.Allow() {
			continue
		}
		m.updates.Publish(Update{
			Time:           time.Now(),
			Block:          i,
			Probe:          s.Probe,
			DeltaA:         s.DeltaA,
			ProbeAverage:   probeAvg.Mean(),
			DeltaAAverage:  dAAvg.Mean(),
			RejectedProbe:  s.RejectedProbe,
			RejectedDeltaA: s.RejectedDeltaA,
		})
	}
}
