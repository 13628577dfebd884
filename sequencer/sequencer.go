/*Package sequencer runs transient absorption measurements.

A measurement sweeps the delay stage through a delay.Program.  At every point
the camera acquires one block of shots, the block is reduced to probe and ΔA
spectra, and an update is published.  At the end of every scan the scan's
rows are written to disk, and at the end of the last scan of a multi-scan
measurement the average over scans is written as well.

The run moves through the states

	Idle → Starting → Validating → Homing → Stepping → ScanBoundary → Stepping ...
	                                                                 → Completed
	any state → Stopped

Starting reads the stage reference and position.  Validating rejects the
whole program, before any motion, if one target falls outside the travel of
the stage.  Homing returns the stage to its reference.  A stop, requested or
caused by an error, writes whatever the unfinished scan holds before the run
ends.

Only one run is active at a time, on its own goroutine.  Notifications are
published to subscribers through per-subscriber unbounded queues, so the
worker never waits on a consumer.
*/
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/catalog"
	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/dls"
	"github.com/nasa-jpl/tascan/events"
	"github.com/nasa-jpl/tascan/persist"
	"github.com/nasa-jpl/tascan/spectra"
)

var log = logrus.WithField("component", "sequencer")

var (
	// ErrBusy is returned by Start while a run is active
	ErrBusy = errors.New("a measurement is already running")

	// ErrNotRunning is returned by Stop when no run is active
	ErrNotRunning = errors.New("no measurement is running")
)

// State is the state of the sequencer
type State string

const (
	Idle         State = "Idle"
	Starting     State = "Starting"
	Validating   State = "Validating"
	Homing       State = "Homing"
	Stepping     State = "Stepping"
	ScanBoundary State = "ScanBoundary"
	Completed    State = "Completed"
	Stopped      State = "Stopped"
)

// Terminal is true for Completed and Stopped
func (s State) Terminal() bool {
	return s == Completed || s == Stopped
}

// Stepper names
const (
	// StreamStepper lets the service run the measurement loop and report
	// each delay it reaches
	StreamStepper = "stream"

	// OneShotStepper issues one relative move per point
	OneShotStepper = "oneshot"
)

// Record kinds, the spectrum written per point
const (
	RecordProbe  = "probe"
	RecordDeltaA = "dA"
)

// DefaultStopTimeout bounds the wait for the worker on Stop
const DefaultStopTimeout = 5 * time.Second

// Config holds the run options that are not part of a program
type Config struct {
	Stepper       string        `yaml:"Stepper" koanf:"Stepper"`
	HomeTolerance float64       `yaml:"HomeTolerance" koanf:"HomeTolerance"`
	StopTimeout   time.Duration `yaml:"StopTimeout" koanf:"StopTimeout"`
	Record        string        `yaml:"Record" koanf:"Record"`
	FITS          bool          `yaml:"FITS" koanf:"FITS"`
}

// DefaultConfig streams, records probe spectra and writes no FITS
func DefaultConfig() Config {
	return Config{
		Stepper:       StreamStepper,
		HomeTolerance: dls.DefaultHomeTolerance,
		StopTimeout:   DefaultStopTimeout,
		Record:        RecordProbe,
	}
}

// Request is everything a client supplies to start a run
type Request struct {
	Delays      []float64         `json:"delays"`
	Orientation delay.Orientation `json:"orientation"`
	Shots       int               `json:"shots"`
	Scans       int               `json:"scans"`
	Metadata    persist.Metadata  `json:"metadata"`
}

// EventKind discriminates Event
type EventKind string

const (
	// EventState reports a state transition
	EventState EventKind = "state"

	// EventUpdate reports one acquired point
	EventUpdate EventKind = "update"

	// EventFile reports a file written
	EventFile EventKind = "file"

	// EventError reports the error that ended a run
	EventError EventKind = "error"
)

// Event is one notification from the sequencer
type Event struct {
	Kind  EventKind `json:"kind"`
	Time  time.Time `json:"time"`
	RunID string    `json:"runId"`
	State State     `json:"state,omitempty"`

	// Scan is 1-based, Point is the 0-based index into the program
	Scan  int     `json:"scan,omitempty"`
	Point int     `json:"point"`
	Delay float64 `json:"delay"`

	Probe          spectra.Vector `json:"probe,omitempty"`
	DeltaA         spectra.Vector `json:"dA,omitempty"`
	ProbeAverage   spectra.Vector `json:"probeAverage,omitempty"`
	DeltaAAverage  spectra.Vector `json:"dAAverage,omitempty"`
	RejectedProbe  float64        `json:"rejectedProbe"`
	RejectedDeltaA float64        `json:"rejectedDA"`

	File  string `json:"file,omitempty"`
	Error string `json:"error,omitempty"`
}

// Status is a snapshot of the sequencer
type Status struct {
	State  State     `json:"state"`
	RunID  string    `json:"runId,omitempty"`
	Scan   int       `json:"scan"`
	Scans  int       `json:"scans"`
	Point  int       `json:"point"`
	Points int       `json:"points"`
	Frame  dls.Frame `json:"frame"`
	Files  []string  `json:"files"`
	Error  string    `json:"error,omitempty"`
}

// Suspender is the live monitor, which must release the camera during a run
type Suspender interface {
	Suspend()
	Resume()
}

// Recorder records runs, satisfied by *catalog.Catalog
type Recorder interface {
	Begin(catalog.Run) (string, error)
	AddFile(id, path string) error
	Finish(id, state string, err error) error
}

// Sequencer runs measurements
type Sequencer struct {
	Channel  *dls.Channel
	Stream   *dls.StreamServer
	Camera   camera.Acquirer
	Settings *spectra.Settings
	Axis     spectra.Axis
	Config   Config

	// Directory is used for requests whose metadata names none
	Directory string

	// Monitor, Catalog and Guard are optional.  Guard is locked for the
	// duration of a run, to refuse manual stage commands
	Monitor Suspender
	Catalog Recorder
	Guard   sync.Locker

	events *events.Broadcaster[Event]

	mu     sync.Mutex
	run    *run
	status Status
}

// New returns an idle sequencer
func New(ch *dls.Channel, stream *dls.StreamServer, cam camera.Acquirer, s *spectra.Settings, cfg Config) *Sequencer {
	return &Sequencer{
		Channel:  ch,
		Stream:   stream,
		Camera:   cam,
		Settings: s,
		Config:   cfg,
		events:   events.NewBroadcaster[Event](),
		status:   Status{State: Idle},
	}
}

// Subscribe returns a channel of events and a function to unsubscribe
func (s *Sequencer) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// Subscribers is the number of current event subscribers
func (s *Sequencer) Subscribers() int {
	return s.events.Subscribers()
}

// Status returns a snapshot of the current or last run
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Files = append([]string{}, s.status.Files...)
	return st
}

// Active is true while a run is in progress
func (s *Sequencer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

func (s *Sequencer) publish(e Event) {
	e.Time = time.Now()
	s.events.Publish(e)
}

func (s *Sequencer) updateStatus(fn func(*Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *Sequencer) stepper() (Stepper, error) {
	switch s.Config.Stepper {
	case StreamStepper, "":
		if s.Stream == nil {
			return nil, errors.New("stream stepper needs a stream server")
		}
		return &streamStepper{srv: s.Stream}, nil
	case OneShotStepper:
		return &oneShotStepper{ch: s.Channel}, nil
	}
	return nil, errors.New("unknown stepper " + s.Config.Stepper)
}

// Start builds the program and starts a run on a new goroutine, returning
// its id.  Program errors are returned here and the run never starts;
// everything later is reported by events and Status
func (s *Sequencer) Start(req Request) (string, error) {
	prog, err := delay.Build(req.Delays, req.Orientation, req.Shots, req.Scans, nil)
	if err != nil {
		return "", err
	}
	st, err := s.stepper()
	if err != nil {
		return "", err
	}
	if s.Config.Record != RecordProbe && s.Config.Record != RecordDeltaA && s.Config.Record != "" {
		return "", errors.New("unknown record kind " + s.Config.Record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return "", ErrBusy
	}
	meta := req.Metadata
	if meta.Directory == "" {
		meta.Directory = s.Directory
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      uuid.New().String(),
		seq:     s,
		prog:    prog,
		meta:    meta.Normalized(),
		stepper: st,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.run = r
	s.status = Status{State: Starting, RunID: r.id, Scans: prog.Scans, Points: prog.Len(), Files: []string{}}
	if s.Guard != nil {
		s.Guard.Lock()
	}
	log.Infof("starting run %s: %d points x %d scans, %d shots, %s", r.id, prog.Len(), prog.Scans, prog.Shots, prog.Orientation)
	go r.work(ctx)
	return r.id, nil
}

// Stop ends the active run.  The remote loop is told to stop and the worker
// is given StopTimeout to write what it has; after that the service is
// killed so any blocked read returns
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	log.Infof("stop requested for run %s", r.id)
	r.cancel()
	if err := r.stepper.Stop(); err != nil {
		log.Debugf("stop message: %v", err)
	}
	timeout := s.Config.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
	}
	log.Warnf("run %s did not stop within %v, terminating the service", r.id, timeout)
	r.stepper.Kill()
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return errors.New("measurement worker did not exit after the service was terminated")
	}
}

// Wait blocks until the active run, if any, has ended and returns the final
// status
func (s *Sequencer) Wait() Status {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r != nil {
		<-r.done
	}
	return s.Status()
}
