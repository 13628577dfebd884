package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/dls"
)

// Stepper moves the stage from point to point of a program
type Stepper interface {
	// Begin prepares a run of prog from a homed stage
	Begin(ctx context.Context, prog delay.Program, f dls.Frame) error

	// Next brings the stage to target and returns the delay reached
	Next(ctx context.Context, target float64) (float64, error)

	// Done reports point counter processed
	Done(counter int) error

	// Stop asks the stepper to end.  It may be called concurrently with
	// Next
	Stop() error

	// Close releases the stepper, waiting up to timeout for the service
	Close(timeout time.Duration) error

	// Kill force-terminates the service so any blocked call returns
	Kill()
}

// streamStepper runs the MeasurementLoop on the service and follows the
// delays it reports
type streamStepper struct {
	srv *dls.StreamServer

	mu   sync.Mutex
	sess *dls.Session
}

func (s *streamStepper) session() *dls.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *streamStepper) Begin(ctx context.Context, prog delay.Program, f dls.Frame) error {
	arg, err := dls.FormatLoop(prog.Delays, prog.Scans)
	if err != nil {
		return err
	}
	sess, err := s.srv.Open(ctx, arg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	return nil
}

// Next ignores target; the service visits the same order on its own
func (s *streamStepper) Next(ctx context.Context, target float64) (float64, error) {
	sess := s.session()
	if sess == nil {
		return 0, dls.ErrSessionClosed
	}
	return sess.NextDelay()
}

func (s *streamStepper) Done(counter int) error {
	sess := s.session()
	if sess == nil {
		return dls.ErrSessionClosed
	}
	return sess.Ack(counter)
}

func (s *streamStepper) Stop() error {
	sess := s.session()
	if sess == nil {
		return nil
	}
	return sess.SendStop()
}

func (s *streamStepper) Close(timeout time.Duration) error {
	sess := s.session()
	if sess == nil {
		return nil
	}
	err := sess.Wait(timeout)
	s.srv.Close()
	return err
}

func (s *streamStepper) Kill() {
	if sess := s.session(); sess != nil {
		sess.Kill()
	}
}

// oneShotStepper issues one relative move per point
type oneShotStepper struct {
	ch *dls.Channel

	// last is the delay of the last point reached, relative to the reference
	last float64
}

func (s *oneShotStepper) Begin(ctx context.Context, prog delay.Program, f dls.Frame) error {
	if s.ch == nil {
		return errors.New("oneshot stepper needs a command channel")
	}
	s.last = f.Position - f.Reference
	return nil
}

func (s *oneShotStepper) Next(ctx context.Context, target float64) (float64, error) {
	pos, err := s.ch.MoveRelative(ctx, target-s.last)
	if err != nil {
		return 0, err
	}
	s.last = target
	return pos - s.ch.Frame().Reference, nil
}

func (s *oneShotStepper) Done(int) error { return nil }
func (s *oneShotStepper) Stop() error    { return nil }

func (s *oneShotStepper) Close(time.Duration) error { return nil }
func (s *oneShotStepper) Kill()                     {}
