package dls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// DefaultHomeTolerance is how close to the reference the stage must be
	// to count as homed, in ps
	DefaultHomeTolerance = 0.01

	// DefaultHomeTimeout bounds MoveToReference
	DefaultHomeTimeout = 30 * time.Second
)

var errNotHomed = errors.New("stage not yet at reference")

// Channel issues one-shot commands: every call launches the service once,
// collects its stdout and waits for it to exit.  Calls are serialized.
// The channel does not retry failed commands
type Channel struct {
	Launcher Launcher

	// HomeTolerance and HomeTimeout parameterize MoveToReference
	HomeTolerance float64
	HomeTimeout   time.Duration

	mu    sync.Mutex
	fmu   sync.Mutex
	frame Frame
}

// NewChannel returns a Channel with default homing parameters
func NewChannel(l Launcher) *Channel {
	return &Channel{Launcher: l, HomeTolerance: DefaultHomeTolerance, HomeTimeout: DefaultHomeTimeout}
}

// Frame returns the last reference and position reported by the service
func (c *Channel) Frame() Frame {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	return c.frame
}

func (c *Channel) observe(r Response) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	switch r.Kind {
	case KindPosition, KindMoved:
		c.frame.Position = r.Position
	case KindReference:
		c.frame.Reference = r.Reference
	case KindStartup:
		c.frame = Frame{Reference: r.Reference, Position: r.Position}
	}
}

// Observe records a frame learned out of band, for example from StartGUI
func (c *Channel) Observe(f Frame) {
	c.observe(Response{Kind: KindStartup, Position: f.Position, Reference: f.Reference})
}

// Do launches the service with arg and returns every recognized response.
// Unrecognized stdout is logged and ignored.  If the service reported that
// the stage is not movable, the responses are returned with a
// *HardwareStateError
func (c *Channel) Do(ctx context.Context, arg string) ([]Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Launcher == nil {
		return nil, &ChannelError{Op: arg, Err: errors.New("no launcher configured")}
	}
	log.Debugf("-> %s", arg)
	// a command in flight is not aborted when ctx is cancelled
	p, err := c.Launcher.Launch(context.WithoutCancel(ctx), arg)
	if err != nil {
		return nil, &ChannelError{Op: arg, Err: err}
	}
	var (
		out      []Response
		parseErr error
	)
	wg := drain(p, arg, func(line string) {
		r, ok, err := ParseLine(line)
		switch {
		case err != nil:
			log.Warnf("%s: unparseable output %q: %v", arg, line, err)
			if parseErr == nil {
				parseErr = err
			}
		case !ok:
			if line != "" {
				log.Warnf("%s: output does not match expected format: %q", arg, line)
			}
		default:
			log.Debugf("<- %s %+v", arg, r)
			c.observe(r)
			out = append(out, r)
		}
	})
	wg.Wait()
	if err := p.Wait(); err != nil {
		return out, &ChannelError{Op: arg, Err: err}
	}
	if parseErr != nil {
		return out, &ChannelError{Op: arg, Err: parseErr}
	}
	for _, r := range out {
		if r.Kind == KindError {
			e := &HardwareStateError{Command: arg, Message: r.Message}
			log.Warn(e)
			return out, e
		}
	}
	return out, nil
}

// expect runs arg and returns the last response of kind k
func (c *Channel) expect(ctx context.Context, arg string, k Kind) (Response, error) {
	rs, err := c.Do(ctx, arg)
	if err != nil {
		return Response{}, err
	}
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i].Kind == k {
			return rs[i], nil
		}
	}
	return Response{}, &ChannelError{Op: arg, Err: ErrNoReply}
}

// GetReference blocks until the service reports the reference position
func (c *Channel) GetReference(ctx context.Context) (float64, error) {
	r, err := c.expect(ctx, GetReference, KindReference)
	return r.Reference, err
}

// GetPosition blocks until the service reports the current position
func (c *Channel) GetPosition(ctx context.Context) (float64, error) {
	r, err := c.expect(ctx, GetPosition, KindPosition)
	return r.Position, err
}

// GetFrame queries the reference, then the position
func (c *Channel) GetFrame(ctx context.Context) (Frame, error) {
	ref, err := c.GetReference(ctx)
	if err != nil {
		return Frame{}, err
	}
	pos, err := c.GetPosition(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Reference: ref, Position: pos}, nil
}

// MoveRelative moves the stage by ps and returns the position reached
func (c *Channel) MoveRelative(ctx context.Context, ps float64) (float64, error) {
	r, err := c.expect(ctx, FormatMove(MoveRelative, ps), KindMoved)
	return r.Position, err
}

// MoveAbsolute moves the stage to ps and returns the position reached
func (c *Channel) MoveAbsolute(ctx context.Context, ps float64) (float64, error) {
	r, err := c.expect(ctx, FormatMove(MoveAbsolute, ps), KindMoved)
	return r.Position, err
}

// GoToReference moves the stage to the reference and returns the position
// reached
func (c *Channel) GoToReference(ctx context.Context) (float64, error) {
	r, err := c.expect(ctx, GoToReference, KindMoved)
	return r.Position, err
}

// SetReference makes the current position the reference
func (c *Channel) SetReference(ctx context.Context) error {
	_, err := c.Do(ctx, SetReference)
	return err
}

// Initialize initializes and homes the controller
func (c *Channel) Initialize(ctx context.Context) error {
	_, err := c.Do(ctx, Initialize)
	return err
}

// Disable toggles the controller between disabled and ready
func (c *Channel) Disable(ctx context.Context) error {
	_, err := c.Do(ctx, Disable)
	return err
}

// Connect opens the instrument without moving it
func (c *Channel) Connect(ctx context.Context) error {
	_, err := c.Do(ctx, Connect)
	return err
}

// Jog moves the stage by JogStep in the direction of the sign of dir
func (c *Channel) Jog(ctx context.Context, dir int) error {
	cmd := MovePositive
	if dir < 0 {
		cmd = MoveNegative
	}
	_, err := c.Do(ctx, cmd)
	return err
}

// MoveToReference issues GoToReference and blocks until the stage is within
// HomeTolerance of the reference, re-querying the position on an
// exponential schedule bounded by HomeTimeout
func (c *Channel) MoveToReference(ctx context.Context) (Frame, error) {
	ref, err := c.GetReference(ctx)
	if err != nil {
		return Frame{}, err
	}
	pos, err := c.GoToReference(ctx)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Reference: ref, Position: pos}
	tol := c.HomeTolerance
	if f.Homed(tol) {
		return f, nil
	}
	var hard error
	op := func() error {
		pos, err := c.GetPosition(ctx)
		if err != nil {
			hard = err
			return nil
		}
		f.Position = pos
		if !f.Homed(tol) {
			return errNotHomed
		}
		return nil
	}
	b := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      c.HomeTimeout,
		Clock:               backoff.SystemClock}, ctx)
	err = backoff.Retry(op, b)
	if hard != nil {
		return f, hard
	}
	if err != nil {
		return f, &ChannelError{Op: GoToReference, Err: fmt.Errorf(
			"stage %g ps from reference after %v: %w", f.Offset(), c.HomeTimeout, err)}
	}
	return f, nil
}
