package dls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/tascan/comm"
)

// mockTravel is the travel of the emulated stage in ps
const mockTravel = 8672.66

// Mock emulates the hardware command service in process.  It satisfies
// Launcher; each Launch runs one command against the shared emulated stage,
// printing the same stdout lines the real service does and, for StartGUI
// and MeasurementLoop, dialing StreamAddr and speaking the streaming
// protocol.
type Mock struct {
	sync.Mutex

	// StreamAddr returns the address to dial for streaming commands
	StreamAddr func() string

	// MoveTime is slept per move
	MoveTime time.Duration

	// DialTimeout bounds the dial retries of streaming commands
	DialTimeout time.Duration

	// FailOn makes the named command exit with an error, for tests
	FailOn string

	reference float64
	position  float64
	ready     bool
	refuse    []float64
	launches  []string
	acks      []int
}

// NewMock returns a ready stage sitting at its reference
func NewMock(reference float64) *Mock {
	return &Mock{
		reference:   reference,
		position:    reference,
		ready:       true,
		DialTimeout: 5 * time.Second,
	}
}

// Frame returns the emulated reference and position
func (m *Mock) Frame() Frame {
	m.Lock()
	defer m.Unlock()
	return Frame{Reference: m.reference, Position: m.position}
}

// Delay returns the position relative to the reference, in ps
func (m *Mock) Delay() float64 {
	f := m.Frame()
	return f.Position - f.Reference
}

// SetFrame places the emulated stage
func (m *Mock) SetFrame(f Frame) {
	m.Lock()
	defer m.Unlock()
	m.reference = f.Reference
	m.position = f.Position
}

// SetReady sets whether the emulated controller accepts moves
func (m *Mock) SetReady(b bool) {
	m.Lock()
	defer m.Unlock()
	m.ready = b
}

// RefuseAt makes moves to any of the given delays, relative to the
// reference, fail as if the controller were not ready
func (m *Mock) RefuseAt(delays ...float64) {
	m.Lock()
	defer m.Unlock()
	m.refuse = append([]float64(nil), delays...)
}

// Acks returns the counters of every acknowledgement received by
// MeasurementLoop so far
func (m *Mock) Acks() []int {
	m.Lock()
	defer m.Unlock()
	return append([]int(nil), m.acks...)
}

// Launches returns the arguments of every Launch so far
func (m *Mock) Launches() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.launches...)
}

// Launch satisfies Launcher
func (m *Mock) Launch(ctx context.Context, arg string) (Process, error) {
	m.Lock()
	m.launches = append(m.launches, arg)
	m.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	or, ow := io.Pipe()
	er, ew := io.Pipe()
	p := &mockProcess{stdout: or, stderr: er, done: make(chan struct{}), cancel: cancel}
	go func() {
		err := m.run(ctx, arg, ow, ew)
		cancel()
		if err != nil {
			fmt.Fprintln(ew, err)
		}
		ow.Close()
		ew.Close()
		p.err = err
		close(p.done)
	}()
	return p, nil
}

// move displaces the stage to abs, honouring state and travel
func (m *Mock) move(abs float64) (float64, error) {
	m.Lock()
	defer m.Unlock()
	if !m.ready {
		return m.position, errNotReady
	}
	for _, d := range m.refuse {
		if math.Abs(abs-m.reference-d) < 1e-9 {
			return m.position, errNotReady
		}
	}
	if abs < 0 || abs > mockTravel {
		return m.position, fmt.Errorf("target %g ps outside travel", abs)
	}
	m.position = abs
	return m.position, nil
}

var errNotReady = errors.New(NotMovable)

func (m *Mock) sleep(ctx context.Context) error {
	if m.MoveTime <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.MoveTime):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// relative prints the outcome of a relative move to w
func (m *Mock) relative(ctx context.Context, w io.Writer, d float64) error {
	if err := m.sleep(ctx); err != nil {
		return err
	}
	pos, err := m.move(m.Frame().Position + d)
	if err == errNotReady {
		fmt.Fprintln(w, NotMovable)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Moved to relative position: %g ps\n", pos)
	return nil
}

func (m *Mock) run(ctx context.Context, arg string, w, ew io.Writer) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		fmt.Fprintln(w, "No command provided.")
		return nil
	}
	cmd := fields[0]
	if m.FailOn != "" && cmd == m.FailOn {
		return fmt.Errorf("emulated failure of %s", cmd)
	}
	switch cmd {
	case Initialize, Connect:
		m.SetReady(true)
	case Disable:
		m.Lock()
		m.ready = !m.ready
		ready := m.ready
		m.Unlock()
		if ready {
			fmt.Fprintln(w, "The machine is now ready.")
		} else {
			fmt.Fprintln(w, "The machine is now disabled.")
		}
	case MovePositive:
		return m.relative(ctx, w, JogStep)
	case MoveNegative:
		return m.relative(ctx, w, -JogStep)
	case MoveRelative, MoveAbsolute:
		if len(fields) != 2 {
			return fmt.Errorf("%s needs one argument", cmd)
		}
		f, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		if cmd == MoveRelative {
			return m.relative(ctx, w, f)
		}
		if err := m.sleep(ctx); err != nil {
			return err
		}
		pos, err := m.move(f)
		if err == errNotReady {
			fmt.Fprintln(w, NotMovable)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Moved to absolute position: %g ps\n", pos)
	case SetReference:
		m.Lock()
		m.reference = m.position
		ref := m.reference
		m.Unlock()
		fmt.Fprintf(w, "Reference position: %g ps\n", ref)
	case GoToReference:
		if err := m.sleep(ctx); err != nil {
			return err
		}
		pos, err := m.move(m.Frame().Reference)
		if err == errNotReady {
			fmt.Fprintln(w, NotMovable)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Moved to reference position: %g ps\n", pos)
	case GetPosition:
		fmt.Fprintf(w, "Current position: %g ps\n", m.Frame().Position)
	case GetReference:
		fmt.Fprintf(w, "Reference position: %g ps\n", m.Frame().Reference)
	case StartGUI:
		return m.startGUI(ctx, w)
	case MeasurementLoop:
		delays, scans, err := ParseLoop(arg)
		if err != nil {
			return err
		}
		return m.loop(ctx, w, delays, scans)
	default:
		fmt.Fprintf(w, "Unknown command: %s\n", cmd)
	}
	return nil
}

func (m *Mock) dial(ctx context.Context) (*comm.Conn, error) {
	if m.StreamAddr == nil {
		return nil, errors.New("mock has no stream address")
	}
	c, err := comm.Dial(m.StreamAddr(), m.DialTimeout)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return c, nil
}

func (m *Mock) startGUI(ctx context.Context, w io.Writer) error {
	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	f := m.Frame()
	fmt.Fprintf(w, "Starting GUI with position: %g ps and reference: %g ps\n", f.Position, f.Reference)
	b, _ := json.Marshal(f)
	return c.Send(b)
}

// loop runs the streaming measurement: for every scan and delay, move to
// reference+delay, report the delay and wait for the acknowledgement
func (m *Mock) loop(ctx context.Context, w io.Writer, delays []float64, scans int) error {
	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	counter := 0
	for scan := 0; scan < scans; scan++ {
		for _, d := range delays {
			if err := m.sleep(ctx); err != nil {
				return nil
			}
			_, err := m.move(m.Frame().Reference + d)
			if err == errNotReady {
				b, _ := json.Marshal(map[string]string{"error": NotMovable})
				if err := c.Send(b); err != nil {
					return nil
				}
			} else if err != nil {
				return err
			} else {
				b, _ := json.Marshal(d)
				if err := c.Send(b); err != nil {
					// the orchestrator hung up
					return nil
				}
			}
			reply, err := c.Recv()
			if err != nil {
				return nil
			}
			msg := map[string]interface{}{}
			if err := json.Unmarshal(reply, &msg); err != nil {
				return fmt.Errorf("bad reply %q: %w", reply, err)
			}
			if msg["command"] == "stop" {
				fmt.Fprintln(w, "Measurement stopped.")
				return nil
			}
			if n, ok := msg["counter"].(float64); ok {
				m.Lock()
				m.acks = append(m.acks, int(n))
				m.Unlock()
			}
			counter++
		}
	}
	fmt.Fprintf(w, "Measurement finished after %d points.\n", counter)
	return nil
}

type mockProcess struct {
	stdout, stderr io.Reader
	done           chan struct{}
	err            error
	cancel         context.CancelFunc
}

func (p *mockProcess) Stdout() io.Reader { return p.stdout }
func (p *mockProcess) Stderr() io.Reader { return p.stderr }

func (p *mockProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *mockProcess) Kill() error {
	p.cancel()
	return nil
}
