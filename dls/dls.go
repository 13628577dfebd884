/*Package dls talks to the Newport DLS delay line through its hardware command
service.

The service is an external program.  tascan never drives the controller
directly; it launches the service with a single command argument and either
reads labelled lines from its stdout (the one-shot transport, Channel) or
accepts a TCP connection from it and exchanges newline-delimited JSON (the
streaming transport, StreamServer and Session).  Both transports produce the
same Response type.

Positions are in ps of optical delay.  All moves issued during a measurement
are relative; the reference position and the current position are owned by
the service and mirrored here in a Frame.
*/
package dls

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "dls")

// Command tokens understood by the service
const (
	Initialize      = "Initialize"
	Disable         = "Disable"
	MovePositive    = "MovePositive"
	MoveNegative    = "MoveNegative"
	MoveRelative    = "MoveRelative"
	MoveAbsolute    = "MoveAbsolute"
	SetReference    = "SetReference"
	GoToReference   = "GoToReference"
	GetPosition     = "GetPosition"
	GetReference    = "GetReference"
	StartGUI        = "StartGUI"
	MeasurementLoop = "MeasurementLoop"
	Connect         = "Connect"
)

// JogStep is the distance in ps of MovePositive and MoveNegative
const JogStep = 0.1

// NotMovable is printed by the service when a motion command arrives while
// the controller is not in a ready state
const NotMovable = "The controller is not in the right state to move."

var (
	// ErrNoReply is returned when the service finished without printing the
	// line a command expects
	ErrNoReply = errors.New("no reply from hardware command service")

	// ErrSessionClosed is returned by Session reads once the service has
	// hung up or the session was closed locally
	ErrSessionClosed = errors.New("streaming session closed")
)

// ChannelError is a failure to launch, connect to, or understand the service
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("dls %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// HardwareStateError is returned when the service refused a command because
// the stage was not movable.  It does not end a measurement
type HardwareStateError struct {
	Command string
	Message string
}

func (e *HardwareStateError) Error() string {
	return fmt.Sprintf("dls %s refused: %s", e.Command, e.Message)
}

// Kind discriminates Response
type Kind string

const (
	// KindPosition carries the current absolute position
	KindPosition Kind = "Position"

	// KindReference carries the reference position
	KindReference Kind = "Reference"

	// KindMoved reports a completed move.  From stdout it carries the
	// absolute Position reached, from a streaming session the relative
	// Delay reached
	KindMoved Kind = "Moved"

	// KindStartup carries both Position and Reference
	KindStartup Kind = "Startup"

	// KindError carries a Message from the service
	KindError Kind = "Error"
)

// Response is one reply from the service, from either transport
type Response struct {
	Kind      Kind    `json:"kind"`
	Position  float64 `json:"position,omitempty"`
	Reference float64 `json:"reference,omitempty"`
	Delay     float64 `json:"delay,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// label prefixes of the one-shot stdout contract, most specific first
var labels = []struct {
	prefix string
	kind   Kind
}{
	{"Moved to reference position", KindMoved},
	{"Moved to relative position", KindMoved},
	{"Moved to absolute position", KindMoved},
	{"Reference position", KindReference},
	{"Current position", KindPosition},
}

// leadingFloat parses the first whitespace separated token of s
func leadingFloat(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no value in %q", s)
	}
	return strconv.ParseFloat(fields[0], 64)
}

// ParseLine parses one line of one-shot stdout.  ok is false for lines that
// are not part of the contract; err is non-nil for lines that are but whose
// value cannot be parsed
func ParseLine(line string) (r Response, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}, false, nil
	}
	if strings.Contains(line, NotMovable) {
		return Response{Kind: KindError, Message: line}, true, nil
	}
	if strings.HasPrefix(line, "Starting GUI with position") {
		// Starting GUI with position: <f> ps and reference: <f> ps
		parts := strings.Split(line, ":")
		if len(parts) < 3 {
			return Response{}, true, fmt.Errorf("malformed startup line %q", line)
		}
		pos, err := leadingFloat(parts[1])
		if err != nil {
			return Response{}, true, err
		}
		ref, err := leadingFloat(parts[2])
		if err != nil {
			return Response{}, true, err
		}
		return Response{Kind: KindStartup, Position: pos, Reference: ref}, true, nil
	}
	for _, l := range labels {
		if !strings.HasPrefix(line, l.prefix) {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return Response{}, true, fmt.Errorf("missing value in %q", line)
		}
		f, err := leadingFloat(line[idx+1:])
		if err != nil {
			return Response{}, true, err
		}
		r := Response{Kind: l.kind}
		if l.kind == KindReference {
			r.Reference = f
		} else {
			r.Position = f
		}
		return r, true, nil
	}
	return Response{}, false, nil
}

type streamMessage struct {
	Position  *float64 `json:"position"`
	Reference *float64 `json:"reference"`
	Error     string   `json:"error"`
}

// DecodeMessage decodes one message received on a streaming session.  A bare
// number is the delay the stage just reached
func DecodeMessage(b []byte) (Response, error) {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Response{}, fmt.Errorf("non-finite delay %q", b)
		}
		return Response{Kind: KindMoved, Delay: f}, nil
	}
	m := streamMessage{}
	if err := json.Unmarshal(b, &m); err != nil {
		return Response{}, fmt.Errorf("decoding %q: %w", b, err)
	}
	switch {
	case m.Error != "":
		return Response{Kind: KindError, Message: m.Error}, nil
	case m.Position != nil && m.Reference != nil:
		return Response{Kind: KindStartup, Position: *m.Position, Reference: *m.Reference}, nil
	case m.Position != nil:
		return Response{Kind: KindPosition, Position: *m.Position}, nil
	case m.Reference != nil:
		return Response{Kind: KindReference, Reference: *m.Reference}, nil
	}
	return Response{}, fmt.Errorf("unrecognized message %q", b)
}

// Ack is sent to the service after a streamed point has been acquired
type Ack struct {
	Status  string `json:"status"`
	Counter int    `json:"counter"`
}

// Stop asks the service to end its measurement loop
type Stop struct {
	Command string `json:"command"`
}

// Frame is the reference and current absolute position of the stage, in ps
type Frame struct {
	Reference float64 `json:"reference"`
	Position  float64 `json:"position"`
}

// Offset is the distance between the stage and its reference
func (f Frame) Offset() float64 {
	return math.Abs(f.Position - f.Reference)
}

// Homed is true if the stage is within tol of the reference
func (f Frame) Homed(tol float64) bool {
	return f.Offset() <= tol
}

// FormatMove formats a MoveRelative or MoveAbsolute command
func FormatMove(cmd string, ps float64) string {
	return cmd + " " + strconv.FormatFloat(ps, 'g', -1, 64)
}

// FormatLoop formats a MeasurementLoop command
func FormatLoop(delays []float64, scans int) (string, error) {
	b, err := json.Marshal(delays)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %d", MeasurementLoop, b, scans), nil
}

// ParseLoop is the inverse of FormatLoop
func ParseLoop(arg string) (delays []float64, scans int, err error) {
	rest := strings.TrimSpace(strings.TrimPrefix(arg, MeasurementLoop))
	idx := strings.LastIndex(rest, " ")
	if idx < 0 {
		return nil, 0, fmt.Errorf("malformed %s argument %q", MeasurementLoop, arg)
	}
	scans, err = strconv.Atoi(strings.TrimSpace(rest[idx+1:]))
	if err != nil {
		return nil, 0, err
	}
	err = json.Unmarshal([]byte(rest[:idx]), &delays)
	return delays, scans, err
}
