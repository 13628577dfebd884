package dls

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line string
		want Response
		ok   bool
	}{
		{"Reference position: 100.5 ps", Response{Kind: KindReference, Reference: 100.5}, true},
		{"Current position: 12 ps", Response{Kind: KindPosition, Position: 12}, true},
		{"Moved to reference position: 100.5 ps", Response{Kind: KindMoved, Position: 100.5}, true},
		{"Moved to relative position: 101 ps", Response{Kind: KindMoved, Position: 101}, true},
		{"Starting GUI with position: 3 ps and reference: 4 ps",
			Response{Kind: KindStartup, Position: 3, Reference: 4}, true},
		{"  " + NotMovable, Response{Kind: KindError, Message: NotMovable}, true},
		{"The machine is now ready.", Response{}, false},
		{"", Response{}, false},
	}
	for _, c := range cases {
		got, ok, err := ParseLine(c.line)
		require.NoError(t, err, c.line)
		assert.Equal(t, c.ok, ok, c.line)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("ParseLine(%q) mismatch (-want +got):\n%s", c.line, diff)
		}
	}

	_, ok, err := ParseLine("Current position: lots ps")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestDecodeMessage(t *testing.T) {
	r, err := DecodeMessage([]byte("-0.5"))
	require.NoError(t, err)
	assert.Equal(t, Response{Kind: KindMoved, Delay: -0.5}, r)

	r, err = DecodeMessage([]byte(`{"position": 1.5, "reference": 2}`))
	require.NoError(t, err)
	assert.Equal(t, Response{Kind: KindStartup, Position: 1.5, Reference: 2}, r)

	r, err = DecodeMessage([]byte(`{"error": "nope"}`))
	require.NoError(t, err)
	assert.Equal(t, KindError, r.Kind)

	_, err = DecodeMessage([]byte(`{"status": "processed"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoopArgument(t *testing.T) {
	arg, err := FormatLoop([]float64{-5, -1, 0, 0.5, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, "MeasurementLoop [-5,-1,0,0.5,2] 2", arg)
	d, n, err := ParseLoop(arg)
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, -1, 0, 0.5, 2}, d)
	assert.Equal(t, 2, n)
}

func TestFrame(t *testing.T) {
	f := Frame{Reference: 10, Position: 10.005}
	assert.True(t, f.Homed(DefaultHomeTolerance))
	f.Position = 10.5
	assert.False(t, f.Homed(DefaultHomeTolerance))
	assert.InDelta(t, 0.5, f.Offset(), 1e-12)
}

func TestChannelAgainstMock(t *testing.T) {
	ctx := context.Background()
	m := NewMock(100)
	c := NewChannel(m)

	ref, err := c.GetReference(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100., ref)

	pos, err := c.MoveRelative(ctx, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 102.5, pos)
	assert.Equal(t, Frame{Reference: 100, Position: 102.5}, c.Frame())

	pos, err = c.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 102.5, pos)

	require.NoError(t, c.Jog(ctx, -1))
	assert.InDelta(t, 102.4, m.Frame().Position, 1e-9)

	require.NoError(t, c.SetReference(ctx))
	assert.InDelta(t, 102.4, m.Frame().Reference, 1e-9)

	pos, err = c.MoveAbsolute(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50., pos)

	f, err := c.MoveToReference(ctx)
	require.NoError(t, err)
	assert.True(t, f.Homed(DefaultHomeTolerance))
	assert.Equal(t, []string{GetReference, "MoveRelative 2.5", GetPosition, MoveNegative}, m.Launches()[:4])
}

func TestChannelHardwareState(t *testing.T) {
	m := NewMock(100)
	m.SetReady(false)
	c := NewChannel(m)
	_, err := c.MoveRelative(context.Background(), 1)
	var hse *HardwareStateError
	require.True(t, errors.As(err, &hse), "got %v", err)
	assert.Equal(t, 100., m.Frame().Position)
}

func TestChannelErrors(t *testing.T) {
	m := NewMock(100)
	m.FailOn = GetReference
	c := NewChannel(m)
	_, err := c.GetReference(context.Background())
	var ce *ChannelError
	assert.True(t, errors.As(err, &ce))

	// Initialize prints no position, so asking for one gets no reply
	_, err = c.expect(context.Background(), Initialize, KindPosition)
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, ErrNoReply)

	_, err = NewChannel(nil).GetPosition(context.Background())
	assert.True(t, errors.As(err, &ce))
}

func TestMoveToReferenceNotMovable(t *testing.T) {
	m := NewMock(100)
	m.SetFrame(Frame{Reference: 100, Position: 40})
	m.SetReady(false)
	c := NewChannel(m)
	c.HomeTimeout = 50 * time.Millisecond
	_, err := c.MoveToReference(context.Background())
	var hse *HardwareStateError
	assert.True(t, errors.As(err, &hse), "got %v", err)
}

func newStream(t *testing.T) (*Mock, *StreamServer) {
	t.Helper()
	m := NewMock(100)
	srv := NewStreamServer("127.0.0.1:0", m)
	srv.AcceptTimeout = 5 * time.Second
	m.StreamAddr = srv.ListenAddr
	t.Cleanup(func() { srv.Close() })
	return m, srv
}

func TestStartGUI(t *testing.T) {
	m, srv := newStream(t)
	m.SetFrame(Frame{Reference: 100, Position: 123})
	f, err := srv.StartGUI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Frame{Reference: 100, Position: 123}, f)
}

func TestMeasurementLoop(t *testing.T) {
	m, srv := newStream(t)
	arg, err := FormatLoop([]float64{1, 2, 3}, 2)
	require.NoError(t, err)
	sess, err := srv.Open(context.Background(), arg)
	require.NoError(t, err)

	got := []float64{}
	for i := 0; i < 6; i++ {
		d, err := sess.NextDelay()
		require.NoError(t, err)
		assert.Equal(t, d, m.Delay())
		got = append(got, d)
		require.NoError(t, sess.Ack(i))
	}
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, got)
	_, err = sess.NextDelay()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, sess.Wait(time.Second))
}

func TestMeasurementLoopStop(t *testing.T) {
	m, srv := newStream(t)
	arg, err := FormatLoop([]float64{1, 2, 3}, 1)
	require.NoError(t, err)
	sess, err := srv.Open(context.Background(), arg)
	require.NoError(t, err)

	_, err = sess.NextDelay()
	require.NoError(t, err)
	require.NoError(t, sess.Ack(0))
	d, err := sess.NextDelay()
	require.NoError(t, err)
	assert.Equal(t, 2., d)
	require.NoError(t, sess.SendStop())
	assert.NoError(t, sess.Wait(time.Second))
	assert.Equal(t, 102., m.Frame().Position)
}

func TestOpenReplacesPreviousSession(t *testing.T) {
	_, srv := newStream(t)
	arg, err := FormatLoop([]float64{1}, 1)
	require.NoError(t, err)
	first, err := srv.Open(context.Background(), arg)
	require.NoError(t, err)
	second, err := srv.Open(context.Background(), arg)
	require.NoError(t, err)
	_, err = first.Next()
	assert.ErrorIs(t, err, ErrSessionClosed)
	d, err := second.NextDelay()
	require.NoError(t, err)
	assert.Equal(t, 1., d)
	second.Kill()
}

func TestOpenFailsWhenServiceExits(t *testing.T) {
	m, srv := newStream(t)
	m.FailOn = MeasurementLoop
	_, err := srv.Open(context.Background(), "MeasurementLoop [1] 1")
	var ce *ChannelError
	assert.True(t, errors.As(err, &ce))
}

func TestExecLauncher(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}
	l := ExecLauncher{Executable: sh, Args: []string{"-c", `echo "Current position: $1"; echo warming up >&2`, "dls"}}
	pos, err := NewChannel(l).GetPosition(context.Background())
	// $1 is the command token, which is not a number
	var ce *ChannelError
	assert.True(t, errors.As(err, &ce))

	l.Args[1] = `echo "Current position: 12.5 ps"`
	pos, err = NewChannel(l).GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos)
}
