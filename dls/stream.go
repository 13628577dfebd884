package dls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/tascan/comm"
)

const (
	// DefaultStreamAddr is where the service expects to find tascan
	DefaultStreamAddr = "127.0.0.1:5000"

	// DefaultAcceptTimeout bounds the wait for the service to connect back
	DefaultAcceptTimeout = 30 * time.Second
)

/*StreamServer owns the single TCP endpoint the service connects back to.

Open binds the listener, launches the service with its argument and waits
for exactly one connection.  Only one Session exists at a time; Open closes
the previous session and its listener before binding again.
*/
type StreamServer struct {
	Addr          string
	Launcher      Launcher
	AcceptTimeout time.Duration

	mu    sync.Mutex
	ln    net.Listener
	sess  *Session
	bound atomic.Value
}

// NewStreamServer returns a server on addr with the default accept timeout
func NewStreamServer(addr string, l Launcher) *StreamServer {
	return &StreamServer{Addr: addr, Launcher: l, AcceptTimeout: DefaultAcceptTimeout}
}

// ListenAddr returns the address most recently bound, or Addr if Open has
// not been called.  It does not block while Open waits for a connection
func (s *StreamServer) ListenAddr() string {
	if a, ok := s.bound.Load().(string); ok {
		return a
	}
	return s.Addr
}

// closeLocked tears down the current session and listener; s.mu is held
func (s *StreamServer) closeLocked() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
}

// Close tears down any open session and the listener
func (s *StreamServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// Open launches the service with arg and returns the session it connects
// back with
func (s *StreamServer) Open(ctx context.Context, arg string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	if s.Launcher == nil {
		return nil, &ChannelError{Op: arg, Err: errors.New("no launcher configured")}
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, &ChannelError{Op: arg, Err: err}
	}
	s.ln = ln
	s.bound.Store(ln.Addr().String())
	log.Debugf("listening on %s", ln.Addr())

	// the process outlives ctx; it is ended by a stop message or Session.Kill
	p, err := s.Launcher.Launch(context.WithoutCancel(ctx), arg)
	if err != nil {
		s.closeLocked()
		return nil, &ChannelError{Op: arg, Err: err}
	}
	outputs := drain(p, arg, func(line string) {
		if line != "" {
			log.Debugf("%s stdout: %s", arg, line)
		}
	})
	exited := make(chan error, 1)
	go func() {
		outputs.Wait()
		exited <- p.Wait()
	}()

	type accepted struct {
		c   net.Conn
		err error
	}
	acc := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		acc <- accepted{c, err}
	}()
	timeout := s.AcceptTimeout
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	fail := func(err error) (*Session, error) {
		p.Kill()
		s.closeLocked()
		return nil, &ChannelError{Op: arg, Err: err}
	}
	select {
	case a := <-acc:
		if a.err != nil {
			return fail(a.err)
		}
		sess := &Session{arg: arg, conn: comm.NewConn(a.c), proc: p, exited: exited}
		s.sess = sess
		log.Debugf("%s connected from %s", arg, a.c.RemoteAddr())
		return sess, nil
	case err := <-exited:
		if err == nil {
			err = errors.New("service exited before connecting")
		}
		return fail(err)
	case <-timer.C:
		return fail(fmt.Errorf("service did not connect within %v", timeout))
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// StartGUI opens a session with the StartGUI command and returns the frame
// the service replies with
func (s *StreamServer) StartGUI(ctx context.Context) (Frame, error) {
	sess, err := s.Open(ctx, StartGUI)
	if err != nil {
		return Frame{}, err
	}
	defer s.Close()
	r, err := sess.Next()
	if err != nil {
		return Frame{}, err
	}
	if r.Kind != KindStartup {
		return Frame{}, &ChannelError{Op: StartGUI, Err: fmt.Errorf("unexpected %s reply", r.Kind)}
	}
	return Frame{Reference: r.Reference, Position: r.Position}, nil
}

// Session is one connection from the service
type Session struct {
	arg    string
	conn   comm.Communicator
	proc   Process
	exited chan error

	closeOnce sync.Once
}

// Next blocks for the next message from the service
func (s *Session) Next() (Response, error) {
	b, err := s.conn.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, comm.ErrTerminatorNotFound) {
			return Response{}, ErrSessionClosed
		}
		return Response{}, &ChannelError{Op: s.arg, Err: err}
	}
	log.Debugf("<- %s", b)
	r, err := DecodeMessage(b)
	if err != nil {
		return Response{}, &ChannelError{Op: s.arg, Err: err}
	}
	return r, nil
}

// NextDelay blocks until the service reports the next delay reached.  A
// refusal from the service is returned as a *HardwareStateError
func (s *Session) NextDelay() (float64, error) {
	for {
		r, err := s.Next()
		if err != nil {
			return 0, err
		}
		switch r.Kind {
		case KindMoved:
			return r.Delay, nil
		case KindError:
			return 0, &HardwareStateError{Command: s.arg, Message: r.Message}
		default:
			log.Warnf("ignoring %s reply during %s", r.Kind, MeasurementLoop)
		}
	}
}

func (s *Session) send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	log.Debugf("-> %s", b)
	if err := s.conn.Send(b); err != nil {
		return &ChannelError{Op: s.arg, Err: err}
	}
	return nil
}

// Ack tells the service point counter has been processed
func (s *Session) Ack(counter int) error {
	return s.send(Ack{Status: "processed", Counter: counter})
}

// SendStop asks the service to end its loop
func (s *Session) SendStop() error {
	return s.send(Stop{Command: "stop"})
}

// Wait blocks until the service process exits or timeout elapses.  On
// timeout the process is killed
func (s *Session) Wait(timeout time.Duration) error {
	select {
	case err := <-s.exited:
		return err
	case <-time.After(timeout):
		log.Warnf("%s did not exit within %v, killing it", s.arg, timeout)
		s.Kill()
		return fmt.Errorf("%s killed after %v", s.arg, timeout)
	}
}

// Kill terminates the service process and closes the connection so any
// blocked read returns
func (s *Session) Kill() error {
	err := s.proc.Kill()
	s.Close()
	return err
}

// Close closes the connection.  It is safe to call more than once
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
