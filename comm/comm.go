/*Package comm provides terminated-message framing over byte streams.

The hardware command service talks newline-delimited JSON over a TCP socket.
Conn wraps any io.ReadWriteCloser and exposes Send/Recv of whole messages,
appending the Tx terminator on the way out and stripping the Rx terminator on
the way in.  A single buffered reader is kept for the life of the Conn, so
messages that arrive in one TCP segment are not lost between calls to Recv.

Most usages of this package will boil down to:
	1.  obtain a connection, either by accepting one or with Dial
	2.  wrap it with NewConn
	3.  Send and Recv byte slices, without worrying about terminators
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when the underlying connection is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the stream ends before the termination byte
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminator is the default message terminator, a newline
const Terminator = byte('\n')

// Sender has a Send method that passes along a byte slice as well as a
// TxTerminator returning the transmission termination byte
type Sender interface {
	Send([]byte) error
	TxTerminator() byte
}

// Recver has a Recv method that gets a byte slice as well as an
// RxTerminator returning the receipt termination byte
type Recver interface {
	Recv() ([]byte, error)
	RxTerminator() byte
}

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Communicator can Send, Recv and Close
type Communicator interface {
	io.Closer
	SendRecver
}

/*Conn implements Communicator over an io.ReadWriteCloser.

Writes are serialized with a mutex so that a stop message sent from one
goroutine does not interleave with an acknowledgement sent from another.
Reads are expected to come from a single goroutine.
*/
type Conn struct {
	rwc io.ReadWriteCloser
	rd  *bufio.Reader
	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps rwc
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, rd: bufio.NewReader(rwc)}
}

// TxTerminator returns the transmission termination byte
func (c *Conn) TxTerminator() byte {
	return Terminator
}

// RxTerminator returns the receipt termination byte
func (c *Conn) RxTerminator() byte {
	return Terminator
}

// Send writes data to the remote, appending the Tx terminator
func (c *Conn) Send(b []byte) error {
	if c == nil || c.rwc == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, c.TxTerminator())
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.rwc.Write(buf)
	return err
}

// Recv recieves one message from the remote and strips the Rx terminator.
// A trailing carriage return is also removed, for peers that write CRLF.
func (c *Conn) Recv() ([]byte, error) {
	if c == nil || c.rwc == nil {
		return nil, ErrNotConnected
	}
	term := c.RxTerminator()
	buf, err := c.rd.ReadBytes(term)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (c *Conn) SendRecv(b []byte) ([]byte, error) {
	if err := c.Send(b); err != nil {
		return nil, err
	}
	return c.Recv()
}

// SetDeadline sets the read and write deadline if the underlying connection
// supports it, and is a no-op otherwise
func (c *Conn) SetDeadline(t time.Time) error {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.SetDeadline(t)
	}
	return nil
}

// Close closes the underlying connection.  It is safe to call more than once
func (c *Conn) Close() error {
	if c == nil || c.rwc == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// Dial opens a TCP connection to addr.  Refused connections are retried with
// an exponential backoff until maxElapsed, since the listening side may still
// be binding when the dialer starts.
func Dial(addr string, maxElapsed time.Duration) (*Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "refused") {
			return nil, fmt.Errorf("connection refused by %s: %w", addr, err)
		}
		return nil, fmt.Errorf("connection timeout to %s: %w", addr, err)
	}
	return NewConn(conn), nil
}
