// Package transport implements the framed UNIX-domain socket I/O that
// carries DBus messages, including out-of-band file descriptor
// passing via SCM_RIGHTS ancillary data.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// A Timeout bounds how long a blocking operation may wait.
//
// The zero Timeout is Infinite.
type Timeout struct {
	kind timeoutKind
	d    time.Duration
}

type timeoutKind int

const (
	timeoutInfinite timeoutKind = iota
	timeoutNonblock
	timeoutDuration
)

// Infinite waits forever.
func Infinite() Timeout { return Timeout{kind: timeoutInfinite} }

// Nonblock attempts the operation once, returning immediately if it
// would block.
func Nonblock() Timeout { return Timeout{kind: timeoutNonblock} }

// Duration waits up to d for the operation to complete.
func Duration(d time.Duration) Timeout { return Timeout{kind: timeoutDuration, d: d} }

func (t Timeout) deadline(now time.Time) time.Time {
	switch t.kind {
	case timeoutNonblock:
		return now
	case timeoutDuration:
		return now.Add(t.d)
	default:
		return time.Time{}
	}
}

// Conn is a raw, bidirectional DBus transport over a UNIX-domain
// socket: the framing and ancillary-data plumbing that both halves of
// a split connection (see the root package's SendHalf/RecvHalf) share
// access to.
type Conn struct {
	conn *net.UnixConn
	oob  [512]byte
	buf  *bufio.Reader
	fds  *queue.Queue[*os.File]

	closed bool
}

// DialUnix connects to the UNIX-domain socket at path (or, if
// abstract is true, the abstract socket named path), without
// performing the DBus SASL handshake. The caller is responsible for
// authentication (see the root package's Dial).
func DialUnix(path string, abstract bool) (*Conn, error) {
	name := path
	if abstract {
		name = "@" + path
	}
	addr := &net.UnixAddr{Net: "unix", Name: name}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// NewConn wraps an already-connected UNIX-domain socket (dialed, or
// accepted by a listener) as a Conn. Most callers want DialUnix;
// NewConn exists for tests that need both ends of a socket pair, and
// for callers embedding this transport in a server accepting
// connections rather than dialing out.
func NewConn(conn *net.UnixConn) *Conn {
	ret := &Conn{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
	ret.buf = bufio.NewReader(funcReader(ret.readToBuf))
	return ret
}

// Reader returns the connection's buffered reader, for use by the
// authentication handshake. Callers must not use Reader once framed
// messages are being read with ReadFull.
func (c *Conn) Reader() *bufio.Reader { return c.buf }

// Writer returns the connection's raw writer, for use by the
// authentication handshake.
func (c *Conn) Writer() io.Writer { return c.conn }

// Close closes the underlying socket, and any file descriptors still
// queued but not yet claimed by TakeFds.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	c.fds.Clear()
	return c.conn.Close()
}

// WriteAll writes bs in full, attaching fds as SCM_RIGHTS ancillary
// data on the first underlying write. Short writes are retried
// automatically; a write error or a timeout marks the connection
// unusable (the caller must Close it).
func (c *Conn) WriteAll(bs []byte, fds []*os.File) error {
	if len(fds) == 0 {
		_, err := c.conn.Write(bs)
		return err
	}

	rights := make([]int, len(fds))
	for i, f := range fds {
		rights[i] = int(f.Fd())
	}
	scm := unix.UnixRights(rights...)

	n, oobn, err := c.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		return err
	}
	if oobn != len(scm) {
		return io.ErrShortWrite
	}
	if n < len(bs) {
		_, err := c.conn.Write(bs[n:])
		return err
	}
	return nil
}

// SetDeadline applies a Timeout to subsequent Read/WriteAll calls.
func (c *Conn) SetDeadline(t Timeout) error {
	return c.conn.SetDeadline(t.deadline(time.Now()))
}

// ReadFull reads exactly len(bs) bytes, collecting any SCM_RIGHTS
// ancillary data encountered along the way into the connection's fd
// queue. A zero-byte read (peer EOF) is reported as io.EOF; the
// caller is expected to normalize that into ConnectionClosed.
func (c *Conn) ReadFull(bs []byte) (int, error) {
	return io.ReadFull(c.buf, bs)
}

// TakeFds pops n descriptors received so far off the front of the
// pending-fds queue, in arrival order.
func (c *Conn) TakeFds(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := c.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, fmt.Errorf("dbus: message claims more file descriptors than were received")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func (c *Conn) readToBuf(bs []byte) (int, error) {
	n, oobn, flags, _, err := c.conn.ReadMsgUnix(bs, c.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		return 0, errors.New("dbus: ancillary data truncated")
	}
	if oobn > 0 {
		if oobErr := c.parseFDs(c.oob[:oobn]); oobErr != nil {
			return 0, oobErr
		}
	}
	return n, err
}

func (c *Conn) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on dbus socket", fd))
			} else {
				c.fds.Add(f)
			}
		}
	}
	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	return nil
}

type funcReader func([]byte) (int, error)

func (f funcReader) Read(bs []byte) (int, error) {
	return f(bs)
}
