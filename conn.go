package dbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/halfwit/dbus/fragments"
	"github.com/halfwit/dbus/transport"
)

// connState is the lifecycle state of a Conn.
type connState int32

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateReady
	stateClosed
)

// Conn is a DBus connection: a SASL-authenticated stream socket,
// ready to send and receive framed messages.
//
// Conn itself only coordinates the shared close of the underlying
// socket. Once Ready, call Send and Recv to obtain the two
// independent halves; they carry no internal locks and may be moved
// to separate goroutines.
type Conn struct {
	t     *transport.Conn
	order fragments.ByteOrder

	state atomic.Int32

	mu   sync.Mutex
	send *SendHalf
	recv *RecvHalf
}

// Dial connects to the UNIX-domain socket described by addr (see
// ParseAddress), runs the SASL handshake, and leaves the connection
// in the Ready state.
func Dial(addr string) (*Conn, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	return DialUnix(a.Path, a.Abstract)
}

// DialSystemBus connects to the system bus at its well-known socket
// path.
func DialSystemBus() (*Conn, error) {
	return DialUnix(DefaultSystemBusPath, false)
}

// DialSessionBus connects to the session bus named by
// DBUS_SESSION_BUS_ADDRESS.
func DialSessionBus() (*Conn, error) {
	a, err := SessionBusAddress()
	if err != nil {
		return nil, err
	}
	return DialUnix(a.Path, a.Abstract)
}

// DialUnix connects directly to the UNIX-domain socket at path (or,
// if abstract is true, the abstract socket named path), and runs the
// SASL handshake.
func DialUnix(path string, abstract bool) (*Conn, error) {
	t, err := transport.DialUnix(path, abstract)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		t:     t,
		order: fragments.NativeEndian,
	}

	negotiatedUnixFD, err := authenticate(t.Reader(), t.Writer(), false)
	if err != nil {
		t.Close()
		return nil, err
	}
	c.state.Store(int32(stateAuthenticated))
	_ = negotiatedUnixFD // fd passing is always attempted; see auth.go

	c.state.Store(int32(stateReady))
	c.send = &SendHalf{t: t, order: c.order}
	c.recv = &RecvHalf{t: t}

	return c, nil
}

// state_ reports the connection's current lifecycle state, mostly for
// diagnostics.
func (c *Conn) state_() connState {
	return connState(c.state.Load())
}

// Send returns the connection's send half. Send panics if called
// before the connection reaches the Ready state, or after Close.
func (c *Conn) Send() *SendHalf {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state_() != stateReady {
		panic(fmt.Sprintf("dbus: Send called in state %d, not Ready", c.state_()))
	}
	return c.send
}

// Recv returns the connection's receive half. Recv panics if called
// before the connection reaches the Ready state, or after Close.
func (c *Conn) Recv() *RecvHalf {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state_() != stateReady {
		panic(fmt.Sprintf("dbus: Recv called in state %d, not Ready", c.state_()))
	}
	return c.recv
}

// Close closes the underlying socket. It is safe to call from either
// half's goroutine, and safe to call more than once.
func (c *Conn) Close() error {
	c.state.Store(int32(stateClosed))
	return c.t.Close()
}
