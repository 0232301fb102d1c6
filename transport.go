package dbus

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/halfwit/dbus/fragments"
	"github.com/halfwit/dbus/transport"
)

// fixedHeaderLen is the number of bytes making up the fixed header
// plus the dynamic header's array-length prefix: enough to learn how
// much more to read before the message can be decoded.
const fixedHeaderLen = 16

// A SendHalf sends messages over a DBus transport. It owns the
// outbound serial counter; a Conn splits into one SendHalf and one
// RecvHalf that may be used from different goroutines without
// synchronization between them.
type SendHalf struct {
	t      *transport.Conn
	order  fragments.ByteOrder
	serial atomic.Uint32
	failed atomic.Bool
}

// NextSerial allocates and returns the next outbound serial, skipping
// zero on wraparound.
func (s *SendHalf) NextSerial() uint32 {
	for {
		v := s.serial.Add(1)
		if v != 0 {
			return v
		}
	}
}

// Send marshals and writes m. If m.Serial is zero, a new serial is
// assigned. A timeout that expires partway through a write leaves the
// half permanently unusable.
func (s *SendHalf) Send(m *Message, timeout transport.Timeout) error {
	if s.failed.Load() {
		return ConnectionClosed{}
	}
	if m.Serial == 0 {
		m.Serial = s.NextSerial()
	}
	buf, fds, err := m.Marshal(s.order)
	if err != nil {
		return err
	}
	if len(buf) > fragments.MaxMessageLen {
		return fragments.ArraySizeError{Size: uint32(len(buf))}
	}
	if err := s.t.SetDeadline(timeout); err != nil {
		return err
	}
	if err := s.t.WriteAll(buf, fds); err != nil {
		s.failed.Store(true)
		return normalizeTransportErr(err)
	}
	return nil
}

// A RecvHalf receives messages from a DBus transport.
//
// A Recv call that times out partway through a message leaves the
// bytes read so far buffered internally; the next Recv call resumes
// reading where the timed-out one left off, rather than re-reading a
// fresh 16-byte header at the wrong stream offset. A non-timeout error
// (a malformed header, or the connection closing) discards any
// partial state, since the stream cannot be trusted afterward anyway.
type RecvHalf struct {
	t *transport.Conn

	head     []byte
	headN    int
	order    fragments.ByteOrder
	total    int
	haveHead bool

	rest  []byte
	restN int
}

// Recv blocks until a complete message is available, timeout expires,
// or the connection closes.
func (r *RecvHalf) Recv(timeout transport.Timeout) (*Message, error) {
	if err := r.t.SetDeadline(timeout); err != nil {
		return nil, err
	}

	if !r.haveHead {
		if r.head == nil {
			r.head = make([]byte, fixedHeaderLen)
		}
		for r.headN < len(r.head) {
			n, err := r.t.ReadFull(r.head[r.headN:])
			r.headN += n
			if err != nil {
				return nil, r.fail(err)
			}
		}

		switch r.head[0] {
		case 'l':
			r.order = fragments.LittleEndian
		case 'B':
			r.order = fragments.BigEndian
		default:
			r.reset()
			return nil, fragments.ErrInvalidByteOrder
		}
		bodyLen := r.order.Uint32(r.head[4:8])
		hdrArrayLen := r.order.Uint32(r.head[12:16])

		if hdrArrayLen > fragments.MaxArrayLen || bodyLen > fragments.MaxMessageLen {
			r.reset()
			return nil, fmt.Errorf("dbus: %w", fragments.ArraySizeError{Size: max(hdrArrayLen, bodyLen)})
		}

		headerEnd := pad8(fixedHeaderLen + int(hdrArrayLen))
		r.total = headerEnd + int(bodyLen)
		if r.total > fragments.MaxMessageLen {
			r.reset()
			return nil, fmt.Errorf("dbus: message of %d bytes exceeds maximum message size", r.total)
		}
		r.rest = make([]byte, r.total-fixedHeaderLen)
		r.haveHead = true
	}

	for r.restN < len(r.rest) {
		n, err := r.t.ReadFull(r.rest[r.restN:])
		r.restN += n
		if err != nil {
			return nil, r.fail(err)
		}
	}

	buf := make([]byte, 0, r.total)
	buf = append(buf, r.head...)
	buf = append(buf, r.rest...)
	r.reset()

	return UnmarshalMessage(buf, r.t.TakeFds)
}

// fail normalizes a read error, discarding buffered partial-message
// state unless the error was a timeout (in which case the bytes read
// so far remain valid and the next Recv call resumes from there).
func (r *RecvHalf) fail(err error) error {
	wrapped := normalizeTransportErr(err)
	if _, timedOut := wrapped.(TimedOut); !timedOut {
		r.reset()
	}
	return wrapped
}

func (r *RecvHalf) reset() {
	r.head = nil
	r.headN = 0
	r.haveHead = false
	r.rest = nil
	r.restN = 0
	r.total = 0
}

func pad8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// normalizeTransportErr converts the errors a blocking transport
// operation can fail with into the module's error taxonomy: a
// deadline expiring becomes TimedOut, and every other form of
// disconnection (EOF, ErrUnexpectedEOF, or a plain I/O error)
// becomes ConnectionClosed.
func normalizeTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return TimedOut{}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ConnectionClosed{}
	}
	return ConnectionClosed{Reason: err}
}
