package dbus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/halfwit/dbus/fragments"
	"golang.org/x/sys/unix"
)

// An FD is a shared-ownership handle around an OS file descriptor.
//
// Unlike an *os.File, cloning an FD with Clone does not duplicate the
// underlying descriptor: all clones refer to the same descriptor, and
// the descriptor is closed exactly once, when the last clone is
// dropped by calling Close. A plain Go copy of an FD is not a new
// holder; only Clone adds one. Use Duplicate to obtain an independent OS
// descriptor, or Take to move ownership out of the shared group
// entirely.
type FD struct {
	h *fdHandle
}

type fdHandle struct {
	mu   sync.Mutex
	f    *os.File
	refs atomic.Int32
}

// WrapFD takes ownership of f and returns a shared handle around it.
func WrapFD(f *os.File) FD {
	h := &fdHandle{f: f}
	h.refs.Store(1)
	return FD{h}
}

// Clone returns another shared reference to the same descriptor. The
// descriptor is not duplicated; both FDs must be closed (or have
// Close called on either, since they share a refcount) before the
// underlying descriptor is released.
func (fd FD) Clone() FD {
	if fd.h == nil {
		return FD{}
	}
	fd.h.refs.Add(1)
	return fd
}

// Raw returns the underlying *os.File for read-only use. The caller
// must not close the returned file. Raw returns nil if the
// descriptor was already taken or closed.
func (fd FD) Raw() *os.File {
	if fd.h == nil {
		return nil
	}
	fd.h.mu.Lock()
	defer fd.h.mu.Unlock()
	return fd.h.f
}

// Take transfers ownership of the underlying descriptor to the
// caller, detaching it from the shared group. After Take, Raw on any
// other clone of this FD returns nil. Take returns nil if the
// descriptor was already taken or closed by another clone.
func (fd FD) Take() *os.File {
	if fd.h == nil {
		return nil
	}
	fd.h.mu.Lock()
	defer fd.h.mu.Unlock()
	f := fd.h.f
	fd.h.f = nil
	return f
}

// Duplicate returns a brand new, independently owned *os.File
// referring to the same underlying file as fd, via dup(2).
func (fd FD) Duplicate() (*os.File, error) {
	f := fd.Raw()
	if f == nil {
		return nil, fmt.Errorf("dbus: duplicate of empty file descriptor")
	}
	newFd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dbus: dup: %w", err)
	}
	return os.NewFile(uintptr(newFd), f.Name()), nil
}

// Close releases this handle's share of the descriptor. Once the
// last clone is closed, the underlying descriptor is closed, unless
// it was previously Take-n.
func (fd FD) Close() error {
	if fd.h == nil {
		return nil
	}
	if fd.h.refs.Add(-1) > 0 {
		return nil
	}
	fd.h.mu.Lock()
	defer fd.h.mu.Unlock()
	if fd.h.f == nil {
		return nil
	}
	err := fd.h.f.Close()
	fd.h.f = nil
	return err
}

func (fd FD) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	f := fd.Raw()
	if f == nil {
		return EmptyUnixFd{}
	}
	e.UnixFD(f)
	return nil
}

func (fd *FD) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	f, err := d.UnixFD()
	if err != nil {
		return err
	}
	*fd = WrapFD(f)
	return nil
}

func (fd FD) IsDBusStruct() bool { return false }

var fdSignature = mustParseSignature("h")

func (fd FD) SignatureDBus() Signature { return fdSignature }
