package dbus

import (
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error returned from failed DBus method calls.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// AuthFailed is returned when the SASL handshake's AUTH command is
// rejected by the peer.
type AuthFailed struct {
	// Reason is the peer's REJECTED response line, if any.
	Reason string
}

func (e AuthFailed) Error() string {
	if e.Reason == "" {
		return "dbus authentication failed"
	}
	return fmt.Sprintf("dbus authentication failed: %s", e.Reason)
}

// UnixFdNegotiationFailed is returned when the peer responds to
// NEGOTIATE_UNIX_FD with an ERROR line.
type UnixFdNegotiationFailed struct {
	Reason string
}

func (e UnixFdNegotiationFailed) Error() string {
	if e.Reason == "" {
		return "dbus unix fd negotiation failed"
	}
	return fmt.Sprintf("dbus unix fd negotiation failed: %s", e.Reason)
}

// NameTaken is returned when RequestName fails because the name is
// already owned and the caller did not request replacement.
type NameTaken struct {
	Name string
}

func (e NameTaken) Error() string {
	return fmt.Sprintf("bus name %q is already owned", e.Name)
}

// AddressTypeNotSupported is returned when parsing a bus address
// whose transport is not `unix:`.
type AddressTypeNotSupported struct {
	Transport string
}

func (e AddressTypeNotSupported) Error() string {
	return fmt.Sprintf("address transport %q is not supported", e.Transport)
}

// PathDoesNotExist is returned when a unix: address's path= key
// refers to a nonexistent filesystem path.
type PathDoesNotExist struct {
	Path string
}

func (e PathDoesNotExist) Error() string {
	return fmt.Sprintf("socket path %q does not exist", e.Path)
}

// NoAddressFound is returned when no usable bus address could be
// determined from the environment.
type NoAddressFound struct{}

func (NoAddressFound) Error() string {
	return "no usable dbus address found"
}

// UnexpectedMessageTypeReceived is returned when a message of an
// unexpected type arrives where only specific types are valid (for
// example, a Call where only Reply/Error are acceptable).
type UnexpectedMessageTypeReceived struct {
	Got MessageType
}

func (e UnexpectedMessageTypeReceived) Error() string {
	return fmt.Sprintf("unexpected message type %v received", e.Got)
}

// TimedOut is returned when a transport operation's timeout expires
// before it could complete.
type TimedOut struct{}

func (TimedOut) Error() string { return "dbus operation timed out" }

// ConnectionClosed is returned when the underlying socket is closed,
// locally or by the peer, including a mid-message EOF.
type ConnectionClosed struct {
	// Reason, if non-nil, is the underlying cause (an I/O error, or
	// nil for a clean EOF).
	Reason error
}

func (e ConnectionClosed) Error() string {
	if e.Reason == nil {
		return "dbus connection closed"
	}
	return fmt.Sprintf("dbus connection closed: %s", e.Reason)
}

func (e ConnectionClosed) Unwrap() error { return e.Reason }

// WrongSignature is returned when a value's static signature does not
// match the signature found on the wire.
type WrongSignature struct {
	Want, Got string
}

func (e WrongSignature) Error() string {
	return fmt.Sprintf("wrong signature: want %q, got %q", e.Want, e.Got)
}

// InvalidSerial is returned when a message carries a zero serial,
// which the protocol forbids.
type InvalidSerial struct{}

func (InvalidSerial) Error() string { return "message serial must not be zero" }

// InvalidMessageType is returned when a message carries a Type byte
// outside the four valid message types, or the reserved Invalid type.
type InvalidMessageType struct {
	Got MessageType
}

func (e InvalidMessageType) Error() string {
	return fmt.Sprintf("invalid message type %d", byte(e.Got))
}

// EmptyUnixFd is returned when marshaling an FD or *os.File value that
// holds no open descriptor.
type EmptyUnixFd struct{}

func (EmptyUnixFd) Error() string { return "cannot marshal an empty file descriptor" }

// ValidationError is returned when a name (bus, interface, member, or
// error name) or object path fails its grammar check.
type ValidationError struct {
	Kind  string
	Value string
	Why   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Why)
}
