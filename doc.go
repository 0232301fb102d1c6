// Package dbus implements the wire codec and transport state machine for
// the D-Bus IPC protocol on UNIX-like systems.
//
// This package covers the parts of D-Bus that do the hard engineering: the
// binary message format, marshalling and unmarshalling for the D-Bus type
// system (including file descriptor passing), the SASL-style authentication
// handshake, and framed send/receive I/O over a stream socket. It
// deliberately does not offer an RPC client that correlates replies by
// serial, a path dispatcher for implementing services, or introspection
// support; those are thin layers that belong on top of this package, not in
// it.
//
// # Marshalling
//
// Marshal traverses a value v recursively. If an encountered value
// implements [Marshaler], its MarshalDBus method produces the encoding.
// Otherwise the following default mapping applies:
//
// uint{8,16,32,64}, int{16,32,64}, float64, bool and string values encode
// to the corresponding DBus basic type. Array and slice values encode as
// DBus arrays; nil slices encode the same as an empty slice. Struct values
// encode as DBus structs, one field per member in declaration order;
// embedded struct fields behave as if their exported fields were promoted
// into the outer struct. Map values encode as a DBus dictionary (an array
// of key/value pairs); the key's underlying type must be one of
// uint{8,16,32,64}, int{16,32,64}, float64, bool, or string. Pointers
// encode as the value pointed to, with nil encoding as the zero value.
// [Signature], [ObjectPath], and [FD] encode to the corresponding DBus
// types. [Variant] and `any` values encode as DBus variants.
//
// int8, int, uint, uintptr, complex64, complex128, interface, channel, and
// function values have no DBus representation; attempting to marshal or
// unmarshal them returns a [TypeError]. DBus cannot represent cyclic or
// recursive types either.
//
// Unmarshal applies the inverse rules. Types implementing [Unmarshaler]
// must do so with a pointer receiver; a value-receiver UnmarshalDBus
// method is a [TypeError]. Since D-Bus messages do not self-describe their
// Go type, it is up to the caller to unmarshal into a target whose shape
// matches the wire signature.
//
// # Connections
//
// [Dial] opens a connection to a bus address, runs the authentication
// handshake, and returns a [Conn] ready to send and receive messages.
// [Conn.Send] and [Conn.Recv] split the connection into independent halves
// that may be used from different goroutines without further
// synchronization; see the concurrency notes on [SendHalf] and [RecvHalf].
package dbus
