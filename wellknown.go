package dbus

import "fmt"

// The bus's own well-known name, object path, and interface, used by
// the standard control messages below.
const (
	BusName      = "org.freedesktop.DBus"
	BusPath      = ObjectPath("/org/freedesktop/DBus")
	BusInterface = "org.freedesktop.DBus"
)

// RequestName flags, as defined by the DBus specification.
const (
	NameFlagAllowReplacement uint32 = 1 << 0
	NameFlagReplaceExisting  uint32 = 1 << 1
	NameFlagDoNotQueue       uint32 = 1 << 2
)

// RequestName reply codes.
const (
	RequestNameReplyPrimaryOwner uint32 = 1
	RequestNameReplyInQueue      uint32 = 2
	RequestNameReplyExists       uint32 = 3
	RequestNameReplyAlreadyOwner uint32 = 4
)

// HelloMessage builds the mandatory first call every client must make
// after authenticating: it registers the connection with the bus and
// receives a unique name in response.
func HelloMessage() (*Message, error) {
	return NewCallBuilder(BusPath, BusInterface, "Hello").
		Destination(BusName).
		Build()
}

// RequestNameMessage builds a call requesting ownership of name, with
// the given RequestName flags.
func RequestNameMessage(name string, flags uint32) (*Message, error) {
	if err := ValidateBusName(name); err != nil {
		return nil, err
	}
	return NewCallBuilder(BusPath, BusInterface, "RequestName").
		Destination(BusName).
		Push(name).
		Push(flags).
		Build()
}

// ReleaseNameMessage builds a call relinquishing ownership of name.
func ReleaseNameMessage(name string) (*Message, error) {
	if err := ValidateBusName(name); err != nil {
		return nil, err
	}
	return NewCallBuilder(BusPath, BusInterface, "ReleaseName").
		Destination(BusName).
		Push(name).
		Build()
}

// ListNamesMessage builds a call listing all names currently claimed
// on the bus.
func ListNamesMessage() (*Message, error) {
	return NewCallBuilder(BusPath, BusInterface, "ListNames").
		Destination(BusName).
		Build()
}

// AddMatchMessage builds a call installing a match rule for signal
// delivery.
func AddMatchMessage(rule string) (*Message, error) {
	return NewCallBuilder(BusPath, BusInterface, "AddMatch").
		Destination(BusName).
		Push(rule).
		Build()
}

// UnknownMethodMessage builds the standard error response for a call
// to a method the receiver does not implement.
func UnknownMethodMessage(call *Message) (*Message, error) {
	b := NewErrorBuilder(call.Serial, "org.freedesktop.DBus.Error.UnknownMethod").
		Destination(call.Sender).
		Push(fmt.Sprintf("Unknown method %q on interface %q", call.Member, call.Interface))
	return b.Build()
}

// InvalidArgsMessage builds the standard error response for a call
// whose body signature did not match what the method expected.
func InvalidArgsMessage(call *Message, expected Signature) (*Message, error) {
	b := NewErrorBuilder(call.Serial, "org.freedesktop.DBus.Error.InvalidArgs").
		Destination(call.Sender).
		Push(fmt.Sprintf("Invalid arguments for %q, expected signature %q, got %q", call.Member, expected, call.Sig))
	return b.Build()
}
