package dbus

import (
	"fmt"
	"os"
	"strings"
)

// DefaultSystemBusPath is the well-known path of the system bus
// socket on most UNIX-like systems.
const DefaultSystemBusPath = "/run/dbus/system_bus_socket"

// Address is a parsed DBus server address.
type Address struct {
	// Path is the filesystem or abstract socket name.
	Path string
	// Abstract reports whether Path names an abstract socket (Linux
	// only) rather than a filesystem path.
	Abstract bool
}

// ParseAddress parses a single DBus address of the form
// "unix:key=value,key=value". Only the unix: transport is supported;
// any other transport prefix returns AddressTypeNotSupported.
func ParseAddress(addr string) (Address, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok {
		return Address{}, fmt.Errorf("dbus: address %q has no transport prefix", addr)
	}
	if scheme != "unix" {
		return Address{}, AddressTypeNotSupported{Transport: scheme}
	}

	var a Address
	for _, kv := range strings.Split(rest, ",") {
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return Address{}, fmt.Errorf("dbus: malformed address component %q", kv)
		}
		switch key {
		case "path":
			a.Path = val
			a.Abstract = false
		case "abstract":
			a.Path = val
			a.Abstract = true
		default:
			// Unknown keys are ignored; servers routinely add
			// transport-specific keys like "guid=" that clients don't
			// need to interpret.
		}
	}
	if a.Path == "" {
		return Address{}, fmt.Errorf("dbus: address %q names no path or abstract socket", addr)
	}
	return a, nil
}

// SessionBusAddress returns the address named by
// DBUS_SESSION_BUS_ADDRESS, which may list several candidates
// separated by ';'. The first unix: address that parses successfully
// is returned.
func SessionBusAddress() (Address, error) {
	raw := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if raw == "" {
		return Address{}, NoAddressFound{}
	}
	var lastErr error
	for _, candidate := range strings.Split(raw, ";") {
		a, err := ParseAddress(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return a, nil
	}
	if lastErr != nil {
		return Address{}, lastErr
	}
	return Address{}, NoAddressFound{}
}
