package dbus

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/halfwit/dbus/fragments"
)

// An ObjectPath identifies an object within a DBus peer, e.g.
// "/org/freedesktop/DBus".
type ObjectPath string

// Validate reports whether p is a syntactically valid DBus object
// path: it must start with '/', contain no empty or "//" elements,
// and each element must consist only of [A-Za-z0-9_].
func (p ObjectPath) Validate() error {
	s := string(p)
	if s == "" || s[0] != '/' {
		return fmt.Errorf("object path %q must start with /", s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("object path %q must not end with /", s)
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return fmt.Errorf("object path %q contains an empty element", s)
		}
		for _, r := range elem {
			if !isPathElementByte(r) {
				return fmt.Errorf("object path %q contains invalid character %q", s, r)
			}
		}
	}
	return nil
}

func isPathElementByte(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	default:
		return false
	}
}

func (p ObjectPath) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.String(string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	s, err := d.String()
	if err != nil {
		return err
	}
	*p = ObjectPath(s)
	return p.Validate()
}

func (p ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath]())

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }
