package dbus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/halfwit/dbus/fragments"
)

// A Variant is a value of any valid DBus type.
//
// Variant corresponds to the DBus "variant" basic type, which is used
// in APIs where a value's type is only known at runtime.
type Variant struct {
	Value any
}

var variantType = reflect.TypeFor[Variant]()

func (v Variant) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return err
	}
	if err := e.Value(ctx, sig); err != nil {
		return err
	}
	if err := e.Value(ctx, v.Value); err != nil {
		return err
	}
	return nil
}

func (v *Variant) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := d.Value(ctx, &sig); err != nil {
		return fmt.Errorf("reading Variant signature: %w", err)
	}
	innerType := sig.Type()
	if innerType == nil {
		return fmt.Errorf("unsupported Variant type signature %q", sig)
	}
	if innerType == anyType {
		var nested Variant
		if err := nested.UnmarshalDBus(ctx, d); err != nil {
			return fmt.Errorf("reading Variant value (signature %q): %w", sig, err)
		}
		v.Value = nested
		return nil
	}
	inner := reflect.New(innerType)
	if err := d.Value(ctx, inner.Interface()); err != nil {
		return fmt.Errorf("reading Variant value (signature %q): %w", sig, err)
	}
	v.Value = inner.Elem().Interface()
	return nil
}

func (v Variant) IsDBusStruct() bool { return false }

var variantSignature = mkSignature(variantType)

func (v Variant) SignatureDBus() Signature { return variantSignature }

// ErrNoMatchingVariant is returned by Union.UnmarshalDBus when a
// Variant's wire signature matches none of the union's candidate
// arms.
var ErrNoMatchingVariant = fmt.Errorf("no matching variant arm for signature")

// A Union decodes a Variant whose payload type is one of a known,
// bounded set of alternatives, without requiring the caller to know
// which alternative is present ahead of time.
//
// Arms is populated by the caller before unmarshaling, with one zero
// value per candidate Go type. UnmarshalDBus tries each arm's static
// signature against the wire signature in order, and sets Value to
// the first match's decoded value. Marshaling a Union encodes
// whichever concrete type Value currently holds.
type Union struct {
	// Arms lists example values of each type this union may hold.
	// Only the type of each element is used; the values themselves
	// are ignored.
	Arms []any
	// Value is the decoded payload, or the payload to encode.
	Value any
}

func (u Union) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	valSig, err := SignatureOf(u.Value)
	if err != nil {
		return err
	}
	matched := false
	for _, arm := range u.Arms {
		armSig, err := SignatureOf(arm)
		if err != nil {
			continue
		}
		if armSig.String() == valSig.String() {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: %q", ErrNoMatchingVariant, valSig)
	}
	return Variant{u.Value}.MarshalDBus(ctx, e)
}

func (u *Union) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := d.Value(ctx, &sig); err != nil {
		return fmt.Errorf("reading Union signature: %w", err)
	}
	for _, arm := range u.Arms {
		armSig, err := SignatureOf(arm)
		if err != nil {
			continue
		}
		if armSig.String() != sig.String() {
			continue
		}
		innerType := sig.Type()
		if innerType == nil {
			continue
		}
		inner := reflect.New(innerType)
		if err := d.Value(ctx, inner.Interface()); err != nil {
			return fmt.Errorf("reading Union value (signature %q): %w", sig, err)
		}
		u.Value = inner.Elem().Interface()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoMatchingVariant, sig)
}

func (u Union) IsDBusStruct() bool { return false }

func (u Union) SignatureDBus() Signature { return variantSignature }
