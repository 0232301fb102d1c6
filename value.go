package dbus

import (
	"context"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"

	"github.com/halfwit/dbus/fragments"
)

// ValueKind identifies which shape a dynamically typed Value holds.
type ValueKind int

const (
	// KindBase holds a single leaf value: one of bool, uint8, int16,
	// uint16, int32, uint32, int64, uint64, float64, string,
	// ObjectPath, or Signature.
	KindBase ValueKind = iota
	// KindArray holds a uniformly typed sequence of Values.
	KindArray
	// KindStruct holds an ordered, non-empty sequence of Values of
	// possibly differing types.
	KindStruct
	// KindDict holds an ordered sequence of key/value Value pairs,
	// whose keys are all base types.
	KindDict
	// KindVariant holds a single Value whose own type travels with it
	// on the wire.
	KindVariant
	// KindUnixFD holds a file descriptor handle.
	KindUnixFD
)

// A DictEntry is one key/value pair of a KindDict Value.
type DictEntry struct {
	Key, Val Value
}

// A Value is a runtime tagged representation of any DBus value, for
// callers that want to walk a value without declaring a Go type for
// it ahead of time. It is the fallback path: the static Marshal and
// Unmarshal traits (see Marshaler/Unmarshaler) are the primary,
// performance-sensitive API.
//
// On the wire, a Value always travels as a signature string followed
// by the value itself, exactly like a Variant — a Value is, in
// effect, an already-unpacked Variant.
type Value struct {
	Kind ValueKind

	// Base holds the leaf value when Kind is KindBase.
	Base any

	// ElemSig and Elems hold the element signature and contents when
	// Kind is KindArray.
	ElemSig Signature
	Elems   []Value

	// DictKeySig, DictValSig, and Dict hold the dict-entry signatures
	// and contents when Kind is KindDict.
	DictKeySig, DictValSig Signature
	Dict                   []DictEntry

	// Variant holds the wrapped value when Kind is KindVariant.
	Variant *Value

	// FD holds the descriptor when Kind is KindUnixFD.
	FD FD
}

// NewBaseValue wraps a base DBus value (bool, uint8, int16, uint16,
// int32, uint32, int64, uint64, float64, string, ObjectPath, or
// Signature) as a Value.
func NewBaseValue(v any) (Value, error) {
	switch v.(type) {
	case bool, uint8, int16, uint16, int32, uint32, int64, uint64, float64, string, ObjectPath, Signature:
		return Value{Kind: KindBase, Base: v}, nil
	default:
		return Value{}, fmt.Errorf("dbus: %T is not a DBus base type", v)
	}
}

// NewArrayValue builds a KindArray Value. All of elems must carry the
// same signature as elemSig.
func NewArrayValue(elemSig Signature, elems ...Value) (Value, error) {
	want := elemSig.String()
	for _, el := range elems {
		if got := el.Signature().String(); got != want {
			return Value{}, WrongSignature{Want: want, Got: got}
		}
	}
	return Value{Kind: KindArray, ElemSig: elemSig, Elems: elems}, nil
}

// NewStructValue builds a KindStruct Value. fields must be non-empty.
func NewStructValue(fields ...Value) (Value, error) {
	if len(fields) == 0 {
		return Value{}, fmt.Errorf("dbus: struct value must have at least one field")
	}
	return Value{Kind: KindStruct, Elems: fields}, nil
}

// NewDictValue builds a KindDict Value. keySig must be a DBus base
// type, and every entry's key/value must match keySig/valSig.
func NewDictValue(keySig, valSig Signature, entries ...DictEntry) (Value, error) {
	if !keySig.IsSingle() || !mapKeyKinds.Has(keySig.onlyType().Kind()) {
		return Value{}, fmt.Errorf("dbus: dict key signature %q is not a DBus base type", keySig)
	}
	wantKey, wantVal := keySig.String(), valSig.String()
	for _, e := range entries {
		if got := e.Key.Signature().String(); got != wantKey {
			return Value{}, WrongSignature{Want: wantKey, Got: got}
		}
		if got := e.Val.Signature().String(); got != wantVal {
			return Value{}, WrongSignature{Want: wantVal, Got: got}
		}
	}
	return Value{Kind: KindDict, DictKeySig: keySig, DictValSig: valSig, Dict: entries}, nil
}

// NewVariantValue wraps inner as a KindVariant Value.
func NewVariantValue(inner Value) Value {
	return Value{Kind: KindVariant, Variant: &inner}
}

// NewUnixFDValue wraps fd as a KindUnixFD Value.
func NewUnixFDValue(fd FD) Value {
	return Value{Kind: KindUnixFD, FD: fd}
}

// Signature reports v's DBus type signature.
func (v Value) Signature() Signature {
	return mustParseSignature(v.sigString())
}

func (v Value) sigString() string {
	switch v.Kind {
	case KindBase:
		switch v.Base.(type) {
		case bool:
			return "b"
		case uint8:
			return "y"
		case int16:
			return "n"
		case uint16:
			return "q"
		case int32:
			return "i"
		case uint32:
			return "u"
		case int64:
			return "x"
		case uint64:
			return "t"
		case float64:
			return "d"
		case string:
			return "s"
		case ObjectPath:
			return "o"
		case Signature:
			return "g"
		default:
			panic(fmt.Sprintf("dbus: Value holds unrepresentable base type %T", v.Base))
		}
	case KindArray:
		return "a" + v.ElemSig.String()
	case KindStruct:
		var b strings.Builder
		b.WriteByte('(')
		for _, f := range v.Elems {
			b.WriteString(f.sigString())
		}
		b.WriteByte(')')
		return b.String()
	case KindDict:
		return "a{" + v.DictKeySig.String() + v.DictValSig.String() + "}"
	case KindVariant:
		return "v"
	case KindUnixFD:
		return "h"
	default:
		panic(fmt.Sprintf("dbus: unknown ValueKind %d", v.Kind))
	}
}

func (v Value) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	inner := v
	if v.Kind == KindVariant {
		inner = *v.Variant
	}
	sig := inner.Signature()
	if err := e.Signature(sig.String()); err != nil {
		return err
	}
	return inner.marshalValue(ctx, e)
}

func (v Value) marshalValue(ctx context.Context, e *fragments.Encoder) error {
	switch v.Kind {
	case KindBase:
		return v.marshalBase(ctx, e)
	case KindArray:
		containsStructs := strings.HasPrefix(v.ElemSig.String(), "(")
		return e.Array(containsStructs, func() error {
			for _, el := range v.Elems {
				if err := el.marshalValue(ctx, e); err != nil {
					return err
				}
			}
			return nil
		})
	case KindStruct:
		return e.Struct(func() error {
			for _, f := range v.Elems {
				if err := f.marshalValue(ctx, e); err != nil {
					return err
				}
			}
			return nil
		})
	case KindDict:
		return e.Array(true, func() error {
			for _, ent := range v.Dict {
				if err := e.Struct(func() error {
					if err := ent.Key.marshalValue(ctx, e); err != nil {
						return err
					}
					return ent.Val.marshalValue(ctx, e)
				}); err != nil {
					return err
				}
			}
			return nil
		})
	case KindVariant:
		return v.MarshalDBus(ctx, e)
	case KindUnixFD:
		return v.FD.MarshalDBus(ctx, e)
	default:
		return fmt.Errorf("dbus: unknown ValueKind %d", v.Kind)
	}
}

func (v Value) marshalBase(ctx context.Context, e *fragments.Encoder) error {
	switch b := v.Base.(type) {
	case bool:
		e.Bool(b)
	case uint8:
		e.Uint8(b)
	case int16:
		e.Uint16(uint16(b))
	case uint16:
		e.Uint16(b)
	case int32:
		e.Uint32(uint32(b))
	case uint32:
		e.Uint32(b)
	case int64:
		e.Uint64(uint64(b))
	case uint64:
		e.Uint64(b)
	case float64:
		e.Uint64(math.Float64bits(b))
	case string:
		e.String(b)
	case ObjectPath:
		return b.MarshalDBus(ctx, e)
	case Signature:
		return b.MarshalDBus(ctx, e)
	default:
		return fmt.Errorf("dbus: Value holds unrepresentable base type %T", v.Base)
	}
	return nil
}

func (v *Value) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	var sig Signature
	if err := sig.UnmarshalDBus(ctx, d); err != nil {
		return fmt.Errorf("dbus: reading Value signature: %w", err)
	}
	t := sig.Type()
	if t == nil {
		return fmt.Errorf("dbus: unsupported Value type signature %q", sig)
	}
	inner, err := decodeValue(ctx, d, t)
	if err != nil {
		return fmt.Errorf("dbus: reading Value (signature %q): %w", sig, err)
	}
	*v = inner
	return nil
}

var anyType = reflect.TypeFor[any]()

func decodeValue(ctx context.Context, d *fragments.Decoder, t reflect.Type) (Value, error) {
	switch {
	case t == anyType:
		var inner Value
		if err := inner.UnmarshalDBus(ctx, d); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindVariant, Variant: &inner}, nil
	case t == reflect.TypeFor[ObjectPath]():
		var p ObjectPath
		if err := p.UnmarshalDBus(ctx, d); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBase, Base: p}, nil
	case t == reflect.TypeFor[Signature]():
		var s Signature
		if err := s.UnmarshalDBus(ctx, d); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindBase, Base: s}, nil
	case t == reflect.TypeFor[*os.File]():
		f, err := d.UnixFD()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUnixFD, FD: WrapFD(f)}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := d.Bool()
		return Value{Kind: KindBase, Base: b}, err
	case reflect.Uint8:
		u, err := d.Uint8()
		return Value{Kind: KindBase, Base: u}, err
	case reflect.Int16:
		u, err := d.Uint16()
		return Value{Kind: KindBase, Base: int16(u)}, err
	case reflect.Uint16:
		u, err := d.Uint16()
		return Value{Kind: KindBase, Base: u}, err
	case reflect.Int32:
		u, err := d.Uint32()
		return Value{Kind: KindBase, Base: int32(u)}, err
	case reflect.Uint32:
		u, err := d.Uint32()
		return Value{Kind: KindBase, Base: u}, err
	case reflect.Int64:
		u, err := d.Uint64()
		return Value{Kind: KindBase, Base: int64(u)}, err
	case reflect.Uint64:
		u, err := d.Uint64()
		return Value{Kind: KindBase, Base: u}, err
	case reflect.Float64:
		u, err := d.Uint64()
		return Value{Kind: KindBase, Base: math.Float64frombits(u)}, err
	case reflect.String:
		s, err := d.String()
		return Value{Kind: KindBase, Base: s}, err
	case reflect.Slice:
		elemT := t.Elem()
		elemSig := mkSignature(elemT)
		containsStructs := alignAsStruct(elemT)
		var elems []Value
		_, err := d.Array(containsStructs, func(int) error {
			decode := func() error {
				el, err := decodeValue(ctx, d, elemT)
				if err != nil {
					return err
				}
				elems = append(elems, el)
				return nil
			}
			if containsStructs {
				return d.Struct(decode)
			}
			return decode()
		})
		return Value{Kind: KindArray, ElemSig: elemSig, Elems: elems}, err
	case reflect.Map:
		kt, vt := t.Key(), t.Elem()
		keySig, valSig := mkSignature(kt), mkSignature(vt)
		var entries []DictEntry
		_, err := d.Array(true, func(int) error {
			return d.Struct(func() error {
				k, err := decodeValue(ctx, d, kt)
				if err != nil {
					return err
				}
				val, err := decodeValue(ctx, d, vt)
				if err != nil {
					return err
				}
				entries = append(entries, DictEntry{k, val})
				return nil
			})
		})
		return Value{Kind: KindDict, DictKeySig: keySig, DictValSig: valSig, Dict: entries}, err
	case reflect.Struct:
		var fields []Value
		err := d.Struct(func() error {
			for i := range t.NumField() {
				f, err := decodeValue(ctx, d, t.Field(i).Type)
				if err != nil {
					return err
				}
				fields = append(fields, f)
			}
			return nil
		})
		return Value{Kind: KindStruct, Elems: fields}, err
	default:
		return Value{}, fmt.Errorf("dbus: no Value decoding available for %s", t)
	}
}

func (v Value) IsDBusStruct() bool { return false }

func (v Value) SignatureDBus() Signature { return variantSignature }
