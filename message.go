package dbus

import (
	"context"
	"fmt"
	"os"

	"github.com/halfwit/dbus/fragments"
)

// MessageType identifies the kind of a DBus message.
type MessageType byte

const (
	MessageTypeInvalid MessageType = 0
	MessageTypeCall    MessageType = 1
	MessageTypeReturn  MessageType = 2
	MessageTypeError   MessageType = 3
	MessageTypeSignal  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "call"
	case MessageTypeReturn:
		return "return"
	case MessageTypeError:
		return "error"
	case MessageTypeSignal:
		return "signal"
	default:
		return fmt.Sprintf("invalid(%d)", byte(t))
	}
}

// Message flag bits.
const (
	FlagNoReplyExpected      byte = 0x1
	FlagNoAutoStart          byte = 0x2
	FlagAllowInteractiveAuth byte = 0x4
)

// Header field codes, per the DBus wire protocol.
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrorName   = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
	fieldUnixFDs     = 9
)

const protocolVersion = 1

// A Message is a single fully decoded, or ready-to-encode, DBus
// message: fixed header, dynamic header fields, marshalled body
// bytes, and any descriptors the body references.
type Message struct {
	Type  MessageType
	Flags byte
	Serial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string
	Sig         Signature

	// Body holds the already-marshalled message body. Use Builder to
	// construct this incrementally from typed parameters.
	Body []byte
	// Order is the byte order Body was encoded with: the order the
	// message was received in, or fragments.NativeEndian for a message
	// built locally with Builder. Callers unmarshaling Body must use
	// this order, not assume one, since a peer may send either.
	Order fragments.ByteOrder
	// Fds holds the descriptors the body's UNIX_FD values index into.
	Fds []*os.File
}

// Valid reports whether m's header fields satisfy the requirements of
// its message Type.
func (m *Message) Valid() error {
	switch m.Type {
	case MessageTypeCall:
		if m.Path == "" {
			return fmt.Errorf("dbus: Call message missing required Path field")
		}
		if m.Member == "" {
			return fmt.Errorf("dbus: Call message missing required Member field")
		}
	case MessageTypeReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("dbus: Return message missing required ReplySerial field")
		}
	case MessageTypeError:
		if m.ReplySerial == 0 {
			return fmt.Errorf("dbus: Error message missing required ReplySerial field")
		}
		if m.ErrorName == "" {
			return fmt.Errorf("dbus: Error message missing required ErrorName field")
		}
	case MessageTypeSignal:
		if m.Path == "" {
			return fmt.Errorf("dbus: Signal message missing required Path field")
		}
		if m.Interface == "" {
			return fmt.Errorf("dbus: Signal message missing required Interface field")
		}
		if m.Member == "" {
			return fmt.Errorf("dbus: Signal message missing required Member field")
		}
	default:
		return InvalidMessageType{Got: m.Type}
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (m *Message) WantReply() bool {
	return m.Type == MessageTypeCall && m.Flags&FlagNoReplyExpected == 0
}

// Marshal encodes m into its wire representation: fixed header,
// dynamic header array, padding to 8 bytes, then the body.
func (m *Message) Marshal(order fragments.ByteOrder) ([]byte, []*os.File, error) {
	if err := m.Valid(); err != nil {
		return nil, nil, err
	}
	e := &fragments.Encoder{Order: order, Mapper: encoderFor}
	e.ByteOrderFlag()
	e.Uint8(byte(m.Type))
	e.Uint8(m.Flags)
	e.Uint8(protocolVersion)
	e.Uint32(uint32(len(m.Body)))
	e.Uint32(m.Serial)

	ctx := context.Background()
	writeField := func(code uint8, v any) error {
		return e.Struct(func() error {
			e.Uint8(code)
			return Variant{v}.MarshalDBus(ctx, e)
		})
	}

	err := e.Array(true, func() error {
		if m.Path != "" {
			if err := writeField(fieldPath, m.Path); err != nil {
				return err
			}
		}
		if m.Interface != "" {
			if err := writeField(fieldInterface, m.Interface); err != nil {
				return err
			}
		}
		if m.Member != "" {
			if err := writeField(fieldMember, m.Member); err != nil {
				return err
			}
		}
		if m.ErrorName != "" {
			if err := writeField(fieldErrorName, m.ErrorName); err != nil {
				return err
			}
		}
		if m.ReplySerial != 0 {
			if err := writeField(fieldReplySerial, m.ReplySerial); err != nil {
				return err
			}
		}
		if m.Destination != "" {
			if err := writeField(fieldDestination, m.Destination); err != nil {
				return err
			}
		}
		if m.Sender != "" {
			if err := writeField(fieldSender, m.Sender); err != nil {
				return err
			}
		}
		if !m.Sig.IsZero() {
			if err := writeField(fieldSignature, m.Sig); err != nil {
				return err
			}
		}
		if len(m.Fds) > 0 {
			if err := writeField(fieldUnixFDs, uint32(len(m.Fds))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.Pad(8)
	e.Write(m.Body)

	return e.Out, m.Fds, nil
}

// UnmarshalMessage decodes the fixed and dynamic headers and body of a
// complete message from buf, which must hold exactly one message's
// worth of bytes (as determined by peeking the fixed header's body
// length, the caller's responsibility — see the transport package).
func UnmarshalMessage(buf []byte, takeFds func(n int) ([]*os.File, error)) (*Message, error) {
	d := fragments.NewDecoder(fragments.NativeEndian, buf, nil)
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}

	typ, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	flags, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	if _, err := d.Uint8(); err != nil { // protocol version, ignored
		return nil, err
	}
	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	serial, err := d.Uint32()
	if err != nil {
		return nil, err
	}

	m := &Message{
		Type:   MessageType(typ),
		Flags:  flags,
		Serial: serial,
		Order:  d.Order,
	}

	seen := map[uint8]bool{}
	ctx := context.Background()
	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			if seen[code] {
				return fmt.Errorf("dbus: duplicate header field code %d", code)
			}
			seen[code] = true

			var v Variant
			if err := v.UnmarshalDBus(ctx, d); err != nil {
				return fmt.Errorf("dbus: decoding header field %d: %w", code, err)
			}
			switch code {
			case fieldPath:
				s, ok := v.Value.(ObjectPath)
				if !ok {
					return fmt.Errorf("dbus: header field Path has wrong type %T", v.Value)
				}
				m.Path = s
			case fieldInterface:
				s, ok := v.Value.(string)
				if !ok {
					return fmt.Errorf("dbus: header field Interface has wrong type %T", v.Value)
				}
				m.Interface = s
			case fieldMember:
				s, ok := v.Value.(string)
				if !ok {
					return fmt.Errorf("dbus: header field Member has wrong type %T", v.Value)
				}
				m.Member = s
			case fieldErrorName:
				s, ok := v.Value.(string)
				if !ok {
					return fmt.Errorf("dbus: header field ErrorName has wrong type %T", v.Value)
				}
				m.ErrorName = s
			case fieldReplySerial:
				u, ok := v.Value.(uint32)
				if !ok {
					return fmt.Errorf("dbus: header field ReplySerial has wrong type %T", v.Value)
				}
				m.ReplySerial = u
			case fieldDestination:
				s, ok := v.Value.(string)
				if !ok {
					return fmt.Errorf("dbus: header field Destination has wrong type %T", v.Value)
				}
				m.Destination = s
			case fieldSender:
				s, ok := v.Value.(string)
				if !ok {
					return fmt.Errorf("dbus: header field Sender has wrong type %T", v.Value)
				}
				m.Sender = s
			case fieldSignature:
				s, ok := v.Value.(Signature)
				if !ok {
					return fmt.Errorf("dbus: header field Signature has wrong type %T", v.Value)
				}
				m.Sig = s
			case fieldUnixFDs:
				count, ok := v.Value.(uint32)
				if !ok {
					return fmt.Errorf("dbus: header field UnixFds has wrong type %T", v.Value)
				}
				if takeFds != nil {
					fds, err := takeFds(int(count))
					if err != nil {
						return err
					}
					m.Fds = fds
				}
			default:
				// Unknown fields are ignored, per the protocol's forward
				// compatibility rule.
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := d.Pad(8); err != nil {
		return nil, err
	}
	m.Body, err = d.Read(int(bodyLen))
	if err != nil {
		return nil, err
	}

	if m.Serial == 0 {
		return nil, InvalidSerial{}
	}
	if err := m.Valid(); err != nil {
		return nil, fmt.Errorf("dbus: received invalid message: %w", err)
	}

	return m, nil
}

// Builder fluently constructs a Message. Use one of NewCallBuilder,
// NewSignalBuilder, NewErrorBuilder, or NewReturnBuilder to start.
type Builder struct {
	msg *Message
	enc fragments.Encoder
	err error
}

func newBuilder(typ MessageType) *Builder {
	return &Builder{
		msg: &Message{Type: typ},
		enc: fragments.Encoder{Order: fragments.NativeEndian, Mapper: encoderFor},
	}
}

// NewCallBuilder starts building a method call to member on interface
// at path.
func NewCallBuilder(path ObjectPath, iface, member string) *Builder {
	b := newBuilder(MessageTypeCall)
	b.msg.Path = path
	b.msg.Interface = iface
	b.msg.Member = member
	return b
}

// NewSignalBuilder starts building a signal emission of member on
// interface from path.
func NewSignalBuilder(path ObjectPath, iface, member string) *Builder {
	b := newBuilder(MessageTypeSignal)
	b.msg.Path = path
	b.msg.Interface = iface
	b.msg.Member = member
	return b
}

// NewErrorBuilder starts building an error response to the call with
// serial replySerial.
func NewErrorBuilder(replySerial uint32, errName string) *Builder {
	b := newBuilder(MessageTypeError)
	b.msg.ReplySerial = replySerial
	b.msg.ErrorName = errName
	return b
}

// NewReturnBuilder starts building a successful response to the call
// with serial replySerial.
func NewReturnBuilder(replySerial uint32) *Builder {
	b := newBuilder(MessageTypeReturn)
	b.msg.ReplySerial = replySerial
	return b
}

// Destination sets the message's Destination field.
func (b *Builder) Destination(name string) *Builder {
	b.msg.Destination = name
	return b
}

// Sender sets the message's Sender field.
func (b *Builder) Sender(name string) *Builder {
	b.msg.Sender = name
	return b
}

// NoReply marks a Call as not expecting a reply.
func (b *Builder) NoReply() *Builder {
	b.msg.Flags |= FlagNoReplyExpected
	return b
}

// AllowInteractiveAuth marks the message as one whose sender is
// willing to wait through an interactive authorization prompt.
func (b *Builder) AllowInteractiveAuth() *Builder {
	b.msg.Flags |= FlagAllowInteractiveAuth
	return b
}

// Push appends v to the message body, extending the message's
// Signature header field to match.
func (b *Builder) Push(v any) *Builder {
	if b.err != nil {
		return b
	}
	sig, err := SignatureOf(v)
	if err != nil {
		b.err = err
		return b
	}
	if err := b.enc.Value(context.Background(), v); err != nil {
		b.err = err
		return b
	}
	b.msg.Sig.parts = append(b.msg.Sig.parts, sig.parts...)
	return b
}

// Serial sets the message's Serial field. The transport layer
// normally assigns this; Builder.Serial exists for callers composing
// messages outside of a Conn.
func (b *Builder) Serial(serial uint32) *Builder {
	b.msg.Serial = serial
	return b
}

// Build finalizes the message, checking required fields for its
// message type.
func (b *Builder) Build() (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.msg.Body = b.enc.Out
	b.msg.Order = b.enc.Order
	b.msg.Fds = b.enc.Fds
	if err := b.msg.Valid(); err != nil {
		return nil, err
	}
	return b.msg, nil
}

// MakeResponse builds a successful Return response to call, with body
// as its parameters.
func MakeResponse(call *Message, body any) (*Message, error) {
	b := NewReturnBuilder(call.Serial).Destination(call.Sender)
	if body != nil {
		b.Push(body)
	}
	return b.Build()
}

// MakeErrorResponse builds an Error response to call.
func MakeErrorResponse(call *Message, errName, detail string) (*Message, error) {
	b := NewErrorBuilder(call.Serial, errName).Destination(call.Sender)
	if detail != "" {
		b.Push(detail)
	}
	return b.Build()
}
