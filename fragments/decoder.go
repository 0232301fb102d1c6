package fragments

import (
	"context"
	"fmt"
	"os"
	"reflect"
)

// A DecoderFunc reads a value into val.
type DecoderFunc func(ctx context.Context, dec *Decoder, val reflect.Value) error

// A Decoder provides utilities to read a DBus wire format message out of
// an in-memory buffer.
//
// Methods advance the read cursor as needed to account for the padding
// required by DBus alignment rules, except for [Decoder.Read] which reads
// bytes verbatim.
//
// Decoder holds the entire message body in memory rather than streaming
// it from an io.Reader: the transport always reads a complete message
// before handing it to the decoder (it must know the body length up
// front to know how much to read), and padding validation needs to
// inspect the bytes it skips rather than merely discard them.
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder
	// Mapper provides [DecoderFunc]s for types given to
	// [Decoder.Value]. If mapper is nil, the Decoder functions
	// normally except that [Decoder.Value] always returns an error.
	Mapper func(reflect.Type) (DecoderFunc, error)
	// In is the message bytes to decode.
	In []byte
	// Fds holds file descriptors associated with the message being
	// decoded, indexed by the UNIX_FD values found in the wire data.
	Fds []*os.File

	// offset is the read cursor into In. Alignment depends on the
	// offset from the start of the message, not on local context, so
	// it has to be tracked explicitly rather than derived.
	offset int
	// end bounds decoding to the current array or message, in case
	// In holds more data than the current nested context should see.
	end int
}

// NewDecoder returns a Decoder ready to read buf from the start.
func NewDecoder(order ByteOrder, buf []byte, fds []*os.File) *Decoder {
	return &Decoder{
		Order: order,
		In:    buf,
		Fds:   fds,
		end:   len(buf),
	}
}

// Pad consumes padding bytes as needed to make the next read happen at
// a multiple of align bytes. If the decoder is already correctly
// aligned, no bytes are consumed. Padding bytes must be zero; a nonzero
// padding byte is a malformed message.
func (d *Decoder) Pad(align int) error {
	extra := d.offset % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	bs, err := d.Read(skip)
	if err != nil {
		return err
	}
	for _, b := range bs {
		if b != 0 {
			return ErrPaddingContainedData
		}
	}
	return nil
}

// Read reads n bytes, with no framing or padding.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 || d.offset+n > d.end {
		if n > 0 && d.offset >= d.end {
			return nil, ErrEndOfMessage
		}
		return nil, ErrNotEnoughBytes
	}
	bs := d.In[d.offset : d.offset+n]
	d.offset += n
	return bs, nil
}

// Bytes reads a DBus byte array.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if ln > MaxArrayLen {
		return nil, ArraySizeError{Size: ln}
	}
	return d.Read(int(ln))
}

// String reads a DBus string.
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	if ret[len(ret)-1] != 0 {
		return "", fmt.Errorf("dbus: string not NUL-terminated")
	}
	return string(ret[:len(ret)-1]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Bool reads a DBus boolean, backed by a uint32 that must be exactly 0
// or 1.
func (d *Decoder) Bool() (bool, error) {
	v, err := d.Uint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBoolean
	}
}

// UnixFD reads a UNIX_FD index and resolves it against d.Fds.
func (d *Decoder) UnixFD() (*os.File, error) {
	idx, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if int(idx) >= len(d.Fds) {
		return nil, ErrBadFdIndex
	}
	return d.Fds[idx], nil
}

// Value reads a value into v, using the [DecoderFunc] provided by
// [Decoder.Mapper]. v must be a non-nil pointer.
func (d *Decoder) Value(ctx context.Context, v any) error {
	if d.Mapper == nil {
		return fmt.Errorf("Mapper not provided to Decoder")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return fmt.Errorf("outval of Decoder.Value must be a pointer, got %s", rv.Type())
	}
	if rv.IsNil() {
		return fmt.Errorf("outval of Decoder.Value must not be a nil pointer")
	}
	fn, err := d.Mapper(rv.Type().Elem())
	if err != nil {
		return err
	}
	return fn(ctx, d, rv.Elem())
}

// Array reads an array.
//
// readElement is called repeatedly while there is array data remaining
// to process, passing in the array index of the element to be decoded.
// readElement must completely consume all array bytes from the input,
// and must not read beyond the end of the array data.
//
// Array returns the total number of array elements that were
// processed.
//
// containsStructs indicates whether the array's elements are structs,
// so that the decoder consumes array header padding appropriately even
// if the array contains no elements.
//
// containsStructs only affects the size and alignment of the struct
// header. When reading an array of structs, the caller must also call
// [Decoder.Struct] to align with each array element correctly.
func (d *Decoder) Array(containsStructs bool, readElement func(int) error) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if ln > MaxArrayLen {
		return 0, ArraySizeError{Size: ln}
	}
	if containsStructs {
		if err := d.Pad(8); err != nil {
			return 0, err
		}
	}
	if ln == 0 {
		return 0, nil
	}

	outerEnd := d.end
	newEnd := d.offset + int(ln)
	if newEnd > outerEnd {
		return 0, ErrNotEnoughBytes
	}
	d.end = newEnd
	defer func() { d.end = outerEnd }()

	idx := 0
	for d.offset < d.end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	if d.offset != d.end {
		return idx, ErrNotAllBytesUsed
	}
	return idx, nil
}

// Struct reads a struct.
//
// Struct fields must be read within the provided fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads a DBus byte order flag byte, and sets
// [Decoder.Order] to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	switch v {
	case 'B':
		d.Order = BigEndian
	case 'l':
		d.Order = LittleEndian
	default:
		return ErrInvalidByteOrder
	}
	return nil
}

// Remaining reports how many bytes are left to read in the current
// scope (the whole buffer, or the enclosing array if called from
// within one).
func (d *Decoder) Remaining() int {
	return d.end - d.offset
}
