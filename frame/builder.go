package frame

import (
	"encoding/binary"
	"fmt"
)

// Builder assembles a payload out of command blocks. Multi-byte values are
// big-endian, which is what the vehicle firmware expects.
type Builder struct {
	buf []byte
}

func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 32)}
}

func (b *Builder) U8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) I8(v int8) *Builder {
	b.buf = append(b.buf, byte(v))
	return b
}

func (b *Builder) U16(v uint16) *Builder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) I16(v int16) *Builder {
	return b.U16(uint16(v))
}

// Block appends a command id followed by raw value bytes.
func (b *Builder) Block(id byte, values ...byte) *Builder {
	b.buf = append(b.buf, id)
	b.buf = append(b.buf, values...)
	return b
}

func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the payload built so far.
func (b *Builder) Bytes() []byte { return b.buf }

// Frame wraps the payload with header and end marker.
func (b *Builder) Frame() []byte { return Encode(b.buf) }

// Reader walks a payload field by field.
type Reader struct {
	buf []byte
	off int
}

func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Offset is the index of the next unread byte.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining())
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) I8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}
