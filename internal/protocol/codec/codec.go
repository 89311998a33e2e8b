// Package codec provides endianness-aware cursor primitives used to build and
// parse DLT payloads. Header fields are always big-endian; payload fields follow
// the MSBF flag of the frame they belong to.
package codec

import (
	"encoding/binary"

	"github.com/danmuck/edgedlt/internal/protocol"
)

// ByteOrder reads and appends fixed-width integers.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Order returns the byte order selected by the MSBF header flag.
func Order(msbFirst bool) ByteOrder {
	if msbFirst {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Writer appends fields to a caller-provided buffer with an auto-advancing
// cursor.
type Writer struct {
	buf   []byte
	order ByteOrder
}

// NewWriter starts writing at the beginning of buf. The backing array of buf
// is reused when its capacity suffices.
func NewWriter(buf []byte, msbFirst bool) *Writer {
	return &Writer{buf: buf[:0], order: Order(msbFirst)}
}

func (w *Writer) PutU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutI8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) PutU16(v uint16) {
	w.buf = w.order.AppendUint16(w.buf, v)
}

func (w *Writer) PutU32(v uint32) {
	w.buf = w.order.AppendUint32(w.buf, v)
}

// PutID writes the 4 identifier bytes verbatim; identifiers carry no
// endianness.
func (w *Writer) PutID(id protocol.ID) {
	w.buf = append(w.buf, id[:]...)
}

func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes fields from a byte slice. The first short read sets a
// sticky error; later reads return zero values.
type Reader struct {
	buf   []byte
	pos   int
	order ByteOrder
	err   error
}

func NewReader(buf []byte, msbFirst bool) *Reader {
	return &Reader{buf: buf, order: Order(msbFirst)}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.pos < n {
		r.err = protocol.ErrTruncated
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) I8() int8 {
	return int8(r.U8())
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *Reader) ID() protocol.ID {
	var id protocol.ID
	copy(id[:], r.take(4))
	return id
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Remaining returns the unread tail without copying.
func (r *Reader) Remaining() []byte {
	if r.err != nil {
		return nil
	}
	return r.buf[r.pos:]
}

// Pos returns the cursor position.
func (r *Reader) Pos() int {
	return r.pos
}

// Err returns the first short-read error, if any.
func (r *Reader) Err() error {
	return r.err
}
