package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/edgedlt/internal/protocol"
)

// Standard header type (HTYP) bits.
const (
	FlagUseExtendedHeader uint8 = 0x01
	FlagMSBFirst          uint8 = 0x02
	FlagWithEcuID         uint8 = 0x04
	FlagWithSessionID     uint8 = 0x08
	FlagWithTimestamp     uint8 = 0x10

	flagMask     uint8 = 0x1F
	versionShift       = 5
)

const (
	Version           uint8 = 1
	StandardHeaderLen       = 4
	ExtendedHeaderLen       = 10
	// LengthOffset is the position of the 2-byte big-endian length field
	// inside the standard header.
	LengthOffset = 2
	MaxLen       = 0xFFFF
)

var (
	ErrShortHeader   = errors.New("frame: short standard header")
	ErrFrameTooLarge = errors.New("frame: frame exceeds length field")
	ErrLengthField   = errors.New("frame: length field does not match frame")
)

// Header is the DLT standard header. Length is derived on encode.
type Header struct {
	Flags     uint8
	Counter   uint8
	Length    uint16
	EcuID     protocol.ID
	SessionID protocol.SessionID
	Timestamp uint32
}

func (h Header) Has(flag uint8) bool {
	return h.Flags&flag != 0
}

// ExtendedHeader is present when FlagUseExtendedHeader is set.
type ExtendedHeader struct {
	Verbose   bool
	Kind      protocol.MessageKind
	TypeInfo  uint8
	ArgCount  uint8
	AppID     protocol.ID
	ContextID protocol.ID
}

// MessageInfo packs the MSIN byte.
func (e ExtendedHeader) MessageInfo() uint8 {
	b := uint8(e.Kind&0x7)<<1 | (e.TypeInfo&0xF)<<4
	if e.Verbose {
		b |= 0x01
	}
	return b
}

func parseMessageInfo(b uint8) (verbose bool, kind protocol.MessageKind, typeInfo uint8) {
	return b&0x01 != 0, protocol.MessageKind((b >> 1) & 0x7), b >> 4
}

// Frame is one complete DLT message.
type Frame struct {
	Header   Header
	Extended ExtendedHeader
	Payload  []byte
}

// HeaderLen returns the size of all headers selected by flags.
func HeaderLen(flags uint8) int {
	n := StandardHeaderLen
	if flags&FlagWithEcuID != 0 {
		n += 4
	}
	if flags&FlagWithSessionID != 0 {
		n += 4
	}
	if flags&FlagWithTimestamp != 0 {
		n += 4
	}
	if flags&FlagUseExtendedHeader != 0 {
		n += ExtendedHeaderLen
	}
	return n
}

// Len returns the encoded length of f.
func (f Frame) Len() int {
	return HeaderLen(f.Header.Flags) + len(f.Payload)
}

// MSBFirst reports whether the payload is big-endian.
func (f Frame) MSBFirst() bool {
	return f.Header.Has(FlagMSBFirst)
}

// Append encodes f onto dst. Header fields are big-endian regardless of the
// payload byte order.
func Append(dst []byte, f Frame) ([]byte, error) {
	total := f.Len()
	if total > MaxLen {
		return dst, ErrFrameTooLarge
	}
	h := f.Header
	dst = append(dst, h.Flags&flagMask|Version<<versionShift, h.Counter)
	dst = binary.BigEndian.AppendUint16(dst, uint16(total))
	if h.Has(FlagWithEcuID) {
		dst = append(dst, h.EcuID[:]...)
	}
	if h.Has(FlagWithSessionID) {
		dst = binary.BigEndian.AppendUint32(dst, uint32(h.SessionID))
	}
	if h.Has(FlagWithTimestamp) {
		dst = binary.BigEndian.AppendUint32(dst, h.Timestamp)
	}
	if h.Has(FlagUseExtendedHeader) {
		e := f.Extended
		dst = append(dst, e.MessageInfo(), e.ArgCount)
		dst = append(dst, e.AppID[:]...)
		dst = append(dst, e.ContextID[:]...)
	}
	return append(dst, f.Payload...), nil
}

// Encode returns the wire bytes of f.
func Encode(f Frame) ([]byte, error) {
	return Append(make([]byte, 0, f.Len()), f)
}

// Decode parses exactly one frame from b. The payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < StandardHeaderLen {
		return Frame{}, ErrShortHeader
	}
	htyp := b[0]
	if htyp>>versionShift != Version {
		return Frame{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedVersion, htyp>>versionShift)
	}
	h := Header{
		Flags:   htyp & flagMask,
		Counter: b[1],
		Length:  binary.BigEndian.Uint16(b[LengthOffset : LengthOffset+2]),
	}
	if int(h.Length) != len(b) {
		return Frame{}, ErrLengthField
	}
	if int(h.Length) < HeaderLen(h.Flags) {
		return Frame{}, protocol.ErrTruncated
	}
	pos := StandardHeaderLen
	if h.Has(FlagWithEcuID) {
		copy(h.EcuID[:], b[pos:pos+4])
		pos += 4
	}
	if h.Has(FlagWithSessionID) {
		h.SessionID = protocol.SessionID(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
	}
	if h.Has(FlagWithTimestamp) {
		h.Timestamp = binary.BigEndian.Uint32(b[pos : pos+4])
		pos += 4
	}
	f := Frame{Header: h}
	if h.Has(FlagUseExtendedHeader) {
		f.Extended.Verbose, f.Extended.Kind, f.Extended.TypeInfo = parseMessageInfo(b[pos])
		f.Extended.ArgCount = b[pos+1]
		copy(f.Extended.AppID[:], b[pos+2:pos+6])
		copy(f.Extended.ContextID[:], b[pos+6:pos+10])
		pos += ExtendedHeaderLen
	}
	f.Payload = b[pos:]
	return f, nil
}

// PeekLen returns the total frame length announced by a standard header
// prefix.
func PeekLen(standardHeader []byte) (int, error) {
	if len(standardHeader) < StandardHeaderLen {
		return 0, ErrShortHeader
	}
	return int(binary.BigEndian.Uint16(standardHeader[LengthOffset : LengthOffset+2])), nil
}

// ReadFrame reads the raw bytes of one frame from a stream. Frames longer
// than maxLen are rejected before their body is read.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var std [StandardHeaderLen]byte
	if _, err := io.ReadFull(r, std[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n, _ := PeekLen(std[:])
	if n < HeaderLen(std[0]&flagMask) {
		return nil, ErrLengthField
	}
	if n > maxLen {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	copy(buf, std[:])
	if _, err := io.ReadFull(r, buf[StandardHeaderLen:]); err != nil {
		return nil, err
	}
	return buf, nil
}
