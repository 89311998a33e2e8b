// Package ringbuf implements the fixed-capacity byte ring that backs every
// DLT channel buffer.
//
// The ring stores whole frames back to back. The buffer is empty exactly when
// the read and write cursors are equal, so one slot is always kept free and a
// ring of capacity N holds at most N-1 bytes. A Put that would make the write
// cursor catch up with the read cursor is refused as a whole; the ring never
// holds a partial frame.
//
// Ring is not safe for concurrent use. The owning channel serializes access.
package ringbuf

import "github.com/danmuck/edgedlt/internal/protocol/frame"

const minCapacity = frame.StandardHeaderLen + 1

// Ring is a byte ring with explicit read and write cursors.
type Ring struct {
	data  []byte
	read  int
	write int
}

// New allocates a ring with the given capacity in bytes.
func New(capacity int) *Ring {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Ring{data: make([]byte, capacity)}
}

// Cap returns the configured capacity.
func (r *Ring) Cap() int {
	return len(r.data)
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	if r.write >= r.read {
		return r.write - r.read
	}
	return len(r.data) - r.read + r.write
}

// Free returns how many bytes a Put can still accept.
func (r *Ring) Free() int {
	return len(r.data) - 1 - r.Len()
}

func (r *Ring) IsEmpty() bool {
	return r.read == r.write
}

// Cursors returns the read and write positions.
func (r *Ring) Cursors() (read, write int) {
	return r.read, r.write
}

// Put copies b behind the write cursor, wrapping at the end of the ring. It
// returns false without touching the ring when b would collide with the read
// cursor.
func (r *Ring) Put(b []byte) bool {
	if len(b) > r.Free() {
		return false
	}
	for offset := 0; offset < len(b); {
		n := copy(r.data[r.write:], b[offset:])
		r.write = (r.write + n) % len(r.data)
		offset += n
	}
	return true
}

// Peek copies n bytes starting at the read cursor into dst without consuming
// them. dst is grown when needed.
func (r *Ring) Peek(dst []byte, n int) []byte {
	if n > r.Len() {
		n = r.Len()
	}
	dst = dst[:0]
	pos := r.read
	for n > 0 {
		end := pos + n
		if end > len(r.data) {
			end = len(r.data)
		}
		dst = append(dst, r.data[pos:end]...)
		n -= end - pos
		pos = end % len(r.data)
	}
	return dst
}

// Advance consumes n bytes from the read cursor.
func (r *Ring) Advance(n int) {
	if n > r.Len() {
		n = r.Len()
	}
	r.read = (r.read + n) % len(r.data)
}

// Take copies and consumes n bytes.
func (r *Ring) Take(dst []byte, n int) []byte {
	dst = r.Peek(dst, n)
	r.Advance(len(dst))
	return dst
}

// Clear drops all buffered bytes.
func (r *Ring) Clear() {
	r.read = 0
	r.write = 0
}

// lengthAt decodes the big-endian frame length of the frame starting at pos.
// The 2-byte field sits at a fixed offset and may lie entirely before the
// wrap point, straddle it, or lie entirely after it.
func (r *Ring) lengthAt(pos int) int {
	size := len(r.data)
	hi := pos + frame.LengthOffset
	switch {
	case hi+1 < size:
		return int(r.data[hi])<<8 | int(r.data[hi+1])
	case hi+1 == size:
		return int(r.data[hi])<<8 | int(r.data[0])
	default:
		hi -= size
		return int(r.data[hi])<<8 | int(r.data[hi+1])
	}
}

// NextFrameLength returns the length of the frame at the read cursor. ok is
// false when fewer than a standard header's worth of bytes is buffered.
func (r *Ring) NextFrameLength() (n int, ok bool) {
	if r.Len() < frame.StandardHeaderLen {
		return 0, false
	}
	return r.lengthAt(r.read), true
}

// Limits bounds one transmission slice.
type Limits struct {
	// Capacity is the lower layer's advertised capacity in bytes.
	Capacity int
	// Quota is the remaining per-cycle byte budget; zero disables it.
	Quota int
	// MaxFrames caps the number of frames per slice; zero disables it.
	MaxFrames int
}

// TransmittableLength sums whole frames from the read cursor while they fit
// the limits. It stops at the first frame that does not fit or is not yet
// completely buffered.
func (r *Ring) TransmittableLength(lim Limits) (total, frames int) {
	used := r.Len()
	pos := r.read
	for lim.MaxFrames == 0 || frames < lim.MaxFrames {
		if used-total < frame.StandardHeaderLen {
			break
		}
		n := r.lengthAt(pos)
		if n < frame.StandardHeaderLen || n > used-total {
			break
		}
		if total+n > lim.Capacity {
			break
		}
		if lim.Quota > 0 && total+n > lim.Quota {
			break
		}
		total += n
		frames++
		pos = (pos + n) % len(r.data)
	}
	return total, frames
}
