package ringbuf

import (
	"bytes"
	"testing"

	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

func mustFrame(t *testing.T, payloadLen int) []byte {
	t.Helper()
	raw, err := frame.Encode(frame.Frame{Payload: make([]byte, payloadLen)})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return raw
}

func mustPut(t *testing.T, r *Ring, b []byte) {
	t.Helper()
	if !r.Put(b) {
		t.Fatalf("put %d bytes refused: len=%d free=%d", len(b), r.Len(), r.Free())
	}
}

func TestRingEmptyIffCursorsEqual(t *testing.T) {
	r := New(16)
	check := func(step string) {
		t.Helper()
		read, write := r.Cursors()
		if (read == write) != r.IsEmpty() || (r.Len() == 0) != r.IsEmpty() {
			t.Fatalf("%s: read=%d write=%d len=%d empty=%v", step, read, write, r.Len(), r.IsEmpty())
		}
	}
	check("new")
	for i := 0; i < 40; i++ {
		mustPut(t, r, []byte{byte(i), byte(i + 1), byte(i + 2)})
		check("put")
		got := r.Take(nil, 2)
		if want := []byte{byte(i), byte(i + 1)}; !bytes.Equal(got, want) {
			t.Fatalf("take %d: got=%v want=%v", i, got, want)
		}
		check("take")
		r.Advance(1)
		check("advance")
	}
}

func TestRingRefusesCollision(t *testing.T) {
	r := New(8)
	if r.Free() != 7 {
		t.Fatalf("usable capacity: got=%d want=7", r.Free())
	}
	if r.Put(make([]byte, 8)) {
		t.Fatalf("expected put beyond usable capacity to be refused")
	}
	if !r.IsEmpty() {
		t.Fatalf("refused put must leave the ring untouched, len=%d", r.Len())
	}

	mustPut(t, r, make([]byte, 7))
	if r.Free() != 0 {
		t.Fatalf("expected full ring, free=%d", r.Free())
	}
	if r.Put([]byte{1}) {
		t.Fatalf("expected put into full ring to be refused")
	}
	if read, write := r.Cursors(); read == write {
		t.Fatalf("write caught up with read at %d", read)
	}
}

func TestRingFullLapRestoresCursors(t *testing.T) {
	r := New(10)
	startRead, startWrite := r.Cursors()
	// Ten 3-byte writes and reads cover exactly three laps.
	for i := 0; i < 10; i++ {
		in := []byte{byte(i), 0xAA, 0xBB}
		mustPut(t, r, in)
		if got := r.Take(nil, 3); !bytes.Equal(got, in) {
			t.Fatalf("lap write %d: got=%v want=%v", i, got, in)
		}
	}
	read, write := r.Cursors()
	if read != startRead || write != startWrite || !r.IsEmpty() {
		t.Fatalf("cursors after laps: got=(%d,%d) want=(%d,%d)", read, write, startRead, startWrite)
	}
}

func TestRingNextFrameLengthAcrossWrap(t *testing.T) {
	// With capacity 16 the length field of a frame starting at 12 is
	// contiguous, at 13 it straddles the wrap point, at 14 and 15 it lies
	// entirely after it.
	for _, start := range []int{0, 12, 13, 14, 15} {
		r := New(16)
		mustPut(t, r, make([]byte, start))
		r.Advance(start)

		raw := mustFrame(t, 5)
		mustPut(t, r, raw)

		n, ok := r.NextFrameLength()
		if !ok || n != len(raw) {
			t.Fatalf("start=%d: got=(%d,%v) want=(%d,true)", start, n, ok, len(raw))
		}
		if got := r.Take(nil, n); !bytes.Equal(got, raw) {
			t.Fatalf("start=%d: got=%v want=%v", start, got, raw)
		}
		if !r.IsEmpty() {
			t.Fatalf("start=%d: ring not drained, len=%d", start, r.Len())
		}
	}
}

func TestRingNextFrameLengthNeedsHeader(t *testing.T) {
	r := New(16)
	mustPut(t, r, []byte{0x20, 0x00, 0x00})
	if n, ok := r.NextFrameLength(); ok {
		t.Fatalf("expected no length from a partial header, got %d", n)
	}
}

func TestRingTransmittableLengthLimits(t *testing.T) {
	r := New(64)
	f6 := mustFrame(t, 2)
	f10 := mustFrame(t, 6)
	mustPut(t, r, f6)
	mustPut(t, r, f10)
	mustPut(t, r, f6)

	cases := []struct {
		name        string
		lim         Limits
		total, nfrm int
	}{
		{"everything fits", Limits{Capacity: 100}, 22, 3},
		{"second frame exceeds lower layer", Limits{Capacity: 15}, 6, 1},
		{"quota", Limits{Capacity: 100, Quota: 16}, 16, 2},
		{"frame ceiling", Limits{Capacity: 100, MaxFrames: 1}, 6, 1},
		{"first frame exceeds lower layer", Limits{Capacity: 5}, 0, 0},
	}
	for _, tc := range cases {
		total, frames := r.TransmittableLength(tc.lim)
		if total != tc.total || frames != tc.nfrm {
			t.Fatalf("%s: got=(%d,%d) want=(%d,%d)", tc.name, total, frames, tc.total, tc.nfrm)
		}
	}
}

func TestRingTransmittableLengthStopsAtIncompleteFrame(t *testing.T) {
	r := New(64)
	mustPut(t, r, mustFrame(t, 2))
	// Standard header announcing 20 bytes with only the header buffered.
	mustPut(t, r, []byte{0x20, 0x00, 0x00, 20})

	total, frames := r.TransmittableLength(Limits{Capacity: 100})
	if total != 6 || frames != 1 {
		t.Fatalf("got=(%d,%d) want=(6,1)", total, frames)
	}
}

func TestRingPeekDoesNotConsume(t *testing.T) {
	r := New(8)
	mustPut(t, r, []byte{1, 2, 3})
	if got := r.Peek(nil, 2); !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("peek 2: got=%v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("peek consumed bytes, len=%d", r.Len())
	}
	if got := r.Peek(nil, 10); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("peek past length: got=%v", got)
	}
}
