package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/codec"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
	"github.com/danmuck/edgedlt/internal/testutil/testlog"
)

var (
	testApp = protocol.MakeID("APP1")
	testCtx = protocol.MakeID("CTX1")
)

const testSession protocol.SessionID = 5

type fakeLower struct {
	mu       sync.Mutex
	e        *Engine
	capacity int
	busy     bool
	// autoConfirm reports every accepted transmission as successful.
	autoConfirm bool
	sent        map[int][][]byte
}

func newFakeLower() *fakeLower {
	return &fakeLower{capacity: 4096, autoConfirm: true, sent: make(map[int][][]byte)}
}

func (f *fakeLower) Transmit(ch int, b []byte) TxResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return TxBusy
	}
	f.sent[ch] = append(f.sent[ch], append([]byte(nil), b...))
	if f.autoConfirm && f.e != nil {
		f.e.TxConfirmation(ch, true)
	}
	return TxAccepted
}

func (f *fakeLower) Capacity(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity
}

func (f *fakeLower) transmits(ch int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[ch])
}

// frames splits everything transmitted on ch into decoded frames.
func (f *fakeLower) frames(t *testing.T, ch int) []frame.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frame.Frame
	for _, chunk := range f.sent[ch] {
		for len(chunk) > 0 {
			n, err := frame.PeekLen(chunk)
			require.NoError(t, err)
			fr, err := frame.Decode(chunk[:n])
			require.NoError(t, err)
			out = append(out, fr)
			chunk = chunk[n:]
		}
	}
	return out
}

func (f *fakeLower) reset() {
	f.mu.Lock()
	f.sent = make(map[int][][]byte)
	f.mu.Unlock()
}

type fakeClock struct {
	ticks uint32
	now   time.Time
}

func (c *fakeClock) Ticks() uint32  { return c.ticks }
func (c *fakeClock) Now() time.Time { return c.now }

type report struct {
	component string
	api       string
	code      ErrorCode
}

type fakeSink struct {
	mu      sync.Mutex
	reports []report
}

func (s *fakeSink) Report(component, api string, code ErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report{component, api, code})
}

func (s *fakeSink) all() []report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report(nil), s.reports...)
}

type memStore struct {
	data        []byte
	invalidated int
}

func (m *memStore) Read() ([]byte, error) {
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memStore) Write(b []byte) error {
	m.data = append([]byte(nil), b...)
	return nil
}

func (m *memStore) Invalidate() error {
	m.data = nil
	m.invalidated++
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxApplications = 4
	cfg.MaxContextsPerApplication = 4
	cfg.TimeoutTicks = 3
	cfg.OverflowSuppressTicks = 2
	cfg.MaxFramesPerCycle = 0
	cfg.ReceiveBufferSize = 256
	cfg.Channels = []ChannelConfig{
		{Name: "CH1", SendBuffer: 512, ControlBuffer: 512, MaxFrameLength: 200, Threshold: protocol.LogLevelVerbose, TraceStatus: true},
	}
	return cfg
}

type harness struct {
	e     *Engine
	lower *fakeLower
	sink  *fakeSink
	clock *fakeClock
	store *memStore
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	testlog.Start(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		lower: newFakeLower(),
		sink:  &fakeSink{},
		clock: &fakeClock{ticks: 1234, now: time.Unix(1_700_000_000, 500)},
		store: &memStore{},
	}
	all := append([]Option{
		WithLowerLayer(h.lower),
		WithErrorSink(h.sink),
		WithClock(h.clock),
		WithStore(h.store),
	}, opts...)
	e, err := New(cfg, all...)
	require.NoError(t, err)
	h.lower.e = e
	h.e = e
	return h
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	require.NoError(t, h.e.Init())
}

func (h *harness) register(t *testing.T, app, ctx protocol.ID) {
	t.Helper()
	require.NoError(t, h.e.RegisterContext(Registration{SessionID: testSession, AppID: app, ContextID: ctx}))
}

func logInfo(level protocol.LogLevel) FilterInfo {
	return FilterInfo{
		Level:     level,
		AppID:     testApp,
		ContextID: testCtx,
		SessionID: testSession,
		MSBFirst:  true,
	}
}

func controlRequest(t *testing.T, msb bool, session protocol.SessionID, app, ctx protocol.ID, svc uint32, body func(w *codec.Writer)) []byte {
	t.Helper()
	w := codec.NewWriter(nil, msb)
	w.PutU32(svc)
	if body != nil {
		body(w)
	}
	flags := frame.FlagUseExtendedHeader | frame.FlagWithSessionID
	if msb {
		flags |= frame.FlagMSBFirst
	}
	b, err := frame.Encode(frame.Frame{
		Header: frame.Header{Flags: flags, SessionID: session},
		Extended: frame.ExtendedHeader{
			Kind:      protocol.KindControl,
			TypeInfo:  protocol.ControlRequest,
			AppID:     app,
			ContextID: ctx,
		},
		Payload: w.Bytes(),
	})
	require.NoError(t, err)
	return b
}

// deliver feeds raw through the receive path in two chunks.
func (h *harness) deliver(t *testing.T, raw []byte) {
	t.Helper()
	require.True(t, h.e.FrameReceiveStart(len(raw)))
	half := len(raw) / 2
	require.Equal(t, RxMore, h.e.FrameReceiveChunk(raw[:half]))
	require.Equal(t, RxDone, h.e.FrameReceiveChunk(raw[half:]))
}

// roundTrip delivers one request, drives a cycle and returns the response
// seen on channel 0 together with its reader positioned after the status.
func (h *harness) roundTrip(t *testing.T, raw []byte) (frame.Frame, uint8, *codec.Reader) {
	t.Helper()
	h.lower.reset()
	h.deliver(t, raw)
	h.e.Drive()
	frames := h.lower.frames(t, 0)
	require.Len(t, frames, 1)
	resp := frames[0]
	rd := codec.NewReader(resp.Payload, resp.MSBFirst())
	rd.U32()
	status := rd.U8()
	require.NoError(t, rd.Err())
	return resp, status, rd
}
