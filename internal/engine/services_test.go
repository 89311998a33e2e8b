package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/codec"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

var ctx2 = protocol.MakeID("CTX2")

func noBody(*codec.Writer) {}

func TestResponseMirrorsRequestHeader(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)

	req := controlRequest(t, false, testSession, protocol.ID{}, protocol.ID{}, protocol.ServiceGetDefaultLogLevel, nil)
	resp, status, rd := h.roundTrip(t, req)

	assert.Equal(t, frame.FlagUseExtendedHeader|frame.FlagWithSessionID, resp.Header.Flags)
	assert.Equal(t, testSession, resp.Header.SessionID)
	assert.Equal(t, protocol.KindControl, resp.Extended.Kind)
	assert.Equal(t, protocol.ControlResponse, resp.Extended.TypeInfo)
	assert.Equal(t, protocol.MakeID("DA1"), resp.Extended.AppID)
	assert.Equal(t, protocol.MakeID("DC1"), resp.Extended.ContextID)
	assert.Equal(t, []byte{0x04, 0, 0, 0}, resp.Payload[:4], "little-endian service id")
	assert.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, int8(protocol.LogLevelInfo), rd.I8())
	assert.Equal(t, uint64(1), h.e.Stats().ControlRequests)
}

func TestUnknownServicesAreNotSupported(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)

	for _, svc := range []uint32{0x07, 0x16, 0x25, 0xFFE} {
		resp, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, svc, nil))
		assert.Equal(t, protocol.StatusNotSupported, status, "service %#x", svc)
		assert.Len(t, resp.Payload, 5)
	}
}

func TestTruncatedRequestIsError(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)

	req := controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSetLogLevel, func(w *codec.Writer) {
		w.PutID(testApp)
	})
	_, status, _ := h.roundTrip(t, req)
	assert.Equal(t, protocol.StatusError, status)
}

func setLogLevelRequest(t *testing.T, app, ctx protocol.ID, level int8) []byte {
	return controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSetLogLevel, func(w *codec.Writer) {
		w.PutID(app)
		w.PutID(ctx)
		w.PutI8(level)
		w.PutID(comInterface)
	})
}

func getLogInfoRequest(t *testing.T, option uint8, app, ctx protocol.ID) []byte {
	return controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetLogInfo, func(w *codec.Writer) {
		w.PutU8(option)
		w.PutID(app)
		w.PutID(ctx)
		w.PutID(comInterface)
	})
}

func TestSetLogLevelThenGetLogInfo(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.register(t, testApp, ctx2)

	_, status, _ := h.roundTrip(t, setLogLevelRequest(t, testApp, testCtx, 3))
	require.Equal(t, protocol.StatusOK, status)

	_, status, rd := h.roundTrip(t, getLogInfoRequest(t, 6, testApp, protocol.ID{}))
	require.Equal(t, uint8(6), status)
	assert.Equal(t, uint16(1), rd.U16())
	assert.Equal(t, testApp, rd.ID())
	assert.Equal(t, uint16(2), rd.U16())
	assert.Equal(t, testCtx, rd.ID())
	assert.Equal(t, int8(3), rd.I8())
	assert.Equal(t, int8(0), rd.I8())
	assert.Equal(t, ctx2, rd.ID())
	assert.Equal(t, int8(protocol.LogLevelInfo), rd.I8())
	assert.Equal(t, int8(0), rd.I8())
	assert.Equal(t, comInterface, rd.ID())
	assert.Empty(t, rd.Remaining())

	_, status, _ = h.roundTrip(t, setLogLevelRequest(t, testApp, testCtx, -1))
	require.Equal(t, protocol.StatusOK, status)
	_, status, _ = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSetDefaultLogLevel, func(w *codec.Writer) {
		w.PutI8(int8(protocol.LogLevelDebug))
	}))
	require.Equal(t, protocol.StatusOK, status)

	_, status, rd = h.roundTrip(t, getLogInfoRequest(t, 3, testApp, testCtx))
	require.Equal(t, uint8(3), status)
	rd.U16()
	rd.ID()
	rd.U16()
	rd.ID()
	assert.Equal(t, int8(protocol.LogLevelDebug), rd.I8(), "default sentinel follows the new default")
	assert.Equal(t, comInterface, rd.ID())

	_, status, rd = h.roundTrip(t, getLogInfoRequest(t, 7, testApp, testCtx))
	require.Equal(t, uint8(7), status)
	assert.Len(t, rd.Remaining(), 2+4+2+4+1+1+2+2+4)

	_, status, _ = h.roundTrip(t, getLogInfoRequest(t, 6, protocol.MakeID("NONE"), protocol.ID{}))
	assert.Equal(t, protocol.LogInfoNoMatchingContext, status)
	_, status, _ = h.roundTrip(t, getLogInfoRequest(t, 5, testApp, testCtx))
	assert.Equal(t, protocol.StatusError, status)

	apps, err := h.e.GetLogInfo(testApp, testCtx)
	require.NoError(t, err)
	assert.Equal(t, protocol.LogLevelDebug, apps[0].Contexts[0].LogLevel)
}

func TestGetLogInfoReportsOverflow(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Channels[0].MaxFrameLength = 60 })
	h.init(t)
	for _, name := range []string{"C1", "C2", "C3", "C4"} {
		h.register(t, testApp, protocol.MakeID(name))
	}

	resp, status, _ := h.roundTrip(t, getLogInfoRequest(t, 6, protocol.ID{}, protocol.ID{}))
	assert.Equal(t, protocol.LogInfoOverflow, status)
	assert.Len(t, resp.Payload, 5)
}

func TestFlagServices(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)

	set := func(svc uint32, v uint8) uint8 {
		_, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, svc, func(w *codec.Writer) {
			w.PutU8(v)
		}))
		return status
	}
	get := func(svc uint32) uint8 {
		_, status, rd := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, svc, nil))
		require.Equal(t, protocol.StatusOK, status)
		return rd.U8()
	}

	assert.Equal(t, uint8(1), get(protocol.ServiceGetVerboseModeStatus))
	assert.Equal(t, protocol.StatusOK, set(protocol.ServiceSetVerboseMode, 0))
	assert.Equal(t, uint8(0), get(protocol.ServiceGetVerboseModeStatus))
	assert.Equal(t, protocol.StatusError, set(protocol.ServiceSetMessageFiltering, 2))
	assert.Equal(t, uint8(1), get(protocol.ServiceGetMessageFilteringStatus))

	assert.Equal(t, protocol.StatusOK, set(protocol.ServiceUseTimestamp, 0))
	assert.Equal(t, uint8(0), get(protocol.ServiceGetUseTimestamp))
	on, err := h.e.Flag(FlagTimestamp)
	require.NoError(t, err)
	assert.False(t, on)

	h.lower.reset()
	_, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	h.e.Drive()
	frames := h.lower.frames(t, 0)
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Header.Has(frame.FlagWithTimestamp))
}

func TestGetLocalTimeForcesTimestamp(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	resp, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetLocalTime, nil))
	assert.Equal(t, protocol.StatusOK, status)
	assert.True(t, resp.Header.Has(frame.FlagWithTimestamp))
	assert.Equal(t, uint32(1234), resp.Header.Timestamp)
}

func TestChannelServices(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Channels = append(cfg.Channels, ChannelConfig{
			Name: "CH2", SendBuffer: 512, ControlBuffer: 512, MaxFrameLength: 200, Threshold: protocol.LogLevelInfo,
		})
	})
	h.init(t)
	h.register(t, testApp, testCtx)

	_, status, rd := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetLogChannelNames, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, uint8(2), rd.U8())
	assert.Equal(t, protocol.MakeID("CH1"), rd.ID())
	assert.Equal(t, protocol.MakeID("CH2"), rd.ID())
	assert.Equal(t, 1, h.lower.transmits(1), "responses go to every channel")

	_, status, _ = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSetLogChannelThreshold, func(w *codec.Writer) {
		w.PutID(protocol.MakeID("CH2"))
		w.PutI8(int8(protocol.LogLevelError))
		w.PutU8(1)
	}))
	require.Equal(t, protocol.StatusOK, status)
	_, status, rd = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetLogChannelThreshold, func(w *codec.Writer) {
		w.PutID(protocol.MakeID("CH2"))
	}))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, int8(protocol.LogLevelError), rd.I8())
	assert.Equal(t, uint8(1), rd.U8())

	_, status, _ = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetLogChannelThreshold, func(w *codec.Writer) {
		w.PutID(protocol.MakeID("XX"))
	}))
	assert.Equal(t, protocol.StatusError, status)

	assign := func(add uint8) uint8 {
		_, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSetLogChannelAssignment, func(w *codec.Writer) {
			w.PutID(testApp)
			w.PutID(testCtx)
			w.PutID(protocol.MakeID("CH2"))
			w.PutU8(add)
		}))
		return status
	}
	require.Equal(t, protocol.StatusOK, assign(1))
	require.Equal(t, protocol.StatusOK, assign(1))
	apps, err := h.e.GetLogInfo(testApp, testCtx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b11), apps[0].Contexts[0].Channels)
	require.Equal(t, protocol.StatusOK, assign(0))
	apps, _ = h.e.GetLogInfo(testApp, testCtx)
	assert.Equal(t, uint32(0b01), apps[0].Contexts[0].Channels)
}

func TestInformationalServices(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	require.NoError(t, h.e.SetTraceStatus(testApp, testCtx, protocol.TraceStatusOn))

	_, status, rd := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetSoftwareVersion, nil))
	require.Equal(t, protocol.StatusOK, status)
	n := rd.U32()
	assert.Equal(t, "edgedlt 0.1.0", string(rd.Bytes(int(n))))

	_, status, rd = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetTraceStatus, func(w *codec.Writer) {
		w.PutID(testApp)
		w.PutID(testCtx)
	}))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, uint8(1), rd.U8())

	_, status, rd = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetDefaultTraceStatus, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, uint8(0), rd.U8())

	_, status, rd = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceMessageBufferOverflow, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, uint8(0), rd.U8())
	assert.Equal(t, uint32(0), rd.U32())

	_, status, rd = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceSyncTimeStamp, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.Equal(t, uint32(500), rd.U32())
	assert.Equal(t, uint32(1_700_000_000), rd.U32())
	assert.Equal(t, uint16(0), rd.U16())
}

func TestInjectionForwardsToOwner(t *testing.T) {
	var gotSvc uint32
	var gotData []byte
	h := newHarness(t, nil, WithSession(testSession, Capabilities{
		Inject: func(svc uint32, data []byte) uint8 {
			gotSvc = svc
			gotData = append([]byte(nil), data...)
			return 0x42
		},
	}))
	h.init(t)
	h.register(t, testApp, testCtx)
	require.NoError(t, h.e.RegisterContext(Registration{SessionID: 6, AppID: testApp, ContextID: ctx2}))

	body := func(w *codec.Writer) {
		w.PutU32(3)
		w.PutBytes([]byte("abc"))
	}
	_, status, _ := h.roundTrip(t, controlRequest(t, false, testSession, testApp, testCtx, 0x1001, body))
	assert.Equal(t, uint8(0x42), status)
	assert.Equal(t, uint32(0x1001), gotSvc)
	assert.Equal(t, []byte("abc"), gotData)

	_, status, _ = h.roundTrip(t, controlRequest(t, false, testSession+1, testApp, testCtx, 0x1001, body))
	assert.Equal(t, protocol.StatusError, status, "session mismatch")
	_, status, _ = h.roundTrip(t, controlRequest(t, false, testSession, protocol.MakeID("NONE"), testCtx, 0x1001, body))
	assert.Equal(t, protocol.StatusError, status, "unregistered context")
	_, status, _ = h.roundTrip(t, controlRequest(t, false, 6, testApp, ctx2, 0x1001, body))
	assert.Equal(t, protocol.StatusNotSupported, status, "no injection capability")
	_, status, _ = h.roundTrip(t, controlRequest(t, false, testSession, testApp, testCtx, 0x1001, noBody))
	assert.Equal(t, protocol.StatusError, status, "missing data length")
}

func TestReceiveHoldsOneRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)

	assert.False(t, h.e.FrameReceiveStart(2), "shorter than a standard header")
	assert.False(t, h.e.FrameReceiveStart(1000), "larger than the receive buffer")

	req := controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceGetDefaultLogLevel, nil)
	h.deliver(t, req)
	assert.False(t, h.e.FrameReceiveStart(len(req)), "previous request not served yet")

	h.e.Drive()
	assert.True(t, h.e.FrameReceiveStart(len(req)))
	assert.Equal(t, RxDone, h.e.FrameReceiveChunk(append(req, 0)), "overrun drops the request")
	assert.True(t, h.e.FrameReceiveStart(len(req)))
}

func TestNonControlFramesAreDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)

	raw, err := frame.Encode(frame.Frame{
		Header:   frame.Header{Flags: frame.FlagUseExtendedHeader},
		Extended: frame.ExtendedHeader{Kind: protocol.KindLog, TypeInfo: 4, AppID: testApp, ContextID: testCtx},
		Payload:  []byte{1, 2, 3, 4},
	})
	require.NoError(t, err)
	h.deliver(t, raw)
	h.e.Drive()

	assert.Equal(t, 0, h.lower.transmits(0))
	assert.Equal(t, uint64(0), h.e.Stats().ControlRequests)
}

func TestStoreAndResetServices(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)

	_, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceStoreConfiguration, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.NotNil(t, h.store.data)

	require.NoError(t, h.e.SetLogLevel(testApp, testCtx, protocol.LogLevelFatal))
	_, status, _ = h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceResetToFactoryDefault, nil))
	require.Equal(t, protocol.StatusOK, status)
	assert.Nil(t, h.store.data)
	assert.Equal(t, 1, h.store.invalidated)

	apps, err := h.e.GetLogInfo(testApp, testCtx)
	require.NoError(t, err)
	assert.Equal(t, protocol.LogLevelInfo, apps[0].Contexts[0].LogLevel)
}

func TestStoreWithoutStoreIsNotSupported(t *testing.T) {
	h := newHarness(t, nil, WithStore(nil))
	h.init(t)
	_, status, _ := h.roundTrip(t, controlRequest(t, true, 0, protocol.ID{}, protocol.ID{}, protocol.ServiceStoreConfiguration, nil))
	assert.Equal(t, protocol.StatusNotSupported, status)
}
