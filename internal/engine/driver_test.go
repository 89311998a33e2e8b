package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

func TestTransitionTableMatchesProtocol(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		to   State
		act  action
	}{
		{StateUninit, EventInit, StateWaitForTxData, actNone},
		{StateUninit, EventBufferHasContent, StateUninit, actNone},
		{StateWaitForTxData, EventBufferHasContent, StateSending, actPickAndSend},
		{StateWaitForTxData, EventTimeout, StateWaitForTxData, actClearAll},
		{StateWaitForTxData, EventDebugModeChanged, StateWaitForTxData, actClearSendOnly},
		{StateSending, EventBufferHasContent, StateSending, actPickAndSend},
		{StateSending, EventTransmitRejected, StateWaitForTxData, actNone},
		{StateSending, EventSendingFinished, StateWaitForTxData, actNone},
		{StateSending, EventStillSending, StateSending, actNone},
		{StateSending, EventTimeout, StateWaitForTxData, actClearAll},
		{StateSending, EventDebugModeChanged, StateSending, actClearSendOnly},
	}
	for _, tc := range cases {
		got := transitions[tc.from][tc.ev]
		assert.Equal(t, transition{tc.to, tc.act}, got, "%s on %s", tc.from, tc.ev)
	}
}

func TestBufferHasContentPicksAndSendsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)

	c := h.e.channels[0]
	require.Equal(t, StateWaitForTxData, c.state)
	h.e.dispatch(c, EventBufferHasContent)

	assert.Equal(t, StateSending, c.state)
	assert.Equal(t, 1, h.lower.transmits(0))
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)
}

func TestConfirmedTransmissionsDrainInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	for i := 0; i < 3; i++ {
		_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{byte(i)})
		require.NoError(t, err)
	}
	// one 27 byte frame per transmission
	h.lower.capacity = 27

	for i := 0; i < 4; i++ {
		h.e.Drive()
	}
	assert.Equal(t, 3, h.lower.transmits(0))
	frames := h.lower.frames(t, 0)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, []byte{byte(i)}, f.Payload)
	}
	assert.Equal(t, StateWaitForTxData, h.e.channels[0].state)
}

func TestTimeoutClearsBothBuffers(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.lower.autoConfirm = false

	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte("first"))
	require.NoError(t, err)
	h.e.Drive()
	c := h.e.channels[0]
	require.Equal(t, StateSending, c.state)

	_, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte("second"))
	require.NoError(t, err)
	h.e.broadcastControl(frame.Header{}, protocol.ServiceGetLocalTime, []byte{0, 0, 0, 0x0C, 0})
	require.Positive(t, h.e.Stats().Channels[0].ControlBuffered)

	h.e.Drive()
	h.e.Drive()
	require.Equal(t, StateSending, c.state, "still waiting for confirmation")
	h.e.Drive()

	assert.Equal(t, StateWaitForTxData, c.state)
	st := h.e.Stats().Channels[0]
	assert.Equal(t, 0, st.SendBuffered)
	assert.Equal(t, 0, st.ControlBuffered)
	assert.Equal(t, uint64(1), st.Timeouts)
	assert.Equal(t, 1, h.lower.transmits(0))
}

func TestBusyLowerLayerRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.lower.busy = true

	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	h.e.Drive()

	c := h.e.channels[0]
	assert.Equal(t, StateWaitForTxData, c.state)
	st := h.e.Stats().Channels[0]
	assert.Equal(t, uint64(1), st.TxRejected)
	assert.Positive(t, st.SendBuffered, "rejected data stays buffered")

	h.lower.busy = false
	h.e.Drive()
	assert.Equal(t, 1, h.lower.transmits(0))
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)
}

func TestNegativeConfirmationFiresTransmitRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.lower.autoConfirm = false

	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	h.e.Drive()
	c := h.e.channels[0]
	require.Equal(t, StateSending, c.state)

	h.e.TxConfirmation(0, false)
	h.e.TxConfirmation(0, true)
	h.e.Drive()

	assert.Equal(t, StateWaitForTxData, c.state)
	assert.Equal(t, uint64(1), h.e.Stats().Channels[0].TxRejected)
}

func TestBytesPerCycleQuota(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.BytesPerCycle = 60 })
	h.init(t)
	h.register(t, testApp, testCtx)
	for i := 0; i < 5; i++ {
		_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{byte(i)})
		require.NoError(t, err)
	}

	h.e.Drive()
	assert.Len(t, h.lower.frames(t, 0), 2, "two 27 byte frames fit 60 bytes")
	h.e.Drive()
	assert.Len(t, h.lower.frames(t, 0), 4)
	h.e.Drive()
	assert.Len(t, h.lower.frames(t, 0), 5)
}

func TestFrameLargerThanQuotaGoesOutAlone(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.BytesPerCycle = 30
		cfg.TimeoutTicks = 0
	})
	h.init(t)
	h.register(t, testApp, testCtx)
	for i := 0; i < 2; i++ {
		_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), make([]byte, 40))
		require.NoError(t, err)
	}

	h.e.Drive()
	assert.Equal(t, 1, h.lower.transmits(0), "66 byte frame exceeds the 30 byte quota")
	h.e.Drive()
	assert.Equal(t, 2, h.lower.transmits(0))
	h.e.Drive()
	assert.Equal(t, StateWaitForTxData, h.e.channels[0].state)
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)
}

func TestBusyLowerLayerRetriedOncePerCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	h.e.Drive()
	require.Equal(t, 1, h.lower.transmits(0))

	_, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{2})
	require.NoError(t, err)
	h.lower.busy = true
	h.e.Drive()
	assert.Equal(t, uint64(1), h.e.Stats().Channels[0].TxRejected)
	assert.Equal(t, StateWaitForTxData, h.e.channels[0].state)

	h.lower.busy = false
	h.e.Drive()
	assert.Equal(t, 2, h.lower.transmits(0))
}

func TestDebugStoreHoldsUntilEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	require.NoError(t, h.e.SetDebugMode("CH1", DebugStore))

	out, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, out)
	h.e.Drive()
	h.e.Drive()
	assert.Equal(t, 0, h.lower.transmits(0), "stored, not sent")
	assert.Equal(t, uint64(0), h.e.Stats().Channels[0].Timeouts)

	require.NoError(t, h.e.TriggerDebugEvent("CH1"))
	out, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDebugRejected, out, "release in progress")

	h.e.Drive()
	frames := h.lower.frames(t, 0)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1}, frames[0].Payload)

	out, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{3})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out, "stores again after the release drained")
}

func TestDebugModeChangeClearsSendBuffer(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.lower.busy = true
	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)

	require.NoError(t, h.e.SetDebugMode("CH1", DebugSendOnOverflow))
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)
	assert.Equal(t, DebugSendOnOverflow, h.e.Stats().Channels[0].DebugMode)
}

func TestSendOnOverflowReleasesStoredFrames(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Channels[0].SendBuffer = 100
		cfg.Channels[0].MaxFrameLength = 60
		cfg.Channels[0].DebugMode = DebugSendOnOverflow
	})
	h.init(t)
	h.register(t, testApp, testCtx)

	payload := make([]byte, 14)
	for i := 0; i < 2; i++ {
		_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), payload)
		require.NoError(t, err)
	}
	h.e.Drive()
	require.Equal(t, 0, h.lower.transmits(0))

	out, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBufferFull, out)
	h.e.Drive()
	assert.Len(t, logFrames(h.lower.frames(t, 0)), 2)

	// The channel now sends immediately until the mode changes.
	out, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{0xEE})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)
	h.e.Drive()
	logs := logFrames(h.lower.frames(t, 0))
	require.Len(t, logs, 3)
	assert.Equal(t, []byte{0xEE}, logs[2].Payload)
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)

	require.NoError(t, h.e.SetDebugMode("CH1", DebugSendOnOverflow))
	_, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), payload)
	require.NoError(t, err)
	h.e.Drive()
	assert.Len(t, logFrames(h.lower.frames(t, 0)), 3, "stores again after a mode change")
}

func logFrames(frames []frame.Frame) []frame.Frame {
	var out []frame.Frame
	for _, f := range frames {
		if f.Extended.Kind == protocol.KindLog {
			out = append(out, f)
		}
	}
	return out
}

func TestOfflineDropsAndClears(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.register(t, testApp, testCtx)
	h.lower.busy = true
	_, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)

	require.NoError(t, h.e.SetState(ModeOffline))
	assert.Equal(t, ModeOffline, h.e.GetState())
	assert.Equal(t, 0, h.e.Stats().Channels[0].SendBuffered)

	out, err := h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, out)
	assert.False(t, h.e.FrameReceiveStart(32))

	require.NoError(t, h.e.SetState(ModeOnline))
	out, err = h.e.SendLogMessage(logInfo(protocol.LogLevelInfo), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)
}

func TestInitMemoryReturnsToUninit(t *testing.T) {
	h := newHarness(t, nil)
	h.init(t)
	h.e.InitMemory()

	assert.ErrorIs(t, h.e.RegisterContext(Registration{SessionID: testSession, AppID: testApp, ContextID: testCtx}), ErrUninit)
	h.e.Drive()
	require.Len(t, h.sink.all(), 2)

	h.init(t)
	h.register(t, testApp, testCtx)
}
