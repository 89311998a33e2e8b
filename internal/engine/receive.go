package engine

import (
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

// FrameReceiveStart asks for buffer space for one inbound frame of n bytes.
// Only one request is held at a time; the next is refused until the pending
// one has been answered.
func (e *Engine) FrameReceiveStart(n int) bool {
	if e.ready("FrameReceiveStart") != nil || !e.online.Load() {
		return false
	}
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	if e.rxExpected > 0 || e.rxComplete || !e.rx.IsEmpty() {
		return false
	}
	if n < frame.StandardHeaderLen || n > e.rx.Free() {
		return false
	}
	e.rxExpected = n
	return true
}

// FrameReceiveChunk appends bytes of the frame announced by
// FrameReceiveStart. A chunk overrunning the announced length drops the
// whole request.
func (e *Engine) FrameReceiveChunk(b []byte) RxResult {
	if e.ready("FrameReceiveChunk") != nil {
		return RxDone
	}
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	if e.rxExpected == 0 {
		return RxDone
	}
	if len(b) > e.rxExpected || !e.rx.Put(b) {
		e.log.Debug().Int("chunk", len(b)).Int("expected", e.rxExpected).Msg("dropping oversized request")
		e.rx.Clear()
		e.rxExpected = 0
		return RxDone
	}
	e.rxExpected -= len(b)
	if e.rxExpected > 0 {
		return RxMore
	}
	e.rxComplete = true
	return RxDone
}

func (e *Engine) requestPending() bool {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	return e.rxComplete
}

// serveRequest takes the completed inbound request, if any, and queues its
// response on every channel.
func (e *Engine) serveRequest() {
	e.rxMu.Lock()
	if !e.rxComplete {
		e.rxMu.Unlock()
		return
	}
	raw := e.rx.Take(nil, e.rx.Len())
	e.rx.Clear()
	e.rxComplete = false
	e.rxMu.Unlock()

	e.handleRequest(raw)
}

func (e *Engine) clearReceive() {
	e.rxMu.Lock()
	e.rx.Clear()
	e.rxExpected = 0
	e.rxComplete = false
	e.rxMu.Unlock()
}
