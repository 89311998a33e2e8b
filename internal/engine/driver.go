package engine

import (
	"github.com/danmuck/edgedlt/internal/ringbuf"
)

// Drive runs one scheduling cycle: overflow notifications, transmit
// confirmations, timeouts and polling for new content.
func (e *Engine) Drive() {
	if e.ready("Drive") != nil {
		return
	}
	if !e.online.Load() {
		return
	}
	opts := e.options()
	e.txMu.Lock()
	for _, c := range e.channels {
		e.tickOverflow(c, opts)
		c.quotaUsed = 0
	}
	e.txMu.Unlock()

	for _, c := range e.channels {
		e.driveChannel(c)
	}
}

func (e *Engine) driveChannel(c *channel) {
	c.smMu.Lock()
	defer c.smMu.Unlock()

	c.syncRejected = false
	switch c.confirm.Swap(confirmNone) {
	case confirmOK:
		c.inFlight = false
		c.timeout = 0
		if e.hasContent(c) {
			e.fire(c, EventBufferHasContent)
		} else {
			e.fire(c, EventSendingFinished)
		}
	case confirmRejected:
		c.inFlight = false
		e.txMu.Lock()
		c.stats.txRejected++
		e.txMu.Unlock()
		if e.expire(c) {
			return
		}
		e.fire(c, EventTransmitRejected)
	default:
		if c.state != StateSending && !e.hasContent(c) {
			break
		}
		if e.expire(c) {
			return
		}
		if c.state == StateSending && !c.inFlight && e.hasContent(c) {
			e.fire(c, EventBufferHasContent)
		} else {
			e.fire(c, EventStillSending)
		}
	}

	// A synchronous rejection already used this cycle's attempt.
	if c.state == StateWaitForTxData && !c.syncRejected && e.hasContent(c) {
		e.fire(c, EventBufferHasContent)
	}
}

// expire advances the timeout counter and fires Timeout once it passes the
// configured bound.
func (e *Engine) expire(c *channel) bool {
	c.timeout++
	if e.cfg.TimeoutTicks == 0 || c.timeout <= e.cfg.TimeoutTicks {
		return false
	}
	e.txMu.Lock()
	c.stats.timeouts++
	e.txMu.Unlock()
	e.log.Warn().
		Str("channel", c.conf.Name).
		Int("ticks", c.timeout).
		Str("state", c.state.String()).
		Msg("transmission timeout, clearing buffers")
	e.fire(c, EventTimeout)
	return true
}

// hasContent reports whether the channel has something it may transmit now.
func (e *Engine) hasContent(c *channel) bool {
	e.txMu.Lock()
	pending := !c.control.IsEmpty() || (!c.send.IsEmpty() && c.released())
	e.txMu.Unlock()
	if pending {
		return true
	}
	return e.requestPending()
}

// pickAndSend answers a pending request, then hands the next transmittable
// slice of the ControlSendBuffer, else the SendBuffer, to the lower layer.
func (e *Engine) pickAndSend(c *channel) (Event, bool) {
	e.serveRequest()
	capacity := e.lower.Capacity(c.idx)

	e.txMu.Lock()
	ring, isControl := c.control, true
	if ring.IsEmpty() {
		ring, isControl = c.send, false
		if !c.released() || ring.IsEmpty() {
			e.txMu.Unlock()
			return EventSendingFinished, true
		}
	}
	lim := ringbuf.Limits{Capacity: capacity, MaxFrames: e.cfg.MaxFramesPerCycle}
	if e.cfg.BytesPerCycle > 0 {
		lim.Quota = e.cfg.BytesPerCycle - c.quotaUsed
		if lim.Quota <= 0 {
			e.txMu.Unlock()
			return 0, false
		}
		// A frame larger than the whole quota goes out alone at the start
		// of a cycle.
		if c.quotaUsed == 0 {
			if next, ok := ring.NextFrameLength(); ok && next > lim.Quota {
				lim.Quota = next
			}
		}
	}
	n, _ := ring.TransmittableLength(lim)
	if n == 0 {
		e.txMu.Unlock()
		return 0, false
	}
	data := ring.Peek(c.scratch[:0], n)
	c.scratch = data[:0]
	gen := c.gen
	e.txMu.Unlock()

	if e.lower.Transmit(c.idx, data) != TxAccepted {
		e.txMu.Lock()
		c.stats.txRejected++
		e.txMu.Unlock()
		c.syncRejected = true
		return EventTransmitRejected, true
	}

	e.txMu.Lock()
	if c.gen == gen {
		ring.Advance(n)
	}
	c.quotaUsed += n
	c.stats.bytesTransmitted += uint64(n)
	if !isControl && c.debugMode == DebugStore && c.debugEvent && c.send.IsEmpty() {
		c.debugEvent = false
	}
	e.txMu.Unlock()
	c.inFlight = true
	return 0, false
}

// tickOverflow counts down the suppression timer and queues the overflow
// notification once it expires. The caller holds txMu.
func (e *Engine) tickOverflow(c *channel, opts headerOptions) {
	if !c.overflow {
		return
	}
	if c.suppress > 0 {
		c.suppress--
		return
	}
	b, err := e.overflowNotification(opts, c.overflowCount)
	if err != nil || len(b) > c.conf.MaxFrameLength {
		c.overflow = false
		return
	}
	b[1] = c.counter
	if c.control.Put(b) {
		c.counter++
		c.overflow = false
		e.log.Info().
			Str("channel", c.conf.Name).
			Uint32("overflows", c.overflowCount).
			Msg("buffer overflow notification queued")
	}
}

// TxConfirmation latches the lower layer's transmit result for the next
// Drive cycle. A rejection is never overwritten by a later success.
func (e *Engine) TxConfirmation(ch int, ok bool) {
	const api = "TxConfirmation"
	if e.ready(api) != nil {
		return
	}
	c, err := e.channelAt(api, ch)
	if err != nil {
		return
	}
	if ok {
		c.confirm.CompareAndSwap(confirmNone, confirmOK)
		return
	}
	c.confirm.Store(confirmRejected)
}
