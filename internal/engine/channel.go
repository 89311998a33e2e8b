package engine

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/registry"
	"github.com/danmuck/edgedlt/internal/ringbuf"
)

const maxChannels = registry.MaxChannels

// Latched transmit confirmation values.
const (
	confirmNone uint32 = iota
	confirmOK
	confirmRejected
)

// channel is one log channel. Buffer fields are guarded by Engine.txMu,
// state machine fields by smMu.
type channel struct {
	idx  int
	id   protocol.ID
	conf ChannelConfig

	threshold  protocol.LogLevel
	traceOn    bool
	debugMode  DebugMode
	debugEvent bool

	send    *ringbuf.Ring
	control *ringbuf.Ring
	counter uint8
	// gen changes whenever the buffers are cleared so an in-flight slice is
	// not consumed from a buffer that no longer holds it.
	gen uint64

	overflow      bool
	overflowCount uint32
	suppress      int
	quotaUsed     int
	scratch       []byte

	stats channelCounters

	smMu     sync.Mutex
	state    State
	timeout  int
	inFlight bool
	// syncRejected marks a cycle whose Transmit call was refused outright.
	syncRejected bool

	confirm atomic.Uint32
}

type channelCounters struct {
	framesWritten    uint64
	bytesTransmitted uint64
	overflows        uint64
	txRejected       uint64
	timeouts         uint64
}

func newChannel(idx int, conf ChannelConfig) *channel {
	c := &channel{
		idx:     idx,
		id:      protocol.MakeID(conf.Name),
		conf:    conf,
		send:    ringbuf.New(conf.SendBuffer),
		control: ringbuf.New(conf.ControlBuffer),
		scratch: make([]byte, 0, conf.MaxFrameLength),
	}
	c.resetMutable()
	return c
}

func (c *channel) resetMutable() {
	c.threshold = c.conf.Threshold
	c.traceOn = c.conf.TraceStatus
	c.debugMode = c.conf.DebugMode
	c.debugEvent = false
}

// released reports whether SendBuffer content may be transmitted under the
// current debug policy. Under DebugStore the event lasts until the stored
// frames have drained; under DebugSendOnOverflow it lasts until the mode
// changes.
func (c *channel) released() bool {
	return c.debugMode == DebugOff || c.debugEvent
}

func (c *channel) clearSend() {
	c.send.Clear()
	c.gen++
}

func (c *channel) clearAll() {
	c.send.Clear()
	c.control.Clear()
	c.gen++
}

// put writes one complete frame into the SendBuffer, stamping the channel's
// rolling counter. A collision starts overflow handling and discards the
// frame. Under DebugSendOnOverflow it also switches the channel to
// immediate sending.
func (c *channel) put(b []byte, suppressTicks int) bool {
	b[1] = c.counter
	if !c.send.Put(b) {
		c.noteOverflow(suppressTicks)
		if c.debugMode == DebugSendOnOverflow {
			c.debugEvent = true
		}
		return false
	}
	c.counter++
	c.stats.framesWritten++
	return true
}

// putControl queues a control frame. Control frames never trigger debug
// release.
func (c *channel) putControl(b []byte, suppressTicks int) bool {
	b[1] = c.counter
	if !c.control.Put(b) {
		c.noteOverflow(suppressTicks)
		return false
	}
	c.counter++
	return true
}

func (c *channel) noteOverflow(suppressTicks int) {
	if !c.overflow {
		c.suppress = suppressTicks
	}
	c.overflow = true
	c.overflowCount++
	c.stats.overflows++
}
