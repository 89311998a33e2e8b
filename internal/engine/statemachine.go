package engine

// State is the transmission state of one channel.
type State uint8

const (
	StateUninit State = iota
	StateWaitForTxData
	StateSending
	numStates
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateWaitForTxData:
		return "wait_for_tx_data"
	case StateSending:
		return "sending"
	default:
		return "invalid"
	}
}

// Event drives the channel state machine.
type Event uint8

const (
	EventInit Event = iota
	EventBufferHasContent
	EventTransmitRejected
	EventSendingFinished
	EventStillSending
	EventTimeout
	EventDebugModeChanged
	numEvents
)

func (ev Event) String() string {
	switch ev {
	case EventInit:
		return "init"
	case EventBufferHasContent:
		return "buffer_has_content"
	case EventTransmitRejected:
		return "transmit_rejected"
	case EventSendingFinished:
		return "sending_finished"
	case EventStillSending:
		return "still_sending"
	case EventTimeout:
		return "timeout"
	case EventDebugModeChanged:
		return "debug_mode_changed"
	default:
		return "invalid"
	}
}

type action uint8

const (
	actNone action = iota
	actPickAndSend
	actClearAll
	actClearSendOnly
)

type transition struct {
	next State
	act  action
}

var transitions = [numStates][numEvents]transition{
	StateUninit: {
		EventInit:             {StateWaitForTxData, actNone},
		EventBufferHasContent: {StateUninit, actNone},
		EventTransmitRejected: {StateUninit, actNone},
		EventSendingFinished:  {StateUninit, actNone},
		EventStillSending:     {StateUninit, actNone},
		EventTimeout:          {StateUninit, actNone},
		EventDebugModeChanged: {StateUninit, actNone},
	},
	StateWaitForTxData: {
		EventInit:             {StateWaitForTxData, actNone},
		EventBufferHasContent: {StateSending, actPickAndSend},
		EventTransmitRejected: {StateWaitForTxData, actNone},
		EventSendingFinished:  {StateWaitForTxData, actNone},
		EventStillSending:     {StateWaitForTxData, actNone},
		EventTimeout:          {StateWaitForTxData, actClearAll},
		EventDebugModeChanged: {StateWaitForTxData, actClearSendOnly},
	},
	StateSending: {
		EventInit:             {StateSending, actNone},
		EventBufferHasContent: {StateSending, actPickAndSend},
		EventTransmitRejected: {StateWaitForTxData, actNone},
		EventSendingFinished:  {StateWaitForTxData, actNone},
		EventStillSending:     {StateSending, actNone},
		EventTimeout:          {StateWaitForTxData, actClearAll},
		EventDebugModeChanged: {StateSending, actClearSendOnly},
	},
}

// fire dispatches ev on c. The caller holds c.smMu. An action may produce a
// follow-up event, which is dispatched before fire returns.
func (e *Engine) fire(c *channel, ev Event) {
	for {
		t := transitions[c.state][ev]
		c.state = t.next
		next, again := e.run(c, t.act)
		if !again {
			return
		}
		ev = next
	}
}

func (e *Engine) run(c *channel, act action) (Event, bool) {
	switch act {
	case actPickAndSend:
		return e.pickAndSend(c)
	case actClearAll:
		e.txMu.Lock()
		c.clearAll()
		e.txMu.Unlock()
		c.inFlight = false
		c.timeout = 0
	case actClearSendOnly:
		e.txMu.Lock()
		c.clearSend()
		c.debugEvent = false
		e.txMu.Unlock()
	}
	return 0, false
}

// dispatch locks the channel's state machine and fires ev.
func (e *Engine) dispatch(c *channel, ev Event) {
	c.smMu.Lock()
	e.fire(c, ev)
	c.smMu.Unlock()
}
