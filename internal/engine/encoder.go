package engine

import (
	"sync"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

// FilterInfo describes one log or trace request.
type FilterInfo struct {
	// SessionID is the session claimed by a self-identifying producer. Zero
	// skips the session cross-check and stamps the registered session.
	SessionID protocol.SessionID
	Kind      protocol.MessageKind
	// Level is the severity of a log message.
	Level protocol.LogLevel
	// TraceType is the MTIN of a trace message.
	TraceType uint8
	AppID     protocol.ID
	ContextID protocol.ID
	ArgCount  uint8
	Verbose   bool
	MSBFirst  bool
	// Timestamp overrides the clock when non-zero.
	Timestamp uint32
}

// Outcome is the caller-visible result of a send. Higher values take
// precedence when channels disagree.
type Outcome uint8

const (
	OutcomeOffline Outcome = iota
	OutcomeFiltered
	OutcomeThresholdRejected
	OutcomeDebugRejected
	OutcomeTooLarge
	OutcomeBufferFull
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOffline:
		return "offline"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeThresholdRejected:
		return "threshold_rejected"
	case OutcomeDebugRejected:
		return "debug_rejected"
	case OutcomeTooLarge:
		return "too_large"
	case OutcomeBufferFull:
		return "buffer_full"
	case OutcomeAccepted:
		return "accepted"
	default:
		return "invalid"
	}
}

// headerOptions are the runtime-switchable header and filtering flags.
type headerOptions struct {
	useEcuID          bool
	useSessionID      bool
	useTimestamp      bool
	useExtendedHeader bool
	verbose           bool
	filtering         bool
}

func optionsFromConfig(cfg Config) headerOptions {
	return headerOptions{
		useEcuID:          cfg.UseEcuID,
		useSessionID:      cfg.UseSessionID,
		useTimestamp:      cfg.UseTimestamp,
		useExtendedHeader: cfg.UseExtendedHeader,
		verbose:           cfg.VerboseMode,
		filtering:         cfg.MessageFiltering,
	}
}

func (o headerOptions) flags() uint8 {
	var f uint8
	if o.useExtendedHeader {
		f |= frame.FlagUseExtendedHeader
	}
	if o.useEcuID {
		f |= frame.FlagWithEcuID
	}
	if o.useSessionID {
		f |= frame.FlagWithSessionID
	}
	if o.useTimestamp {
		f |= frame.FlagWithTimestamp
	}
	return f
}

var encodePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

// SendLogMessage encodes a log message and offers it to every channel the
// context is assigned to. Filtering and buffer exhaustion are reported
// through the Outcome with a nil error.
func (e *Engine) SendLogMessage(info FilterInfo, payload []byte) (Outcome, error) {
	const api = "SendLogMessage"
	if err := e.ready(api); err != nil {
		return OutcomeFiltered, err
	}
	if info.Level < protocol.LogLevelFatal || info.Level > protocol.LogLevelVerbose {
		return OutcomeFiltered, e.contract(api, CodeInvalidArgument, ErrInvalidArgument)
	}
	if info.AppID.IsWildcard() || info.ContextID.IsWildcard() {
		return OutcomeFiltered, e.contract(api, CodeInvalidArgument, ErrInvalidArgument)
	}
	info.Kind = protocol.KindLog
	return e.send(info, payload)
}

// SendTraceMessage is SendLogMessage for application and network traces.
// Traces are gated by trace status instead of log level.
func (e *Engine) SendTraceMessage(info FilterInfo, payload []byte) (Outcome, error) {
	const api = "SendTraceMessage"
	if err := e.ready(api); err != nil {
		return OutcomeFiltered, err
	}
	if info.Kind != protocol.KindAppTrace && info.Kind != protocol.KindNwTrace {
		return OutcomeFiltered, e.contract(api, CodeInvalidArgument, ErrInvalidArgument)
	}
	if info.AppID.IsWildcard() || info.ContextID.IsWildcard() {
		return OutcomeFiltered, e.contract(api, CodeInvalidArgument, ErrInvalidArgument)
	}
	return e.send(info, payload)
}

func (e *Engine) send(info FilterInfo, payload []byte) (Outcome, error) {
	if !e.online.Load() {
		return OutcomeOffline, nil
	}
	res, err := e.lookupProducer(info)
	if err != nil {
		return OutcomeFiltered, err
	}
	if info.SessionID == 0 {
		info.SessionID = res.SessionID
	}

	opts := e.options()
	if info.Kind == protocol.KindLog {
		if opts.filtering && info.Level > res.Level {
			e.filtered.Add(1)
			return OutcomeFiltered, nil
		}
	} else if !res.Trace {
		e.filtered.Add(1)
		return OutcomeFiltered, nil
	}

	bufp := encodePool.Get().(*[]byte)
	b, err := e.buildFrame((*bufp)[:0], opts, info, payload)
	defer func() {
		*bufp = b[:0]
		encodePool.Put(bufp)
	}()
	if err != nil {
		return OutcomeTooLarge, nil
	}

	outcome := OutcomeFiltered
	e.txMu.Lock()
	for _, c := range e.channels {
		if res.OnChannel(c.idx) {
			outcome = max(outcome, e.offer(c, info, b))
		}
	}
	e.txMu.Unlock()
	if outcome == OutcomeFiltered || outcome == OutcomeThresholdRejected {
		e.filtered.Add(1)
	}
	return outcome, nil
}

// offer applies the channel's own policy and buffers the frame. The caller
// holds txMu.
func (e *Engine) offer(c *channel, info FilterInfo, b []byte) Outcome {
	if c.debugMode == DebugStore && c.debugEvent {
		return OutcomeDebugRejected
	}
	if info.Kind == protocol.KindLog {
		if info.Level > c.threshold {
			return OutcomeThresholdRejected
		}
	} else if !c.traceOn {
		return OutcomeThresholdRejected
	}
	if len(b) > c.conf.MaxFrameLength {
		return OutcomeTooLarge
	}
	if !c.put(b, e.cfg.OverflowSuppressTicks) {
		e.log.Debug().Str("channel", c.conf.Name).Msg("send buffer overflow")
		return OutcomeBufferFull
	}
	return OutcomeAccepted
}

func (e *Engine) buildFrame(dst []byte, opts headerOptions, info FilterInfo, payload []byte) ([]byte, error) {
	flags := opts.flags()
	// Verbose payloads are only interpretable with the extended header.
	if info.Verbose {
		flags |= frame.FlagUseExtendedHeader
	}
	if info.MSBFirst {
		flags |= frame.FlagMSBFirst
	}
	ts := info.Timestamp
	if ts == 0 {
		ts = e.clock.Ticks()
	}
	typeInfo := info.TraceType
	if info.Kind == protocol.KindLog {
		typeInfo = uint8(info.Level)
	}
	return frame.Append(dst, frame.Frame{
		Header: frame.Header{
			Flags:     flags,
			EcuID:     e.ecuID,
			SessionID: info.SessionID,
			Timestamp: ts,
		},
		Extended: frame.ExtendedHeader{
			Verbose:   info.Verbose,
			Kind:      info.Kind,
			TypeInfo:  typeInfo,
			ArgCount:  info.ArgCount,
			AppID:     info.AppID,
			ContextID: info.ContextID,
		},
		Payload: payload,
	})
}

func (e *Engine) options() headerOptions {
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	return e.opts
}
