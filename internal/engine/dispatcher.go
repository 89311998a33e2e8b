package engine

import (
	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/codec"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

// serviceHandler reads the request fields after the service id and writes
// the response body. The body is only sent with a success status.
type serviceHandler func(e *Engine, rd *codec.Reader, w *codec.Writer) uint8

// handleRequest decodes one inbound frame and answers it on every channel.
// Frames that are not control requests are dropped.
func (e *Engine) handleRequest(raw []byte) {
	f, err := frame.Decode(raw)
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping malformed request")
		return
	}
	ext := f.Extended
	if !f.Header.Has(frame.FlagUseExtendedHeader) || ext.Kind != protocol.KindControl || ext.TypeInfo != protocol.ControlRequest {
		e.log.Debug().Uint8("msin", ext.MessageInfo()).Msg("dropping non-control frame")
		return
	}
	rd := codec.NewReader(f.Payload, f.MSBFirst())
	svc := rd.U32()
	if rd.Err() != nil {
		e.log.Debug().Msg("dropping request without service id")
		return
	}
	e.controlRequests.Add(1)

	body := codec.NewWriter(nil, f.MSBFirst())
	status := e.serve(svc, f, rd, body)
	w := codec.NewWriter(make([]byte, 0, 5+body.Len()), f.MSBFirst())
	w.PutU32(svc)
	w.PutU8(status)
	if hasBody(svc, status) {
		w.PutBytes(body.Bytes())
	}
	e.log.Debug().
		Uint32("service", svc).
		Uint8("status", status).
		Msg("control request served")
	e.broadcastControl(f.Header, svc, w.Bytes())
}

func hasBody(svc uint32, status uint8) bool {
	if svc == protocol.ServiceGetLogInfo {
		return status >= 3 && status <= 7
	}
	return status == protocol.StatusOK
}

func (e *Engine) serve(svc uint32, f frame.Frame, rd *codec.Reader, w *codec.Writer) uint8 {
	if svc >= protocol.ServiceInjectionThreshold {
		return e.inject(svc, f, rd)
	}
	if svc > protocol.ServiceLastStandard {
		return protocol.StatusNotSupported
	}
	h := serviceTable[svc]
	if h == nil {
		return protocol.StatusNotSupported
	}
	return h(e, rd, w)
}

// inject forwards an application injection request to the owner of the
// addressed context. The owner's result becomes the response status.
func (e *Engine) inject(svc uint32, f frame.Frame, rd *codec.Reader) uint8 {
	app, ctx := f.Extended.AppID, f.Extended.ContextID
	res, err := e.reg.Lookup(app, ctx)
	if err != nil || !res.Owned {
		return protocol.StatusError
	}
	if f.Header.Has(frame.FlagWithSessionID) && f.Header.SessionID != res.SessionID {
		return protocol.StatusError
	}
	if res.Caps.Inject == nil {
		return protocol.StatusNotSupported
	}
	n := rd.U32()
	data := rd.Bytes(int(n))
	if rd.Err() != nil {
		return protocol.StatusError
	}
	return res.Caps.Inject(svc, data)
}

// broadcastControl queues one response per channel. The response mirrors
// the request's optional header fields and payload byte order.
func (e *Engine) broadcastControl(req frame.Header, svc uint32, payload []byte) {
	mirror := frame.FlagMSBFirst | frame.FlagWithEcuID | frame.FlagWithSessionID | frame.FlagWithTimestamp
	flags := req.Flags&mirror | frame.FlagUseExtendedHeader
	if svc == protocol.ServiceGetLocalTime {
		flags |= frame.FlagWithTimestamp
	}
	b, err := frame.Encode(frame.Frame{
		Header: frame.Header{
			Flags:     flags,
			EcuID:     e.ecuID,
			SessionID: req.SessionID,
			Timestamp: e.clock.Ticks(),
		},
		Extended: e.controlHeader(),
		Payload:  payload,
	})
	if err != nil {
		e.log.Warn().Err(err).Uint32("service", svc).Msg("response not encodable")
		return
	}
	e.txMu.Lock()
	defer e.txMu.Unlock()
	for _, c := range e.channels {
		if len(b) > c.conf.MaxFrameLength {
			continue
		}
		c.putControl(b, e.cfg.OverflowSuppressTicks)
	}
}

func (e *Engine) controlHeader() frame.ExtendedHeader {
	return frame.ExtendedHeader{
		Kind:      protocol.KindControl,
		TypeInfo:  protocol.ControlResponse,
		AppID:     e.ctrlApp,
		ContextID: e.ctrlCtx,
	}
}

// overflowNotification builds the unsolicited BufferOverflowNotification
// frame for one channel.
func (e *Engine) overflowNotification(opts headerOptions, count uint32) ([]byte, error) {
	w := codec.NewWriter(make([]byte, 0, 9), true)
	w.PutU32(protocol.ServiceBufferOverflowNotification)
	w.PutU8(protocol.StatusOK)
	w.PutU32(count)
	return frame.Encode(frame.Frame{
		Header: frame.Header{
			Flags:     opts.flags() | frame.FlagUseExtendedHeader | frame.FlagMSBFirst,
			EcuID:     e.ecuID,
			Timestamp: e.clock.Ticks(),
		},
		Extended: e.controlHeader(),
		Payload:  w.Bytes(),
	})
}
