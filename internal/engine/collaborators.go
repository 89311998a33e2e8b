package engine

import (
	"time"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/registry"
)

// TxResult is the lower layer's answer to a transmit request.
type TxResult uint8

const (
	TxAccepted TxResult = iota
	TxBusy
)

// RxResult tells the lower layer whether more bytes of the current inbound
// frame are expected.
type RxResult uint8

const (
	RxMore RxResult = iota
	RxDone
)

// LowerLayer carries complete frames to the wire. Transmit may call
// Engine.TxConfirmation synchronously; it must not call any other engine
// method.
type LowerLayer interface {
	Transmit(ch int, b []byte) TxResult
	// Capacity is the number of bytes the lower layer accepts in one
	// Transmit call right now.
	Capacity(ch int) int
}

// PersistentStore holds the configuration snapshot across restarts. Read
// returns ErrNoSnapshot when nothing is stored.
type PersistentStore interface {
	Read() ([]byte, error)
	Write(snapshot []byte) error
	Invalidate() error
}

// ErrorSink receives programming-contract violations.
type ErrorSink interface {
	Report(component, api string, code ErrorCode)
}

// Clock supplies header timestamps (0.1 ms ticks) and wall time for the
// time synchronisation service.
type Clock interface {
	Ticks() uint32
	Now() time.Time
}

// Capabilities are the optional owner callbacks bound to a session id.
type Capabilities = registry.Capabilities

// Registration describes one RegisterContext call. Runtime contexts start
// out tracking the default log level and trace status.
type Registration struct {
	SessionID protocol.SessionID
	AppID     protocol.ID
	ContextID protocol.ID
}

type systemClock struct {
	start time.Time
}

func newSystemClock() systemClock {
	return systemClock{start: time.Now()}
}

func (c systemClock) Ticks() uint32 {
	return uint32(time.Since(c.start) / (100 * time.Microsecond))
}

func (c systemClock) Now() time.Time {
	return time.Now()
}

// nopLower accepts nothing; frames stay buffered until a real lower layer is
// attached or the channel times out.
type nopLower struct{}

func (nopLower) Transmit(int, []byte) TxResult { return TxBusy }
func (nopLower) Capacity(int) int              { return 0 }
