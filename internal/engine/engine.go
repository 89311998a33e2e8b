// Package engine is the DLT protocol engine: it filters and encodes log and
// trace messages into per-channel ring buffers, drives each channel's
// transmission state machine against a lower layer, answers control
// requests and persists runtime configuration.
//
// Locks are short and never nested across concerns: the registry has its own
// lock, header options use optMu, all transmit buffers share txMu and the
// receive buffer uses rxMu. Each channel's smMu serializes its state
// machine; it is the only lock held while calling the lower layer.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/registry"
	"github.com/danmuck/edgedlt/internal/ringbuf"
)

// Mode is the global communication state.
type Mode uint8

const (
	ModeOffline Mode = iota
	ModeOnline
)

func (m Mode) String() string {
	if m == ModeOnline {
		return "online"
	}
	return "offline"
}

type Engine struct {
	cfg      Config
	lower    LowerLayer
	store    PersistentStore
	sink     ErrorSink
	clock    Clock
	log      zerolog.Logger
	sessions map[protocol.SessionID]Capabilities

	ecuID   protocol.ID
	ctrlApp protocol.ID
	ctrlCtx protocol.ID

	initialized atomic.Bool
	online      atomic.Bool

	reg *registry.Registry

	optMu sync.RWMutex
	opts  headerOptions

	txMu     sync.Mutex
	channels []*channel

	rxMu       sync.Mutex
	rx         *ringbuf.Ring
	rxExpected int
	rxComplete bool

	filtered        atomic.Uint64
	controlRequests atomic.Uint64
}

type Option func(*Engine)

func WithLowerLayer(l LowerLayer) Option {
	return func(e *Engine) { e.lower = l }
}

func WithStore(s PersistentStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithErrorSink(s ErrorSink) Option {
	return func(e *Engine) { e.sink = s }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSession binds capabilities to a producer session id. Contexts
// registered under that session receive them.
func WithSession(id protocol.SessionID, caps Capabilities) Option {
	return func(e *Engine) { e.sessions[id] = caps }
}

// New validates cfg and returns an uninitialised engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		lower:    nopLower{},
		sink:     LogSink{},
		clock:    newSystemClock(),
		log:      log.Logger.With().Str("component", "dlt").Logger(),
		sessions: make(map[protocol.SessionID]Capabilities),
		ecuID:    protocol.MakeID(cfg.EcuID),
		ctrlApp:  protocol.MakeID(cfg.ControlAppID),
		ctrlCtx:  protocol.MakeID(cfg.ControlContextID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the static configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// InitMemory returns the engine to the uninitialised state. Every API call
// other than Init reports ErrUninit until Init runs again.
func (e *Engine) InitMemory() {
	e.initialized.Store(false)
	e.online.Store(false)
	e.txMu.Lock()
	e.channels = nil
	e.txMu.Unlock()
	e.rxMu.Lock()
	e.rx = nil
	e.rxExpected = 0
	e.rxComplete = false
	e.rxMu.Unlock()
	e.reg = nil
}

// Init allocates every buffer, registers the configured built-in contexts,
// reconciles the stored snapshot and brings the engine online. Init must not
// run concurrently with other engine calls.
func (e *Engine) Init() error {
	e.InitMemory()
	cfg := e.cfg

	e.reg = registry.New(registry.Config{
		MaxApplications:           cfg.MaxApplications,
		MaxContextsPerApplication: cfg.MaxContextsPerApplication,
		ReservedSessionID:         cfg.ReservedSessionID,
		DefaultChannel:            cfg.DefaultChannel,
		DefaultLogLevel:           cfg.DefaultLogLevel,
		DefaultTraceStatus:        cfg.DefaultTraceStatus,
		Sessions:                  e.sessions,
	})
	e.optMu.Lock()
	e.opts = optionsFromConfig(cfg)
	e.optMu.Unlock()

	channels := make([]*channel, len(cfg.Channels))
	for i, cc := range cfg.Channels {
		channels[i] = newChannel(i, cc)
	}
	e.txMu.Lock()
	e.channels = channels
	e.txMu.Unlock()
	e.rxMu.Lock()
	e.rx = ringbuf.New(cfg.ReceiveBufferSize)
	e.rxMu.Unlock()

	for _, cc := range cfg.Contexts {
		var mask uint32
		for _, name := range cc.Channels {
			mask |= 1 << uint(cfg.channelIndex(name))
		}
		_, err := e.reg.Register(registry.Registration{
			SessionID:   cc.SessionID,
			AppID:       protocol.MakeID(cc.AppID),
			ContextID:   protocol.MakeID(cc.ContextID),
			Builtin:     true,
			LogLevel:    cc.LogLevel,
			TraceStatus: cc.TraceStatus,
			Channels:    mask,
		})
		if err != nil {
			return fmt.Errorf("engine: register %s/%s: %w", cc.AppID, cc.ContextID, err)
		}
	}

	e.restore()

	for _, c := range channels {
		e.dispatch(c, EventInit)
	}
	e.initialized.Store(true)
	e.online.Store(true)
	e.log.Info().
		Str("ecu_id", cfg.EcuID).
		Int("channels", len(channels)).
		Int("contexts", len(cfg.Contexts)).
		Msg("dlt engine initialized")
	return nil
}

// SetState switches communication on or off. Going offline stops
// transmission and clears every buffer.
func (e *Engine) SetState(m Mode) error {
	const api = "SetState"
	if err := e.ready(api); err != nil {
		return err
	}
	switch m {
	case ModeOnline:
		e.online.Store(true)
	case ModeOffline:
		if !e.online.Swap(false) {
			return nil
		}
		for _, c := range e.channels {
			c.smMu.Lock()
			e.txMu.Lock()
			c.clearAll()
			e.txMu.Unlock()
			c.state = StateWaitForTxData
			c.timeout = 0
			c.inFlight = false
			c.confirm.Store(confirmNone)
			c.smMu.Unlock()
		}
		e.clearReceive()
	default:
		return e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: mode %d", ErrInvalidArgument, m))
	}
	e.log.Info().Str("mode", m.String()).Msg("communication state changed")
	return nil
}

func (e *Engine) GetState() Mode {
	if e.online.Load() {
		return ModeOnline
	}
	return ModeOffline
}

// lookupProducer resolves the context of a send request. Restored slots
// nobody has claimed yet are treated as unregistered.
func (e *Engine) lookupProducer(info FilterInfo) (registry.Resolved, error) {
	if info.SessionID != 0 {
		return e.reg.LookupSession(info.AppID, info.ContextID, info.SessionID)
	}
	res, err := e.reg.Lookup(info.AppID, info.ContextID)
	if err != nil {
		return res, err
	}
	if !res.Owned {
		return registry.Resolved{}, ErrContextNotRegistered
	}
	return res, nil
}
