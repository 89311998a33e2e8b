package registry

import "github.com/danmuck/edgedlt/internal/protocol"

// MaxChannels bounds the per-context channel assignment bitset.
const MaxChannels = 32

// Capabilities are the optional owner callbacks of a context. They are
// resolved once at registration from the session table and invoked outside
// the registry lock.
type Capabilities struct {
	LevelChanged func(app, ctx protocol.ID, level protocol.LogLevel)
	TraceChanged func(app, ctx protocol.ID, status protocol.TraceStatus)
	// Inject handles an application injection request; the returned byte
	// becomes the response status.
	Inject func(serviceID uint32, data []byte) uint8
}

// Context is one registered (application, context) pair.
type Context struct {
	AppID       protocol.ID
	ContextID   protocol.ID
	SessionID   protocol.SessionID
	LogLevel    protocol.LogLevel
	TraceStatus protocol.TraceStatus
	// Channels has bit i set when log channel i receives this context.
	Channels uint32
	Caps     Capabilities

	// Owned is false for slots restored from a snapshot that no producer
	// has claimed yet.
	Owned bool

	factory factoryState
}

type factoryState struct {
	level    protocol.LogLevel
	trace    protocol.TraceStatus
	channels uint32
}

// OnChannel reports whether channel ch is assigned.
func (c Context) OnChannel(ch int) bool {
	return ch >= 0 && ch < MaxChannels && c.Channels&(1<<uint(ch)) != 0
}

// Slot addresses a context inside the fixed registry table.
type Slot struct {
	App int
	Ctx int
}

// Resolved is a context together with its effective filter values, with
// default sentinels resolved against the defaults current at lookup time.
type Resolved struct {
	Context
	Slot  Slot
	Level protocol.LogLevel
	Trace bool
}

// Registration describes one RegisterContext call.
type Registration struct {
	SessionID protocol.SessionID
	AppID     protocol.ID
	ContextID protocol.ID
	// Builtin registrations come from configuration and may use reserved
	// session ids.
	Builtin     bool
	LogLevel    protocol.LogLevel
	TraceStatus protocol.TraceStatus
	// Channels defaults to the configured default channel when zero.
	Channels uint32
}

// Option selects the context field updated by SetOption.
type Option int

const (
	OptionLogLevel Option = iota
	OptionTraceStatus
)

// SlotState is the persisted form of one registry slot.
type SlotState struct {
	Used        bool
	AppID       protocol.ID
	ContextID   protocol.ID
	LogLevel    protocol.LogLevel
	TraceStatus protocol.TraceStatus
	Channels    uint32
}
