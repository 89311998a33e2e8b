// Package registry owns the DLT application/context table: per-context log
// level, trace status, channel assignment and owner capabilities.
//
// The table has a fixed shape (applications x contexts per application)
// chosen at construction. Contexts are never removed; Reset restores the
// values they had when first registered. Owner callbacks are never invoked
// while the registry lock is held.
package registry

import (
	"sync"

	"github.com/danmuck/edgedlt/internal/protocol"
)

// Config sizes the table and seeds its defaults.
type Config struct {
	MaxApplications           int
	MaxContextsPerApplication int
	// Session ids at or below ReservedSessionID are refused for runtime
	// registrations.
	ReservedSessionID  protocol.SessionID
	DefaultChannel     int
	DefaultLogLevel    protocol.LogLevel
	DefaultTraceStatus protocol.TraceStatus
	// Sessions maps producer session ids to their capabilities.
	Sessions map[protocol.SessionID]Capabilities
}

type slot struct {
	used bool
	ctx  Context
}

type application struct {
	id    protocol.ID
	slots []slot
}

// Registry is the context table. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	apps     []application
	defLevel protocol.LogLevel
	defTrace protocol.TraceStatus
}

func New(cfg Config) *Registry {
	if cfg.MaxApplications < 1 {
		cfg.MaxApplications = 1
	}
	if cfg.MaxContextsPerApplication < 1 {
		cfg.MaxContextsPerApplication = 1
	}
	r := &Registry{cfg: cfg}
	r.apps = make([]application, cfg.MaxApplications)
	for i := range r.apps {
		r.apps[i].slots = make([]slot, cfg.MaxContextsPerApplication)
	}
	r.defLevel = cfg.DefaultLogLevel
	r.defTrace = cfg.DefaultTraceStatus
	return r
}

// Dimensions returns the fixed table shape.
func (r *Registry) Dimensions() (apps, contextsPerApp int) {
	return r.cfg.MaxApplications, r.cfg.MaxContextsPerApplication
}

// Defaults returns the current default log level and trace status.
func (r *Registry) Defaults() (protocol.LogLevel, protocol.TraceStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defLevel, r.defTrace
}

func (r *Registry) level(l protocol.LogLevel) protocol.LogLevel {
	if l == protocol.LogLevelDefault {
		return r.defLevel
	}
	return l
}

func (r *Registry) trace(s protocol.TraceStatus) protocol.TraceStatus {
	if s == protocol.TraceStatusDefault {
		return r.defTrace
	}
	return s
}

func (r *Registry) resolve(s Slot) Resolved {
	c := r.apps[s.App].slots[s.Ctx].ctx
	return Resolved{
		Context: c,
		Slot:    s,
		Level:   r.level(c.LogLevel),
		Trace:   r.trace(c.TraceStatus) == protocol.TraceStatusOn,
	}
}

func (r *Registry) find(app, ctx protocol.ID) (Slot, bool) {
	for ai := range r.apps {
		if r.apps[ai].id != app {
			continue
		}
		for ci, s := range r.apps[ai].slots {
			if s.used && s.ctx.ContextID == ctx {
				return Slot{App: ai, Ctx: ci}, true
			}
		}
	}
	return Slot{}, false
}

// each visits used slots matching the filters in slot order. A wildcard id
// matches everything.
func (r *Registry) each(app, ctx protocol.ID, fn func(Slot, *Context)) int {
	matched := 0
	for ai := range r.apps {
		a := &r.apps[ai]
		if !app.IsWildcard() && a.id != app {
			continue
		}
		for ci := range a.slots {
			s := &a.slots[ci]
			if !s.used || (!ctx.IsWildcard() && s.ctx.ContextID != ctx) {
				continue
			}
			matched++
			fn(Slot{App: ai, Ctx: ci}, &s.ctx)
		}
	}
	return matched
}

// Register adds a context in the lowest free slot, or claims a restored
// slot without owner. The owner is notified of its effective level and
// trace status before Register returns.
func (r *Registry) Register(reg Registration) (Slot, error) {
	if reg.AppID.IsWildcard() || reg.ContextID.IsWildcard() {
		return Slot{}, ErrInvalidID
	}
	if !reg.LogLevel.Valid() || !reg.TraceStatus.Valid() {
		return Slot{}, ErrInvalidValue
	}
	if !reg.Builtin && reg.SessionID <= r.cfg.ReservedSessionID {
		return Slot{}, ErrUnknownSessionID
	}
	caps := r.cfg.Sessions[reg.SessionID]

	r.mu.Lock()
	if s, ok := r.find(reg.AppID, reg.ContextID); ok {
		c := &r.apps[s.App].slots[s.Ctx].ctx
		if c.Owned {
			r.mu.Unlock()
			return s, ErrContextAlreadyRegistered
		}
		c.Owned = true
		c.SessionID = reg.SessionID
		c.Caps = caps
		n := r.initialNotice(s)
		r.mu.Unlock()
		n.fire()
		return s, nil
	}

	ai := r.appIndex(reg.AppID)
	if ai < 0 {
		r.mu.Unlock()
		return Slot{}, ErrRegistrationFull
	}
	ci := -1
	for i, s := range r.apps[ai].slots {
		if !s.used {
			ci = i
			break
		}
	}
	if ci < 0 {
		r.mu.Unlock()
		return Slot{}, ErrRegistrationFull
	}

	channels := reg.Channels
	if channels == 0 {
		channels = 1 << uint(r.cfg.DefaultChannel)
	}
	r.apps[ai].id = reg.AppID
	r.apps[ai].slots[ci] = slot{used: true, ctx: Context{
		AppID:       reg.AppID,
		ContextID:   reg.ContextID,
		SessionID:   reg.SessionID,
		LogLevel:    reg.LogLevel,
		TraceStatus: reg.TraceStatus,
		Channels:    channels,
		Caps:        caps,
		Owned:       true,
		factory:     factoryState{level: reg.LogLevel, trace: reg.TraceStatus, channels: channels},
	}}
	s := Slot{App: ai, Ctx: ci}
	n := r.initialNotice(s)
	r.mu.Unlock()
	n.fire()
	return s, nil
}

// appIndex returns the slot already holding app, else the lowest free
// application slot, else -1.
func (r *Registry) appIndex(app protocol.ID) int {
	free := -1
	for i := range r.apps {
		if r.apps[i].id == app {
			return i
		}
		if free < 0 && r.apps[i].id.IsWildcard() {
			free = i
		}
	}
	return free
}

// Lookup returns the resolved context for (app, ctx).
func (r *Registry) Lookup(app, ctx protocol.ID) (Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.find(app, ctx)
	if !ok {
		return Resolved{}, ErrNotRegistered
	}
	return r.resolve(s), nil
}

// LookupSession is Lookup cross-checked against the session id claimed by a
// self-identifying producer. Restored slots without owner are not usable for
// sending.
func (r *Registry) LookupSession(app, ctx protocol.ID, session protocol.SessionID) (Resolved, error) {
	res, err := r.Lookup(app, ctx)
	if err != nil {
		return Resolved{}, err
	}
	if !res.Owned {
		return Resolved{}, ErrNotRegistered
	}
	if res.SessionID != session {
		return Resolved{}, ErrUnknownSessionID
	}
	return res, nil
}

// Match returns every context matching the filters in slot order, so
// contexts of one application are adjacent.
func (r *Registry) Match(app, ctx protocol.ID) []Resolved {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Resolved
	r.each(app, ctx, func(s Slot, _ *Context) {
		out = append(out, r.resolve(s))
	})
	return out
}

// SetOption updates the log level or trace status of every matching
// context. -1 makes the context track the current default again. An
// out-of-range value is rejected before any context changes.
func (r *Registry) SetOption(app, ctx protocol.ID, opt Option, value int8) error {
	switch opt {
	case OptionLogLevel:
		if !protocol.LogLevel(value).Valid() {
			return ErrInvalidValue
		}
	case OptionTraceStatus:
		if !protocol.TraceStatus(value).Valid() {
			return ErrInvalidValue
		}
	default:
		return ErrInvalidValue
	}

	r.mu.Lock()
	var notes notices
	matched := r.each(app, ctx, func(s Slot, c *Context) {
		switch opt {
		case OptionLogLevel:
			before := r.level(c.LogLevel)
			c.LogLevel = protocol.LogLevel(value)
			notes = notes.level(c, before, r.level(c.LogLevel))
		case OptionTraceStatus:
			before := r.trace(c.TraceStatus)
			c.TraceStatus = protocol.TraceStatus(value)
			notes = notes.trace(c, before, r.trace(c.TraceStatus))
		}
	})
	r.mu.Unlock()
	notes.fire()
	if matched == 0 {
		return ErrNoMatchingContext
	}
	return nil
}

// SetDefaultLogLevel changes the default and notifies contexts tracking it.
func (r *Registry) SetDefaultLogLevel(level protocol.LogLevel) error {
	if level < protocol.LogLevelOff || level > protocol.LogLevelVerbose {
		return ErrInvalidValue
	}
	r.mu.Lock()
	before := r.defLevel
	r.defLevel = level
	var notes notices
	r.each(protocol.ID{}, protocol.ID{}, func(_ Slot, c *Context) {
		if c.LogLevel == protocol.LogLevelDefault {
			notes = notes.level(c, before, level)
		}
	})
	r.mu.Unlock()
	notes.fire()
	return nil
}

// SetDefaultTraceStatus changes the default and notifies contexts tracking
// it.
func (r *Registry) SetDefaultTraceStatus(status protocol.TraceStatus) error {
	if status != protocol.TraceStatusOff && status != protocol.TraceStatusOn {
		return ErrInvalidValue
	}
	r.mu.Lock()
	before := r.defTrace
	r.defTrace = status
	var notes notices
	r.each(protocol.ID{}, protocol.ID{}, func(_ Slot, c *Context) {
		if c.TraceStatus == protocol.TraceStatusDefault {
			notes = notes.trace(c, before, status)
		}
	})
	r.mu.Unlock()
	notes.fire()
	return nil
}

// AssignChannel adds or removes channel ch for every matching context.
// Repeating the same toggle is a no-op.
func (r *Registry) AssignChannel(app, ctx protocol.ID, ch int, add bool) error {
	if ch < 0 || ch >= MaxChannels {
		return ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.each(app, ctx, func(_ Slot, c *Context) {
		if add {
			c.Channels |= 1 << uint(ch)
		} else {
			c.Channels &^= 1 << uint(ch)
		}
	})
	if matched == 0 {
		return ErrNoMatchingContext
	}
	return nil
}

// Reset restores configured defaults and the values every context had when
// it was registered.
func (r *Registry) Reset() {
	r.mu.Lock()
	beforeLevel, beforeTrace := r.defLevel, r.defTrace
	r.defLevel = r.cfg.DefaultLogLevel
	r.defTrace = r.cfg.DefaultTraceStatus
	var notes notices
	r.each(protocol.ID{}, protocol.ID{}, func(_ Slot, c *Context) {
		oldLevel := beforeLevel
		if c.LogLevel != protocol.LogLevelDefault {
			oldLevel = c.LogLevel
		}
		oldTrace := beforeTrace
		if c.TraceStatus != protocol.TraceStatusDefault {
			oldTrace = c.TraceStatus
		}
		c.LogLevel = c.factory.level
		c.TraceStatus = c.factory.trace
		c.Channels = c.factory.channels
		notes = notes.level(c, oldLevel, r.level(c.LogLevel))
		notes = notes.trace(c, oldTrace, r.trace(c.TraceStatus))
	})
	r.mu.Unlock()
	notes.fire()
}
