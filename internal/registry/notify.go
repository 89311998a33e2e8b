package registry

import "github.com/danmuck/edgedlt/internal/protocol"

type notice struct {
	caps     Capabilities
	app      protocol.ID
	ctx      protocol.ID
	level    protocol.LogLevel
	hasLevel bool
	trace    protocol.TraceStatus
	hasTrace bool
}

// notices collects owner callbacks under the lock and fires them after it is
// released.
type notices []notice

func (n notices) level(c *Context, before, after protocol.LogLevel) notices {
	if before == after || c.Caps.LevelChanged == nil {
		return n
	}
	return append(n, notice{caps: c.Caps, app: c.AppID, ctx: c.ContextID, level: after, hasLevel: true})
}

func (n notices) trace(c *Context, before, after protocol.TraceStatus) notices {
	if before == after || c.Caps.TraceChanged == nil {
		return n
	}
	return append(n, notice{caps: c.Caps, app: c.AppID, ctx: c.ContextID, trace: after, hasTrace: true})
}

func (n notices) fire() {
	for _, note := range n {
		if note.hasLevel {
			note.caps.LevelChanged(note.app, note.ctx, note.level)
		}
		if note.hasTrace {
			note.caps.TraceChanged(note.app, note.ctx, note.trace)
		}
	}
}

// initialNotice reports the effective values of a freshly bound owner.
func (r *Registry) initialNotice(s Slot) notices {
	c := &r.apps[s.App].slots[s.Ctx].ctx
	var n notices
	if c.Caps.LevelChanged != nil {
		n = append(n, notice{caps: c.Caps, app: c.AppID, ctx: c.ContextID, level: r.level(c.LogLevel), hasLevel: true})
	}
	if c.Caps.TraceChanged != nil {
		n = append(n, notice{caps: c.Caps, app: c.AppID, ctx: c.ContextID, trace: r.trace(c.TraceStatus), hasTrace: true})
	}
	return n
}
