package registry

import "github.com/danmuck/edgedlt/internal/protocol"

// Snapshot exports the defaults and every slot in table order
// (application-major).
func (r *Registry) Snapshot() (protocol.LogLevel, protocol.TraceStatus, []SlotState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]SlotState, 0, r.cfg.MaxApplications*r.cfg.MaxContextsPerApplication)
	for ai := range r.apps {
		for _, s := range r.apps[ai].slots {
			if !s.used {
				states = append(states, SlotState{})
				continue
			}
			states = append(states, SlotState{
				Used:        true,
				AppID:       s.ctx.AppID,
				ContextID:   s.ctx.ContextID,
				LogLevel:    s.ctx.LogLevel,
				TraceStatus: s.ctx.TraceStatus,
				Channels:    s.ctx.Channels,
			})
		}
	}
	return r.defLevel, r.defTrace, states
}

// compatible reports whether every live slot holds the same pair as the
// snapshot slot at the same index, and whether snapshot-only slots can be
// restored without duplicating or mixing applications.
func (r *Registry) compatible(states []SlotState) bool {
	perApp := r.cfg.MaxContextsPerApplication
	if len(states) != r.cfg.MaxApplications*perApp {
		return false
	}
	for ai := range r.apps {
		live := &r.apps[ai]
		var snapApp protocol.ID
		for ci := range live.slots {
			st := states[ai*perApp+ci]
			ls := live.slots[ci]
			if st.Used {
				if st.AppID.IsWildcard() || st.ContextID.IsWildcard() {
					return false
				}
				if !st.LogLevel.Valid() || !st.TraceStatus.Valid() {
					return false
				}
				if snapApp.IsWildcard() {
					snapApp = st.AppID
				} else if st.AppID != snapApp {
					return false
				}
			}
			if ls.used {
				if !st.Used || st.AppID != ls.ctx.AppID || st.ContextID != ls.ctx.ContextID {
					return false
				}
				continue
			}
			if st.Used {
				if _, dup := r.find(st.AppID, st.ContextID); dup {
					return false
				}
			}
		}
		if snapApp.IsWildcard() {
			continue
		}
		if !live.id.IsWildcard() && live.id != snapApp {
			return false
		}
		for other := range r.apps {
			if other != ai && r.apps[other].id == snapApp {
				return false
			}
		}
	}
	return true
}

// Apply restores defaults and slot values from a snapshot. Live slots keep
// their owner; snapshot-only slots become reservations without owner that a
// later Register claims. Nothing changes when the snapshot does not match
// the live table.
func (r *Registry) Apply(level protocol.LogLevel, trace protocol.TraceStatus, states []SlotState) error {
	if level < protocol.LogLevelOff || level > protocol.LogLevelVerbose {
		return ErrInvalidValue
	}
	if trace != protocol.TraceStatusOff && trace != protocol.TraceStatusOn {
		return ErrInvalidValue
	}
	r.mu.Lock()
	if !r.compatible(states) {
		r.mu.Unlock()
		return ErrSnapshotMismatch
	}
	beforeLevel, beforeTrace := r.defLevel, r.defTrace
	r.defLevel = level
	r.defTrace = trace

	var notes notices
	perApp := r.cfg.MaxContextsPerApplication
	for ai := range r.apps {
		for ci := range r.apps[ai].slots {
			st := states[ai*perApp+ci]
			if !st.Used {
				continue
			}
			s := &r.apps[ai].slots[ci]
			if !s.used {
				r.apps[ai].id = st.AppID
				*s = slot{used: true, ctx: Context{
					AppID:     st.AppID,
					ContextID: st.ContextID,
					factory: factoryState{
						level:    protocol.LogLevelDefault,
						trace:    protocol.TraceStatusDefault,
						channels: 1 << uint(r.cfg.DefaultChannel),
					},
				}}
			}
			c := &s.ctx
			oldLevel, oldTrace := c.LogLevel, c.TraceStatus
			if oldLevel == protocol.LogLevelDefault {
				oldLevel = beforeLevel
			}
			if oldTrace == protocol.TraceStatusDefault {
				oldTrace = beforeTrace
			}
			c.LogLevel = st.LogLevel
			c.TraceStatus = st.TraceStatus
			c.Channels = st.Channels
			notes = notes.level(c, oldLevel, r.level(c.LogLevel))
			notes = notes.trace(c, oldTrace, r.trace(c.TraceStatus))
		}
	}
	r.mu.Unlock()
	notes.fire()
	return nil
}
