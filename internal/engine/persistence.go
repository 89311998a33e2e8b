package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/codec"
	"github.com/danmuck/edgedlt/internal/registry"
)

var snapshotMagic = protocol.MakeID("DLTC")

const snapshotVersion uint8 = 1

var errSnapshotLayout = errors.New("engine: malformed snapshot")

type channelState struct {
	id        protocol.ID
	threshold protocol.LogLevel
	traceOn   bool
	debugMode DebugMode
}

type snapshot struct {
	apps           int
	contextsPerApp int
	level          protocol.LogLevel
	trace          protocol.TraceStatus
	flags          headerOptions
	channels       []channelState
	slots          []registry.SlotState
}

var snapshotFlags = []Flag{FlagEcuID, FlagSessionID, FlagTimestamp, FlagExtendedHeader, FlagVerboseMode, FlagMessageFiltering}

// encode writes the fixed-layout big-endian snapshot: header, one record per
// channel, one record per registry slot in table order.
func (s *snapshot) encode() []byte {
	size := 13 + len(s.channels)*7 + len(s.slots)*15
	w := codec.NewWriter(make([]byte, 0, size), true)
	w.PutID(snapshotMagic)
	w.PutU8(snapshotVersion)
	w.PutU8(uint8(len(s.channels)))
	w.PutU16(uint16(s.apps))
	w.PutU16(uint16(s.contextsPerApp))
	w.PutI8(int8(s.level))
	w.PutI8(int8(s.trace))
	var bits uint8
	for i, f := range snapshotFlags {
		if *s.flags.field(f) {
			bits |= 1 << uint(i)
		}
	}
	w.PutU8(bits)
	for _, c := range s.channels {
		w.PutID(c.id)
		w.PutI8(int8(c.threshold))
		w.PutU8(boolByte(c.traceOn))
		w.PutU8(uint8(c.debugMode))
	}
	for _, st := range s.slots {
		w.PutU8(boolByte(st.Used))
		w.PutID(st.AppID)
		w.PutID(st.ContextID)
		w.PutI8(int8(st.LogLevel))
		w.PutI8(int8(st.TraceStatus))
		w.PutU32(st.Channels)
	}
	return w.Bytes()
}

func decodeSnapshot(b []byte) (*snapshot, error) {
	rd := codec.NewReader(b, true)
	if rd.ID() != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", errSnapshotLayout)
	}
	if v := rd.U8(); v != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", errSnapshotLayout, v)
	}
	s := &snapshot{}
	nch := int(rd.U8())
	s.apps = int(rd.U16())
	s.contextsPerApp = int(rd.U16())
	s.level = protocol.LogLevel(rd.I8())
	s.trace = protocol.TraceStatus(rd.I8())
	bits := rd.U8()
	for i, f := range snapshotFlags {
		*s.flags.field(f) = bits&(1<<uint(i)) != 0
	}
	s.channels = make([]channelState, nch)
	for i := range s.channels {
		s.channels[i] = channelState{
			id:        rd.ID(),
			threshold: protocol.LogLevel(rd.I8()),
			traceOn:   rd.U8() != 0,
			debugMode: DebugMode(rd.U8()),
		}
	}
	if rd.Err() != nil {
		return nil, fmt.Errorf("%w: %v", errSnapshotLayout, rd.Err())
	}
	if len(rd.Remaining()) != s.apps*s.contextsPerApp*15 {
		return nil, fmt.Errorf("%w: slot records do not match counts", errSnapshotLayout)
	}
	s.slots = make([]registry.SlotState, s.apps*s.contextsPerApp)
	for i := range s.slots {
		s.slots[i] = registry.SlotState{
			Used:        rd.U8() != 0,
			AppID:       rd.ID(),
			ContextID:   rd.ID(),
			LogLevel:    protocol.LogLevel(rd.I8()),
			TraceStatus: protocol.TraceStatus(rd.I8()),
			Channels:    rd.U32(),
		}
	}
	if rd.Err() != nil {
		return nil, fmt.Errorf("%w: %v", errSnapshotLayout, rd.Err())
	}
	return s, nil
}

func (e *Engine) takeSnapshot() *snapshot {
	s := &snapshot{}
	s.apps, s.contextsPerApp = e.reg.Dimensions()
	s.level, s.trace, s.slots = e.reg.Snapshot()
	s.flags = e.options()
	e.txMu.Lock()
	for _, c := range e.channels {
		s.channels = append(s.channels, channelState{
			id:        c.id,
			threshold: c.threshold,
			traceOn:   c.traceOn,
			debugMode: c.debugMode,
		})
	}
	e.txMu.Unlock()
	return s
}

// Store writes the current registry, channel and flag state to the
// persistent store.
func (e *Engine) Store() error {
	const api = "Store"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.storeSnapshot()
}

func (e *Engine) storeSnapshot() error {
	if e.store == nil {
		return ErrNoStore
	}
	if err := e.store.Write(e.takeSnapshot().encode()); err != nil {
		return fmt.Errorf("engine: write snapshot: %w", err)
	}
	e.log.Info().Msg("configuration stored")
	return nil
}

// restore applies the stored snapshot when it was taken with the same
// channel and registry shape and every live slot holds the same pair as the
// snapshot. Anything else invalidates the snapshot.
func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	data, err := e.store.Read()
	if errors.Is(err, ErrNoSnapshot) {
		e.log.Debug().Msg("no stored configuration")
		return
	}
	if err != nil {
		e.discardSnapshot(err)
		return
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		e.discardSnapshot(err)
		return
	}
	if err := e.fits(s); err != nil {
		e.discardSnapshot(err)
		return
	}
	if err := e.reg.Apply(s.level, s.trace, s.slots); err != nil {
		e.discardSnapshot(err)
		return
	}
	e.optMu.Lock()
	e.opts = s.flags
	e.optMu.Unlock()
	e.txMu.Lock()
	for i, c := range e.channels {
		c.threshold = s.channels[i].threshold
		c.traceOn = s.channels[i].traceOn
		c.debugMode = s.channels[i].debugMode
	}
	e.txMu.Unlock()
	e.log.Info().Int("slots", len(s.slots)).Msg("stored configuration restored")
}

func (e *Engine) fits(s *snapshot) error {
	apps, perApp := e.reg.Dimensions()
	if s.apps != apps || s.contextsPerApp != perApp {
		return fmt.Errorf("%w: registry shape %dx%d, live %dx%d", registry.ErrSnapshotMismatch, s.apps, s.contextsPerApp, apps, perApp)
	}
	if len(s.channels) != len(e.channels) {
		return fmt.Errorf("%w: %d channels, live %d", registry.ErrSnapshotMismatch, len(s.channels), len(e.channels))
	}
	for i, c := range e.channels {
		st := s.channels[i]
		if st.id != c.id {
			return fmt.Errorf("%w: channel %d is %s, live %s", registry.ErrSnapshotMismatch, i, st.id, c.id)
		}
		if st.threshold < protocol.LogLevelOff || st.threshold > protocol.LogLevelVerbose || st.debugMode > DebugSendOnOverflow {
			return fmt.Errorf("%w: channel %d values out of range", errSnapshotLayout, i)
		}
	}
	return nil
}

func (e *Engine) discardSnapshot(reason error) {
	e.log.Warn().Err(reason).Msg("stored configuration does not match, keeping defaults")
	if err := e.store.Invalidate(); err != nil {
		e.log.Warn().Err(err).Msg("invalidate stored configuration")
	}
}
