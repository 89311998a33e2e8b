package engine

import (
	"errors"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/codec"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
	"github.com/danmuck/edgedlt/internal/registry"
)

// comInterface names the communication interface in GetLogInfo and
// SetLogLevel payloads.
var comInterface = protocol.MakeID("remo")

var serviceTable = [protocol.ServiceLastStandard + 1]serviceHandler{
	protocol.ServiceSetLogLevel:                svcSetLogLevel,
	protocol.ServiceSetTraceStatus:             svcSetTraceStatus,
	protocol.ServiceGetLogInfo:                 svcGetLogInfo,
	protocol.ServiceGetDefaultLogLevel:         svcGetDefaultLogLevel,
	protocol.ServiceStoreConfiguration:         svcStoreConfiguration,
	protocol.ServiceResetToFactoryDefault:      svcResetToFactoryDefault,
	protocol.ServiceSetVerboseMode:             setFlagService(FlagVerboseMode),
	protocol.ServiceSetMessageFiltering:        setFlagService(FlagMessageFiltering),
	protocol.ServiceGetLocalTime:               svcGetLocalTime,
	protocol.ServiceUseECUID:                   setFlagService(FlagEcuID),
	protocol.ServiceUseSessionID:               setFlagService(FlagSessionID),
	protocol.ServiceUseTimestamp:               setFlagService(FlagTimestamp),
	protocol.ServiceUseExtendedHeader:          setFlagService(FlagExtendedHeader),
	protocol.ServiceSetDefaultLogLevel:         svcSetDefaultLogLevel,
	protocol.ServiceSetDefaultTraceStatus:      svcSetDefaultTraceStatus,
	protocol.ServiceGetSoftwareVersion:         svcGetSoftwareVersion,
	protocol.ServiceMessageBufferOverflow:      svcMessageBufferOverflow,
	protocol.ServiceGetDefaultTraceStatus:      svcGetDefaultTraceStatus,
	protocol.ServiceGetLogChannelNames:         svcGetLogChannelNames,
	protocol.ServiceGetVerboseModeStatus:       getFlagService(FlagVerboseMode),
	protocol.ServiceGetMessageFilteringStatus:  getFlagService(FlagMessageFiltering),
	protocol.ServiceGetUseECUID:                getFlagService(FlagEcuID),
	protocol.ServiceGetUseSessionID:            getFlagService(FlagSessionID),
	protocol.ServiceGetUseTimestamp:            getFlagService(FlagTimestamp),
	protocol.ServiceGetUseExtendedHeader:       getFlagService(FlagExtendedHeader),
	protocol.ServiceGetTraceStatus:             svcGetTraceStatus,
	protocol.ServiceSetLogChannelAssignment:    svcSetLogChannelAssignment,
	protocol.ServiceSetLogChannelThreshold:     svcSetLogChannelThreshold,
	protocol.ServiceGetLogChannelThreshold:     svcGetLogChannelThreshold,
	protocol.ServiceBufferOverflowNotification: svcBufferOverflowNotification,
	protocol.ServiceSyncTimeStamp:              svcSyncTimeStamp,
}

func statusOf(err error) uint8 {
	if err != nil {
		return protocol.StatusError
	}
	return protocol.StatusOK
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func svcSetLogLevel(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	app, ctx, level := rd.ID(), rd.ID(), rd.I8()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	return statusOf(e.reg.SetOption(app, ctx, registry.OptionLogLevel, level))
}

func svcSetTraceStatus(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	app, ctx, status := rd.ID(), rd.ID(), rd.I8()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	return statusOf(e.reg.SetOption(app, ctx, registry.OptionTraceStatus, status))
}

// GetLogInfo options: 3 level, 4 trace status, 6 both, 7 both plus
// descriptions. A successful response carries the option as its status.
func svcGetLogInfo(e *Engine, rd *codec.Reader, w *codec.Writer) uint8 {
	option, app, ctx := rd.U8(), rd.ID(), rd.ID()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	if option != 3 && option != 4 && option != 6 && option != 7 {
		return protocol.StatusError
	}
	apps := e.logInfo(app, ctx)
	if len(apps) == 0 {
		return protocol.LogInfoNoMatchingContext
	}
	withLevel := option != 4
	withTrace := option != 3
	withDesc := option == 7

	w.PutU16(uint16(len(apps)))
	for _, a := range apps {
		w.PutID(a.AppID)
		w.PutU16(uint16(len(a.Contexts)))
		for _, c := range a.Contexts {
			w.PutID(c.ContextID)
			if withLevel {
				w.PutI8(int8(c.LogLevel))
			}
			if withTrace {
				w.PutI8(int8(c.TraceStatus))
			}
			if withDesc {
				w.PutU16(uint16(len(c.Description)))
				w.PutBytes([]byte(c.Description))
			}
		}
		if withDesc {
			w.PutU16(uint16(len(a.Description)))
			w.PutBytes([]byte(a.Description))
		}
	}
	w.PutID(comInterface)
	if w.Len()+5 > e.maxResponsePayload() {
		return protocol.LogInfoOverflow
	}
	return option
}

// maxResponsePayload is the largest response payload every channel can
// carry with all optional header fields present.
func (e *Engine) maxResponsePayload() int {
	limit := frame.MaxLen
	for _, c := range e.channels {
		limit = min(limit, c.conf.MaxFrameLength)
	}
	all := frame.FlagUseExtendedHeader | frame.FlagWithEcuID | frame.FlagWithSessionID | frame.FlagWithTimestamp
	return limit - frame.HeaderLen(all)
}

func svcGetDefaultLogLevel(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	level, _ := e.reg.Defaults()
	w.PutI8(int8(level))
	return protocol.StatusOK
}

func svcGetDefaultTraceStatus(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	_, trace := e.reg.Defaults()
	w.PutI8(int8(trace))
	return protocol.StatusOK
}

func svcSetDefaultLogLevel(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	level := rd.I8()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	return statusOf(e.reg.SetDefaultLogLevel(protocol.LogLevel(level)))
}

func svcSetDefaultTraceStatus(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	status := rd.I8()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	return statusOf(e.reg.SetDefaultTraceStatus(protocol.TraceStatus(status)))
}

func svcStoreConfiguration(e *Engine, _ *codec.Reader, _ *codec.Writer) uint8 {
	err := e.storeSnapshot()
	if errors.Is(err, ErrNoStore) {
		return protocol.StatusNotSupported
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("store configuration failed")
	}
	return statusOf(err)
}

func svcResetToFactoryDefault(e *Engine, _ *codec.Reader, _ *codec.Writer) uint8 {
	if err := e.resetToFactoryDefault(); err != nil {
		e.log.Warn().Err(err).Msg("factory reset incomplete")
		return protocol.StatusError
	}
	return protocol.StatusOK
}

func setFlagService(f Flag) serviceHandler {
	return func(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
		v := rd.U8()
		if rd.Err() != nil || v > 1 {
			return protocol.StatusError
		}
		e.optMu.Lock()
		*e.opts.field(f) = v == 1
		e.optMu.Unlock()
		return protocol.StatusOK
	}
}

func getFlagService(f Flag) serviceHandler {
	return func(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
		opts := e.options()
		w.PutU8(boolByte(*opts.field(f)))
		return protocol.StatusOK
	}
}

// GetLocalTime carries its answer in the response header timestamp.
func svcGetLocalTime(*Engine, *codec.Reader, *codec.Writer) uint8 {
	return protocol.StatusOK
}

func svcGetSoftwareVersion(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	w.PutU32(uint32(len(e.cfg.SoftwareVersion)))
	w.PutBytes([]byte(e.cfg.SoftwareVersion))
	return protocol.StatusOK
}

func svcMessageBufferOverflow(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	overflowed, count := e.OverflowStatus()
	w.PutU8(boolByte(overflowed))
	w.PutU32(count)
	return protocol.StatusOK
}

func svcBufferOverflowNotification(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	_, count := e.OverflowStatus()
	w.PutU32(count)
	return protocol.StatusOK
}

func svcGetLogChannelNames(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	w.PutU8(uint8(len(e.channels)))
	for _, c := range e.channels {
		w.PutID(c.id)
	}
	return protocol.StatusOK
}

func svcGetTraceStatus(e *Engine, rd *codec.Reader, w *codec.Writer) uint8 {
	app, ctx := rd.ID(), rd.ID()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	res, err := e.reg.Lookup(app, ctx)
	if err != nil {
		return protocol.StatusError
	}
	w.PutU8(boolByte(res.Trace))
	return protocol.StatusOK
}

func svcSetLogChannelAssignment(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	app, ctx, name, add := rd.ID(), rd.ID(), rd.ID(), rd.U8()
	if rd.Err() != nil || add > 1 {
		return protocol.StatusError
	}
	c := e.channelByID(name)
	if c == nil {
		return protocol.StatusError
	}
	return statusOf(e.reg.AssignChannel(app, ctx, c.idx, add == 1))
}

func svcSetLogChannelThreshold(e *Engine, rd *codec.Reader, _ *codec.Writer) uint8 {
	name, level, trace := rd.ID(), rd.I8(), rd.U8()
	if rd.Err() != nil || trace > 1 {
		return protocol.StatusError
	}
	if protocol.LogLevel(level) < protocol.LogLevelOff || protocol.LogLevel(level) > protocol.LogLevelVerbose {
		return protocol.StatusError
	}
	c := e.channelByID(name)
	if c == nil {
		return protocol.StatusError
	}
	e.setThreshold(c, protocol.LogLevel(level), trace == 1)
	return protocol.StatusOK
}

func svcGetLogChannelThreshold(e *Engine, rd *codec.Reader, w *codec.Writer) uint8 {
	name := rd.ID()
	if rd.Err() != nil {
		return protocol.StatusError
	}
	c := e.channelByID(name)
	if c == nil {
		return protocol.StatusError
	}
	level, trace := e.threshold(c)
	w.PutI8(int8(level))
	w.PutU8(boolByte(trace))
	return protocol.StatusOK
}

// SyncTimeStamp answers with nanoseconds, then the 48-bit seconds split
// into a low 32-bit and a high 16-bit word.
func svcSyncTimeStamp(e *Engine, _ *codec.Reader, w *codec.Writer) uint8 {
	now := e.clock.Now()
	sec := uint64(now.Unix())
	w.PutU32(uint32(now.Nanosecond()))
	w.PutU32(uint32(sec))
	w.PutU16(uint16(sec >> 32))
	return protocol.StatusOK
}
