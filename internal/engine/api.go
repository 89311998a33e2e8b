package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/registry"
)

// Flag is a runtime-switchable engine setting.
type Flag uint8

const (
	FlagEcuID Flag = iota
	FlagSessionID
	FlagTimestamp
	FlagExtendedHeader
	FlagVerboseMode
	FlagMessageFiltering
)

func (f Flag) String() string {
	switch f {
	case FlagEcuID:
		return "use_ecu_id"
	case FlagSessionID:
		return "use_session_id"
	case FlagTimestamp:
		return "use_timestamp"
	case FlagExtendedHeader:
		return "use_extended_header"
	case FlagVerboseMode:
		return "verbose_mode"
	case FlagMessageFiltering:
		return "message_filtering"
	default:
		return "invalid"
	}
}

// ParseFlag maps a flag name as printed by String back to the Flag.
func ParseFlag(raw string) (Flag, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for f := FlagEcuID; f <= FlagMessageFiltering; f++ {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown flag %q", ErrInvalidArgument, raw)
}

func (o *headerOptions) field(f Flag) *bool {
	switch f {
	case FlagEcuID:
		return &o.useEcuID
	case FlagSessionID:
		return &o.useSessionID
	case FlagTimestamp:
		return &o.useTimestamp
	case FlagExtendedHeader:
		return &o.useExtendedHeader
	case FlagVerboseMode:
		return &o.verbose
	case FlagMessageFiltering:
		return &o.filtering
	default:
		return nil
	}
}

// ContextInfo is one GetLogInfo entry with effective values.
type ContextInfo struct {
	ContextID   protocol.ID
	LogLevel    protocol.LogLevel
	TraceStatus protocol.TraceStatus
	Channels    uint32
	Description string
}

// AppInfo groups the contexts of one application.
type AppInfo struct {
	AppID       protocol.ID
	Contexts    []ContextInfo
	Description string
}

// apiErr reports argument errors to the sink. Protocol outcomes pass
// through unreported.
func (e *Engine) apiErr(api string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrInvalidValue), errors.Is(err, registry.ErrInvalidID):
		return e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: %w", ErrInvalidArgument, err))
	case errors.Is(err, registry.ErrInvalidChannel):
		return e.contract(api, CodeInvalidChannel, fmt.Errorf("%w: %w", ErrInvalidChannel, err))
	default:
		return err
	}
}

// RegisterContext adds a runtime producer context in the lowest free slot.
func (e *Engine) RegisterContext(r Registration) error {
	const api = "RegisterContext"
	if err := e.ready(api); err != nil {
		return err
	}
	slot, err := e.reg.Register(registry.Registration{
		SessionID:   r.SessionID,
		AppID:       r.AppID,
		ContextID:   r.ContextID,
		LogLevel:    protocol.LogLevelDefault,
		TraceStatus: protocol.TraceStatusDefault,
	})
	if err != nil {
		return e.apiErr(api, err)
	}
	e.log.Debug().
		Str("app_id", r.AppID.String()).
		Str("context_id", r.ContextID.String()).
		Uint32("session_id", uint32(r.SessionID)).
		Int("app_slot", slot.App).
		Int("context_slot", slot.Ctx).
		Msg("context registered")
	return nil
}

// SetLogLevel updates every context matching the filters; zero ids are
// wildcards and -1 restores tracking of the default.
func (e *Engine) SetLogLevel(app, ctx protocol.ID, level protocol.LogLevel) error {
	const api = "SetLogLevel"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.apiErr(api, e.reg.SetOption(app, ctx, registry.OptionLogLevel, int8(level)))
}

// SetTraceStatus is SetLogLevel for the trace status.
func (e *Engine) SetTraceStatus(app, ctx protocol.ID, status protocol.TraceStatus) error {
	const api = "SetTraceStatus"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.apiErr(api, e.reg.SetOption(app, ctx, registry.OptionTraceStatus, int8(status)))
}

// TraceStatus returns the effective trace status of one context.
func (e *Engine) TraceStatus(app, ctx protocol.ID) (protocol.TraceStatus, error) {
	const api = "TraceStatus"
	if err := e.ready(api); err != nil {
		return protocol.TraceStatusOff, err
	}
	res, err := e.reg.Lookup(app, ctx)
	if err != nil {
		return protocol.TraceStatusOff, err
	}
	return traceOf(res.Trace), nil
}

// GetLogInfo lists matching contexts grouped by application in slot order.
func (e *Engine) GetLogInfo(app, ctx protocol.ID) ([]AppInfo, error) {
	const api = "GetLogInfo"
	if err := e.ready(api); err != nil {
		return nil, err
	}
	apps := e.logInfo(app, ctx)
	if len(apps) == 0 {
		return nil, ErrNoMatchingContext
	}
	return apps, nil
}

func (e *Engine) logInfo(app, ctx protocol.ID) []AppInfo {
	var apps []AppInfo
	for _, res := range e.reg.Match(app, ctx) {
		if len(apps) == 0 || apps[len(apps)-1].AppID != res.AppID {
			apps = append(apps, AppInfo{AppID: res.AppID})
		}
		last := &apps[len(apps)-1]
		last.Contexts = append(last.Contexts, ContextInfo{
			ContextID:   res.ContextID,
			LogLevel:    res.Level,
			TraceStatus: traceOf(res.Trace),
			Channels:    res.Channels,
		})
	}
	return apps
}

func traceOf(on bool) protocol.TraceStatus {
	if on {
		return protocol.TraceStatusOn
	}
	return protocol.TraceStatusOff
}

func (e *Engine) DefaultLogLevel() (protocol.LogLevel, error) {
	if err := e.ready("DefaultLogLevel"); err != nil {
		return protocol.LogLevelOff, err
	}
	level, _ := e.reg.Defaults()
	return level, nil
}

func (e *Engine) DefaultTraceStatus() (protocol.TraceStatus, error) {
	if err := e.ready("DefaultTraceStatus"); err != nil {
		return protocol.TraceStatusOff, err
	}
	_, trace := e.reg.Defaults()
	return trace, nil
}

func (e *Engine) SetDefaultLogLevel(level protocol.LogLevel) error {
	const api = "SetDefaultLogLevel"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.apiErr(api, e.reg.SetDefaultLogLevel(level))
}

func (e *Engine) SetDefaultTraceStatus(status protocol.TraceStatus) error {
	const api = "SetDefaultTraceStatus"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.apiErr(api, e.reg.SetDefaultTraceStatus(status))
}

// SetFlag switches a header option, verbose mode or global filtering.
func (e *Engine) SetFlag(f Flag, on bool) error {
	const api = "SetFlag"
	if err := e.ready(api); err != nil {
		return err
	}
	e.optMu.Lock()
	defer e.optMu.Unlock()
	p := e.opts.field(f)
	if p == nil {
		return e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: flag %d", ErrInvalidArgument, f))
	}
	*p = on
	return nil
}

func (e *Engine) Flag(f Flag) (bool, error) {
	const api = "Flag"
	if err := e.ready(api); err != nil {
		return false, err
	}
	opts := e.options()
	p := opts.field(f)
	if p == nil {
		return false, e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: flag %d", ErrInvalidArgument, f))
	}
	return *p, nil
}

// ChannelNames returns the configured channel names in channel order.
func (e *Engine) ChannelNames() []string {
	names := make([]string, len(e.cfg.Channels))
	for i, ch := range e.cfg.Channels {
		names[i] = ch.Name
	}
	return names
}

func (e *Engine) channelAt(api string, ch int) (*channel, error) {
	if ch < 0 || ch >= len(e.channels) {
		return nil, e.contract(api, CodeInvalidChannel, fmt.Errorf("%w: %d", ErrInvalidChannel, ch))
	}
	return e.channels[ch], nil
}

func (e *Engine) channelByID(id protocol.ID) *channel {
	for _, c := range e.channels {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (e *Engine) namedChannel(api, name string) (*channel, error) {
	if c := e.channelByID(protocol.MakeID(name)); c != nil && len(name) <= 4 {
		return c, nil
	}
	return nil, e.contract(api, CodeInvalidChannel, fmt.Errorf("%w: %q", ErrInvalidChannel, name))
}

// SetChannelThreshold sets the log level threshold and trace status of one
// channel.
func (e *Engine) SetChannelThreshold(name string, level protocol.LogLevel, trace bool) error {
	const api = "SetChannelThreshold"
	if err := e.ready(api); err != nil {
		return err
	}
	c, err := e.namedChannel(api, name)
	if err != nil {
		return err
	}
	if level < protocol.LogLevelOff || level > protocol.LogLevelVerbose {
		return e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: threshold %d", ErrInvalidArgument, level))
	}
	e.setThreshold(c, level, trace)
	return nil
}

func (e *Engine) setThreshold(c *channel, level protocol.LogLevel, trace bool) {
	e.txMu.Lock()
	c.threshold = level
	c.traceOn = trace
	e.txMu.Unlock()
}

func (e *Engine) ChannelThreshold(name string) (protocol.LogLevel, bool, error) {
	const api = "ChannelThreshold"
	if err := e.ready(api); err != nil {
		return protocol.LogLevelOff, false, err
	}
	c, err := e.namedChannel(api, name)
	if err != nil {
		return protocol.LogLevelOff, false, err
	}
	level, trace := e.threshold(c)
	return level, trace, nil
}

func (e *Engine) threshold(c *channel) (protocol.LogLevel, bool) {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	return c.threshold, c.traceOn
}

// AssignChannel adds or removes a channel for every matching context.
func (e *Engine) AssignChannel(app, ctx protocol.ID, name string, add bool) error {
	const api = "AssignChannel"
	if err := e.ready(api); err != nil {
		return err
	}
	c, err := e.namedChannel(api, name)
	if err != nil {
		return err
	}
	return e.apiErr(api, e.reg.AssignChannel(app, ctx, c.idx, add))
}

// SetDebugMode changes the channel's debug policy. The SendBuffer is
// cleared on every change.
func (e *Engine) SetDebugMode(name string, mode DebugMode) error {
	const api = "SetDebugMode"
	if err := e.ready(api); err != nil {
		return err
	}
	c, err := e.namedChannel(api, name)
	if err != nil {
		return err
	}
	if mode > DebugSendOnOverflow {
		return e.contract(api, CodeInvalidArgument, fmt.Errorf("%w: debug mode %d", ErrInvalidArgument, mode))
	}
	e.txMu.Lock()
	c.debugMode = mode
	e.txMu.Unlock()
	e.dispatch(c, EventDebugModeChanged)
	return nil
}

// TriggerDebugEvent releases the frames a debug-mode channel has stored.
// Under DebugStore new frames are refused until the SendBuffer has drained.
// Under DebugSendOnOverflow the channel keeps sending immediately until the
// mode changes.
func (e *Engine) TriggerDebugEvent(name string) error {
	const api = "TriggerDebugEvent"
	if err := e.ready(api); err != nil {
		return err
	}
	c, err := e.namedChannel(api, name)
	if err != nil {
		return err
	}
	e.txMu.Lock()
	if c.debugMode != DebugOff && !c.send.IsEmpty() {
		c.debugEvent = true
	}
	e.txMu.Unlock()
	return nil
}

func (e *Engine) SoftwareVersion() string {
	return e.cfg.SoftwareVersion
}

// OverflowStatus reports whether any channel overflowed and the total
// number of discarded frames.
func (e *Engine) OverflowStatus() (bool, uint32) {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	var total uint32
	for _, c := range e.channels {
		total += c.overflowCount
	}
	return total > 0, total
}

// ResetToFactoryDefault restores configured values for every context,
// channel and flag, clears all buffers and invalidates the stored snapshot.
func (e *Engine) ResetToFactoryDefault() error {
	const api = "ResetToFactoryDefault"
	if err := e.ready(api); err != nil {
		return err
	}
	return e.resetToFactoryDefault()
}

func (e *Engine) resetToFactoryDefault() error {
	e.reg.Reset()
	e.optMu.Lock()
	e.opts = optionsFromConfig(e.cfg)
	e.optMu.Unlock()
	e.txMu.Lock()
	for _, c := range e.channels {
		c.resetMutable()
		c.clearAll()
	}
	e.txMu.Unlock()
	e.log.Info().Msg("factory defaults restored")
	if e.store == nil {
		return nil
	}
	if err := e.store.Invalidate(); err != nil {
		return fmt.Errorf("engine: invalidate snapshot: %w", err)
	}
	return nil
}
