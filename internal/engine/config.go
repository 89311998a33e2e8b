package engine

import (
	"fmt"
	"strings"

	"github.com/danmuck/edgedlt/internal/protocol"
	"github.com/danmuck/edgedlt/internal/protocol/frame"
)

// DebugMode selects how a channel releases its SendBuffer.
type DebugMode uint8

const (
	// DebugOff transmits buffered frames as soon as the lower layer allows.
	DebugOff DebugMode = iota
	// DebugStore holds frames until TriggerDebugEvent releases them.
	DebugStore
	// DebugSendOnOverflow stores like DebugStore; an overflow releases.
	DebugSendOnOverflow
)

func (m DebugMode) String() string {
	switch m {
	case DebugOff:
		return "off"
	case DebugStore:
		return "store"
	case DebugSendOnOverflow:
		return "send_on_overflow"
	default:
		return "invalid"
	}
}

// ParseDebugMode accepts the names produced by DebugMode.String.
func ParseDebugMode(raw string) (DebugMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off":
		return DebugOff, nil
	case "store":
		return DebugStore, nil
	case "send_on_overflow", "overflow":
		return DebugSendOnOverflow, nil
	default:
		return DebugOff, fmt.Errorf("%w: unknown debug mode %q", ErrInvalidConfig, raw)
	}
}

// ChannelConfig is the fixed shape of one log channel plus the initial value
// of its mutable fields.
type ChannelConfig struct {
	// Name is the up to 4 byte channel identifier used by control services.
	Name           string
	SendBuffer     int
	ControlBuffer  int
	MaxFrameLength int
	Threshold      protocol.LogLevel
	TraceStatus    bool
	DebugMode      DebugMode
}

// ContextConfig pre-registers a built-in producer at Init.
type ContextConfig struct {
	AppID       string
	ContextID   string
	SessionID   protocol.SessionID
	LogLevel    protocol.LogLevel
	TraceStatus protocol.TraceStatus
	// Channels lists channel names; empty binds the default channel.
	Channels []string
}

// Config is the static engine configuration.
type Config struct {
	EcuID                     string
	ReservedSessionID         protocol.SessionID
	MaxApplications           int
	MaxContextsPerApplication int
	DefaultLogLevel           protocol.LogLevel
	DefaultTraceStatus        protocol.TraceStatus

	UseEcuID          bool
	UseSessionID      bool
	UseTimestamp      bool
	UseExtendedHeader bool
	VerboseMode       bool
	MessageFiltering  bool

	// TimeoutTicks is the number of Drive cycles a channel may go without a
	// positive transmit confirmation before its buffers are cleared. Zero
	// disables the timeout.
	TimeoutTicks int
	// OverflowSuppressTicks delays the overflow notification after the
	// first overflow of a burst.
	OverflowSuppressTicks int
	MaxFramesPerCycle     int
	// BytesPerCycle caps the bytes handed to the lower layer per channel and
	// cycle; zero means unlimited.
	BytesPerCycle     int
	ReceiveBufferSize int

	SoftwareVersion  string
	ControlAppID     string
	ControlContextID string
	DefaultChannel   int

	Channels []ChannelConfig
	Contexts []ContextConfig
}

// DefaultConfig returns a single-channel configuration suitable for a
// development ECU.
func DefaultConfig() Config {
	return Config{
		EcuID:                     "ECU1",
		ReservedSessionID:         0,
		MaxApplications:           16,
		MaxContextsPerApplication: 8,
		DefaultLogLevel:           protocol.LogLevelInfo,
		DefaultTraceStatus:        protocol.TraceStatusOff,
		UseEcuID:                  true,
		UseSessionID:              true,
		UseTimestamp:              true,
		UseExtendedHeader:         true,
		VerboseMode:               true,
		MessageFiltering:          true,
		TimeoutTicks:              100,
		OverflowSuppressTicks:     10,
		MaxFramesPerCycle:         32,
		BytesPerCycle:             0,
		ReceiveBufferSize:         512,
		SoftwareVersion:           "edgedlt 0.1.0",
		ControlAppID:              "DA1",
		ControlContextID:          "DC1",
		DefaultChannel:            0,
		Channels: []ChannelConfig{
			{
				Name:           "CH1",
				SendBuffer:     8192,
				ControlBuffer:  1024,
				MaxFrameLength: 1024,
				Threshold:      protocol.LogLevelVerbose,
				TraceStatus:    true,
				DebugMode:      DebugOff,
			},
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if len(c.EcuID) == 0 || len(c.EcuID) > 4 {
		return fmt.Errorf("%w: ecu_id must be 1-4 bytes", ErrInvalidConfig)
	}
	if c.MaxApplications < 1 || c.MaxApplications > 0xFFFF {
		return fmt.Errorf("%w: max_applications out of range", ErrInvalidConfig)
	}
	if c.MaxContextsPerApplication < 1 || c.MaxContextsPerApplication > 0xFFFF {
		return fmt.Errorf("%w: max_contexts_per_application out of range", ErrInvalidConfig)
	}
	if c.DefaultLogLevel < protocol.LogLevelOff || c.DefaultLogLevel > protocol.LogLevelVerbose {
		return fmt.Errorf("%w: default_log_level out of range", ErrInvalidConfig)
	}
	if c.DefaultTraceStatus != protocol.TraceStatusOff && c.DefaultTraceStatus != protocol.TraceStatusOn {
		return fmt.Errorf("%w: default_trace_status must be 0 or 1", ErrInvalidConfig)
	}
	if c.TimeoutTicks < 0 || c.OverflowSuppressTicks < 0 || c.MaxFramesPerCycle < 0 || c.BytesPerCycle < 0 {
		return fmt.Errorf("%w: negative cycle limit", ErrInvalidConfig)
	}
	if c.ReceiveBufferSize <= frame.StandardHeaderLen+frame.ExtendedHeaderLen+4 {
		return fmt.Errorf("%w: receive_buffer_size too small", ErrInvalidConfig)
	}
	if len(c.ControlAppID) == 0 || len(c.ControlAppID) > 4 || len(c.ControlContextID) == 0 || len(c.ControlContextID) > 4 {
		return fmt.Errorf("%w: control ids must be 1-4 bytes", ErrInvalidConfig)
	}
	if len(c.Channels) == 0 || len(c.Channels) > 255 {
		return fmt.Errorf("%w: need 1-255 channels", ErrInvalidConfig)
	}
	if c.DefaultChannel < 0 || c.DefaultChannel >= len(c.Channels) || c.DefaultChannel >= maxChannels {
		return fmt.Errorf("%w: default_channel out of range", ErrInvalidConfig)
	}
	if len(c.Channels) > maxChannels {
		return fmt.Errorf("%w: at most %d channels", ErrInvalidConfig, maxChannels)
	}

	names := make(map[string]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		if len(ch.Name) == 0 || len(ch.Name) > 4 {
			return fmt.Errorf("%w: channels[%d] name must be 1-4 bytes", ErrInvalidConfig, i)
		}
		if _, dup := names[ch.Name]; dup {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidConfig, ch.Name)
		}
		names[ch.Name] = struct{}{}
		if ch.MaxFrameLength < frame.StandardHeaderLen || ch.MaxFrameLength > frame.MaxLen {
			return fmt.Errorf("%w: channels[%d] max_frame_length out of range", ErrInvalidConfig, i)
		}
		if ch.SendBuffer <= ch.MaxFrameLength || ch.ControlBuffer <= frame.StandardHeaderLen {
			return fmt.Errorf("%w: channels[%d] buffers too small", ErrInvalidConfig, i)
		}
		if ch.Threshold < protocol.LogLevelOff || ch.Threshold > protocol.LogLevelVerbose {
			return fmt.Errorf("%w: channels[%d] threshold out of range", ErrInvalidConfig, i)
		}
		if ch.DebugMode > DebugSendOnOverflow {
			return fmt.Errorf("%w: channels[%d] invalid debug mode", ErrInvalidConfig, i)
		}
	}

	if len(c.Contexts) > c.MaxApplications*c.MaxContextsPerApplication {
		return fmt.Errorf("%w: more contexts than registry slots", ErrInvalidConfig)
	}
	for i, ctx := range c.Contexts {
		if len(ctx.AppID) == 0 || len(ctx.AppID) > 4 || len(ctx.ContextID) == 0 || len(ctx.ContextID) > 4 {
			return fmt.Errorf("%w: contexts[%d] ids must be 1-4 bytes", ErrInvalidConfig, i)
		}
		if !ctx.LogLevel.Valid() || !ctx.TraceStatus.Valid() {
			return fmt.Errorf("%w: contexts[%d] level or trace out of range", ErrInvalidConfig, i)
		}
		for _, name := range ctx.Channels {
			if _, ok := names[name]; !ok {
				return fmt.Errorf("%w: contexts[%d] unknown channel %q", ErrInvalidConfig, i, name)
			}
		}
	}
	return nil
}

func (c Config) channelIndex(name string) int {
	for i, ch := range c.Channels {
		if ch.Name == name {
			return i
		}
	}
	return -1
}
