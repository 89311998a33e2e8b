package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgedlt/internal/engine"
	"github.com/danmuck/edgedlt/internal/protocol"
)

// fileConfig is the on-disk key mapping. Levels, trace states and debug
// modes are written by name.
type fileConfig struct {
	EcuID                     string        `toml:"ecu_id" yaml:"ecu_id"`
	SessionID                 uint32        `toml:"session_id" yaml:"session_id"`
	ReservedSessionID         uint32        `toml:"reserved_session_id" yaml:"reserved_session_id"`
	MaxApplications           int           `toml:"max_applications" yaml:"max_applications"`
	MaxContextsPerApplication int           `toml:"max_contexts_per_application" yaml:"max_contexts_per_application"`
	DefaultLogLevel           string        `toml:"default_log_level" yaml:"default_log_level"`
	DefaultTraceStatus        string        `toml:"default_trace_status" yaml:"default_trace_status"`
	UseEcuID                  bool          `toml:"use_ecu_id" yaml:"use_ecu_id"`
	UseSessionID              bool          `toml:"use_session_id" yaml:"use_session_id"`
	UseTimestamp              bool          `toml:"use_timestamp" yaml:"use_timestamp"`
	UseExtendedHeader         bool          `toml:"use_extended_header" yaml:"use_extended_header"`
	VerboseMode               bool          `toml:"verbose_mode" yaml:"verbose_mode"`
	MessageFiltering          bool          `toml:"message_filtering" yaml:"message_filtering"`
	TimeoutTicks              int           `toml:"timeout_ticks" yaml:"timeout_ticks"`
	OverflowSuppressTicks     int           `toml:"overflow_suppress_ticks" yaml:"overflow_suppress_ticks"`
	MaxFramesPerCycle         int           `toml:"max_frames_per_cycle" yaml:"max_frames_per_cycle"`
	BytesPerCycle             int           `toml:"bytes_per_cycle" yaml:"bytes_per_cycle"`
	ReceiveBufferSize         int           `toml:"receive_buffer_size" yaml:"receive_buffer_size"`
	SoftwareVersion           string        `toml:"software_version" yaml:"software_version"`
	ControlAppID              string        `toml:"control_app_id" yaml:"control_app_id"`
	ControlContextID          string        `toml:"control_context_id" yaml:"control_context_id"`
	DefaultChannel            string        `toml:"default_channel" yaml:"default_channel"`
	PersistencePath           string        `toml:"persistence_path" yaml:"persistence_path"`
	ListenAddr                string        `toml:"listen_addr" yaml:"listen_addr"`
	AdminAddr                 string        `toml:"admin_addr" yaml:"admin_addr"`
	CyclePeriod               string        `toml:"cycle_period" yaml:"cycle_period"`
	CorsOrigins               []string      `toml:"cors_origins" yaml:"cors_origins"`
	AdminToken                string        `toml:"admin_token,omitempty" yaml:"admin_token,omitempty"`
	Channels                  []channelFile `toml:"channels" yaml:"channels"`
	Contexts                  []contextFile `toml:"contexts,omitempty" yaml:"contexts,omitempty"`
}

// channelFile leaves unset sizes at the default channel's values.
type channelFile struct {
	Name           string `toml:"name" yaml:"name"`
	SendBuffer     *int   `toml:"send_buffer,omitempty" yaml:"send_buffer,omitempty"`
	ControlBuffer  *int   `toml:"control_buffer,omitempty" yaml:"control_buffer,omitempty"`
	MaxFrameLength *int   `toml:"max_frame_length,omitempty" yaml:"max_frame_length,omitempty"`
	Threshold      string `toml:"threshold,omitempty" yaml:"threshold,omitempty"`
	TraceStatus    *bool  `toml:"trace_status,omitempty" yaml:"trace_status,omitempty"`
	DebugMode      string `toml:"debug_mode,omitempty" yaml:"debug_mode,omitempty"`
}

type contextFile struct {
	AppID       string   `toml:"app_id" yaml:"app_id"`
	ContextID   string   `toml:"context_id" yaml:"context_id"`
	SessionID   uint32   `toml:"session_id,omitempty" yaml:"session_id,omitempty"`
	LogLevel    string   `toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	TraceStatus string   `toml:"trace_status,omitempty" yaml:"trace_status,omitempty"`
	Channels    []string `toml:"channels,omitempty" yaml:"channels,omitempty"`
}

// overlay copies every defined key of raw onto cfg.
func (raw fileConfig) overlay(cfg Config, defined func(string) bool) (Config, error) {
	e := &cfg.Engine
	d := &cfg.Daemon
	var err error

	if defined("ecu_id") {
		e.EcuID = strings.TrimSpace(raw.EcuID)
	}
	if defined("session_id") {
		d.SessionID = protocol.SessionID(raw.SessionID)
	}
	if defined("reserved_session_id") {
		e.ReservedSessionID = protocol.SessionID(raw.ReservedSessionID)
	}
	if defined("max_applications") {
		e.MaxApplications = raw.MaxApplications
	}
	if defined("max_contexts_per_application") {
		e.MaxContextsPerApplication = raw.MaxContextsPerApplication
	}
	if defined("default_log_level") {
		if e.DefaultLogLevel, err = protocol.ParseLogLevel(raw.DefaultLogLevel); err != nil {
			return Config{}, err
		}
	}
	if defined("default_trace_status") {
		if e.DefaultTraceStatus, err = protocol.ParseTraceStatus(raw.DefaultTraceStatus); err != nil {
			return Config{}, err
		}
	}
	if defined("use_ecu_id") {
		e.UseEcuID = raw.UseEcuID
	}
	if defined("use_session_id") {
		e.UseSessionID = raw.UseSessionID
	}
	if defined("use_timestamp") {
		e.UseTimestamp = raw.UseTimestamp
	}
	if defined("use_extended_header") {
		e.UseExtendedHeader = raw.UseExtendedHeader
	}
	if defined("verbose_mode") {
		e.VerboseMode = raw.VerboseMode
	}
	if defined("message_filtering") {
		e.MessageFiltering = raw.MessageFiltering
	}
	if defined("timeout_ticks") {
		e.TimeoutTicks = raw.TimeoutTicks
	}
	if defined("overflow_suppress_ticks") {
		e.OverflowSuppressTicks = raw.OverflowSuppressTicks
	}
	if defined("max_frames_per_cycle") {
		e.MaxFramesPerCycle = raw.MaxFramesPerCycle
	}
	if defined("bytes_per_cycle") {
		e.BytesPerCycle = raw.BytesPerCycle
	}
	if defined("receive_buffer_size") {
		e.ReceiveBufferSize = raw.ReceiveBufferSize
	}
	if defined("software_version") {
		e.SoftwareVersion = raw.SoftwareVersion
	}
	if defined("control_app_id") {
		e.ControlAppID = strings.TrimSpace(raw.ControlAppID)
	}
	if defined("control_context_id") {
		e.ControlContextID = strings.TrimSpace(raw.ControlContextID)
	}
	if defined("persistence_path") {
		d.PersistencePath = strings.TrimSpace(raw.PersistencePath)
	}
	if defined("listen_addr") {
		d.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if defined("admin_addr") {
		d.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("cycle_period") {
		if d.CyclePeriod, err = time.ParseDuration(strings.TrimSpace(raw.CyclePeriod)); err != nil {
			return Config{}, fmt.Errorf("cycle_period: %w", err)
		}
	}
	if defined("cors_origins") {
		d.CorsOrigins = raw.CorsOrigins
	}
	if defined("admin_token") {
		d.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if defined("channels") {
		base := engine.DefaultConfig().Channels[0]
		e.Channels = make([]engine.ChannelConfig, 0, len(raw.Channels))
		for i, ch := range raw.Channels {
			cc, err := ch.channel(base)
			if err != nil {
				return Config{}, fmt.Errorf("channels[%d]: %w", i, err)
			}
			e.Channels = append(e.Channels, cc)
		}
	}
	if defined("default_channel") {
		name := strings.TrimSpace(raw.DefaultChannel)
		e.DefaultChannel = -1
		for i, ch := range e.Channels {
			if ch.Name == name {
				e.DefaultChannel = i
			}
		}
		if e.DefaultChannel < 0 {
			return Config{}, fmt.Errorf("default_channel %q is not a configured channel", name)
		}
	}
	if defined("contexts") {
		e.Contexts = make([]engine.ContextConfig, 0, len(raw.Contexts))
		for i, c := range raw.Contexts {
			cc, err := c.context()
			if err != nil {
				return Config{}, fmt.Errorf("contexts[%d]: %w", i, err)
			}
			e.Contexts = append(e.Contexts, cc)
		}
	}
	return cfg, nil
}

func (ch channelFile) channel(base engine.ChannelConfig) (engine.ChannelConfig, error) {
	cc := base
	cc.Name = strings.TrimSpace(ch.Name)
	if ch.SendBuffer != nil {
		cc.SendBuffer = *ch.SendBuffer
	}
	if ch.ControlBuffer != nil {
		cc.ControlBuffer = *ch.ControlBuffer
	}
	if ch.MaxFrameLength != nil {
		cc.MaxFrameLength = *ch.MaxFrameLength
	}
	if ch.TraceStatus != nil {
		cc.TraceStatus = *ch.TraceStatus
	}
	var err error
	if ch.Threshold != "" {
		if cc.Threshold, err = protocol.ParseLogLevel(ch.Threshold); err != nil {
			return engine.ChannelConfig{}, err
		}
	}
	if cc.DebugMode, err = engine.ParseDebugMode(ch.DebugMode); err != nil {
		return engine.ChannelConfig{}, err
	}
	return cc, nil
}

func (c contextFile) context() (engine.ContextConfig, error) {
	cc := engine.ContextConfig{
		AppID:       strings.TrimSpace(c.AppID),
		ContextID:   strings.TrimSpace(c.ContextID),
		SessionID:   protocol.SessionID(c.SessionID),
		LogLevel:    protocol.LogLevelDefault,
		TraceStatus: protocol.TraceStatusDefault,
		Channels:    c.Channels,
	}
	var err error
	if c.LogLevel != "" {
		if cc.LogLevel, err = protocol.ParseLogLevel(c.LogLevel); err != nil {
			return engine.ContextConfig{}, err
		}
	}
	if c.TraceStatus != "" {
		if cc.TraceStatus, err = protocol.ParseTraceStatus(c.TraceStatus); err != nil {
			return engine.ContextConfig{}, err
		}
	}
	return cc, nil
}

// fileFrom is the inverse of overlay, used to render templates.
func fileFrom(cfg Config) fileConfig {
	e, d := cfg.Engine, cfg.Daemon
	raw := fileConfig{
		EcuID:                     e.EcuID,
		SessionID:                 uint32(d.SessionID),
		ReservedSessionID:         uint32(e.ReservedSessionID),
		MaxApplications:           e.MaxApplications,
		MaxContextsPerApplication: e.MaxContextsPerApplication,
		DefaultLogLevel:           e.DefaultLogLevel.String(),
		DefaultTraceStatus:        e.DefaultTraceStatus.String(),
		UseEcuID:                  e.UseEcuID,
		UseSessionID:              e.UseSessionID,
		UseTimestamp:              e.UseTimestamp,
		UseExtendedHeader:         e.UseExtendedHeader,
		VerboseMode:               e.VerboseMode,
		MessageFiltering:          e.MessageFiltering,
		TimeoutTicks:              e.TimeoutTicks,
		OverflowSuppressTicks:     e.OverflowSuppressTicks,
		MaxFramesPerCycle:         e.MaxFramesPerCycle,
		BytesPerCycle:             e.BytesPerCycle,
		ReceiveBufferSize:         e.ReceiveBufferSize,
		SoftwareVersion:           e.SoftwareVersion,
		ControlAppID:              e.ControlAppID,
		ControlContextID:          e.ControlContextID,
		PersistencePath:           d.PersistencePath,
		ListenAddr:                d.ListenAddr,
		AdminAddr:                 d.AdminAddr,
		CyclePeriod:               d.CyclePeriod.String(),
		CorsOrigins:               d.CorsOrigins,
		AdminToken:                d.AdminToken,
	}
	if e.DefaultChannel >= 0 && e.DefaultChannel < len(e.Channels) {
		raw.DefaultChannel = e.Channels[e.DefaultChannel].Name
	}
	for _, ch := range e.Channels {
		ch := ch
		raw.Channels = append(raw.Channels, channelFile{
			Name:           ch.Name,
			SendBuffer:     &ch.SendBuffer,
			ControlBuffer:  &ch.ControlBuffer,
			MaxFrameLength: &ch.MaxFrameLength,
			Threshold:      ch.Threshold.String(),
			TraceStatus:    &ch.TraceStatus,
			DebugMode:      ch.DebugMode.String(),
		})
	}
	for _, c := range e.Contexts {
		raw.Contexts = append(raw.Contexts, contextFile{
			AppID:       c.AppID,
			ContextID:   c.ContextID,
			SessionID:   uint32(c.SessionID),
			LogLevel:    c.LogLevel.String(),
			TraceStatus: c.TraceStatus.String(),
			Channels:    c.Channels,
		})
	}
	return raw
}
