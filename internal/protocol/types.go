package protocol

// ID is a 4-byte DLT identifier (ECU, application, context).
type ID [4]byte

// SessionID identifies the producer session of a frame.
type SessionID uint32

// MakeID builds an identifier from s, copying at most 4 bytes and stopping at
// the first zero byte. Unused bytes stay zero.
func MakeID(s string) ID {
	var id ID
	for i := 0; i < len(id) && i < len(s); i++ {
		if s[i] == 0 {
			break
		}
		id[i] = s[i]
	}
	return id
}

// IsWildcard reports whether id is the all-zero wildcard.
func (id ID) IsWildcard() bool {
	return id == ID{}
}

// String renders the identifier without trailing zero padding.
func (id ID) String() string {
	n := 0
	for n < len(id) && id[n] != 0 {
		n++
	}
	return string(id[:n])
}

// LogLevel is the DLT log severity. Higher values are more verbose.
type LogLevel int8

const (
	LogLevelDefault LogLevel = -1
	LogLevelOff     LogLevel = 0
	LogLevelFatal   LogLevel = 1
	LogLevelError   LogLevel = 2
	LogLevelWarn    LogLevel = 3
	LogLevelInfo    LogLevel = 4
	LogLevelDebug   LogLevel = 5
	LogLevelVerbose LogLevel = 6
)

// Valid reports whether l is a concrete level or the default sentinel.
func (l LogLevel) Valid() bool {
	return l >= LogLevelDefault && l <= LogLevelVerbose
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDefault:
		return "default"
	case LogLevelOff:
		return "off"
	case LogLevelFatal:
		return "fatal"
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelVerbose:
		return "verbose"
	default:
		return "invalid"
	}
}

// TraceStatus gates application/network trace forwarding. -1 tracks the
// current default.
type TraceStatus int8

const (
	TraceStatusDefault TraceStatus = -1
	TraceStatusOff     TraceStatus = 0
	TraceStatusOn      TraceStatus = 1
)

func (s TraceStatus) Valid() bool {
	return s >= TraceStatusDefault && s <= TraceStatusOn
}

// MessageKind is the MSTP field of the extended header.
type MessageKind uint8

const (
	KindLog      MessageKind = 0x0
	KindAppTrace MessageKind = 0x1
	KindNwTrace  MessageKind = 0x2
	KindControl  MessageKind = 0x3
)

// Control message type info (MTIN when MSTP is control).
const (
	ControlRequest  uint8 = 0x1
	ControlResponse uint8 = 0x2
)

// Service ids of the control protocol.
const (
	ServiceSetLogLevel                uint32 = 0x01
	ServiceSetTraceStatus             uint32 = 0x02
	ServiceGetLogInfo                 uint32 = 0x03
	ServiceGetDefaultLogLevel         uint32 = 0x04
	ServiceStoreConfiguration         uint32 = 0x05
	ServiceResetToFactoryDefault      uint32 = 0x06
	ServiceSetVerboseMode             uint32 = 0x09
	ServiceSetMessageFiltering        uint32 = 0x0A
	ServiceGetLocalTime               uint32 = 0x0C
	ServiceUseECUID                   uint32 = 0x0D
	ServiceUseSessionID               uint32 = 0x0E
	ServiceUseTimestamp               uint32 = 0x0F
	ServiceUseExtendedHeader          uint32 = 0x10
	ServiceSetDefaultLogLevel         uint32 = 0x11
	ServiceSetDefaultTraceStatus      uint32 = 0x12
	ServiceGetSoftwareVersion         uint32 = 0x13
	ServiceMessageBufferOverflow      uint32 = 0x14
	ServiceGetDefaultTraceStatus      uint32 = 0x15
	ServiceGetLogChannelNames         uint32 = 0x17
	ServiceGetVerboseModeStatus       uint32 = 0x19
	ServiceGetMessageFilteringStatus  uint32 = 0x1A
	ServiceGetUseECUID                uint32 = 0x1B
	ServiceGetUseSessionID            uint32 = 0x1C
	ServiceGetUseTimestamp            uint32 = 0x1D
	ServiceGetUseExtendedHeader       uint32 = 0x1E
	ServiceGetTraceStatus             uint32 = 0x1F
	ServiceSetLogChannelAssignment    uint32 = 0x20
	ServiceSetLogChannelThreshold     uint32 = 0x21
	ServiceGetLogChannelThreshold     uint32 = 0x22
	ServiceBufferOverflowNotification uint32 = 0x23
	ServiceSyncTimeStamp              uint32 = 0x24
	ServiceLastStandard               uint32 = ServiceSyncTimeStamp
	ServiceInjectionThreshold         uint32 = 0xFFF
)

// Response status codes.
const (
	StatusOK           uint8 = 0x00
	StatusNotSupported uint8 = 0x01
	StatusError        uint8 = 0x02
)

// GetLogInfo response statuses beyond the generic ones.
const (
	LogInfoNoMatchingContext uint8 = 0x08
	LogInfoOverflow          uint8 = 0x09
)
