package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLogLevel accepts a level name ("info", "verbose", "default") or its
// numeric value.
func ParseLogLevel(raw string) (LogLevel, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for l := LogLevelDefault; l <= LogLevelVerbose; l++ {
		if l.String() == v {
			return l, nil
		}
	}
	if v == "warning" {
		return LogLevelWarn, nil
	}
	if n, err := strconv.Atoi(v); err == nil && LogLevel(n).Valid() {
		return LogLevel(n), nil
	}
	return LogLevelDefault, fmt.Errorf("%w: log level %q", ErrUnknownLevel, raw)
}

func (s TraceStatus) String() string {
	switch s {
	case TraceStatusDefault:
		return "default"
	case TraceStatusOff:
		return "off"
	case TraceStatusOn:
		return "on"
	default:
		return "invalid"
	}
}

// ParseTraceStatus accepts "on", "off", "default" or -1/0/1.
func ParseTraceStatus(raw string) (TraceStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "default", "-1":
		return TraceStatusDefault, nil
	case "off", "0", "false":
		return TraceStatusOff, nil
	case "on", "1", "true":
		return TraceStatusOn, nil
	}
	return TraceStatusDefault, fmt.Errorf("%w: trace status %q", ErrUnknownLevel, raw)
}
