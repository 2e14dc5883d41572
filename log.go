package wgnt

import (
	"fmt"
	"time"
)

// AdapterLogging controls whether the driver emits log lines for an adapter
// and whether they carry the adapter name as a prefix.
type AdapterLogging uint32

const (
	AdapterLogOff AdapterLogging = iota
	AdapterLogOn
	AdapterLogOnWithPrefix
)

func (l AdapterLogging) String() string {
	switch l {
	case AdapterLogOff:
		return "off"
	case AdapterLogOn:
		return "on"
	case AdapterLogOnWithPrefix:
		return "on-with-prefix"
	default:
		return fmt.Sprintf("AdapterLogging(%d)", uint32(l))
	}
}

// Valid reports whether l is one of the levels the driver understands.
func (l AdapterLogging) Valid() bool {
	return l <= AdapterLogOnWithPrefix
}

// LogLevel is the severity the driver attaches to a log line.
type LogLevel uint32

const (
	LogInfo LogLevel = iota
	LogWarn
	LogErr
)

func (l LogLevel) String() string {
	switch l {
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogErr:
		return "error"
	default:
		return fmt.Sprintf("LogLevel(%d)", uint32(l))
	}
}

// LogRecord is one driver log line scoped to an adapter. Adapter is empty when
// the line could not be attributed.
type LogRecord struct {
	Adapter   string
	Level     LogLevel
	Timestamp uint64
	Message   string
}

// Offset between the FILETIME epoch (1601-01-01) and the Unix epoch, in 100ns ticks.
const fileTimeUnixOffset = 116444736000000000

// Time interprets Timestamp as a FILETIME value. The zero timestamp maps to the
// zero time.
func (r LogRecord) Time() time.Time {
	return FileTimeToTime(r.Timestamp)
}

// FileTimeToTime converts 100ns ticks since 1601-01-01 UTC into a time.Time.
func FileTimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	return time.Unix(0, (int64(ft)-fileTimeUnixOffset)*100).UTC()
}

// TimeToFileTime is the inverse of FileTimeToTime.
func TimeToFileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + fileTimeUnixOffset)
}

// DriverState is the driver-visible up/down state of an adapter.
type DriverState uint32

const (
	DriverStateDown DriverState = iota
	DriverStateUp
)

func (s DriverState) String() string {
	switch s {
	case DriverStateDown:
		return "down"
	case DriverStateUp:
		return "up"
	default:
		return fmt.Sprintf("DriverState(%d)", uint32(s))
	}
}
