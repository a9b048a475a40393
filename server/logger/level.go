package logger

import "strings"

// Level is the logging level.
type Level int

const (
	// LevelUnknown is the zero value, used when a level is not configured.
	LevelUnknown Level = iota
	LevelDisabled
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	case LevelDisabled:
		return "disabled"
	case LevelUnknown:
		fallthrough
	default:
		return "unknown"
	}
}

// NewLevelFromString parses a level name. Unrecognized names result in
// LevelUnknown.
func NewLevelFromString(level string) Level {
	switch strings.ToLower(level) {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	case "disabled", "none", "-1":
		return LevelDisabled
	default:
		return LevelUnknown
	}
}
