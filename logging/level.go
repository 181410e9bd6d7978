package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is a log severity.
type Level int

const (
	// DEBUG is for per-sample detail.
	DEBUG Level = iota - 1
	// INFO is the default level.
	INFO
	// WARN is used for locally recovered data problems.
	WARN
	// ERROR is used for failures surfaced to the caller.
	ERROR
)

// AsZap converts the level to its zapcore equivalent.
func (level Level) AsZap() zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case INFO:
		fallthrough
	default:
		return zapcore.InfoLevel
	}
}

func (level Level) String() string {
	switch level {
	case DEBUG:
		return "Debug"
	case WARN:
		return "Warn"
	case ERROR:
		return "Error"
	case INFO:
		fallthrough
	default:
		return "Info"
	}
}

// LevelFromString parses a case-insensitive level name.
func LevelFromString(inp string) (Level, error) {
	switch strings.ToLower(inp) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return DEBUG, errors.Errorf("unknown log level: %q", inp)
}

func levelFromZap(level zapcore.Level) Level {
	switch level {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.InfoLevel:
		return INFO
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel, zapcore.InvalidLevel:
		return ERROR
	default:
		return ERROR
	}
}
