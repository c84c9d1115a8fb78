// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package chainweave

import (
	"fmt"
	"io"
	"os"

	"github.com/decred/slog"
)

// Every orchestrator and service constructor accepts a Logger. All logging
// should take place through the provided logger.
type Logger = slog.Logger

// Disabled is a Logger that produces no output. Packages default to Disabled
// until a caller installs a real logger.
var Disabled = slog.Disabled

// Log levels re-exported for callers that configure loggers without importing
// slog directly.
const (
	LevelTrace    = slog.LevelTrace
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelWarn     = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.LevelCritical
	LevelOff      = slog.LevelOff
)

// LoggerMaker allows creation of new log subsystems with predefined levels.
type LoggerMaker struct {
	*slog.Backend
	DefaultLevel slog.Level
	Levels       map[string]slog.Level
}

// NewLoggerMaker creates a LoggerMaker writing to w. lvl sets the default
// level for all subsystems.
func NewLoggerMaker(w io.Writer, lvl slog.Level) *LoggerMaker {
	return &LoggerMaker{
		Backend:      slog.NewBackend(w),
		DefaultLevel: lvl,
		Levels:       make(map[string]slog.Level),
	}
}

// Logger creates a new Logger for the subsystem with the given name, set to
// the DefaultLevel, or the level registered for the name if there is one.
func (lm *LoggerMaker) Logger(name string) Logger {
	lvl, ok := lm.Levels[name]
	if !ok {
		lvl = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(name)
	logger.SetLevel(lvl)
	return logger
}

// SubLogger creates a Logger with a subsystem name "parent[name]", using any
// known log level for the parent subsystem, defaulting to the DefaultLevel if
// the parent does not have an explicitly set level.
func (lm *LoggerMaker) SubLogger(parent, name string) Logger {
	lvl, ok := lm.Levels[parent]
	if !ok {
		lvl = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(fmt.Sprintf("%s[%s]", parent, name))
	logger.SetLevel(lvl)
	return logger
}

// StdOutLogger creates a Logger with the provided level that writes to
// standard out. Mostly useful in tests.
func StdOutLogger(name string, lvl slog.Level) Logger {
	logger := slog.NewBackend(os.Stdout).Logger(name)
	logger.SetLevel(lvl)
	return logger
}
