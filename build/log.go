package build

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
)

// LogType is an indicating the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs to both stdout and the rotating log file.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// LogWriter is the sink shared by every subsystem logger. Its Write method is
// selected by the "stdlog" and "nolog" build tags: the default writes to
// stdout and the log file, "stdlog" only to stdout and "nolog" drops
// everything.
type LogWriter struct {
	// File receives a copy of every log line when the default logging
	// type is compiled in. It is usually a *RotatingLogWriter and may be
	// nil until the log file has been opened.
	File io.Writer
}

// NewSubLogger returns the logger for the given subsystem. Production builds
// and the default logging type use genSubLogger, which normally is the
// Logger method of the daemon's log backend. Development builds compiled
// with the stdlog tag get a standalone stdout logger so that unit tests show
// their output. A nil genSubLogger yields a disabled logger.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if Deployment == Development && LoggingType == LogTypeStdOut {
		return newStdoutLogger(subsystem)
	}

	if LoggingType == LogTypeNone || genSubLogger == nil {
		return btclog.Disabled
	}

	return genSubLogger(subsystem)
}

// newStdoutLogger creates a logger with its own backend that writes to
// stdout at the build's configured level.
func newStdoutLogger(subsystem string) btclog.Logger {
	backend := btclog.NewBackend(&LogWriter{})
	logger := backend.Logger(subsystem)

	level, ok := btclog.LevelFromString(LogLevel)
	if !ok {
		level = btclog.LevelInfo
	}
	logger.SetLevel(level)

	return logger
}

// SubLoggers is a type that holds a map of subsystem loggers keyed by their
// subsystem name.
type SubLoggers map[string]btclog.Logger

// SupportedSubsystems returns the sorted subsystem names of the map.
func (s SubLoggers) SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(s))
	for subsysID := range s {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)

	return subsystems
}

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() SubLoggers

	// SupportedSubsystems returns a sorted slice of the subsystem names.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// ParseAndSetDebugLevels parses a debug level specification and applies it
// to the given logger. The specification is either a single level applied to
// every subsystem, or a comma separated list of subsystem=level pairs,
// optionally preceded by a global level ("info,DSPT=debug").
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	levels := strings.Split(level, ",")
	if len(levels) == 0 || levels[0] == "" {
		return fmt.Errorf("invalid log level: %v", level)
	}

	// A leading entry without "=" is the level for all subsystems.
	if globalLevel := levels[0]; !strings.Contains(globalLevel, "=") {
		if !validLogLevel(globalLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", globalLevel)
		}

		logger.SetLogLevels(globalLevel)
		levels = levels[1:]
	}

	subLoggers := logger.SubLoggers()
	for _, pair := range levels {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"subsystem1=level1,subsystem2=level2", pair)
		}

		subsysID, logLevel := fields[0], fields[1]
		if _, ok := subLoggers[subsysID]; !ok {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems are %v",
				subsysID, logger.SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		logger.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical", "off":
		return true
	}

	return false
}
