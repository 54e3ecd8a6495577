//go:build !stdlog && !nolog
// +build !stdlog,!nolog

package build

import "os"

// LoggingType is a log type that writes to both stdout and the log file.
const LoggingType = LogTypeDefault

// Write writes the provided byte slice to stdout and, once it is set, to the
// log file.
func (w *LogWriter) Write(b []byte) (int, error) {
	_, _ = os.Stdout.Write(b)
	if w.File != nil {
		_, _ = w.File.Write(b)
	}

	return len(b), nil
}
