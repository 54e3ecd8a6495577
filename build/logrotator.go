package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

const (
	// Gzip is the default compressor for rolled log files.
	Gzip = "gzip"

	// Zstd is the zstandard compressor for rolled log files.
	Zstd = "zstd"
)

// logCompressors maps each supported compressor to its file suffix.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor returns whether or not logCompressor is a supported
// compression algorithm for log files.
func SupportedLogCompressor(logCompressor string) bool {
	_, ok := logCompressors[logCompressor]
	return ok
}

// RotatingLogWriter writes log lines into a size-rotated file. It is meant to
// be set as the File of a LogWriter.
type RotatingLogWriter struct {
	pipe    *io.PipeWriter
	rotator *rotator.Rotator
}

// NewRotatingLogWriter creates a writer that discards everything until
// InitLogRotator has been called.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// InitLogRotator opens logFile, creating its directory if needed, and rolls
// it every maxSizeMB megabytes, keeping at most maxFiles compressed rolls.
// Close must be called on shutdown.
func (r *RotatingLogWriter) InitLogRotator(logFile, compressor string,
	maxSizeMB, maxFiles int) error {

	if !SupportedLogCompressor(compressor) {
		return fmt.Errorf("unknown log compressor: %v", compressor)
	}

	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	var err error
	r.rotator, err = rotator.New(
		logFile, int64(maxSizeMB*1024), false, maxFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	var c rotator.Compressor
	switch compressor {
	case Gzip:
		c = gzip.NewWriter(nil)

	case Zstd:
		c, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("failed to create zstd "+
				"compressor: %w", err)
		}
	}
	r.rotator.SetCompressor(c, logCompressors[compressor])

	// Run the rotator on the read end of a pipe so that a failure to roll
	// the file at runtime (full disk, permissions) gets reported.
	pr, pw := io.Pipe()
	go func() {
		if err := r.rotator.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr,
				"failed to run file rotator: %v\n", err)
		}
	}()
	r.pipe = pw

	return nil
}

// Write feeds the byte slice to the log rotator, if present.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.pipe != nil {
		return r.pipe.Write(b)
	}

	return len(b), nil
}

// Close closes the underlying log rotator if it has already been created.
func (r *RotatingLogWriter) Close() error {
	if r.pipe != nil {
		_ = r.pipe.Close()
	}

	if r.rotator != nil {
		return r.rotator.Close()
	}

	return nil
}
