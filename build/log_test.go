package build

import (
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

// levelRecorder is a LeveledSubLogger that remembers the levels assigned to
// each subsystem.
type levelRecorder struct {
	loggers SubLoggers
	levels  map[string]string
}

func newLevelRecorder(subsystems ...string) *levelRecorder {
	r := &levelRecorder{
		loggers: make(SubLoggers),
		levels:  make(map[string]string),
	}
	for _, s := range subsystems {
		r.loggers[s] = btclog.Disabled
	}

	return r
}

func (r *levelRecorder) SubLoggers() SubLoggers {
	return r.loggers
}

func (r *levelRecorder) SupportedSubsystems() []string {
	return r.loggers.SupportedSubsystems()
}

func (r *levelRecorder) SetLogLevel(subsystemID string, logLevel string) {
	r.levels[subsystemID] = logLevel
}

func (r *levelRecorder) SetLogLevels(logLevel string) {
	for s := range r.loggers {
		r.levels[s] = logLevel
	}
}

// TestParseAndSetDebugLevels checks the global and per-subsystem forms of
// the debug level specification.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    string
		expected map[string]string
		err      bool
	}{
		{
			name:  "global level",
			level: "debug",
			expected: map[string]string{
				"DSPT": "debug",
				"RCNL": "debug",
			},
		},
		{
			name:  "global then subsystem",
			level: "info,DSPT=trace",
			expected: map[string]string{
				"DSPT": "trace",
				"RCNL": "info",
			},
		},
		{
			name:  "subsystem only",
			level: "RCNL=warn",
			expected: map[string]string{
				"RCNL": "warn",
			},
		},
		{
			name:  "bad global level",
			level: "loud",
			err:   true,
		},
		{
			name:  "unknown subsystem",
			level: "info,XXXX=debug",
			err:   true,
		},
		{
			name:  "bad pair",
			level: "info,DSPT=debug=trace",
			err:   true,
		},
		{
			name:  "bad subsystem level",
			level: "DSPT=verbose",
			err:   true,
		},
		{
			name:  "empty",
			level: "",
			err:   true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			recorder := newLevelRecorder("DSPT", "RCNL")
			err := ParseAndSetDebugLevels(test.level, recorder)
			if test.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, recorder.levels)
		})
	}
}

// TestNewSubLoggerDisabled asserts that a missing logger constructor yields
// the disabled logger.
func TestNewSubLoggerDisabled(t *testing.T) {
	if Deployment == Development && LoggingType == LogTypeStdOut {
		t.Skip("stdout logging compiled in")
	}

	require.Equal(t, btclog.Disabled, NewSubLogger("TEST", nil))
}

// TestSupportedLogCompressor checks the known compressor names.
func TestSupportedLogCompressor(t *testing.T) {
	require.True(t, SupportedLogCompressor(Gzip))
	require.True(t, SupportedLogCompressor(Zstd))
	require.False(t, SupportedLogCompressor("bzip2"))
}
