package payoutd

import (
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/payoutd/build"
	"github.com/lightningnetwork/payoutd/chainfee"
	"github.com/lightningnetwork/payoutd/dispatch"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/bitcoind"
	"github.com/lightningnetwork/payoutd/ledger/merchant"
	"github.com/lightningnetwork/payoutd/liquidity"
	"github.com/lightningnetwork/payoutd/monitoring"
	"github.com/lightningnetwork/payoutd/reconcile"
	"github.com/lightningnetwork/payoutd/signal"
)

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger to the init function below.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling ValidateConfig.
var (
	// logWriter is the sink of the backend. Its File is set to the
	// rotating log writer once the log file has been opened.
	logWriter = &build.LogWriter{}

	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter)

	// subsystemLoggers maps each subsystem identifier to its associated
	// logger.
	subsystemLoggers = build.SubLoggers{}

	pydLog = addSubLogger("PYTD", nil)
)

// Initialize package-global logger variables.
func init() {
	addSubLogger(ledger.Subsystem, ledger.UseLogger)
	addSubLogger(bitcoind.Subsystem, bitcoind.UseLogger)
	addSubLogger(merchant.Subsystem, merchant.UseLogger)
	addSubLogger(dispatch.Subsystem, dispatch.UseLogger)
	addSubLogger(reconcile.Subsystem, reconcile.UseLogger)
	addSubLogger(liquidity.Subsystem, liquidity.UseLogger)
	addSubLogger(chainfee.Subsystem, chainfee.UseLogger)
	addSubLogger("MNTR", monitoring.UseLogger)
	addSubLogger(signal.Subsystem, signal.UseLogger)
}

// addSubLogger creates the logger of a subsystem, registers it and hands it
// to the package through useLogger, if given.
func addSubLogger(subsystem string,
	useLogger func(btclog.Logger)) btclog.Logger {

	logger := build.NewSubLogger(subsystem, backendLog.Logger)
	subsystemLoggers[subsystem] = logger

	if useLogger != nil {
		useLogger(logger)
	}

	return logger
}

// subLoggerManager exposes the registered subsystem loggers to
// build.ParseAndSetDebugLevels.
type subLoggerManager struct{}

// A compile-time check to ensure subLoggerManager implements the
// LeveledSubLogger interface.
var _ build.LeveledSubLogger = subLoggerManager{}

// SubLoggers returns all currently registered subsystem loggers.
func (subLoggerManager) SubLoggers() build.SubLoggers {
	return subsystemLoggers
}

// SupportedSubsystems returns a sorted list of the registered subsystems.
func (subLoggerManager) SupportedSubsystems() []string {
	return subsystemLoggers.SupportedSubsystems()
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func (subLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func (m subLoggerManager) SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		m.SetLogLevel(subsystemID, logLevel)
	}
}

// SetDebugLevel applies a debug level specification to the registered
// subsystem loggers. It is meant for tools embedding the wallet without
// going through ValidateConfig.
func SetDebugLevel(level string) error {
	return build.ParseAndSetDebugLevels(level, subLoggerManager{})
}
