// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2020 The Lightning Network Developers

package payoutd

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/payoutd/build"
	"github.com/lightningnetwork/payoutd/ledger/bitcoind"
	"github.com/lightningnetwork/payoutd/walletcfg"
)

const (
	// DefaultConfigFilename is the default name of the configuration
	// file.
	DefaultConfigFilename = "payoutd.conf"

	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "payoutd.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	defaultBitcoindConfigFilename = "bitcoin.conf"

	// BackendBitcoind selects the bitcoind wallet RPC as the ledger.
	BackendBitcoind = "bitcoind"

	// BackendMerchant selects the HTTPS merchant API as the ledger.
	BackendMerchant = "merchant"
)

var (
	// DefaultPayoutDir is the default directory where payoutd tries to
	// find its configuration file and store its logs. This is a directory
	// in the user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Payoutd on Windows
	//   ~/.payoutd on Linux
	//   ~/Library/Application Support/Payoutd on MacOS
	DefaultPayoutDir = btcutil.AppDataDir("payoutd", false)

	// DefaultConfigFile is the default full path of payoutd's
	// configuration file.
	DefaultConfigFile = filepath.Join(DefaultPayoutDir, DefaultConfigFilename)

	defaultLogDir = filepath.Join(DefaultPayoutDir, defaultLogDirname)
)

// Config defines the configuration options for payoutd.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	PayoutDir  string `long:"payoutdir" description:"The base directory that contains payoutd's logs and configuration file"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`

	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	LogCompressor  string `long:"logcompressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Backend string `long:"backend" description:"The remote wallet payments are made through" choice:"bitcoind" choice:"merchant"`

	Bitcoind *walletcfg.Bitcoind `group:"bitcoind" namespace:"bitcoind"`

	Merchant *walletcfg.Merchant `group:"merchant" namespace:"merchant"`

	Split *walletcfg.Split `group:"split" namespace:"split"`

	Retry *walletcfg.Retry `group:"retry" namespace:"retry"`

	Monitor *walletcfg.Monitor `group:"monitor" namespace:"monitor"`

	Fee *walletcfg.Fee `group:"fee" namespace:"fee"`

	Prometheus *walletcfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	HealthChecks *walletcfg.HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`

	// LogWriter is the root logger that all of the daemon's subloggers
	// are hooked up to.
	LogWriter *build.RotatingLogWriter
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		PayoutDir:      DefaultPayoutDir,
		ConfigFile:     DefaultConfigFile,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		LogCompressor:  build.Gzip,
		DebugLevel:     defaultLogLevel,
		Backend:        BackendBitcoind,
		Bitcoind:       walletcfg.DefaultBitcoind(),
		Merchant:       walletcfg.DefaultMerchant(),
		Split:          walletcfg.DefaultSplit(),
		Retry:          walletcfg.DefaultRetry(),
		Monitor:        walletcfg.DefaultMonitor(),
		Fee:            walletcfg.DefaultFee(),
		Prometheus:     walletcfg.DefaultPrometheus(),
		HealthChecks:   walletcfg.DefaultHealthCheck(),
		LogWriter:      build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their payoutdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.PayoutDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultPayoutDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, DefaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration
	// is done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		pydLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// LoadConfigFile reads the configuration file at path on top of the
// defaults and validates the backend options. It is used by tools that need
// to reach the same ledger as the daemon without its logging setup.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := flags.IniParse(CleanAndExpandPath(path), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validateBackend(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, usageMessage string) (*Config, error) {
	// If the provided payout directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	payoutDir := CleanAndExpandPath(cfg.PayoutDir)
	if payoutDir != DefaultPayoutDir && cfg.LogDir == defaultLogDir {
		cfg.LogDir = filepath.Join(payoutDir, defaultLogDirname)
	}

	// Show a list of available subsystems and exit if "show" was
	// specified.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			subsystemLoggers.SupportedSubsystems())
		os.Exit(0)
	}

	funcName := "ValidateConfig"
	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf(funcName+": "+format, args...)
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.Bitcoind.Dir = CleanAndExpandPath(cfg.Bitcoind.Dir)
	cfg.Bitcoind.ConfigPath = CleanAndExpandPath(cfg.Bitcoind.ConfigPath)
	cfg.Bitcoind.RPCCookie = CleanAndExpandPath(cfg.Bitcoind.RPCCookie)

	if err := os.MkdirAll(payoutDir, 0700); err != nil {
		return nil, mkErr("failed to create payoutd directory: %v",
			err)
	}

	if err := cfg.validateBackend(); err != nil {
		return nil, mkErr("%v", err)
	}

	if !build.SupportedLogCompressor(cfg.LogCompressor) {
		return nil, mkErr("invalid value for --logcompressor: %v",
			cfg.LogCompressor)
	}

	// Initialize logging at the default logging level.
	err := cfg.LogWriter.InitLogRotator(
		filepath.Join(cfg.LogDir, defaultLogFilename),
		cfg.LogCompressor, cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, mkErr("log rotation setup failed: %v", err)
	}
	logWriter.File = cfg.LogWriter

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, subLoggerManager{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)
		return nil, mkErr("error parsing debug level: %v", err)
	}

	return &cfg, nil
}

// validateBackend checks the sub-configurations and resolves the
// credentials of the selected backend.
func (c *Config) validateBackend() error {
	err := walletcfg.Validate(
		c.Split, c.Retry, c.Monitor, c.Fee, c.Prometheus,
		c.HealthChecks,
	)
	if err != nil {
		return err
	}

	// A fixed split fee must describe a valid split right away. An
	// estimated one is checked once it is known.
	if c.Split.TxFee > 0 {
		if err := NewSplitParams(c.Split, 0).Validate(); err != nil {
			return err
		}
	}

	switch c.Backend {
	case BackendBitcoind:
		if err := c.Bitcoind.Validate(); err != nil {
			return err
		}

		return c.resolveBitcoindCredentials()

	case BackendMerchant:
		return c.Merchant.Validate()

	default:
		return fmt.Errorf("unknown backend: %v", c.Backend)
	}
}

// resolveBitcoindCredentials fills in the RPC credentials from bitcoin.conf
// unless they were given explicitly or a cookie file was configured.
func (c *Config) resolveBitcoindCredentials() error {
	conf := c.Bitcoind
	if conf.RPCCookie != "" || (conf.RPCUser != "" && conf.RPCPass != "") {
		return nil
	}

	params, err := conf.Params()
	if err != nil {
		return err
	}

	confPath := conf.ConfigPath
	if confPath == "" {
		confPath = filepath.Join(conf.Dir, defaultBitcoindConfigFilename)
	}

	conf.RPCUser, conf.RPCPass, err = bitcoind.ExtractRPCParams(
		params.Name, confPath,
	)
	if err != nil {
		return fmt.Errorf("unable to extract RPC credentials: %w, "+
			"cannot start w/o RPC connection", err)
	}

	return nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
