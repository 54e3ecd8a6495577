package payoutd

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/payoutd/build"
	"github.com/lightningnetwork/payoutd/chainfee"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/bitcoind"
	"github.com/lightningnetwork/payoutd/ledger/merchant"
	"github.com/lightningnetwork/payoutd/liquidity"
	"github.com/lightningnetwork/payoutd/monitoring"
	"github.com/lightningnetwork/payoutd/signal"
)

// Main is the true entry point for payoutd. It builds the wallet from cfg,
// starts polling and blocks until the interceptor requests a shutdown.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		pydLog.Info("Shutdown complete")
		if err := cfg.LogWriter.Close(); err != nil {
			pydLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	pydLog.Infof("Version: %s, backend=%s", build.Version(), cfg.Backend)
	pydLog.Debugf("Active configuration: %v", newLogClosure(func() string {
		return spew.Sdump(cfg.Split, cfg.Retry, cfg.Monitor)
	}))

	wallet, cleanup, err := NewWalletFromConfig(cfg, nil)
	if err != nil {
		return fmt.Errorf("unable to create wallet: %w", err)
	}
	defer cleanup()

	if cfg.Prometheus.Enabled() {
		lis, err := monitoring.ExportPrometheusMetrics(cfg.Prometheus)
		if err != nil {
			return fmt.Errorf("unable to export metrics: %w", err)
		}
		defer lis.Close()
	}

	// Create a monitor that requests a shutdown once the ledger stopped
	// answering balance queries.
	var checks []*healthcheck.Observation
	if hc := cfg.HealthChecks.Ledger; hc.Attempts > 0 {
		checks = append(checks, healthcheck.NewObservation(
			"ledger", ledgerCheck(wallet.Ledger()), hc.Interval,
			hc.Timeout, hc.Backoff, hc.Attempts,
		))
	}
	healthMonitor := healthcheck.NewMonitor(&healthcheck.Config{
		Checks: checks,
		Shutdown: func(format string, params ...interface{}) {
			pydLog.Criticalf("Health check: "+format, params...)
			interceptor.RequestShutdown()
		},
	})
	if err := healthMonitor.Start(); err != nil {
		return fmt.Errorf("unable to start health monitor: %w", err)
	}
	defer func() {
		if err := healthMonitor.Stop(); err != nil {
			pydLog.Errorf("Unable to stop health monitor: %v", err)
		}
	}()

	if err := wallet.Start(); err != nil {
		return fmt.Errorf("unable to start wallet: %w", err)
	}
	defer func() {
		if err := wallet.Stop(); err != nil {
			pydLog.Errorf("Unable to stop wallet: %v", err)
		}
	}()

	pydLog.Infof("Polling %d account(s) and %d deposit address(es) "+
		"every %v", len(cfg.Monitor.Accounts), len(cfg.Monitor.Deposits),
		wallet.PollInterval())

	<-interceptor.ShutdownChannel()

	return nil
}

// NewWalletFromConfig builds the ledger selected by cfg.Backend and the
// Wallet on top of it. If no fixed split fee is configured a fee estimator
// is started and kept running, and the fee of one split transaction is
// re-derived from it before every split decision. The returned cleanup
// function stops the estimator and releases the ledger connection.
func NewWalletFromConfig(cfg *Config,
	observer liquidity.Observer) (*Wallet, func(), error) {

	l, cleanup, err := newLedger(cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		fee      btcutil.Amount
		splitFee func() (btcutil.Amount, error)
	)
	if cfg.Split.TxFee == 0 {
		estimator, err := startEstimator(cfg, l)
		if err != nil {
			cleanup()
			return nil, nil, err
		}

		closeLedger := cleanup
		cleanup = func() {
			if err := estimator.Stop(); err != nil {
				pydLog.Errorf("Unable to stop fee estimator: %v",
					err)
			}
			closeLedger()
		}

		splitFee = func() (btcutil.Amount, error) {
			return chainfee.SplitTxFee(
				estimator, uint32(cfg.Split.FeeConfTarget),
				cfg.Split.OutputsPerTx,
			)
		}

		// The first estimate also serves as the fee while later
		// estimates fail.
		fee, err = splitFee()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("unable to estimate split "+
				"fee: %w", err)
		}

		pydLog.Infof("Estimated split transaction fee: %v", fee)
	}

	params := NewSplitParams(cfg.Split, fee)
	if err := params.Validate(); err != nil {
		cleanup()
		return nil, nil, err
	}

	wallet, err := NewWallet(WalletConfig{
		Ledger:   l,
		Retry:    cfg.Retry,
		Split:    params,
		SplitFee: splitFee,
		Monitor:  cfg.Monitor,
		Observer: observer,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return wallet, cleanup, nil
}

// newLedger creates the ledger of the configured backend.
func newLedger(cfg *Config) (ledger.Ledger, func(), error) {
	switch cfg.Backend {
	case BackendBitcoind:
		params, err := cfg.Bitcoind.Params()
		if err != nil {
			return nil, nil, err
		}

		l, err := bitcoind.New(bitcoind.Config{
			Host:       cfg.Bitcoind.RPCHost,
			User:       cfg.Bitcoind.RPCUser,
			Pass:       cfg.Bitcoind.RPCPass,
			CookiePath: cfg.Bitcoind.RPCCookie,
			Params:     params,
			Timeout:    cfg.Bitcoind.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}

		return l, l.Stop, nil

	case BackendMerchant:
		l, err := merchant.New(merchant.Config{
			Host:          cfg.Merchant.Host,
			GUID:          cfg.Merchant.GUID,
			Password:      cfg.Merchant.Password,
			Timeout:       cfg.Merchant.Timeout,
			RateLimit:     cfg.Merchant.RateLimit,
			Burst:         cfg.Merchant.Burst,
			TLSSkipVerify: cfg.Merchant.TLSSkipVerify,
		})
		if err != nil {
			return nil, nil, err
		}

		return l, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend: %v", cfg.Backend)
	}
}

// newEstimator picks the fee estimator: the web API if a fee URL is set,
// else bitcoind's estimatesmartfee for the bitcoind backend, else the
// static fallback rate.
func newEstimator(cfg *Config, l ledger.Ledger) (chainfee.Estimator, error) {
	fallback := chainfee.SatPerKVByte(cfg.Fee.FallbackFeeRate)

	if cfg.Fee.URL != "" {
		return chainfee.NewWebAPIEstimator(chainfee.WebAPIConfig{
			Source: &chainfee.SparseConfFeeSource{
				URL: cfg.Fee.URL,
			},
			DefaultFee:       fallback,
			MinUpdateTimeout: cfg.Fee.MinUpdateTimeout,
			MaxUpdateTimeout: cfg.Fee.MaxUpdateTimeout,
		})
	}

	if b, ok := l.(*bitcoind.Ledger); ok {
		return chainfee.NewBitcoindEstimator(
			b.Client(), cfg.Bitcoind.EstimateMode, fallback,
		), nil
	}

	return chainfee.NewStaticEstimator(fallback), nil
}

// startEstimator creates and starts the fee estimator selected by cfg.
func startEstimator(cfg *Config, l ledger.Ledger) (chainfee.Estimator, error) {
	estimator, err := newEstimator(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("unable to create fee estimator: %w", err)
	}

	if err := estimator.Start(); err != nil {
		return nil, fmt.Errorf("unable to start fee estimator: %w", err)
	}

	return estimator, nil
}

// ledgerCheck returns a health check that queries the pool balance.
func ledgerCheck(l ledger.Ledger) func() error {
	return func() error {
		_, err := l.Balance(
			context.Background(), ledger.PoolAccount,
			ledger.LowLatencyMinConf,
		)

		return err
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
