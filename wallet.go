package payoutd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/payoutd/dispatch"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/liquidity"
	"github.com/lightningnetwork/payoutd/reconcile"
	"github.com/lightningnetwork/payoutd/walletcfg"
)

// WalletConfig holds the dependencies and parameters of a Wallet.
type WalletConfig struct {
	// Ledger is the remote wallet all operations go through.
	Ledger ledger.Ledger

	// Clock paces payment retries. It defaults to the system clock.
	Clock clock.Clock

	// Retry is the retry budget of a payment.
	Retry *walletcfg.Retry

	// Split determines when and how funded accounts are split.
	Split liquidity.SplitParams

	// SplitFee, if set, re-derives Split.TxFee before every split
	// decision, typically from a running fee estimator.
	SplitFee func() (btcutil.Amount, error)

	// Monitor selects the polled accounts and the confirmation mode.
	Monitor *walletcfg.Monitor

	// Observer receives the funding and deposit events. It may be nil.
	Observer liquidity.Observer

	// Ticker paces the polling rounds. It defaults to a ticker firing
	// every Monitor.PollInterval.
	Ticker ticker.Ticker
}

// Wallet is the entry point for the operations of the payout daemon. It pays
// orders out of the pool account, answers balance and deposit queries and
// keeps the pool topped up by splitting funded accounts into it.
type Wallet struct {
	cfg WalletConfig

	ledger     ledger.Ledger
	dispatcher *dispatch.Dispatcher
	monitor    *liquidity.AccountMonitor
	scheduler  *liquidity.Scheduler
}

// NewWallet wires a Wallet around its ledger.
func NewWallet(cfg WalletConfig) (*Wallet, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger must be set")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Retry == nil {
		cfg.Retry = walletcfg.DefaultRetry()
	}
	if cfg.Monitor == nil {
		cfg.Monitor = walletcfg.DefaultMonitor()
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(cfg.Monitor.PollInterval)
	}

	l := ledger.WithLogging("wallet", cfg.Ledger)

	minConf := ledger.ConfirmedMinConf
	if cfg.Monitor.LowLatency {
		minConf = ledger.LowLatencyMinConf
	}

	splitter, err := liquidity.NewSplitter(liquidity.SplitterConfig{
		Ledger:      l,
		Params:      cfg.Split,
		MinConf:     minConf,
		FeeEstimate: cfg.SplitFee,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid split parameters: %w", err)
	}

	reconciler := reconcile.New(reconcile.Config{
		Ledger:        l,
		Clock:         cfg.Clock,
		PageSize:      cfg.Retry.PageSize,
		RetryTimeout:  cfg.Retry.Timeout,
		RetryInterval: cfg.Retry.Interval,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Ledger:        l,
		Reconciler:    reconciler,
		Clock:         cfg.Clock,
		MinConf:       minConf,
		RetryTimeout:  cfg.Retry.Timeout,
		RetryInterval: cfg.Retry.Interval,
	})

	monitor := liquidity.NewAccountMonitor(liquidity.MonitorConfig{
		Ledger:     l,
		Splitter:   splitter,
		Observer:   cfg.Observer,
		LowLatency: cfg.Monitor.LowLatency,
	})

	scheduler := liquidity.NewScheduler(liquidity.SchedulerConfig{
		Monitor:  monitor,
		Accounts: cfg.Monitor.Accounts,
		Ticker:   cfg.Ticker,
	})
	for _, addr := range cfg.Monitor.Deposits {
		scheduler.WatchDeposit(addr)
	}

	return &Wallet{
		cfg:        cfg,
		ledger:     l,
		dispatcher: dispatcher,
		monitor:    monitor,
		scheduler:  scheduler,
	}, nil
}

// Start launches the periodic polling of the configured accounts and
// deposit addresses.
func (w *Wallet) Start() error {
	return w.scheduler.Start()
}

// Stop halts the polling.
func (w *Wallet) Stop() error {
	return w.scheduler.Stop()
}

// minConf returns the confirmation threshold of balance queries.
func (w *Wallet) minConf() int32 {
	if w.cfg.Monitor.LowLatency {
		return ledger.LowLatencyMinConf
	}

	return ledger.ConfirmedMinConf
}

// SendCoins pays amt to address out of the pool account. A payment whose
// outcome is unknown after a failed send is looked up before it is retried,
// so an address is never paid twice for one call.
func (w *Wallet) SendCoins(ctx context.Context, address string,
	amt btcutil.Amount) (chainhash.Hash, error) {

	return w.dispatcher.Dispatch(ctx, ledger.Order{
		Address: address,
		Amount:  amt,
	})
}

// Balance returns the balance of account at the configured confirmation
// threshold.
func (w *Wallet) Balance(ctx context.Context,
	account string) (btcutil.Amount, error) {

	return w.ledger.Balance(ctx, account, w.minConf())
}

// NewAddress creates a fresh address in account.
func (w *Wallet) NewAddress(ctx context.Context,
	account string) (string, error) {

	return w.ledger.NewAddress(ctx, account)
}

// CheckDeposit returns the amount received at address.
func (w *Wallet) CheckDeposit(ctx context.Context,
	address string) (btcutil.Amount, error) {

	return w.monitor.CheckDeposit(ctx, address)
}

// WatchDeposit adds address to the deposit addresses checked on every
// polling round.
func (w *Wallet) WatchDeposit(address string) {
	w.scheduler.WatchDeposit(address)
}

// MonitorAccount polls account once, splitting it into the pool if it is
// funded. The returned flag reports whether a split was completed.
func (w *Wallet) MonitorAccount(ctx context.Context,
	account string) (btcutil.Amount, bool, error) {

	return w.monitor.Poll(ctx, account)
}

// ListTransactions returns the most recent transactions involving address.
func (w *Wallet) ListTransactions(ctx context.Context, address string,
	limit int) ([]ledger.Transaction, error) {

	return w.ledger.ListTransactions(ctx, address, limit)
}

// Ledger returns the ledger the wallet operates on.
func (w *Wallet) Ledger() ledger.Ledger {
	return w.ledger
}

// PollInterval returns the interval between two polling rounds.
func (w *Wallet) PollInterval() time.Duration {
	return w.cfg.Monitor.PollInterval
}

// NewSplitParams converts the split options into split parameters. If no
// fixed fee is configured, estimatedFee is used as the fee of one split
// transaction.
func NewSplitParams(cfg *walletcfg.Split,
	estimatedFee btcutil.Amount) liquidity.SplitParams {

	fee := btcutil.Amount(cfg.TxFee)
	if fee == 0 {
		fee = estimatedFee
	}

	return liquidity.SplitParams{
		MaxBlockInterval: cfg.MaxBlockInterval,
		TxPerMinute:      cfg.TxPerMinute,
		OutputsPerTx:     cfg.OutputsPerTx,
		TxFee:            fee,
	}
}
