package liquidity

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/monitoring"
)

// AccountSplitter splits a funded account balance.
type AccountSplitter interface {
	// Params returns the split parameters, which determine the funding
	// threshold.
	Params() SplitParams

	// Split moves balance out of sourceAccount and returns the hashes of
	// the transactions issued.
	Split(ctx context.Context, sourceAccount string,
		balance btcutil.Amount) ([]chainhash.Hash, error)
}

// MonitorConfig holds the dependencies of an AccountMonitor.
type MonitorConfig struct {
	// Ledger answers the balance queries.
	Ledger ledger.Ledger

	// Splitter is run on every account found funded.
	Splitter AccountSplitter

	// Observer receives the events. It may be nil.
	Observer Observer

	// LowLatency counts unconfirmed funds in balances and deposits.
	LowLatency bool
}

// AccountMonitor polls account balances and deposit addresses. It keeps no
// state between polls.
type AccountMonitor struct {
	cfg MonitorConfig
}

// NewAccountMonitor creates an AccountMonitor.
func NewAccountMonitor(cfg MonitorConfig) *AccountMonitor {
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	return &AccountMonitor{
		cfg: cfg,
	}
}

// minConf returns the confirmation threshold of balance queries.
func (m *AccountMonitor) minConf() int32 {
	if m.cfg.LowLatency {
		return ledger.LowLatencyMinConf
	}

	return ledger.ConfirmedMinConf
}

// Poll fetches the balance of account. If it has reached the split
// threshold, a Funded event is emitted, the whole balance is split and a
// SplitCompleted event is emitted. The returned flag reports whether a split
// was completed.
func (m *AccountMonitor) Poll(ctx context.Context,
	account string) (btcutil.Amount, bool, error) {

	balance, err := m.cfg.Ledger.Balance(ctx, account, m.minConf())
	if err != nil {
		return 0, false, fmt.Errorf("unable to fetch balance of %v: %w",
			account, err)
	}
	monitoring.SetAccountBalance(account, balance)

	epsilon := m.cfg.Splitter.Params().Epsilon()
	if balance < epsilon {
		log.Tracef("Balance of %v is %v, below split threshold %v",
			account, balance, epsilon)

		return balance, false, nil
	}

	log.Infof("Account %v funded with %v", account, balance)
	monitoring.IncrementFunded(account)
	m.cfg.Observer.Notify(Funded{
		Account: account,
		Balance: balance,
	})

	hashes, err := m.cfg.Splitter.Split(ctx, account, balance)
	if err != nil {
		if len(hashes) > 0 {
			log.Errorf("Split of %v aborted after issuing %v: %v",
				account, hashes, err)
		}

		return balance, false, fmt.Errorf("unable to split %v: %w",
			account, err)
	}

	m.cfg.Observer.Notify(SplitCompleted{
		Account: account,
		TxRefs:  hashes,
	})

	return balance, true, nil
}

// CheckDeposit fetches the amount received at address and emits a
// DepositReceived event if it is not zero.
func (m *AccountMonitor) CheckDeposit(ctx context.Context,
	address string) (btcutil.Amount, error) {

	received, err := m.cfg.Ledger.ReceivedAt(ctx, address, m.minConf())
	if err != nil {
		return 0, fmt.Errorf("unable to check deposit at %v: %w",
			address, err)
	}

	if received == 0 {
		return 0, nil
	}

	log.Infof("Deposit of %v received at %v", received, address)
	monitoring.IncrementDeposit()
	m.cfg.Observer.Notify(DepositReceived{
		Address: address,
		Amount:  received,
	})

	return received, nil
}
