// Package dispatch pays orders through an unreliable ledger without paying any
// order twice.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/monitoring"
)

const (
	// DefaultRetryTimeout is the time a payment is retried for before
	// ErrRetryTimeout is returned.
	DefaultRetryTimeout = 60 * time.Second

	// DefaultRetryInterval is the pause between a failed send and the
	// reconciliation that follows it.
	DefaultRetryInterval = 5 * time.Second
)

// Reconciler recognizes payments that were made by the ledger even though the
// send reported a failure.
type Reconciler interface {
	// Snapshot returns the transactions that already satisfy the order.
	Snapshot(ctx context.Context,
		order ledger.Order) (fn.Set[chainhash.Hash], error)

	// Diff returns the transactions that satisfy the order and are not
	// part of baseline, most recent first.
	Diff(ctx context.Context, order ledger.Order,
		baseline fn.Set[chainhash.Hash]) ([]chainhash.Hash, error)
}

// Config holds the dependencies and parameters of a Dispatcher.
type Config struct {
	// Ledger executes the sends.
	Ledger ledger.Ledger

	// Reconciler is consulted after every failed send.
	Reconciler Reconciler

	// Clock is the source of time for the retry deadline and pauses.
	Clock clock.Clock

	// Account is the account payments are sent from.
	Account string

	// MinConf is the confirmation threshold of the outputs a send may
	// spend.
	MinConf int32

	// RetryTimeout bounds the time spent on a single order.
	RetryTimeout time.Duration

	// RetryInterval is the pause between a failed send and the
	// reconciliation that follows it.
	RetryInterval time.Duration
}

// Dispatcher pays orders. A send that fails for any reason other than
// insufficient funds may still have been executed by the ledger, so before
// every retry the ledger's recent transactions are compared against a
// snapshot taken before the first attempt. A payment found that way is
// adopted instead of sending again.
//
// Orders are independent: Dispatch may be called concurrently and every call
// owns its own retry budget.
type Dispatcher struct {
	cfg Config
}

// New creates a Dispatcher, filling in defaults for unset parameters.
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Account == "" {
		cfg.Account = ledger.PoolAccount
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	return &Dispatcher{
		cfg: cfg,
	}
}

// Dispatch pays the order and returns the hash of the transaction that
// carries the payment. It returns ledger.ErrInsufficientFunds if the ledger
// refused the send, and ledger.ErrRetryTimeout if no payment could be made or
// recognized within the retry budget. Any other error means no further send
// was attempted after it occurred.
func (d *Dispatcher) Dispatch(ctx context.Context,
	order ledger.Order) (chainhash.Hash, error) {

	if err := order.Validate(); err != nil {
		return chainhash.Hash{}, err
	}

	hash, outcome, err := d.dispatch(ctx, order)
	monitoring.IncrementDispatchOutcome(outcome)

	return hash, err
}

// dispatch runs the send and reconcile loop and reports the outcome for the
// metrics.
func (d *Dispatcher) dispatch(ctx context.Context,
	order ledger.Order) (chainhash.Hash, string, error) {

	deadline := d.cfg.Clock.Now().Add(d.cfg.RetryTimeout)

	baseline, err := d.cfg.Reconciler.Snapshot(ctx, order)
	if err != nil {
		return chainhash.Hash{}, monitoring.OutcomeFailed, err
	}

	for attempt := 1; d.cfg.Clock.Now().Before(deadline); attempt++ {
		log.Debugf("Sending %v (attempt %d)", order, attempt)

		monitoring.IncrementSendAttempt()
		hash, err := d.cfg.Ledger.Send(
			ctx, d.cfg.Account, order.Address, order.Amount,
			d.cfg.MinConf,
		)
		switch {
		case err == nil:
			log.Infof("Paid %v in tx %v", order, hash)

			return hash, monitoring.OutcomeSent, nil

		case errors.Is(err, ledger.ErrInsufficientFunds):
			log.Warnf("Unable to pay %v from %v: %v", order,
				d.cfg.Account, err)

			return chainhash.Hash{},
				monitoring.OutcomeInsufficientFunds, err

		// Nothing was sent if the address could not be used.
		case errors.Is(err, ledger.ErrInvalidAddress):
			return chainhash.Hash{}, monitoring.OutcomeFailed, err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return chainhash.Hash{}, monitoring.OutcomeFailed, ctxErr
		}

		log.Warnf("Send of %v failed (attempt %d), reconciling in "+
			"%v: %v", order, attempt, d.cfg.RetryInterval, err)

		select {
		case <-d.cfg.Clock.TickAfter(d.cfg.RetryInterval):
		case <-ctx.Done():
			return chainhash.Hash{}, monitoring.OutcomeFailed,
				ctx.Err()
		}

		fresh, err := d.cfg.Reconciler.Diff(ctx, order, baseline)
		if err != nil {
			monitoring.IncrementReconcileResult(
				monitoring.ReconcileError,
			)

			return chainhash.Hash{}, monitoring.OutcomeFailed,
				fmt.Errorf("payment of %v is in an unknown "+
					"state: %w", order, err)
		}

		if len(fresh) == 0 {
			monitoring.IncrementReconcileResult(
				monitoring.ReconcileNone,
			)
			continue
		}

		monitoring.IncrementReconcileResult(monitoring.ReconcileFound)
		if len(fresh) > 1 {
			log.Warnf("Found %d new payments matching %v, "+
				"adopting %v and ignoring %v", len(fresh),
				order, fresh[0], fresh[1:])
		}

		log.Infof("Recognized payment of %v in tx %v after failed "+
			"send", order, fresh[0])

		return fresh[0], monitoring.OutcomeReconciled, nil
	}

	log.Errorf("Giving up on %v after %v", order, d.cfg.RetryTimeout)

	return chainhash.Hash{}, monitoring.OutcomeTimeout,
		ledger.ErrRetryTimeout
}
