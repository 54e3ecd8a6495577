// Package reconcile recognizes payments that the ledger executed even though
// the request that created them appeared to fail.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/payoutd/ledger"
)

const (
	// DefaultPageSize is the number of most recent transactions of an
	// address that are inspected.
	DefaultPageSize = 10

	// DefaultRetryTimeout is the time a lookup is retried for before the
	// last failure is surfaced.
	DefaultRetryTimeout = 60 * time.Second

	// DefaultRetryInterval is the pause between two lookup attempts.
	DefaultRetryInterval = 5 * time.Second
)

// Config holds the dependencies and parameters of a Reconciler.
type Config struct {
	// Ledger is queried for the recent transactions of an address.
	Ledger ledger.Ledger

	// Clock is the source of time for retry deadlines and pauses.
	Clock clock.Clock

	// PageSize is the number of most recent transactions inspected.
	PageSize int

	// RetryTimeout bounds the time spent retrying a failed lookup.
	RetryTimeout time.Duration

	// RetryInterval is the pause between two lookup attempts.
	RetryInterval time.Duration
}

// Reconciler finds the ledger transactions that satisfy an order. A payment is
// recognized by an output that pays exactly the order's amount to the order's
// address; comparing the matches seen before the first send with those seen
// after a failed one reveals a payment the ledger made without reporting it.
//
// A Reconciler keeps no state between calls and is safe for concurrent use.
type Reconciler struct {
	cfg Config
}

// New creates a Reconciler, filling in defaults for unset parameters.
func New(cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	return &Reconciler{
		cfg: cfg,
	}
}

// Snapshot returns the set of transactions that already satisfy the order.
// It is taken before the first send so that later matches can be told apart
// from older payments of the same amount to the same address.
func (r *Reconciler) Snapshot(ctx context.Context,
	order ledger.Order) (fn.Set[chainhash.Hash], error) {

	txns, err := r.fetch(ctx, order.Address)
	if err != nil {
		return nil, fmt.Errorf("unable to snapshot %v: %w", order, err)
	}

	matches := Matching(order, txns)

	log.Debugf("Snapshot of %v holds %d matching transaction(s)", order,
		len(matches))

	return fn.NewSet(matches...), nil
}

// Diff returns the transactions satisfying the order that are not part of
// baseline, most recent first.
func (r *Reconciler) Diff(ctx context.Context, order ledger.Order,
	baseline fn.Set[chainhash.Hash]) ([]chainhash.Hash, error) {

	txns, err := r.fetch(ctx, order.Address)
	if err != nil {
		return nil, fmt.Errorf("unable to reconcile %v: %w", order,
			err)
	}

	fresh := fn.Filter(Matching(order, txns), func(h chainhash.Hash) bool {
		return !baseline.Contains(h)
	})

	log.Debugf("Reconciliation of %v found %d new matching "+
		"transaction(s)", order, len(fresh))

	return fresh, nil
}

// Matching returns, in the order given, the hashes of the transactions that
// contain an output paying exactly the order's amount to the order's address.
func Matching(order ledger.Order, txns []ledger.Transaction) []chainhash.Hash {
	matches := fn.Filter(txns, func(tx ledger.Transaction) bool {
		return tx.PaysTo(order.Address, order.Amount)
	})

	return fn.Map(matches, func(tx ledger.Transaction) chainhash.Hash {
		return tx.Hash
	})
}

// fetch lists the recent transactions of address. Transport failures and
// malformed responses are retried every RetryInterval until RetryTimeout has
// passed, after which the last failure is returned. Any other error is
// returned at once.
func (r *Reconciler) fetch(ctx context.Context,
	address string) ([]ledger.Transaction, error) {

	start := r.cfg.Clock.Now()

	for attempt := 1; ; attempt++ {
		txns, err := r.cfg.Ledger.ListTransactions(
			ctx, address, r.cfg.PageSize,
		)
		if err == nil {
			return txns, nil
		}

		// Only the caller's context ends the lookup early. A request
		// that timed out on its own is a transport error and retried.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !ledger.IsRetryable(err) {
			return nil, err
		}

		elapsed := r.cfg.Clock.Now().Sub(start)
		if elapsed+r.cfg.RetryInterval >= r.cfg.RetryTimeout {
			log.Warnf("Giving up listing transactions of %v after "+
				"%d attempt(s): %v", address, attempt, err)

			return nil, err
		}

		log.Debugf("Listing transactions of %v failed (attempt %d), "+
			"retrying in %v: %v", address, attempt,
			r.cfg.RetryInterval, err)

		select {
		case <-r.cfg.Clock.TickAfter(r.cfg.RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
