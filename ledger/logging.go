package ledger

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
)

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

// loggingLedger wraps a Ledger and traces every call together with its
// latency and outcome.
type loggingLedger struct {
	name string
	next Ledger
}

// Compile-time constraint to ensure loggingLedger implements Ledger.
var _ Ledger = (*loggingLedger)(nil)

// WithLogging returns a Ledger that logs every call made to next under the
// given name before returning its result unchanged.
func WithLogging(name string, next Ledger) Ledger {
	return &loggingLedger{
		name: name,
		next: next,
	}
}

// done logs the outcome of a single call.
func (l *loggingLedger) done(op string, start time.Time, err error) {
	took := time.Since(start)
	if err != nil {
		log.Debugf("%v %v failed after %v: %v", l.name, op, took, err)
		return
	}

	log.Tracef("%v %v succeeded after %v", l.name, op, took)
}

// Send pays amt to address and logs the outcome.
func (l *loggingLedger) Send(ctx context.Context, account, address string,
	amt btcutil.Amount, minConf int32) (chainhash.Hash, error) {

	log.Tracef("%v send %v from %v to %v (minconf=%d)", l.name, amt,
		account, address, minConf)

	start := time.Now()
	hash, err := l.next.Send(ctx, account, address, amt, minConf)
	l.done("send", start, err)

	return hash, err
}

// Balance queries the balance of account and logs the outcome.
func (l *loggingLedger) Balance(ctx context.Context, account string,
	minConf int32) (btcutil.Amount, error) {

	start := time.Now()
	balance, err := l.next.Balance(ctx, account, minConf)
	l.done("balance", start, err)

	return balance, err
}

// ReceivedAt queries the amount received at address and logs the outcome.
func (l *loggingLedger) ReceivedAt(ctx context.Context, address string,
	minConf int32) (btcutil.Amount, error) {

	start := time.Now()
	received, err := l.next.ReceivedAt(ctx, address, minConf)
	l.done("received_at", start, err)

	return received, err
}

// NewAddress creates an address for account and logs the outcome.
func (l *loggingLedger) NewAddress(ctx context.Context,
	account string) (string, error) {

	start := time.Now()
	addr, err := l.next.NewAddress(ctx, account)
	l.done("new_address", start, err)

	return addr, err
}

// SendMany pays outputs out of account and logs the outcome.
func (l *loggingLedger) SendMany(ctx context.Context, account string,
	outputs map[string]btcutil.Amount,
	minConf int32) (chainhash.Hash, error) {

	log.Tracef("%v sendmany from %v (minconf=%d): %v", l.name, account,
		minConf, newLogClosure(func() string {
			return spew.Sdump(outputs)
		}))

	start := time.Now()
	hash, err := l.next.SendMany(ctx, account, outputs, minConf)
	l.done("sendmany", start, err)

	return hash, err
}

// ListTransactions lists the transactions of address and logs the outcome.
func (l *loggingLedger) ListTransactions(ctx context.Context, address string,
	limit int) ([]Transaction, error) {

	start := time.Now()
	txns, err := l.next.ListTransactions(ctx, address, limit)
	l.done("list_transactions", start, err)
	if err == nil {
		log.Tracef("%v transactions of %v: %v", l.name, address,
			newLogClosure(func() string {
				return spew.Sdump(txns)
			}))
	}

	return txns, err
}
