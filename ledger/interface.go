package ledger

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// PoolAccount is the account that holds the split outputs payments
	// are sent from.
	PoolAccount = "pool"

	// FundingAccount is the account operators top up. Its balance is
	// split into the pool once it crosses the funding threshold.
	FundingAccount = "funding"

	// DepositAccount is the account incoming customer deposits are
	// credited to.
	DepositAccount = "deposit"
)

const (
	// ConfirmedMinConf is the confirmation threshold used for balances in
	// steady state.
	ConfirmedMinConf int32 = 1

	// LowLatencyMinConf is the confirmation threshold used when unconfirmed
	// funds are trusted.
	LowLatencyMinConf int32 = 0
)

// Output is a single output of a ledger transaction.
type Output struct {
	// Address is the address the output pays to.
	Address string

	// Amount is the value of the output.
	Amount btcutil.Amount
}

// Transaction is a transaction as reported by the remote ledger, reduced to
// the fields needed to recognize a payment.
type Transaction struct {
	// Hash is the transaction id.
	Hash chainhash.Hash

	// Confirmations is the number of blocks the transaction is buried
	// under. Zero means it is still in the mempool.
	Confirmations int64

	// Outputs are the outputs of the transaction that the ledger
	// reported.
	Outputs []Output
}

// PaysTo returns true if the transaction has an output paying exactly amt to
// address.
func (t *Transaction) PaysTo(address string, amt btcutil.Amount) bool {
	for _, out := range t.Outputs {
		if out.Address == address && out.Amount == amt {
			return true
		}
	}

	return false
}

// Ledger is a remote wallet service that holds funds in named accounts,
// constructs and broadcasts transactions, and answers balance queries. Every
// call may fail with a transport error even when the remote side has already
// acted on the request, so the outcome of a failed Send or SendMany is
// unknown to the caller.
//
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Send pays amt to address out of account, spending only outputs with
	// at least minConf confirmations. It returns the hash of the
	// broadcast transaction.
	Send(ctx context.Context, account, address string, amt btcutil.Amount,
		minConf int32) (chainhash.Hash, error)

	// Balance returns the spendable balance of account counting only
	// funds with at least minConf confirmations.
	Balance(ctx context.Context, account string,
		minConf int32) (btcutil.Amount, error)

	// ReceivedAt returns the total amount ever received at address in
	// transactions with at least minConf confirmations.
	ReceivedAt(ctx context.Context, address string,
		minConf int32) (btcutil.Amount, error)

	// NewAddress creates a fresh receive address belonging to account.
	NewAddress(ctx context.Context, account string) (string, error)

	// SendMany pays every address in outputs its amount out of account in
	// a single transaction.
	SendMany(ctx context.Context, account string,
		outputs map[string]btcutil.Amount,
		minConf int32) (chainhash.Hash, error)

	// ListTransactions returns at most limit of the most recent
	// transactions that involve address, newest first.
	ListTransactions(ctx context.Context, address string,
		limit int) ([]Transaction, error)
}
