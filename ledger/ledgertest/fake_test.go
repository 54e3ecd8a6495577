package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/stretchr/testify/require"
)

// TestFakeLedgerSend checks balance accounting and confirmation handling.
func TestFakeLedgerSend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := New()
	f.Fund(ledger.PoolAccount, 10_000)

	_, err := f.Send(ctx, ledger.PoolAccount, "dest", 20_000, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	hash, err := f.Send(ctx, ledger.PoolAccount, "dest", 4_000, 1)
	require.NoError(t, err)

	balance, err := f.Balance(ctx, ledger.PoolAccount, 1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(6_000), balance)

	received, err := f.ReceivedAt(ctx, "dest", 1)
	require.NoError(t, err)
	require.Zero(t, received)

	received, err = f.ReceivedAt(ctx, "dest", 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(4_000), received)

	f.Mine()

	received, err = f.ReceivedAt(ctx, "dest", 1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(4_000), received)

	txns, err := f.ListTransactions(ctx, "dest", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, hash, txns[0].Hash)
	require.EqualValues(t, 1, txns[0].Confirmations)
	require.Equal(t, 2, f.SendCalls())
}

// TestFakeLedgerSendFault checks that a fault can lose the response of a
// broadcast transaction.
func TestFakeLedgerSendFault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errLost := errors.New("connection reset")

	f := New()
	f.Fund(ledger.PoolAccount, 10_000)
	f.SendFault = func(attempt int) (bool, error) {
		switch attempt {
		case 1:
			return false, errLost
		case 2:
			return true, errLost
		}
		return true, nil
	}

	_, err := f.Send(ctx, ledger.PoolAccount, "dest", 1_000, 1)
	require.ErrorIs(t, err, errLost)
	require.Zero(t, f.PaymentsTo("dest", 1_000))

	_, err = f.Send(ctx, ledger.PoolAccount, "dest", 1_000, 1)
	require.ErrorIs(t, err, errLost)
	require.Equal(t, 1, f.PaymentsTo("dest", 1_000))

	_, err = f.Send(ctx, ledger.PoolAccount, "dest", 1_000, 1)
	require.NoError(t, err)
	require.Equal(t, 2, f.PaymentsTo("dest", 1_000))
}

// TestFakeLedgerOwnedAddresses checks that payments to addresses created by
// NewAddress credit the owning account.
func TestFakeLedgerOwnedAddresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := New()
	f.Fund(ledger.FundingAccount, 100)

	a, err := f.NewAddress(ctx, ledger.PoolAccount)
	require.NoError(t, err)
	b, err := f.NewAddress(ctx, ledger.PoolAccount)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = f.SendMany(ctx, ledger.FundingAccount,
		map[string]btcutil.Amount{a: 30, b: 20}, 1)
	require.NoError(t, err)

	pool, err := f.Balance(ctx, ledger.PoolAccount, 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50), pool)

	pool, err = f.Balance(ctx, ledger.PoolAccount, 1)
	require.NoError(t, err)
	require.Zero(t, pool)

	funding, err := f.Balance(ctx, ledger.FundingAccount, 1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50), funding)
}

// TestFakeLedgerListLimit checks that listings are newest first and limited.
func TestFakeLedgerListLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := New()

	first := f.Deposit("dest", 1, true)
	second := f.Deposit("dest", 2, true)
	third := f.Deposit("dest", 3, false)
	f.Deposit("other", 4, true)

	txns, err := f.ListTransactions(ctx, "dest", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.Equal(t, third, txns[0].Hash)
	require.Equal(t, second, txns[1].Hash)

	txns, err = f.ListTransactions(ctx, "dest", 10)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.Equal(t, first, txns[2].Hash)
}
