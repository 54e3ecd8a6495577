package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/ledgertest"
	"github.com/lightningnetwork/payoutd/reconcile"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAmount   btcutil.Amount = 15_000
	testAddress                 = "customer-address"
	testInterval                = 5 * time.Second
	testTimeout                 = time.Minute
)

var (
	testOrder = ledger.Order{
		Address: testAddress,
		Amount:  testAmount,
	}

	errLost = &ledger.TransportError{
		Op:  "send",
		Err: errors.New("connection reset by peer"),
	}
)

// mockReconciler is a mock implementation of the Reconciler interface.
type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Snapshot(ctx context.Context,
	order ledger.Order) (fn.Set[chainhash.Hash], error) {

	args := m.Called(ctx, order)
	set, _ := args.Get(0).(fn.Set[chainhash.Hash])

	return set, args.Error(1)
}

func (m *mockReconciler) Diff(ctx context.Context, order ledger.Order,
	baseline fn.Set[chainhash.Hash]) ([]chainhash.Hash, error) {

	args := m.Called(ctx, order, baseline)
	hashes, _ := args.Get(0).([]chainhash.Hash)

	return hashes, args.Error(1)
}

// testHarness bundles a dispatcher with the fake ledger it pays through.
type testHarness struct {
	ledger     *ledgertest.FakeLedger
	clock      *clock.TestClock
	dispatcher *Dispatcher
}

// newHarness creates a dispatcher backed by a funded fake ledger, a real
// reconciler and a clock that advances on every pause.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	f := ledgertest.New()
	f.Fund(ledger.PoolAccount, btcutil.SatoshiPerBitcoin)

	c := ledgertest.AdvancingClock(t)
	r := reconcile.New(reconcile.Config{
		Ledger:        f,
		Clock:         c,
		RetryTimeout:  testTimeout,
		RetryInterval: testInterval,
	})

	return &testHarness{
		ledger: f,
		clock:  c,
		dispatcher: New(Config{
			Ledger:        f,
			Reconciler:    r,
			Clock:         c,
			MinConf:       ledger.ConfirmedMinConf,
			RetryTimeout:  testTimeout,
			RetryInterval: testInterval,
		}),
	}
}

// TestDispatchSuccess checks the happy path.
func TestDispatchSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	hash, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)

	require.Equal(t, 1, h.ledger.SendCalls())
	require.Equal(t, 1, h.ledger.PaymentsTo(testAddress, testAmount))

	txns := h.ledger.Transactions()
	require.Len(t, txns, 1)
	require.Equal(t, txns[0].Hash, hash)
}

// TestDispatchLostResponse asserts that a send which the ledger executed but
// reported as failed is recognized instead of being paid again.
func TestDispatchLostResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// Every send fails, but the first one reaches the ledger.
	h.ledger.SendFault = func(attempt int) (bool, error) {
		return attempt == 1, errLost
	}

	hash, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)

	require.Equal(t, 1, h.ledger.SendCalls())
	require.Equal(t, 1, h.ledger.PaymentsTo(testAddress, testAmount))
	require.Equal(t, h.ledger.Transactions()[0].Hash, hash)
}

// TestDispatchRetriesUnexecutedSend checks that a send which never reached
// the ledger is retried until it succeeds.
func TestDispatchRetriesUnexecutedSend(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ledger.SendFault = func(attempt int) (bool, error) {
		if attempt <= 2 {
			return false, errLost
		}
		return true, nil
	}

	_, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)

	require.Equal(t, 3, h.ledger.SendCalls())
	require.Equal(t, 1, h.ledger.PaymentsTo(testAddress, testAmount))
}

// TestDispatchIgnoresOlderPayments asserts that an earlier payment of the
// same amount to the same address is not mistaken for this order's payment.
func TestDispatchIgnoresOlderPayments(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	older := h.ledger.Deposit(testAddress, testAmount, true)

	h.ledger.SendFault = func(attempt int) (bool, error) {
		if attempt == 1 {
			return false, errLost
		}
		return true, nil
	}

	hash, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)
	require.NotEqual(t, older, hash)

	require.Equal(t, 2, h.ledger.SendCalls())
	require.Equal(t, 2, h.ledger.PaymentsTo(testAddress, testAmount))
}

// TestDispatchTimeout checks that an order that can never be sent fails with
// a network timeout once the retry budget is spent.
func TestDispatchTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ledger.SendFault = func(int) (bool, error) {
		return false, errLost
	}

	_, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.ErrorIs(t, err, ledger.ErrRetryTimeout)
	require.EqualError(t, err, "network timeout")

	// One attempt every five seconds for a minute.
	require.Equal(t, 12, h.ledger.SendCalls())
	require.Zero(t, h.ledger.PaymentsTo(testAddress, testAmount))
	require.Equal(t, testTimeout, h.clock.Now().Sub(ledgertest.StartTime))
}

// TestDispatchDomainErrorIsAmbiguous checks that a rejected send is still
// reconciled before it is retried.
func TestDispatchDomainErrorIsAmbiguous(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ledger.SendFault = func(attempt int) (bool, error) {
		if attempt == 1 {
			return true, &ledger.DomainError{
				Op:      "send",
				Code:    -4,
				Message: "wallet busy",
			}
		}
		return true, nil
	}

	_, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)
	require.Equal(t, 1, h.ledger.SendCalls())
	require.Equal(t, 1, h.ledger.PaymentsTo(testAddress, testAmount))
}

// TestDispatchInsufficientFunds asserts that a refused send is neither
// retried nor reconciled.
func TestDispatchInsufficientFunds(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	r := &mockReconciler{}
	r.On("Snapshot", mock.Anything, testOrder).
		Return(fn.NewSet[chainhash.Hash](), nil).Once()

	d := New(Config{
		Ledger:     f,
		Reconciler: r,
		Clock:      ledgertest.AdvancingClock(t),
	})

	_, err := d.Dispatch(context.Background(), testOrder)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	require.Equal(t, 1, f.SendCalls())
	r.AssertExpectations(t)
	r.AssertNotCalled(t, "Diff", mock.Anything, mock.Anything,
		mock.Anything)
}

// TestDispatchDiffFailure checks that no further send is made once the
// reconciliation itself fails.
func TestDispatchDiffFailure(t *testing.T) {
	t.Parallel()

	domainErr := &ledger.DomainError{
		Op:      "list_transactions",
		Message: "wallet locked",
	}

	h := newHarness(t)
	h.ledger.SendFault = func(int) (bool, error) {
		return false, errLost
	}
	h.ledger.ListFault = func(call int) error {
		// The first listing is the snapshot.
		if call == 1 {
			return nil
		}
		return domainErr
	}

	_, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.ErrorIs(t, err, domainErr)
	require.Equal(t, 1, h.ledger.SendCalls())
}

// TestDispatchSnapshotFailure checks that nothing is sent when the snapshot
// cannot be taken.
func TestDispatchSnapshotFailure(t *testing.T) {
	t.Parallel()

	errSnapshot := errors.New("snapshot failed")

	f := ledgertest.New()
	f.Fund(ledger.PoolAccount, btcutil.SatoshiPerBitcoin)

	r := &mockReconciler{}
	r.On("Snapshot", mock.Anything, testOrder).
		Return(nil, errSnapshot).Once()

	d := New(Config{Ledger: f, Reconciler: r})

	_, err := d.Dispatch(context.Background(), testOrder)
	require.ErrorIs(t, err, errSnapshot)
	require.Zero(t, f.SendCalls())
}

// TestDispatchAdoptsFirstOfSeveralMatches checks that the most recent new
// match is adopted when reconciliation finds more than one.
func TestDispatchAdoptsFirstOfSeveralMatches(t *testing.T) {
	t.Parallel()

	first := chainhash.DoubleHashH([]byte("first"))
	second := chainhash.DoubleHashH([]byte("second"))
	baseline := fn.NewSet[chainhash.Hash]()

	m := &ledger.MockLedger{}
	m.On("Send", mock.Anything, ledger.PoolAccount, testAddress,
		testAmount, int32(1)).Return(chainhash.Hash{}, errLost).Once()

	r := &mockReconciler{}
	r.On("Snapshot", mock.Anything, testOrder).Return(baseline, nil).Once()
	r.On("Diff", mock.Anything, testOrder, baseline).
		Return([]chainhash.Hash{first, second}, nil).Once()

	d := New(Config{
		Ledger:     m,
		Reconciler: r,
		Clock:      ledgertest.AdvancingClock(t),
		MinConf:    1,
	})

	hash, err := d.Dispatch(context.Background(), testOrder)
	require.NoError(t, err)
	require.Equal(t, first, hash)

	m.AssertExpectations(t)
	r.AssertExpectations(t)
}

// TestDispatchInvalidOrder checks that invalid orders are rejected up front.
func TestDispatchInvalidOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.dispatcher.Dispatch(context.Background(), ledger.Order{
		Address: testAddress,
	})
	require.ErrorIs(t, err, ledger.ErrNonPositiveAmount)
	require.Zero(t, h.ledger.SendCalls())
	require.Zero(t, h.ledger.ListCalls())
}

// TestDispatchContextCanceled checks that cancellation during the pause ends
// the dispatch.
func TestDispatchContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := ledgertest.New()
	f.Fund(ledger.PoolAccount, btcutil.SatoshiPerBitcoin)

	sendFailed := make(chan struct{})
	f.SendFault = func(int) (bool, error) {
		close(sendFailed)
		return false, errLost
	}

	d := New(Config{
		Ledger:        f,
		Reconciler:    reconcile.New(reconcile.Config{Ledger: f}),
		RetryTimeout:  time.Hour,
		RetryInterval: time.Hour,
	})

	errChan := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, testOrder)
		errChan <- err
	}()

	<-sendFailed
	cancel()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, context.Canceled)

	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}

	require.Equal(t, 1, f.SendCalls())
}

// TestDispatchInvalidAddress checks that an address the ledger binding
// rejects locally is not retried.
func TestDispatchInvalidAddress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.ledger.SendFault = func(int) (bool, error) {
		return false, ledger.ErrInvalidAddress
	}

	_, err := h.dispatcher.Dispatch(context.Background(), testOrder)
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)
	require.Equal(t, 1, h.ledger.SendCalls())
}
