package liquidity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/ledgertest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// eventRecorder is an observer that stores every event it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

// newTestSplitter creates a splitter over f using the three transaction
// parameters.
func newTestSplitter(t *testing.T, f ledger.Ledger) *Splitter {
	t.Helper()

	s, err := NewSplitter(SplitterConfig{
		Ledger:  f,
		Params:  threeTxParams,
		MinConf: ledger.ConfirmedMinConf,
	})
	require.NoError(t, err)

	return s
}

// TestSplit checks that a split issues one transaction per planned
// transaction, each paying fresh pool addresses.
func TestSplit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)

	hashes, err := newTestSplitter(t, f).Split(
		ctx, ledger.FundingAccount, 1_000_000,
	)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	require.Equal(t, 3, f.SendManyCalls())
	require.Equal(t, 60, f.NewAddressCalls())

	pool, err := f.Balance(ctx, ledger.PoolAccount, 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3*303_333), pool)

	funding, err := f.Balance(ctx, ledger.FundingAccount, 1)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1_000_000-3*303_333), funding)

	for _, tx := range f.Transactions() {
		require.Len(t, tx.Outputs, 20)
	}
}

// TestSplitPartialFailure checks that the hashes issued before a failure are
// returned with the error.
func TestSplitPartialFailure(t *testing.T) {
	t.Parallel()

	errDown := errors.New("ledger down")

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)
	f.SendManyFault = func(attempt int) (bool, error) {
		if attempt == 2 {
			return false, errDown
		}
		return true, nil
	}

	hashes, err := newTestSplitter(t, f).Split(
		context.Background(), ledger.FundingAccount, 1_000_000,
	)
	require.ErrorIs(t, err, errDown)
	require.Len(t, hashes, 1)
	require.Equal(t, 2, f.SendManyCalls())
}

// TestSplitAddressFailure checks that a failure to create an address aborts
// the split before anything is sent.
func TestSplitAddressFailure(t *testing.T) {
	t.Parallel()

	errDown := errors.New("ledger down")

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)
	f.NewAddressFault = func(call int) error {
		if call == 5 {
			return errDown
		}
		return nil
	}

	hashes, err := newTestSplitter(t, f).Split(
		context.Background(), ledger.FundingAccount, 1_000_000,
	)
	require.ErrorIs(t, err, errDown)
	require.Empty(t, hashes)
	require.Zero(t, f.SendManyCalls())
}

// TestSplitFeeEstimate checks that the split follows the fee estimate and
// falls back to the configured fee while the estimate fails.
func TestSplitFeeEstimate(t *testing.T) {
	t.Parallel()

	var (
		fee    btcutil.Amount = 20_000
		feeErr error
	)

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)

	s, err := NewSplitter(SplitterConfig{
		Ledger:  f,
		Params:  threeTxParams,
		MinConf: ledger.ConfirmedMinConf,
		FeeEstimate: func() (btcutil.Amount, error) {
			return fee, feeErr
		},
	})
	require.NoError(t, err)

	params := s.Params()
	require.Equal(t, btcutil.Amount(20_000), params.TxFee)
	require.Equal(t, btcutil.Amount(360_000), params.Epsilon())

	ctx := context.Background()
	_, err = s.Split(ctx, ledger.FundingAccount, 1_000_000)
	require.NoError(t, err)

	pool, err := f.Balance(ctx, ledger.PoolAccount, 0)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(3*273_333), pool)

	feeErr = errors.New("estimator down")
	require.Equal(t, threeTxParams, s.Params())

	feeErr = nil
	fee = -1
	require.Equal(t, threeTxParams, s.Params())
}

// TestPollBelowEpsilon asserts that a balance below the threshold produces no
// events and no split.
func TestPollBelowEpsilon(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, threeTxParams.Epsilon()-1)

	recorder := &eventRecorder{}
	m := NewAccountMonitor(MonitorConfig{
		Ledger:   f,
		Splitter: newTestSplitter(t, f),
		Observer: recorder,
	})

	balance, split, err := m.Poll(
		context.Background(), ledger.FundingAccount,
	)
	require.NoError(t, err)
	require.False(t, split)
	require.Equal(t, threeTxParams.Epsilon()-1, balance)

	require.Empty(t, recorder.Events())
	require.Zero(t, f.SendManyCalls())
	require.Zero(t, f.NewAddressCalls())
}

// TestPollAtEpsilon asserts that a balance exactly at the threshold is split.
func TestPollAtEpsilon(t *testing.T) {
	t.Parallel()

	epsilon := threeTxParams.Epsilon()

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, epsilon)

	recorder := &eventRecorder{}
	m := NewAccountMonitor(MonitorConfig{
		Ledger:   f,
		Splitter: newTestSplitter(t, f),
		Observer: recorder,
	})

	balance, split, err := m.Poll(
		context.Background(), ledger.FundingAccount,
	)
	require.NoError(t, err)
	require.True(t, split)
	require.Equal(t, epsilon, balance)

	events := recorder.Events()
	require.Len(t, events, 2)
	require.Equal(t, Funded{
		Account: ledger.FundingAccount,
		Balance: epsilon,
	}, events[0])

	completed, ok := events[1].(SplitCompleted)
	require.True(t, ok)
	require.Equal(t, ledger.FundingAccount, completed.Account)
	require.Len(t, completed.TxRefs, 3)
}

// TestPollSplitFailure checks that a failed split is reported without a
// SplitCompleted event.
func TestPollSplitFailure(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)
	f.SendManyFault = func(int) (bool, error) {
		return false, errors.New("ledger down")
	}

	recorder := &eventRecorder{}
	m := NewAccountMonitor(MonitorConfig{
		Ledger:   f,
		Splitter: newTestSplitter(t, f),
		Observer: recorder,
	})

	_, split, err := m.Poll(context.Background(), ledger.FundingAccount)
	require.Error(t, err)
	require.False(t, split)

	events := recorder.Events()
	require.Len(t, events, 1)
	require.IsType(t, Funded{}, events[0])
}

// TestMonitorConfirmationThreshold checks which confirmation threshold the
// monitor queries with.
func TestMonitorConfirmationThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		lowLatency bool
		minConf    int32
	}{
		{
			name:    "steady state",
			minConf: 1,
		},
		{
			name:       "low latency",
			lowLatency: true,
			minConf:    0,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			l := &ledger.MockLedger{}
			l.On("Balance", ctx, ledger.PoolAccount, test.minConf).
				Return(btcutil.Amount(5), nil).Once()
			l.On("ReceivedAt", ctx, "deposit-addr", test.minConf).
				Return(btcutil.Amount(0), nil).Once()

			m := NewAccountMonitor(MonitorConfig{
				Ledger:     l,
				Splitter:   newTestSplitter(t, l),
				LowLatency: test.lowLatency,
			})

			_, _, err := m.Poll(ctx, ledger.PoolAccount)
			require.NoError(t, err)

			_, err = m.CheckDeposit(ctx, "deposit-addr")
			require.NoError(t, err)

			l.AssertExpectations(t)
		})
	}
}

// TestCheckDeposit checks that only non-zero deposits are notified.
func TestCheckDeposit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := ledgertest.New()

	var events []Event
	m := NewAccountMonitor(MonitorConfig{
		Ledger:   f,
		Splitter: newTestSplitter(t, f),
		Observer: ObserverFunc(func(e Event) {
			events = append(events, e)
		}),
	})

	amt, err := m.CheckDeposit(ctx, "deposit-addr")
	require.NoError(t, err)
	require.Zero(t, amt)
	require.Empty(t, events)

	// Unconfirmed funds do not count outside low latency mode.
	f.Deposit("deposit-addr", 50_000, false)
	amt, err = m.CheckDeposit(ctx, "deposit-addr")
	require.NoError(t, err)
	require.Zero(t, amt)

	f.Mine()
	amt, err = m.CheckDeposit(ctx, "deposit-addr")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), amt)
	require.Equal(t, []Event{DepositReceived{
		Address: "deposit-addr",
		Amount:  50_000,
	}}, events)
}

// TestCheckDepositError checks that ledger failures are surfaced.
func TestCheckDepositError(t *testing.T) {
	t.Parallel()

	errDown := errors.New("ledger down")

	l := &ledger.MockLedger{}
	l.On("ReceivedAt", mock.Anything, "deposit-addr", int32(1)).
		Return(btcutil.Amount(0), errDown).Once()

	m := NewAccountMonitor(MonitorConfig{
		Ledger:   l,
		Splitter: newTestSplitter(t, l),
	})

	_, err := m.CheckDeposit(context.Background(), "deposit-addr")
	require.ErrorIs(t, err, errDown)
}
