package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/ledgertest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testOrder = ledger.Order{
	Address: "dest",
	Amount:  15_000,
}

// makeTx builds a transaction with the given outputs and a hash derived from
// its name.
func makeTx(name string, outputs ...ledger.Output) ledger.Transaction {
	return ledger.Transaction{
		Hash:    chainhash.DoubleHashH([]byte(name)),
		Outputs: outputs,
	}
}

func out(addr string, amt btcutil.Amount) ledger.Output {
	return ledger.Output{Address: addr, Amount: amt}
}

// TestMatching checks that only exact address and amount matches are kept
// and that their order is preserved.
func TestMatching(t *testing.T) {
	t.Parallel()

	exact1 := makeTx("exact1", out("change", 3), out("dest", 15_000))
	wrongAmt := makeTx("wrong-amount", out("dest", 15_001))
	wrongAddr := makeTx("wrong-address", out("other", 15_000))
	exact2 := makeTx("exact2", out("dest", 15_000))

	matches := Matching(testOrder, []ledger.Transaction{
		exact1, wrongAmt, wrongAddr, exact2,
	})
	require.Equal(t, []chainhash.Hash{exact1.Hash, exact2.Hash}, matches)

	require.Empty(t, Matching(testOrder, nil))
}

// TestSnapshotAndDiff checks that Diff only reports matches that were not in
// the snapshot.
func TestSnapshotAndDiff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	old := makeTx("old", out("dest", 15_000))
	unrelated := makeTx("unrelated", out("dest", 99))
	fresh := makeTx("fresh", out("dest", 15_000))

	tests := []struct {
		name     string
		before   []ledger.Transaction
		after    []ledger.Transaction
		expected []chainhash.Hash
	}{
		{
			name:   "no change",
			before: []ledger.Transaction{old},
			after:  []ledger.Transaction{old},
		},
		{
			name:   "subset of baseline",
			before: []ledger.Transaction{old, unrelated},
			after:  []ledger.Transaction{old},
		},
		{
			name:     "new exact match",
			before:   []ledger.Transaction{old},
			after:    []ledger.Transaction{fresh, unrelated, old},
			expected: []chainhash.Hash{fresh.Hash},
		},
		{
			name:     "empty baseline",
			after:    []ledger.Transaction{fresh, old},
			expected: []chainhash.Hash{fresh.Hash, old.Hash},
		},
		{
			name:   "only non-matching additions",
			before: []ledger.Transaction{old},
			after:  []ledger.Transaction{unrelated, old},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			m := &ledger.MockLedger{}
			m.On("ListTransactions", ctx, "dest", DefaultPageSize).
				Return(test.before, nil).Once()
			m.On("ListTransactions", ctx, "dest", DefaultPageSize).
				Return(test.after, nil).Once()

			r := New(Config{Ledger: m})

			baseline, err := r.Snapshot(ctx, testOrder)
			require.NoError(t, err)

			fresh, err := r.Diff(ctx, testOrder, baseline)
			require.NoError(t, err)

			if test.expected == nil {
				require.Empty(t, fresh)
			} else {
				require.Equal(t, test.expected, fresh)
			}

			m.AssertExpectations(t)
		})
	}
}

// TestDiffProperty asserts that Diff returns exactly the exact matches of the
// new listing that the baseline does not contain.
func TestDiffProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		genTx := rapid.Custom(func(t *rapid.T) ledger.Transaction {
			id := rapid.IntRange(0, 20).Draw(t, "id")
			addr := rapid.SampledFrom(
				[]string{"dest", "other"},
			).Draw(t, "addr")
			amt := rapid.SampledFrom(
				[]btcutil.Amount{15_000, 14_999},
			).Draw(t, "amt")

			return makeTx(
				fmt.Sprintf("tx-%d-%s-%d", id, addr, amt),
				out(addr, amt),
			)
		})

		before := rapid.SliceOf(genTx).Draw(t, "before")
		after := rapid.SliceOf(genTx).Draw(t, "after")

		ctx := context.Background()
		m := &ledger.MockLedger{}
		m.On("ListTransactions", ctx, "dest", DefaultPageSize).
			Return(before, nil).Once()
		m.On("ListTransactions", ctx, "dest", DefaultPageSize).
			Return(after, nil).Once()

		r := New(Config{Ledger: m})
		baseline, err := r.Snapshot(ctx, testOrder)
		require.NoError(t, err)

		fresh, err := r.Diff(ctx, testOrder, baseline)
		require.NoError(t, err)

		seen := fn.NewSet(Matching(testOrder, before)...)
		for _, h := range fresh {
			require.False(t, seen.Contains(h))
		}

		var expected int
		for _, tx := range after {
			if tx.PaysTo(testOrder.Address, testOrder.Amount) &&
				!seen.Contains(tx.Hash) {

				expected++
			}
		}
		require.Len(t, fresh, expected)
	})
}

// TestFetchRetriesTransportErrors checks that transport failures are retried
// until the lookup succeeds.
func TestFetchRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	f.Deposit("dest", 15_000, true)
	f.ListFault = func(call int) error {
		if call <= 2 {
			return &ledger.TransportError{
				Op:  "list_transactions",
				Err: errors.New("connection refused"),
			}
		}
		return nil
	}

	r := New(Config{
		Ledger:        f,
		Clock:         ledgertest.AdvancingClock(t),
		RetryTimeout:  time.Minute,
		RetryInterval: 5 * time.Second,
	})

	baseline, err := r.Snapshot(context.Background(), testOrder)
	require.NoError(t, err)
	require.Len(t, baseline, 1)
	require.Equal(t, 3, f.ListCalls())
}

// TestFetchGivesUp checks that a lookup failing with transport errors
// surfaces the last failure once the retry timeout has passed.
func TestFetchGivesUp(t *testing.T) {
	t.Parallel()

	errDown := errors.New("connection refused")

	f := ledgertest.New()
	f.ListFault = func(int) error {
		return &ledger.MalformedResponseError{
			Op:  "list_transactions",
			Err: errDown,
		}
	}

	c := ledgertest.AdvancingClock(t)
	r := New(Config{
		Ledger:        f,
		Clock:         c,
		RetryTimeout:  time.Minute,
		RetryInterval: 5 * time.Second,
	})

	_, err := r.Diff(context.Background(), testOrder, fn.NewSet[chainhash.Hash]())
	require.ErrorIs(t, err, errDown)

	var malformedErr *ledger.MalformedResponseError
	require.ErrorAs(t, err, &malformedErr)

	// Attempts at 0s, 5s, ..., 55s.
	require.Equal(t, 12, f.ListCalls())
	require.Equal(t, 55*time.Second, c.Now().Sub(ledgertest.StartTime))
}

// TestFetchDomainErrorNotRetried checks that a rejection by the ledger is
// returned after a single attempt.
func TestFetchDomainErrorNotRetried(t *testing.T) {
	t.Parallel()

	domainErr := &ledger.DomainError{
		Op:      "list_transactions",
		Code:    -5,
		Message: "invalid address",
	}

	m := &ledger.MockLedger{}
	m.On("ListTransactions", mock.Anything, "dest", DefaultPageSize).
		Return(nil, domainErr).Once()

	r := New(Config{Ledger: m})

	_, err := r.Snapshot(context.Background(), testOrder)
	require.ErrorIs(t, err, domainErr)
	m.AssertExpectations(t)
}

// TestFetchContextCanceled checks that a canceled context stops the retry
// loop.
func TestFetchContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	f := ledgertest.New()
	f.ListFault = func(int) error {
		cancel()
		return &ledger.TransportError{
			Op:  "list_transactions",
			Err: errors.New("timeout"),
		}
	}

	r := New(Config{
		Ledger:        f,
		RetryTimeout:  time.Hour,
		RetryInterval: time.Hour,
	})

	_, err := r.Snapshot(ctx, testOrder)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.ListCalls())
}

// TestFetchRetriesRequestTimeout checks that a request that timed out inside
// the ledger is retried while the caller's context is still alive.
func TestFetchRetriesRequestTimeout(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	paid := f.Deposit("dest", 15_000, true)
	f.ListFault = func(call int) error {
		if call == 1 {
			return &ledger.TransportError{
				Op:  "list_transactions",
				Err: context.DeadlineExceeded,
			}
		}
		return nil
	}

	r := New(Config{
		Ledger:        f,
		Clock:         ledgertest.AdvancingClock(t),
		RetryTimeout:  time.Minute,
		RetryInterval: 5 * time.Second,
	})

	baseline, err := r.Snapshot(context.Background(), testOrder)
	require.NoError(t, err)
	require.True(t, baseline.Contains(paid))
	require.Equal(t, 2, f.ListCalls())
}
