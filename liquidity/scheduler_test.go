package liquidity

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/ledger/ledgertest"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// TestSchedulerTick checks that a forced tick polls the accounts and the
// watched deposits, and that a funded deposit stops being watched.
func TestSchedulerTick(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	f.Fund(ledger.FundingAccount, 1_000_000)
	f.Deposit("deposit-addr", 25_000, true)

	events := make(chan Event, 10)
	monitor := NewAccountMonitor(MonitorConfig{
		Ledger:   f,
		Splitter: newTestSplitter(t, f),
		Observer: ObserverFunc(func(e Event) {
			events <- e
		}),
	})

	tick := ticker.NewForce(time.Hour)
	s := NewScheduler(SchedulerConfig{
		Monitor:  monitor,
		Accounts: []string{ledger.FundingAccount},
		Ticker:   tick,
	})
	s.WatchDeposit("deposit-addr")
	s.WatchDeposit("empty-addr")

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	select {
	case tick.Force <- time.Now():
	case <-time.After(testTimeout):
		t.Fatal("could not force tick")
	}

	var (
		funded, completed bool
		deposit           DepositReceived
	)
	for i := 0; i < 3; i++ {
		select {
		case e := <-events:
			switch e := e.(type) {
			case Funded:
				funded = true
			case SplitCompleted:
				completed = true
			case DepositReceived:
				deposit = e
			}

		case <-time.After(testTimeout):
			t.Fatalf("only received %d events", i)
		}
	}

	require.True(t, funded)
	require.True(t, completed)
	require.Equal(t, "deposit-addr", deposit.Address)

	require.Eventually(t, func() bool {
		return s.Rounds() == 1
	}, testTimeout, 10*time.Millisecond)
	require.Equal(t, []string{"empty-addr"}, s.WatchedDeposits())
}

// TestSchedulerPollOnceReportsFailure checks that a failing query is
// reported while the other queries still run.
func TestSchedulerPollOnceReportsFailure(t *testing.T) {
	t.Parallel()

	f := ledgertest.New()
	f.Deposit("deposit-addr", 25_000, true)
	f.BalanceFault = func(call int) error {
		return &ledger.TransportError{Op: "balance"}
	}

	s := NewScheduler(SchedulerConfig{
		Monitor: NewAccountMonitor(MonitorConfig{
			Ledger:   f,
			Splitter: newTestSplitter(t, f),
		}),
		Accounts: []string{ledger.FundingAccount, ledger.PoolAccount},
		Ticker:   ticker.NewForce(time.Hour),
	})
	s.WatchDeposit("deposit-addr")

	err := s.PollOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"deposit-addr"}, s.WatchedDeposits())
	require.EqualValues(t, 1, s.Rounds())
}

// TestSchedulerStopWithoutStart checks that Stop is safe before Start.
func TestSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(SchedulerConfig{
		Ticker: ticker.NewForce(time.Hour),
	})
	require.NoError(t, s.Stop())
}
