// Package monitoring exports the payout metrics to Prometheus.
package monitoring

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payoutd"

// Outcomes of a single dispatch.
const (
	// OutcomeSent means the ledger confirmed the send.
	OutcomeSent = "sent"

	// OutcomeReconciled means a send failed but the payment was found on
	// the ledger afterwards.
	OutcomeReconciled = "reconciled"

	// OutcomeInsufficientFunds means the ledger refused the send.
	OutcomeInsufficientFunds = "insufficient_funds"

	// OutcomeTimeout means no payment was recognized before the retry
	// deadline.
	OutcomeTimeout = "timeout"

	// OutcomeFailed means the dispatch was aborted by any other error.
	OutcomeFailed = "failed"
)

// Results of a single reconciliation.
const (
	// ReconcileFound means a new matching payment was found.
	ReconcileFound = "found"

	// ReconcileNone means no new matching payment was found.
	ReconcileNone = "none"

	// ReconcileError means the lookup failed.
	ReconcileError = "error"
)

var (
	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Number of dispatched orders by outcome.",
		},
		[]string{"outcome"},
	)

	sendAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_attempts_total",
			Help:      "Number of send requests made to the ledger.",
		},
	)

	reconcileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "results_total",
			Help:      "Number of reconciliations by result.",
		},
		[]string{"result"},
	)

	fundedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "funded_total",
			Help:      "Number of times an account crossed the split threshold.",
		},
		[]string{"account"},
	)

	splitTransactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "split_transactions_total",
			Help:      "Number of split transactions issued.",
		},
	)

	depositsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "deposits_total",
			Help:      "Number of deposit checks that found funds.",
		},
	)

	accountBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "account_balance_sat",
			Help:      "Last polled balance of an account in satoshis.",
		},
		[]string{"account"},
	)
)

func init() {
	prometheus.MustRegister(
		dispatchOutcomes, sendAttempts, reconcileResults, fundedEvents,
		splitTransactions, depositsReceived, accountBalance,
	)
}

// IncrementDispatchOutcome counts a finished dispatch.
func IncrementDispatchOutcome(outcome string) {
	dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// IncrementSendAttempt counts a send request made to the ledger.
func IncrementSendAttempt() {
	sendAttempts.Inc()
}

// IncrementReconcileResult counts a reconciliation.
func IncrementReconcileResult(result string) {
	reconcileResults.WithLabelValues(result).Inc()
}

// IncrementFunded counts an account crossing the split threshold.
func IncrementFunded(account string) {
	fundedEvents.WithLabelValues(account).Inc()
}

// AddSplitTransactions counts issued split transactions.
func AddSplitTransactions(n int) {
	splitTransactions.Add(float64(n))
}

// IncrementDeposit counts a deposit check that found funds.
func IncrementDeposit() {
	depositsReceived.Inc()
}

// SetAccountBalance records the last polled balance of account.
func SetAccountBalance(account string, balance btcutil.Amount) {
	accountBalance.WithLabelValues(account).Set(float64(balance))
}
