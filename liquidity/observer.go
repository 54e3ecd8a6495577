package liquidity

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Event is a notification emitted by the AccountMonitor.
type Event interface {
	event()
}

// Funded is emitted when an account balance reached the split threshold.
type Funded struct {
	// Account is the account that was polled.
	Account string

	// Balance is the balance that was found.
	Balance btcutil.Amount
}

func (Funded) event() {}

// SplitCompleted is emitted after a funded account has been split.
type SplitCompleted struct {
	// Account is the account that was split.
	Account string

	// TxRefs are the hashes of the split transactions, in issue order.
	TxRefs []chainhash.Hash
}

func (SplitCompleted) event() {}

// DepositReceived is emitted when funds were found at a deposit address.
type DepositReceived struct {
	// Address is the deposit address that was checked.
	Address string

	// Amount is the total received at the address.
	Amount btcutil.Amount
}

func (DepositReceived) event() {}

// Observer receives the events of an AccountMonitor. Notify is called
// synchronously from the polling goroutine.
type Observer interface {
	Notify(Event)
}

// ObserverFunc is an adapter to allow the use of ordinary functions as
// observers.
type ObserverFunc func(Event)

// Notify calls f(e).
func (f ObserverFunc) Notify(e Event) {
	f(e)
}

// noopObserver drops every event.
type noopObserver struct{}

func (noopObserver) Notify(Event) {}
