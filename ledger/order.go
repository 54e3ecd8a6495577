package ledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrEmptyAddress is returned when an order has no destination.
	ErrEmptyAddress = errors.New("order has no destination address")

	// ErrNonPositiveAmount is returned when an order pays nothing.
	ErrNonPositiveAmount = errors.New("order amount must be positive")
)

// Order is a request to pay an amount to an address. Two orders for the same
// address and amount placed within one retry window are indistinguishable on
// the ledger, so an Order is identified by its address, its amount and the
// time it is dispatched.
type Order struct {
	// Address is the destination of the payment.
	Address string

	// Amount is the value to pay.
	Amount btcutil.Amount
}

// Validate checks that the order can be dispatched.
func (o Order) Validate() error {
	switch {
	case o.Address == "":
		return ErrEmptyAddress

	case o.Amount <= 0:
		return fmt.Errorf("%w: %v", ErrNonPositiveAmount, o.Amount)

	case o.Amount > btcutil.MaxSatoshi:
		return fmt.Errorf("order amount %v exceeds the maximum of %v",
			o.Amount, btcutil.Amount(btcutil.MaxSatoshi))
	}

	return nil
}

// String returns a short human readable description of the order.
func (o Order) String() string {
	return fmt.Sprintf("%v to %v", o.Amount, o.Address)
}
