package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// amountDecimals is the number of fractional digits of a major unit amount.
const amountDecimals = 8

var maxAmount = decimal.NewFromInt(btcutil.MaxSatoshi)

// ParseAmount converts a decimal major unit string such as "0.00015179" into
// an amount. Negative values, values with more than eight fractional digits
// and values above the total supply are rejected.
func ParseAmount(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %q", s)
	}

	sats := d.Shift(amountDecimals)
	if !sats.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s,
			amountDecimals)
	}

	if sats.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %q exceeds the total supply", s)
	}

	return btcutil.Amount(sats.IntPart()), nil
}

// FormatAmount renders amt as a major unit string with exactly eight
// fractional digits.
func FormatAmount(amt btcutil.Amount) string {
	return decimal.New(int64(amt), -amountDecimals).StringFixed(
		amountDecimals,
	)
}
