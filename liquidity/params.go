package liquidity

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// ErrSplitCountNotMultiple is returned when the number of outputs a split
// creates cannot be spread evenly over transactions.
var ErrSplitCountNotMultiple = errors.New("split count is not a multiple " +
	"of the outputs per transaction")

// SplitParams determines how a funded balance is broken into outputs. The
// pool should hold enough outputs to serve TxPerMinute payments for
// MaxBlockInterval minutes without spending unconfirmed change.
type SplitParams struct {
	// MaxBlockInterval is the longest expected gap between two blocks,
	// in minutes.
	MaxBlockInterval int

	// TxPerMinute is the expected payment rate.
	TxPerMinute int

	// OutputsPerTx is the number of outputs of one split transaction.
	OutputsPerTx int

	// TxFee is the fee assumed for one split transaction.
	TxFee btcutil.Amount
}

// Validate checks that the parameters describe a whole number of split
// transactions.
func (p SplitParams) Validate() error {
	switch {
	case p.MaxBlockInterval <= 0, p.TxPerMinute <= 0, p.OutputsPerTx <= 0:
		return fmt.Errorf("split parameters must be positive: "+
			"interval=%d rate=%d outputs=%d", p.MaxBlockInterval,
			p.TxPerMinute, p.OutputsPerTx)

	case p.TxFee < 0:
		return fmt.Errorf("split fee must not be negative: %v",
			p.TxFee)

	case p.SplitCount()%p.OutputsPerTx != 0:
		return fmt.Errorf("%w: %d outputs, %d per transaction",
			ErrSplitCountNotMultiple, p.SplitCount(),
			p.OutputsPerTx)
	}

	return nil
}

// SplitCount is the total number of outputs a split creates.
func (p SplitParams) SplitCount() int {
	return p.MaxBlockInterval * p.TxPerMinute
}

// TransactionCount is the number of transactions a split issues.
func (p SplitParams) TransactionCount() int {
	return p.SplitCount() / p.OutputsPerTx
}

// FeeMargin is the amount held back from every split transaction to pay its
// fee.
func (p SplitParams) FeeMargin() btcutil.Amount {
	return 3 * p.TxFee
}

// Epsilon is the balance at or above which an account is split.
func (p SplitParams) Epsilon() btcutil.Amount {
	return 2 * p.FeeMargin() * btcutil.Amount(p.TransactionCount())
}

// SplitPlan describes the transactions of one split. Every transaction pays
// the same outputs.
type SplitPlan struct {
	// PerTransaction is the total paid by each transaction, fees
	// excluded.
	PerTransaction btcutil.Amount

	// Outputs holds the output amounts of each transaction. The first
	// output carries the remainder of the integer division.
	Outputs []btcutil.Amount

	// Transactions is the number of transactions to issue.
	Transactions int
}

// PlanSplit divides balance into TransactionCount transactions of
// OutputsPerTx outputs each, keeping FeeMargin per transaction for fees.
func PlanSplit(balance btcutil.Amount, p SplitParams) (*SplitPlan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	txCount := p.TransactionCount()
	perTx := balance/btcutil.Amount(txCount) - p.FeeMargin()
	if perTx <= 0 {
		return nil, fmt.Errorf("balance %v too small to split into %d "+
			"transactions with a fee margin of %v", balance,
			txCount, p.FeeMargin())
	}

	perOutput := perTx / btcutil.Amount(p.OutputsPerTx)
	if perOutput <= 0 {
		return nil, fmt.Errorf("balance %v too small to split into %d "+
			"outputs per transaction", balance, p.OutputsPerTx)
	}

	outputs := make([]btcutil.Amount, p.OutputsPerTx)
	for i := range outputs {
		outputs[i] = perOutput
	}
	outputs[0] += perTx - perOutput*btcutil.Amount(p.OutputsPerTx)

	return &SplitPlan{
		PerTransaction: perTx,
		Outputs:        outputs,
		Transactions:   txCount,
	}, nil
}
