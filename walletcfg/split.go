package walletcfg

import "fmt"

const (
	// DefaultMaxBlockInterval is the longest expected gap between two
	// blocks, in minutes.
	DefaultMaxBlockInterval = 60

	// DefaultTxPerMinute is the number of payments expected per minute.
	DefaultTxPerMinute = 2

	// DefaultOutputsPerTx is the number of outputs created by one split
	// transaction.
	DefaultOutputsPerTx = 20

	// DefaultTxFee is the fee assumed for one split transaction, in
	// satoshis.
	DefaultTxFee = 10_000

	// DefaultFeeConfTarget is the confirmation target used when the split
	// fee is estimated.
	DefaultFeeConfTarget = 6
)

// Split holds the parameters used to break an account balance into many
// small outputs.
//
//nolint:lll
type Split struct {
	MaxBlockInterval int   `long:"maxblockinterval" description:"The longest expected gap between two blocks, in minutes"`
	TxPerMinute      int   `long:"txperminute" description:"The number of payments expected per minute"`
	OutputsPerTx     int   `long:"outputspertx" description:"The number of outputs created by one split transaction"`
	TxFee            int64 `long:"txfee" description:"The fee in satoshis assumed for one split transaction. If 0 the fee is estimated."`
	FeeConfTarget    int   `long:"feeconftarget" description:"The confirmation target in blocks used to estimate the split fee"`
}

// DefaultSplit returns the default split parameters.
func DefaultSplit() *Split {
	return &Split{
		MaxBlockInterval: DefaultMaxBlockInterval,
		TxPerMinute:      DefaultTxPerMinute,
		OutputsPerTx:     DefaultOutputsPerTx,
		TxFee:            DefaultTxFee,
		FeeConfTarget:    DefaultFeeConfTarget,
	}
}

// Validate checks that every split parameter is in range.
func (s *Split) Validate() error {
	switch {
	case s.MaxBlockInterval <= 0:
		return fmt.Errorf("split.maxblockinterval must be positive, "+
			"got %d", s.MaxBlockInterval)

	case s.TxPerMinute <= 0:
		return fmt.Errorf("split.txperminute must be positive, got %d",
			s.TxPerMinute)

	case s.OutputsPerTx <= 0:
		return fmt.Errorf("split.outputspertx must be positive, got %d",
			s.OutputsPerTx)

	case s.TxFee < 0:
		return fmt.Errorf("split.txfee must not be negative, got %d",
			s.TxFee)

	case s.TxFee == 0 && s.FeeConfTarget < 1:
		return fmt.Errorf("split.feeconftarget must be at least 1, "+
			"got %d", s.FeeConfTarget)
	}

	return nil
}
