package liquidity

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/payoutd/ledger"
	"github.com/lightningnetwork/payoutd/monitoring"
)

// SplitterConfig holds the dependencies and parameters of a Splitter.
type SplitterConfig struct {
	// Ledger creates the addresses and issues the split transactions.
	Ledger ledger.Ledger

	// Params determines the shape of a split.
	Params SplitParams

	// TargetAccount receives the split outputs. It defaults to the pool
	// account.
	TargetAccount string

	// MinConf is the confirmation threshold of the outputs a split
	// transaction may spend.
	MinConf int32

	// FeeEstimate, if set, derives the fee of one split transaction each
	// time the parameters are read. Params.TxFee is used while it fails.
	FeeEstimate func() (btcutil.Amount, error)
}

// Splitter breaks a balance into many small outputs in the target account so
// that payments can be sent concurrently without waiting for change to
// confirm.
type Splitter struct {
	cfg SplitterConfig
}

// NewSplitter validates the split parameters and creates a Splitter.
func NewSplitter(cfg SplitterConfig) (*Splitter, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}

	if cfg.TargetAccount == "" {
		cfg.TargetAccount = ledger.PoolAccount
	}

	return &Splitter{
		cfg: cfg,
	}, nil
}

// Params returns the split parameters with the current fee estimate.
func (s *Splitter) Params() SplitParams {
	params := s.cfg.Params
	if s.cfg.FeeEstimate == nil {
		return params
	}

	fee, err := s.cfg.FeeEstimate()
	switch {
	case err != nil:
		log.Warnf("Unable to estimate split fee, using %v: %v",
			params.TxFee, err)

	case fee < 0:
		log.Warnf("Ignoring negative split fee estimate %v", fee)

	default:
		params.TxFee = fee
	}

	return params
}

// Split moves balance out of sourceAccount into fresh target account
// addresses, one transaction at a time. If any step fails the hashes of the
// transactions issued so far are returned together with the error.
func (s *Splitter) Split(ctx context.Context, sourceAccount string,
	balance btcutil.Amount) ([]chainhash.Hash, error) {

	plan, err := PlanSplit(balance, s.Params())
	if err != nil {
		return nil, err
	}

	log.Infof("Splitting %v of %v into %d transactions of %d outputs "+
		"(%v each)", balance, sourceAccount, plan.Transactions,
		len(plan.Outputs), plan.PerTransaction)

	hashes := make([]chainhash.Hash, 0, plan.Transactions)
	for i := 0; i < plan.Transactions; i++ {
		outputs, err := s.fillOutputs(ctx, plan.Outputs)
		if err != nil {
			return hashes, fmt.Errorf("split transaction %d/%d: %w",
				i+1, plan.Transactions, err)
		}

		hash, err := s.cfg.Ledger.SendMany(
			ctx, sourceAccount, outputs, s.cfg.MinConf,
		)
		if err != nil {
			return hashes, fmt.Errorf("split transaction %d/%d: %w",
				i+1, plan.Transactions, err)
		}

		monitoring.AddSplitTransactions(1)
		log.Debugf("Issued split transaction %d/%d: %v", i+1,
			plan.Transactions, hash)

		hashes = append(hashes, hash)
	}

	return hashes, nil
}

// fillOutputs requests one fresh target account address per amount.
func (s *Splitter) fillOutputs(ctx context.Context,
	amounts []btcutil.Amount) (map[string]btcutil.Amount, error) {

	outputs := make(map[string]btcutil.Amount, len(amounts))
	for _, amt := range amounts {
		addr, err := s.cfg.Ledger.NewAddress(ctx, s.cfg.TargetAccount)
		if err != nil {
			return nil, fmt.Errorf("unable to create address: %w",
				err)
		}

		if _, ok := outputs[addr]; ok {
			return nil, fmt.Errorf("ledger returned address %v "+
				"twice", addr)
		}
		outputs[addr] = amt
	}

	return outputs, nil
}
