package chainfee

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// FeePerKVByteFloor is the lowest fee rate in sat/kvB that we should
	// use for estimating transaction fees before signing. It matches the
	// default minimum relay fee of bitcoind.
	FeePerKVByteFloor SatPerKVByte = 1000

	// TxOverheadVSize is the virtual size of the version, locktime, segwit
	// marker and input/output counts of a transaction.
	TxOverheadVSize = 11

	// P2WKHInputVSize is the virtual size of a P2WKH input including its
	// witness.
	P2WKHInputVSize = 68

	// P2WKHOutputVSize is the virtual size of a P2WKH output.
	P2WKHOutputVSize = 31

	// splitTxInputs is the number of inputs assumed for a split
	// transaction. The funding account is topped up rarely, so it seldom
	// holds more than a couple of outputs.
	splitTxInputs = 2
)

// SatPerKVByte represents a fee rate in sat/kvB.
type SatPerKVByte btcutil.Amount

// FeeForVSize calculates the fee resulting from this fee rate and the given
// vsize in vbytes.
func (s SatPerKVByte) FeeForVSize(vbytes int64) btcutil.Amount {
	return btcutil.Amount(s) * btcutil.Amount(vbytes) / 1000
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return fmt.Sprintf("%v sat/kvb", int64(s))
}

// SendManyVSize estimates the virtual size of a transaction spending
// numInputs P2WKH inputs into numOutputs P2WKH outputs plus change.
func SendManyVSize(numInputs, numOutputs int) int64 {
	return TxOverheadVSize + int64(numInputs)*P2WKHInputVSize +
		int64(numOutputs+1)*P2WKHOutputVSize
}

// SplitTxFee estimates the fee of one split transaction with the given
// number of outputs, confirming within confTarget blocks.
func SplitTxFee(e Estimator, confTarget uint32,
	outputsPerTx int) (btcutil.Amount, error) {

	rate, err := e.EstimateFeePerKVByte(confTarget)
	if err != nil {
		return 0, err
	}

	vsize := SendManyVSize(splitTxInputs, outputsPerTx)
	fee := rate.FeeForVSize(vsize)

	log.Debugf("Estimated split transaction fee of %v for %d outputs "+
		"(%d vbytes at %v)", fee, outputsPerTx, vsize, rate)

	return fee, nil
}
