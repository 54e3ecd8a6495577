package walletcfg

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	defaultBitcoindDir = btcutil.AppDataDir("bitcoin", false)
)

const (
	defaultRPCHost              = "localhost"
	defaultBitcoindNetwork      = "mainnet"
	defaultBitcoindEstimateMode = "CONSERVATIVE"

	// defaultRPCTimeout bounds every call made to bitcoind.
	defaultRPCTimeout = 20 * time.Second
)

// Bitcoind holds the configuration options for the connection to the
// bitcoind wallet.
//
//nolint:lll
type Bitcoind struct {
	Dir          string        `long:"dir" description:"The base directory that contains the node's data, logs, configuration file, etc."`
	ConfigPath   string        `long:"config" description:"Configuration filepath. If not set, will default to the default filename under 'dir'."`
	RPCCookie    string        `long:"rpccookie" description:"Authentication cookie file for RPC connections. If not set, will default to .cookie under 'dir'."`
	RPCHost      string        `long:"rpchost" description:"The daemon's rpc listening address. If a port is omitted, then the default port for the selected network will be used."`
	RPCUser      string        `long:"rpcuser" description:"Username for RPC connections"`
	RPCPass      string        `long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	Network      string        `long:"network" description:"The network the wallet operates on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet"`
	Timeout      time.Duration `long:"timeout" description:"The maximum time a single RPC call may take"`
	EstimateMode string        `long:"estimatemode" description:"The fee estimate mode. Must be either ECONOMICAL or CONSERVATIVE."`
}

// DefaultBitcoind returns a default configuration for the bitcoind backend.
func DefaultBitcoind() *Bitcoind {
	return &Bitcoind{
		Dir:          defaultBitcoindDir,
		RPCHost:      defaultRPCHost,
		Network:      defaultBitcoindNetwork,
		Timeout:      defaultRPCTimeout,
		EstimateMode: defaultBitcoindEstimateMode,
	}
}

// Params returns the chain parameters of the configured network.
func (b *Bitcoind) Params() (*chaincfg.Params, error) {
	switch b.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %v", b.Network)
	}
}

// Validate checks the bitcoind options.
func (b *Bitcoind) Validate() error {
	if _, err := b.Params(); err != nil {
		return err
	}

	if b.Timeout <= 0 {
		return fmt.Errorf("bitcoind.timeout must be positive, got %v",
			b.Timeout)
	}

	switch b.EstimateMode {
	case "ECONOMICAL", "CONSERVATIVE":
	default:
		return fmt.Errorf("bitcoind.estimatemode must be ECONOMICAL "+
			"or CONSERVATIVE, got %v", b.EstimateMode)
	}

	return nil
}
