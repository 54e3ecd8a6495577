package walletcfg

import (
	"fmt"
	"time"
)

const (
	// DefaultMinUpdateTimeout represents the minimum interval in which a
	// web API fee estimator will request fresh fees from its API.
	DefaultMinUpdateTimeout = 5 * time.Minute

	// DefaultMaxUpdateTimeout represents the maximum interval in which a
	// web API fee estimator will request fresh fees from its API.
	DefaultMaxUpdateTimeout = 20 * time.Minute
)

// Fee holds the configuration options for fee estimation.
//
//nolint:lll
type Fee struct {
	URL              string        `long:"url" description:"Optional URL for external fee estimation. If not set, fees are estimated by bitcoind or the static fallback is used."`
	FallbackFeeRate  int64         `long:"fallbackfeerate" description:"The fee rate in sat/kvB used when no estimate is available"`
	MinUpdateTimeout time.Duration `long:"min-update-timeout" description:"The minimum interval in which fees will be updated from the specified fee URL."`
	MaxUpdateTimeout time.Duration `long:"max-update-timeout" description:"The maximum interval in which fees will be updated from the specified fee URL."`
}

// DefaultFee returns the default fee estimation options.
func DefaultFee() *Fee {
	return &Fee{
		FallbackFeeRate:  20_000,
		MinUpdateTimeout: DefaultMinUpdateTimeout,
		MaxUpdateTimeout: DefaultMaxUpdateTimeout,
	}
}

// Validate checks the fee estimation options.
func (f *Fee) Validate() error {
	if f.FallbackFeeRate <= 0 {
		return fmt.Errorf("fee.fallbackfeerate must be positive, got %d",
			f.FallbackFeeRate)
	}

	if f.MinUpdateTimeout <= 0 || f.MaxUpdateTimeout < f.MinUpdateTimeout {
		return fmt.Errorf("fee update timeouts must satisfy "+
			"0 < min (%v) <= max (%v)", f.MinUpdateTimeout,
			f.MaxUpdateTimeout)
	}

	return nil
}
