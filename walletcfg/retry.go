package walletcfg

import (
	"fmt"
	"time"
)

const (
	defaultRetryTimeout  = 60 * time.Second
	defaultRetryInterval = 5 * time.Second
	defaultPageSize      = 10
)

// Retry holds the retry budget of a payment and of the lookups made to
// reconcile it.
//
//nolint:lll
type Retry struct {
	Timeout  time.Duration `long:"timeout" description:"How long a payment is retried before it fails with a network timeout"`
	Interval time.Duration `long:"interval" description:"The pause between a failed attempt and the next one"`
	PageSize int           `long:"pagesize" description:"The number of recent transactions of an address inspected to recognize a payment"`
}

// DefaultRetry returns the default retry budget.
func DefaultRetry() *Retry {
	return &Retry{
		Timeout:  defaultRetryTimeout,
		Interval: defaultRetryInterval,
		PageSize: defaultPageSize,
	}
}

// Validate checks the retry budget.
func (r *Retry) Validate() error {
	switch {
	case r.Interval <= 0:
		return fmt.Errorf("retry.interval must be positive, got %v",
			r.Interval)

	case r.Timeout < r.Interval:
		return fmt.Errorf("retry.timeout (%v) must not be shorter "+
			"than retry.interval (%v)", r.Timeout, r.Interval)

	case r.PageSize < 1:
		return fmt.Errorf("retry.pagesize must be at least 1, got %d",
			r.PageSize)
	}

	return nil
}
