package walletcfg

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultPollInterval = 30 * time.Second
	minPollInterval     = time.Second
	defaultPollAccount  = "funding"
)

// Monitor holds the options of the account and deposit poller.
//
//nolint:lll
type Monitor struct {
	PollInterval time.Duration `long:"pollinterval" description:"How often watched accounts and deposit addresses are polled"`
	LowLatency   bool          `long:"lowlatency" description:"Count unconfirmed funds when polling balances and deposits"`
	Accounts     []string      `long:"account" description:"An account to poll and split once funded. May be given multiple times."`
	Deposits     []string      `long:"deposit" description:"A deposit address to watch. May be given multiple times."`
}

// DefaultMonitor returns the default poller options.
func DefaultMonitor() *Monitor {
	return &Monitor{
		PollInterval: defaultPollInterval,
		Accounts:     []string{defaultPollAccount},
	}
}

// Validate checks the poller options.
func (m *Monitor) Validate() error {
	if m.PollInterval < minPollInterval {
		return fmt.Errorf("monitor.pollinterval must be at least %v, "+
			"got %v", minPollInterval, m.PollInterval)
	}

	for _, account := range m.Accounts {
		if account == "" {
			return errors.New("monitor.account must not be empty")
		}
	}

	return nil
}
