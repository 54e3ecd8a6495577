package walletcfg

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultMerchantHost    = "blockchain.info"
	defaultMerchantTimeout = 20 * time.Second

	// defaultMerchantRate is the number of requests per second sent to
	// the merchant API.
	defaultMerchantRate  = 5
	defaultMerchantBurst = 10
)

// Merchant holds the configuration options for the HTTPS merchant wallet
// API.
//
//nolint:lll
type Merchant struct {
	Host          string        `long:"host" description:"The host name of the merchant API"`
	GUID          string        `long:"guid" description:"The wallet identifier"`
	Password      string        `long:"password" default-mask:"-" description:"The wallet password sent with every request"`
	Timeout       time.Duration `long:"timeout" description:"The maximum time a single request may take"`
	RateLimit     float64       `long:"ratelimit" description:"The maximum number of requests per second sent to the API"`
	Burst         int           `long:"burst" description:"The number of requests that may exceed the rate limit in a burst"`
	TLSSkipVerify bool          `long:"tlsskipverify" description:"Do not verify the certificate of the API. Only for testing."`
}

// DefaultMerchant returns a default configuration for the merchant backend.
func DefaultMerchant() *Merchant {
	return &Merchant{
		Host:      defaultMerchantHost,
		Timeout:   defaultMerchantTimeout,
		RateLimit: defaultMerchantRate,
		Burst:     defaultMerchantBurst,
	}
}

// Validate checks the merchant options.
func (m *Merchant) Validate() error {
	switch {
	case m.Host == "":
		return errors.New("merchant.host must be set")

	case m.GUID == "":
		return errors.New("merchant.guid must be set")

	case m.Password == "":
		return errors.New("merchant.password must be set")

	case m.Timeout <= 0:
		return fmt.Errorf("merchant.timeout must be positive, got %v",
			m.Timeout)

	case m.RateLimit <= 0:
		return fmt.Errorf("merchant.ratelimit must be positive, got %v",
			m.RateLimit)

	case m.Burst < 1:
		return fmt.Errorf("merchant.burst must be at least 1, got %v",
			m.Burst)
	}

	return nil
}
