package walletcfg

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestDefaultsValidate asserts that every default sub-configuration is valid
// except the merchant one, which needs credentials.
func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(
		DefaultBitcoind(), DefaultSplit(), DefaultRetry(),
		DefaultMonitor(), DefaultPrometheus(), DefaultHealthCheck(),
		DefaultFee(),
	))

	require.Error(t, DefaultMerchant().Validate())

	m := DefaultMerchant()
	m.GUID = "wallet-guid"
	m.Password = "secret"
	require.NoError(t, m.Validate())
}

// TestBitcoindParams checks the network name mapping.
func TestBitcoindParams(t *testing.T) {
	t.Parallel()

	b := DefaultBitcoind()
	b.Network = "regtest"
	params, err := b.Params()
	require.NoError(t, err)
	require.Equal(t, chaincfg.RegressionNetParams.Name, params.Name)

	b.Network = "simnet"
	require.Error(t, b.Validate())
}

// TestValidateRanges checks out of range values for each sub-configuration.
func TestValidateRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func() Validator
	}{
		{
			name: "zero outputs per tx",
			modify: func() Validator {
				s := DefaultSplit()
				s.OutputsPerTx = 0
				return s
			},
		},
		{
			name: "negative tx fee",
			modify: func() Validator {
				s := DefaultSplit()
				s.TxFee = -1
				return s
			},
		},
		{
			name: "estimated fee without target",
			modify: func() Validator {
				s := DefaultSplit()
				s.TxFee = 0
				s.FeeConfTarget = 0
				return s
			},
		},
		{
			name: "retry timeout below interval",
			modify: func() Validator {
				r := DefaultRetry()
				r.Timeout = time.Second
				return r
			},
		},
		{
			name: "poll interval too short",
			modify: func() Validator {
				m := DefaultMonitor()
				m.PollInterval = time.Millisecond
				return m
			},
		},
		{
			name: "empty account",
			modify: func() Validator {
				m := DefaultMonitor()
				m.Accounts = []string{""}
				return m
			},
		},
		{
			name: "prometheus without listener",
			modify: func() Validator {
				p := DefaultPrometheus()
				p.Enable = true
				p.Listen = ""
				return p
			},
		},
		{
			name: "health check interval too short",
			modify: func() Validator {
				h := DefaultHealthCheck()
				h.Ledger.Interval = time.Second
				return h
			},
		},
		{
			name: "bad estimate mode",
			modify: func() Validator {
				b := DefaultBitcoind()
				b.EstimateMode = "FAST"
				return b
			},
		},
		{
			name: "fee timeouts inverted",
			modify: func() Validator {
				f := DefaultFee()
				f.MaxUpdateTimeout = time.Minute
				return f
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			require.Error(t, test.modify().Validate())
		})
	}
}

// TestDisabledHealthCheck asserts that a check with zero attempts is not
// validated.
func TestDisabledHealthCheck(t *testing.T) {
	t.Parallel()

	h := DefaultHealthCheck()
	h.Ledger.Attempts = 0
	h.Ledger.Interval = 0
	require.NoError(t, h.Validate())
}
