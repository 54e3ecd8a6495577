package ledger

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// MockLedger is a mock implementation of the Ledger interface.
type MockLedger struct {
	mock.Mock
}

// Compile-time constraint to ensure MockLedger implements Ledger.
var _ Ledger = (*MockLedger)(nil)

// Send mocks the Send method of the Ledger interface.
func (m *MockLedger) Send(ctx context.Context, account, address string,
	amt btcutil.Amount, minConf int32) (chainhash.Hash, error) {

	args := m.Called(ctx, account, address, amt, minConf)

	return args.Get(0).(chainhash.Hash), args.Error(1)
}

// Balance mocks the Balance method of the Ledger interface.
func (m *MockLedger) Balance(ctx context.Context, account string,
	minConf int32) (btcutil.Amount, error) {

	args := m.Called(ctx, account, minConf)

	return args.Get(0).(btcutil.Amount), args.Error(1)
}

// ReceivedAt mocks the ReceivedAt method of the Ledger interface.
func (m *MockLedger) ReceivedAt(ctx context.Context, address string,
	minConf int32) (btcutil.Amount, error) {

	args := m.Called(ctx, address, minConf)

	return args.Get(0).(btcutil.Amount), args.Error(1)
}

// NewAddress mocks the NewAddress method of the Ledger interface.
func (m *MockLedger) NewAddress(ctx context.Context,
	account string) (string, error) {

	args := m.Called(ctx, account)

	return args.String(0), args.Error(1)
}

// SendMany mocks the SendMany method of the Ledger interface.
func (m *MockLedger) SendMany(ctx context.Context, account string,
	outputs map[string]btcutil.Amount,
	minConf int32) (chainhash.Hash, error) {

	args := m.Called(ctx, account, outputs, minConf)

	return args.Get(0).(chainhash.Hash), args.Error(1)
}

// ListTransactions mocks the ListTransactions method of the Ledger interface.
func (m *MockLedger) ListTransactions(ctx context.Context, address string,
	limit int) ([]Transaction, error) {

	args := m.Called(ctx, address, limit)

	txns, _ := args.Get(0).([]Transaction)

	return txns, args.Error(1)
}
