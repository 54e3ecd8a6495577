// Package bitcoind implements the ledger interface on top of the wallet RPC
// of a bitcoind node.
package bitcoind

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightningnetwork/payoutd/ledger"
)

const (
	// DefaultTimeout bounds every RPC call.
	DefaultTimeout = 20 * time.Second

	// listScanFactor is the number of wallet entries fetched per
	// requested transaction in one listtransactions page.
	listScanFactor = 10
)

// Config holds the connection parameters of a bitcoind wallet.
type Config struct {
	// Host is the host:port of the RPC interface.
	Host string

	// User and Pass authenticate the RPC connection.
	User string
	Pass string

	// CookiePath, if set, is used instead of User and Pass.
	CookiePath string

	// Params are the parameters of the network the wallet runs on.
	Params *chaincfg.Params

	// Timeout bounds every RPC call.
	Timeout time.Duration
}

// Ledger is a ledger.Ledger backed by a bitcoind wallet over JSON-RPC.
type Ledger struct {
	client  *rpcclient.Client
	params  *chaincfg.Params
	timeout time.Duration
}

// Compile-time constraint to ensure Ledger implements ledger.Ledger.
var _ ledger.Ledger = (*Ledger)(nil)

// New creates a Ledger. No connection is made until the first call.
func New(cfg Config) (*Ledger, error) {
	if cfg.Params == nil {
		return nil, errors.New("network parameters must be set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		CookiePath:   cfg.CookiePath,
		Params:       cfg.Params.Name,
		DisableTLS:   true,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create rpc client: %w", err)
	}

	return &Ledger{
		client:  client,
		params:  cfg.Params,
		timeout: cfg.Timeout,
	}, nil
}

// Client returns the underlying RPC client.
func (l *Ledger) Client() *rpcclient.Client {
	return l.client
}

// Stop shuts the RPC client down.
func (l *Ledger) Stop() {
	l.client.Shutdown()
	l.client.WaitForShutdown()
}

// result carries the outcome of a call made on another goroutine.
type result[T any] struct {
	val T
	err error
}

// call runs f under the per-call timeout and translates its failure into the
// ledger error taxonomy. The client blocks without honoring a context, so f
// runs on its own goroutine and is abandoned once the timeout fires.
func call[T any](ctx context.Context, l *Ledger, op string,
	f func() (T, error)) (T, error) {

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resChan := make(chan result[T], 1)
	go func() {
		val, err := f()
		resChan <- result[T]{val: val, err: err}
	}()

	var zero T
	select {
	case res := <-resChan:
		if res.err != nil {
			return zero, mapError(op, res.err)
		}

		return res.val, nil

	case <-ctx.Done():
		return zero, &ledger.TransportError{Op: op, Err: ctx.Err()}
	}
}

// mapError classifies an RPC client error.
func mapError(op string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == btcjson.ErrRPCWalletInsufficientFunds {
			return ledger.ErrInsufficientFunds
		}

		return &ledger.DomainError{
			Op:      op,
			Code:    int(rpcErr.Code),
			Message: rpcErr.Message,
		}
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, chainhash.ErrHashStrSize):

		return &ledger.MalformedResponseError{Op: op, Err: err}
	}

	return &ledger.TransportError{Op: op, Err: err}
}

// decodeAddress parses address for the wallet's network.
func (l *Ledger) decodeAddress(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, l.params)
	if err != nil {
		return nil, fmt.Errorf("%w %v: %v", ledger.ErrInvalidAddress,
			address, err)
	}

	if !addr.IsForNet(l.params) {
		return nil, fmt.Errorf("%w %v: not a %v address",
			ledger.ErrInvalidAddress, address, l.params.Name)
	}

	return addr, nil
}

// Send pays amt to address out of account using sendfrom.
func (l *Ledger) Send(ctx context.Context, account, address string,
	amt btcutil.Amount, minConf int32) (chainhash.Hash, error) {

	addr, err := l.decodeAddress(address)
	if err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := call(ctx, l, "sendfrom", func() (*chainhash.Hash, error) {
		return l.client.SendFromMinConf(
			account, addr, amt, int(minConf),
		)
	})
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *hash, nil
}

// Balance returns the balance of account using getbalance.
func (l *Ledger) Balance(ctx context.Context, account string,
	minConf int32) (btcutil.Amount, error) {

	return call(ctx, l, "getbalance", func() (btcutil.Amount, error) {
		return l.client.GetBalanceMinConf(account, int(minConf))
	})
}

// ReceivedAt returns the amount received at address using
// getreceivedbyaddress.
func (l *Ledger) ReceivedAt(ctx context.Context, address string,
	minConf int32) (btcutil.Amount, error) {

	addr, err := l.decodeAddress(address)
	if err != nil {
		return 0, err
	}

	return call(ctx, l, "getreceivedbyaddress",
		func() (btcutil.Amount, error) {
			return l.client.GetReceivedByAddressMinConf(
				addr, int(minConf),
			)
		},
	)
}

// NewAddress creates an address in account using getnewaddress.
func (l *Ledger) NewAddress(ctx context.Context,
	account string) (string, error) {

	addr, err := call(ctx, l, "getnewaddress",
		func() (btcutil.Address, error) {
			return l.client.GetNewAddress(account)
		},
	)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}

// SendMany pays every output out of account using sendmany.
func (l *Ledger) SendMany(ctx context.Context, account string,
	outputs map[string]btcutil.Amount,
	minConf int32) (chainhash.Hash, error) {

	amounts := make(map[btcutil.Address]btcutil.Amount, len(outputs))
	for address, amt := range outputs {
		addr, err := l.decodeAddress(address)
		if err != nil {
			return chainhash.Hash{}, err
		}
		amounts[addr] = amt
	}

	hash, err := call(ctx, l, "sendmany", func() (*chainhash.Hash, error) {
		return l.client.SendManyMinConf(account, amounts, int(minConf))
	})
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *hash, nil
}

// ListTransactions returns the most recent wallet transactions touching
// address using listtransactions. Wallet entries are grouped by txid; send
// entries carry negative amounts and are reported by their absolute value.
//
// The wallet lists entries of all its addresses, so older pages are fetched
// until limit transactions of address are complete or the wallet history is
// exhausted.
func (l *Ledger) ListTransactions(ctx context.Context, address string,
	limit int) ([]ledger.Transaction, error) {

	if limit <= 0 {
		return nil, nil
	}

	var (
		pageSize = limit * listScanFactor
		entries  []btcjson.ListTransactionsResult
	)
	for from := 0; ; from += pageSize {
		page, err := call(ctx, l, "listtransactions",
			func() ([]btcjson.ListTransactionsResult, error) {
				return l.client.ListTransactionsCountFrom(
					"*", pageSize, from,
				)
			},
		)
		if err != nil {
			return nil, err
		}

		// Pages are oldest first, and each page is older than the
		// previous one.
		entries = append(page, entries...)

		if len(page) < pageSize {
			break
		}

		// The entries of one transaction are contiguous, so once a
		// further transaction of address shows up the newest limit
		// ones are complete.
		txns, err := groupEntries(entries, address, limit+1)
		if err != nil {
			return nil, err
		}
		if len(txns) > limit {
			break
		}
	}

	return groupEntries(entries, address, limit)
}

// groupEntries folds wallet entries into transactions involving address,
// newest first. The wallet lists entries oldest first, and a payment to one
// of its own addresses appears as both a send and a receive entry of the same
// output.
func groupEntries(entries []btcjson.ListTransactionsResult, address string,
	limit int) ([]ledger.Transaction, error) {

	var (
		order []string
		txns  = make(map[string]*ledger.Transaction)
		seen  = make(map[string]struct{})
	)
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Address != address {
			continue
		}

		outpoint := fmt.Sprintf("%v:%d", entry.TxID, entry.Vout)
		if _, ok := seen[outpoint]; ok {
			continue
		}

		amt, err := btcutil.NewAmount(math.Abs(entry.Amount))
		if err != nil {
			return nil, &ledger.MalformedResponseError{
				Op:  "listtransactions",
				Err: err,
			}
		}

		tx, ok := txns[entry.TxID]
		if !ok {
			if len(order) == limit {
				continue
			}

			hash, err := chainhash.NewHashFromStr(entry.TxID)
			if err != nil {
				return nil, &ledger.MalformedResponseError{
					Op:  "listtransactions",
					Err: err,
				}
			}

			tx = &ledger.Transaction{
				Hash:          *hash,
				Confirmations: entry.Confirmations,
			}
			txns[entry.TxID] = tx
			order = append(order, entry.TxID)
		}

		seen[outpoint] = struct{}{}
		tx.Outputs = append(tx.Outputs, ledger.Output{
			Address: entry.Address,
			Amount:  amt,
		})
	}

	result := make([]ledger.Transaction, 0, len(order))
	for _, txid := range order {
		result = append(result, *txns[txid])
	}

	return result, nil
}
