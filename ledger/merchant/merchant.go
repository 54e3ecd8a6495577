// Package merchant implements the ledger interface on top of a hosted wallet
// exposing a form based HTTPS merchant API.
package merchant

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/payoutd/ledger"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 20 * time.Second

	// maxResponseSize is the largest response body that is read.
	maxResponseSize = 4 << 20
)

// insufficientFundsMessages are the error messages the API uses when the
// wallet cannot cover a payment.
var insufficientFundsMessages = []string{
	"insufficient funds",
	"no free outputs",
}

// Config holds the parameters of a merchant API wallet.
type Config struct {
	// Host is the host name, and optionally the port, of the API.
	Host string

	// GUID identifies the wallet.
	GUID string

	// Password is sent with every request.
	Password string

	// Timeout bounds every request.
	Timeout time.Duration

	// RateLimit is the number of requests per second that may be sent.
	// Zero disables throttling.
	RateLimit float64

	// Burst is the number of requests that may exceed RateLimit at once.
	Burst int

	// TLSSkipVerify disables certificate verification.
	TLSSkipVerify bool

	// HTTPClient, if set, is used instead of a client built from the
	// options above.
	HTTPClient *http.Client
}

// Ledger is a ledger.Ledger backed by the merchant API.
type Ledger struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// Compile-time constraint to ensure Ledger implements ledger.Ledger.
var _ ledger.Ledger = (*Ledger)(nil)

// New creates a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Host == "" || cfg.GUID == "" {
		return nil, errors.New("host and guid must be set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					//nolint:gosec
					InsecureSkipVerify: cfg.TLSSkipVerify,
				},
			},
		}
	}

	limit, burst := rate.Inf, cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if burst < 1 {
		burst = 1
	}

	return &Ledger{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// endpoint returns the URL of an API method.
func (l *Ledger) endpoint(method string) string {
	return (&url.URL{
		Scheme: "https",
		Host:   l.cfg.Host,
		Path:   "/merchant/" + l.cfg.GUID + "/" + method,
	}).String()
}

// errorResponse is the body the API returns when it rejects a request.
type errorResponse struct {
	Error string `json:"error"`
}

// post sends form to the given API method and decodes the response into
// resp.
func (l *Ledger) post(ctx context.Context, method string, form url.Values,
	resp interface{}) error {

	if err := l.limiter.Wait(ctx); err != nil {
		return &ledger.TransportError{Op: method, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	form.Set("password", l.cfg.Password)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, l.endpoint(method),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return &ledger.TransportError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Tracef("Calling %v", method)

	httpResp, err := l.client.Do(req)
	if err != nil {
		return &ledger.TransportError{Op: method, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return &ledger.TransportError{Op: method, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &ledger.TransportError{
			Op:  method,
			Err: fmt.Errorf("unexpected status %v", httpResp.Status),
		}
	}

	log.Tracef("Response of %v: %s", method, body)

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &ledger.MalformedResponseError{Op: method, Err: err}
	}
	if errResp.Error != "" {
		return classify(method, errResp.Error)
	}

	if err := json.Unmarshal(body, resp); err != nil {
		return &ledger.MalformedResponseError{Op: method, Err: err}
	}

	return nil
}

// classify maps an error message reported by the API.
func classify(method, msg string) error {
	lower := strings.ToLower(msg)
	for _, m := range insufficientFundsMessages {
		if strings.Contains(lower, m) {
			return ledger.ErrInsufficientFunds
		}
	}

	return &ledger.DomainError{Op: method, Message: msg}
}

// txResponse is returned by the payment methods.
type txResponse struct {
	TxHash string `json:"tx_hash"`
}

// hash decodes the transaction hash of the response.
func (r *txResponse) hash(method string) (chainhash.Hash, error) {
	hash, err := chainhash.NewHashFromStr(r.TxHash)
	if err != nil || r.TxHash == "" {
		if err == nil {
			err = errors.New("missing tx_hash")
		}

		return chainhash.Hash{}, &ledger.MalformedResponseError{
			Op:  method,
			Err: err,
		}
	}

	return *hash, nil
}

// balanceResponse is returned by the balance methods.
type balanceResponse struct {
	Balance       string `json:"balance"`
	TotalReceived string `json:"total_received"`
}

// balances is a decoded balanceResponse.
type balances struct {
	balance       btcutil.Amount
	totalReceived btcutil.Amount
}

func (r *balanceResponse) decode(method string) (*balances, error) {
	balance, err := ledger.ParseAmount(r.Balance)
	if err != nil {
		return nil, &ledger.MalformedResponseError{Op: method, Err: err}
	}

	totalReceived, err := ledger.ParseAmount(r.TotalReceived)
	if err != nil {
		return nil, &ledger.MalformedResponseError{Op: method, Err: err}
	}

	return &balances{
		balance:       balance,
		totalReceived: totalReceived,
	}, nil
}

// Send pays amt to address out of account using the payment method.
func (l *Ledger) Send(ctx context.Context, account, address string,
	amt btcutil.Amount, minConf int32) (chainhash.Hash, error) {

	var resp txResponse
	err := l.post(ctx, "payment", url.Values{
		"from":    {account},
		"to":      {address},
		"amount":  {ledger.FormatAmount(amt)},
		"minconf": {strconv.Itoa(int(minConf))},
	}, &resp)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return resp.hash("payment")
}

// accountBalance queries the balances of account.
func (l *Ledger) accountBalance(ctx context.Context, account string,
	confirmations int32) (*balances, error) {

	var resp balanceResponse
	err := l.post(ctx, "account_balance", url.Values{
		"account":       {account},
		"confirmations": {strconv.Itoa(int(confirmations))},
	}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.decode("account_balance")
}

// Balance returns the balance of account counting only funds with at least
// minConf confirmations. The API reports the spendable balance including
// unconfirmed funds, so the amount received without minConf confirmations is
// subtracted from it.
func (l *Ledger) Balance(ctx context.Context, account string,
	minConf int32) (btcutil.Amount, error) {

	allSpends, err := l.accountBalance(ctx, account, 0)
	if err != nil {
		return 0, err
	}

	if minConf <= 0 {
		return allSpends.balance, nil
	}

	confirmed, err := l.accountBalance(ctx, account, minConf)
	if err != nil {
		return 0, err
	}

	unconfirmed := allSpends.totalReceived - confirmed.totalReceived
	balance := allSpends.balance - unconfirmed
	if balance < 0 {
		log.Debugf("Account %v has %v unconfirmed above its balance "+
			"of %v", account, unconfirmed, allSpends.balance)

		return 0, nil
	}

	return balance, nil
}

// ReceivedAt returns the amount received at address using the
// address_balance method.
func (l *Ledger) ReceivedAt(ctx context.Context, address string,
	minConf int32) (btcutil.Amount, error) {

	var resp balanceResponse
	err := l.post(ctx, "address_balance", url.Values{
		"address":       {address},
		"confirmations": {strconv.Itoa(int(minConf))},
	}, &resp)
	if err != nil {
		return 0, err
	}

	received, err := ledger.ParseAmount(resp.TotalReceived)
	if err != nil {
		return 0, &ledger.MalformedResponseError{
			Op:  "address_balance",
			Err: err,
		}
	}

	return received, nil
}

// NewAddress creates an address labeled with account.
func (l *Ledger) NewAddress(ctx context.Context,
	account string) (string, error) {

	var resp struct {
		Address string `json:"address"`
	}
	err := l.post(ctx, "new_address", url.Values{
		"label": {account},
	}, &resp)
	if err != nil {
		return "", err
	}

	if resp.Address == "" {
		return "", &ledger.MalformedResponseError{
			Op:  "new_address",
			Err: errors.New("missing address"),
		}
	}

	return resp.Address, nil
}

// SendMany pays every output out of account using the sendmany method.
func (l *Ledger) SendMany(ctx context.Context, account string,
	outputs map[string]btcutil.Amount,
	minConf int32) (chainhash.Hash, error) {

	recipients := make(map[string]string, len(outputs))
	for addr, amt := range outputs {
		recipients[addr] = ledger.FormatAmount(amt)
	}

	encoded, err := json.Marshal(recipients)
	if err != nil {
		return chainhash.Hash{}, err
	}

	var resp txResponse
	err = l.post(ctx, "sendmany", url.Values{
		"from":       {account},
		"recipients": {string(encoded)},
		"minconf":    {strconv.Itoa(int(minConf))},
	}, &resp)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return resp.hash("sendmany")
}

// listResponse is returned by the list_transactions method.
type listResponse struct {
	Txs []struct {
		Hash          string `json:"hash"`
		Confirmations int64  `json:"confirmations"`
		Out           []struct {
			Addr  string `json:"addr"`
			Value string `json:"value"`
		} `json:"out"`
	} `json:"txs"`
}

// ListTransactions returns the most recent transactions involving address
// using the list_transactions method.
func (l *Ledger) ListTransactions(ctx context.Context, address string,
	limit int) ([]ledger.Transaction, error) {

	var resp listResponse
	err := l.post(ctx, "list_transactions", url.Values{
		"address": {address},
		"limit":   {strconv.Itoa(limit)},
	}, &resp)
	if err != nil {
		return nil, err
	}

	malformed := func(err error) error {
		return &ledger.MalformedResponseError{
			Op:  "list_transactions",
			Err: err,
		}
	}

	txns := make([]ledger.Transaction, 0, len(resp.Txs))
	for _, tx := range resp.Txs {
		if len(txns) == limit {
			break
		}

		hash, err := chainhash.NewHashFromStr(tx.Hash)
		if err != nil {
			return nil, malformed(err)
		}

		outputs := make([]ledger.Output, 0, len(tx.Out))
		for _, out := range tx.Out {
			amt, err := ledger.ParseAmount(out.Value)
			if err != nil {
				return nil, malformed(err)
			}

			outputs = append(outputs, ledger.Output{
				Address: out.Addr,
				Amount:  amt,
			})
		}

		txns = append(txns, ledger.Transaction{
			Hash:          *hash,
			Confirmations: tx.Confirmations,
			Outputs:       outputs,
		})
	}

	return txns, nil
}
