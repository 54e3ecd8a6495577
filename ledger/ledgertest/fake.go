// Package ledgertest provides an in-memory Ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/payoutd/ledger"
)

// SendFault decides the fate of a send. attempt counts the sends made so far,
// starting at 1. If err is non-nil it is returned to the caller; broadcast
// reports whether the transaction is recorded anyway, which models a request
// that reached the ledger but whose response was lost.
type SendFault func(attempt int) (broadcast bool, err error)

// CallFault returns the error to fail the given call with, or nil to let it
// through. call counts the calls of that kind made so far, starting at 1.
type CallFault func(call int) error

// account holds the confirmed and unconfirmed funds of one account.
type account struct {
	confirmed   btcutil.Amount
	unconfirmed btcutil.Amount
}

// FakeLedger is an in-memory ledger.Ledger. Transactions are created
// unconfirmed and confirmed by Mine. Faults can be injected per call kind to
// model an unreliable remote service.
type FakeLedger struct {
	// SendFault, if set, is consulted by every Send.
	SendFault SendFault

	// SendManyFault, if set, is consulted by every SendMany.
	SendManyFault SendFault

	// NewAddressFault, if set, is consulted by every NewAddress.
	NewAddressFault CallFault

	// ListFault, if set, is consulted by every ListTransactions.
	ListFault CallFault

	// BalanceFault, if set, is consulted by every Balance and
	// ReceivedAt.
	BalanceFault CallFault

	mu sync.Mutex

	accounts map[string]*account

	// owners maps addresses created by NewAddress to their account.
	owners map[string]string

	// received holds the funds received per address.
	received map[string]*account

	// txns is ordered newest first.
	txns []*ledger.Transaction

	seq int

	sendCalls       int
	sendManyCalls   int
	newAddressCalls int
	listCalls       int
	balanceCalls    int
}

// Compile-time constraint to ensure FakeLedger implements ledger.Ledger.
var _ ledger.Ledger = (*FakeLedger)(nil)

// New creates an empty FakeLedger.
func New() *FakeLedger {
	return &FakeLedger{
		accounts: make(map[string]*account),
		owners:   make(map[string]string),
		received: make(map[string]*account),
	}
}

// acct returns the named account, creating it if needed. The mutex must be
// held.
func (f *FakeLedger) acct(name string) *account {
	a, ok := f.accounts[name]
	if !ok {
		a = &account{}
		f.accounts[name] = a
	}

	return a
}

// recv returns the received totals of address, creating them if needed. The
// mutex must be held.
func (f *FakeLedger) recv(address string) *account {
	r, ok := f.received[address]
	if !ok {
		r = &account{}
		f.received[address] = r
	}

	return r
}

// Fund credits amt to account as confirmed funds.
func (f *FakeLedger) Fund(name string, amt btcutil.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acct(name).confirmed += amt
}

// Deposit records an external payment of amt to address. If confirmed is
// false the funds stay unconfirmed until Mine is called.
func (f *FakeLedger) Deposit(address string, amt btcutil.Amount,
	confirmed bool) chainhash.Hash {

	f.mu.Lock()
	defer f.mu.Unlock()

	tx := f.record([]ledger.Output{{Address: address, Amount: amt}})
	if confirmed {
		tx.Confirmations = 1
	}
	f.credit(address, amt, confirmed)

	return tx.Hash
}

// Mine confirms every unconfirmed transaction and adds a confirmation to all
// others.
func (f *FakeLedger) Mine() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tx := range f.txns {
		tx.Confirmations++
	}
	for _, a := range f.accounts {
		a.confirmed += a.unconfirmed
		a.unconfirmed = 0
	}
	for _, r := range f.received {
		r.confirmed += r.unconfirmed
		r.unconfirmed = 0
	}
}

// Transactions returns a copy of every recorded transaction, newest first.
func (f *FakeLedger) Transactions() []ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	txns := make([]ledger.Transaction, 0, len(f.txns))
	for _, tx := range f.txns {
		txns = append(txns, copyTx(tx))
	}

	return txns
}

// PaymentsTo returns the number of recorded transactions paying exactly amt
// to address.
func (f *FakeLedger) PaymentsTo(address string, amt btcutil.Amount) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int
	for _, tx := range f.txns {
		if tx.PaysTo(address, amt) {
			n++
		}
	}

	return n
}

// SendCalls returns the number of Send calls made.
func (f *FakeLedger) SendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sendCalls
}

// SendManyCalls returns the number of SendMany calls made.
func (f *FakeLedger) SendManyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sendManyCalls
}

// NewAddressCalls returns the number of NewAddress calls made.
func (f *FakeLedger) NewAddressCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.newAddressCalls
}

// ListCalls returns the number of ListTransactions calls made.
func (f *FakeLedger) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCalls
}

// record appends a new unconfirmed transaction. The mutex must be held.
func (f *FakeLedger) record(outputs []ledger.Output) *ledger.Transaction {
	f.seq++
	tx := &ledger.Transaction{
		Hash:    chainhash.DoubleHashH([]byte(fmt.Sprintf("tx-%d", f.seq))),
		Outputs: outputs,
	}
	f.txns = append([]*ledger.Transaction{tx}, f.txns...)

	return tx
}

// credit adds amt to the received total of address and, if the address
// belongs to an account, to that account. The mutex must be held.
func (f *FakeLedger) credit(address string, amt btcutil.Amount,
	confirmed bool) {

	r := f.recv(address)
	if confirmed {
		r.confirmed += amt
	} else {
		r.unconfirmed += amt
	}

	owner, ok := f.owners[address]
	if !ok {
		return
	}

	a := f.acct(owner)
	if confirmed {
		a.confirmed += amt
	} else {
		a.unconfirmed += amt
	}
}

// spendable returns the funds of account usable at minConf. The mutex must be
// held.
func (f *FakeLedger) spendable(name string, minConf int32) btcutil.Amount {
	a := f.acct(name)
	if minConf == 0 {
		return a.confirmed + a.unconfirmed
	}

	return a.confirmed
}

// debit removes amt from account, taking confirmed funds first. The mutex must
// be held.
func (f *FakeLedger) debit(name string, amt btcutil.Amount) {
	a := f.acct(name)
	if amt <= a.confirmed {
		a.confirmed -= amt
		return
	}

	a.unconfirmed -= amt - a.confirmed
	a.confirmed = 0
}

// pay moves funds out of account to the given outputs and records the
// transaction. The mutex must be held.
func (f *FakeLedger) pay(name string, outputs []ledger.Output,
	minConf int32) (chainhash.Hash, error) {

	var total btcutil.Amount
	for _, out := range outputs {
		total += out.Amount
	}
	if total > f.spendable(name, minConf) {
		return chainhash.Hash{}, ledger.ErrInsufficientFunds
	}

	f.debit(name, total)
	for _, out := range outputs {
		f.credit(out.Address, out.Amount, false)
	}

	return f.record(outputs).Hash, nil
}

// applyFault runs fault for attempt. It returns a non-nil error if the call
// must fail, and whether the transaction must still be recorded.
func applyFault(fault SendFault, attempt int) (bool, error) {
	if fault == nil {
		return true, nil
	}

	return fault(attempt)
}

// Send pays amt to address out of account.
func (f *FakeLedger) Send(ctx context.Context, account, address string,
	amt btcutil.Amount, minConf int32) (chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendCalls++
	broadcast, faultErr := applyFault(f.SendFault, f.sendCalls)
	if faultErr != nil && !broadcast {
		return chainhash.Hash{}, faultErr
	}

	hash, err := f.pay(
		account, []ledger.Output{{Address: address, Amount: amt}},
		minConf,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if faultErr != nil {
		return chainhash.Hash{}, faultErr
	}

	return hash, nil
}

// SendMany pays every output out of account in one transaction.
func (f *FakeLedger) SendMany(ctx context.Context, account string,
	outputs map[string]btcutil.Amount,
	minConf int32) (chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sendManyCalls++
	broadcast, faultErr := applyFault(f.SendManyFault, f.sendManyCalls)
	if faultErr != nil && !broadcast {
		return chainhash.Hash{}, faultErr
	}

	outs := make([]ledger.Output, 0, len(outputs))
	for addr, amt := range outputs {
		outs = append(outs, ledger.Output{Address: addr, Amount: amt})
	}

	hash, err := f.pay(account, outs, minConf)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if faultErr != nil {
		return chainhash.Hash{}, faultErr
	}

	return hash, nil
}

// Balance returns the funds of account usable at minConf.
func (f *FakeLedger) Balance(ctx context.Context, account string,
	minConf int32) (btcutil.Amount, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.balanceCalls++
	if f.BalanceFault != nil {
		if err := f.BalanceFault(f.balanceCalls); err != nil {
			return 0, err
		}
	}

	return f.spendable(account, minConf), nil
}

// ReceivedAt returns the funds received at address with at least minConf
// confirmations.
func (f *FakeLedger) ReceivedAt(ctx context.Context, address string,
	minConf int32) (btcutil.Amount, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.balanceCalls++
	if f.BalanceFault != nil {
		if err := f.BalanceFault(f.balanceCalls); err != nil {
			return 0, err
		}
	}

	r := f.recv(address)
	if minConf == 0 {
		return r.confirmed + r.unconfirmed, nil
	}

	return r.confirmed, nil
}

// NewAddress creates a fresh address owned by account.
func (f *FakeLedger) NewAddress(ctx context.Context,
	account string) (string, error) {

	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.newAddressCalls++
	if f.NewAddressFault != nil {
		if err := f.NewAddressFault(f.newAddressCalls); err != nil {
			return "", err
		}
	}

	addr := fmt.Sprintf("%s-%04d", account, f.newAddressCalls)
	f.owners[addr] = account

	return addr, nil
}

// ListTransactions returns at most limit of the newest transactions paying to
// address.
func (f *FakeLedger) ListTransactions(ctx context.Context, address string,
	limit int) ([]ledger.Transaction, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.ListFault != nil {
		if err := f.ListFault(f.listCalls); err != nil {
			return nil, err
		}
	}

	var txns []ledger.Transaction
	for _, tx := range f.txns {
		if len(txns) == limit {
			break
		}

		for _, out := range tx.Outputs {
			if out.Address == address {
				txns = append(txns, copyTx(tx))
				break
			}
		}
	}

	return txns, nil
}

// copyTx returns a deep copy of tx.
func copyTx(tx *ledger.Transaction) ledger.Transaction {
	c := *tx
	c.Outputs = append([]ledger.Output(nil), tx.Outputs...)

	return c
}
