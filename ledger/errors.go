package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when the ledger refuses a send
	// because the account cannot cover it. No transaction was created, so
	// the send must not be retried or reconciled.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAddress is returned when a destination address is
	// rejected before any request is made.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrRetryTimeout is returned when an operation did not succeed
	// before its retry deadline expired.
	ErrRetryTimeout = errors.New("network timeout")
)

// TransportError is returned when a request could not be delivered or its
// response could not be read: connection failures, timeouts and non-success
// HTTP statuses. The remote side may or may not have acted on the request.
type TransportError struct {
	// Op is the ledger operation that failed.
	Op string

	// Err is the underlying failure.
	Err error
}

// Error returns a human readable description of the failure.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: transport failure: %v", e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is returned when a response arrived but could not be
// decoded.
type MalformedResponseError struct {
	// Op is the ledger operation that failed.
	Op string

	// Err is the decoding failure.
	Err error
}

// Error returns a human readable description of the failure.
func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%v: malformed response: %v", e.Op, e.Err)
}

// Unwrap returns the decoding failure.
func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// DomainError is returned when the ledger understood a request and rejected
// it for a reason other than insufficient funds.
type DomainError struct {
	// Op is the ledger operation that failed.
	Op string

	// Code is the error code reported by the ledger, if any.
	Code int

	// Message is the error message reported by the ledger.
	Message string
}

// Error returns a human readable description of the rejection.
func (e *DomainError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%v: rejected: %v", e.Op, e.Message)
	}

	return fmt.Sprintf("%v: rejected (code %d): %v", e.Op, e.Code,
		e.Message)
}

// IsRetryable returns true if err is a failure that a read-only lookup may
// retry: a transport failure or a malformed response.
func IsRetryable(err error) bool {
	var (
		transportErr *TransportError
		malformedErr *MalformedResponseError
	)

	return errors.As(err, &transportErr) || errors.As(err, &malformedErr)
}
