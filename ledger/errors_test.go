package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestIsRetryable checks which failures a lookup may retry.
func TestIsRetryable(t *testing.T) {
	t.Parallel()

	transportErr := &TransportError{
		Op:  "list_transactions",
		Err: errors.New("connection refused"),
	}
	malformedErr := &MalformedResponseError{
		Op:  "list_transactions",
		Err: errors.New("unexpected EOF"),
	}
	domainErr := &DomainError{
		Op:      "list_transactions",
		Code:    -5,
		Message: "invalid address",
	}

	require.True(t, IsRetryable(transportErr))
	require.True(t, IsRetryable(malformedErr))
	require.True(t, IsRetryable(fmt.Errorf("fetch: %w", transportErr)))

	require.False(t, IsRetryable(domainErr))
	require.False(t, IsRetryable(ErrInsufficientFunds))
	require.False(t, IsRetryable(ErrRetryTimeout))
	require.False(t, IsRetryable(nil))
}

// TestErrorMessages checks that the typed errors keep the operation name and
// unwrap to their cause.
func TestErrorMessages(t *testing.T) {
	t.Parallel()

	cause := errors.New("i/o timeout")
	err := &TransportError{Op: "payment", Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "payment")

	require.Equal(t, "network timeout", ErrRetryTimeout.Error())

	domainErr := &DomainError{Op: "payment", Message: "address invalid"}
	require.Equal(t, "payment: rejected: address invalid",
		domainErr.Error())

	domainErr.Code = -5
	require.Equal(t, "payment: rejected (code -5): address invalid",
		domainErr.Error())
}
