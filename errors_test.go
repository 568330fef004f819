package workers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailureIsMatchesSentinelByKind(t *testing.T) {
	f := wrapFailure(KindTimeout, fmt.Errorf("boom"))
	require.ErrorIs(t, f, ErrTimeout)
	require.False(t, errors.Is(f, ErrDisconnected))
}

func TestFailureAsUnwrapsWrapped(t *testing.T) {
	cause := fmt.Errorf("underlying")
	f := wrapFailure(KindConnectRefused, cause)

	var got *Failure
	require.ErrorAs(t, f, &got)
	require.Equal(t, KindConnectRefused, got.Kind)
	require.ErrorIs(t, f, cause)
}

func TestFailureErrorStringsByKind(t *testing.T) {
	crashed := &Failure{Kind: KindWorkerCrashed, Reason: "signal killed", Attempt: 2, MaxAttempts: 3}
	require.Contains(t, crashed.Error(), "signal killed")
	require.Contains(t, crashed.Error(), "2/3")

	handlerErr := &Failure{Kind: KindHandlerError, Name: "ValueError", Message: "bad input"}
	require.Contains(t, handlerErr.Error(), "ValueError")
	require.Contains(t, handlerErr.Error(), "bad input")
}
