package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocketListenerRefusesSecondConnection(t *testing.T) {
	endpoint := filepath.Join(t.TempDir(), "refuse.sock")
	cfg := defaultConfig()

	ln, err := listenSocket(endpoint, cfg)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		_, _ = ln.Accept(ctx)
	}()

	// Give the accept goroutine a chance to mark the listener active before
	// the dial below lands, and before the concurrent second Accept call.
	time.Sleep(20 * time.Millisecond)

	_, err = ln.Accept(context.Background())
	require.ErrorIs(t, err, ErrAlreadyConnected)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := dialSocket(dialCtx, endpoint)
	require.NoError(t, err)
	defer conn.Close()

	<-acceptDone
}

func TestAcceptRetryBackoffGrowsAndResets(t *testing.T) {
	r := newAcceptRetry(5*time.Millisecond, 20*time.Millisecond)
	require.Equal(t, 5*time.Millisecond, r.wait)

	r.backoff()
	require.Equal(t, 10*time.Millisecond, r.wait)

	r.backoff()
	require.Equal(t, 20*time.Millisecond, r.wait)

	r.backoff()
	require.Equal(t, 20*time.Millisecond, r.wait, "wait should not exceed retryCeiling")

	r.reset()
	require.Equal(t, 5*time.Millisecond, r.wait)

	// The backoff right after a reset is skipped rather than slept.
	start := time.Now()
	r.backoff()
	require.Less(t, time.Since(start), 5*time.Millisecond)
	require.Equal(t, 5*time.Millisecond, r.wait)
}

func TestNewAcceptRetryAppliesDefaultsAndFloors(t *testing.T) {
	r := newAcceptRetry(0, 0)
	require.Equal(t, DefaultAcceptRetryFloor, r.retryFloor)
	require.Equal(t, DefaultAcceptRetryFloor, r.retryCeiling)

	r2 := newAcceptRetry(50*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 50*time.Millisecond, r2.retryCeiling, "ceiling below floor is raised to match it")
}
