package workers

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// crashOnceThenServe builds a WorkerEntry that, on its first invocation,
// waits for the echo request to arrive and then crashes (returns) without
// responding, and on every later invocation serves "echo" requests
// normally. Crashing only after the request arrives, rather than on
// spawn, avoids racing the request's insertion into the pending table
// against the crash being observed.
func crashOnceThenServe(t *testing.T) WorkerEntry {
	t.Helper()
	var calls atomic.Int32
	return func(conn Transport) {
		cfg := defaultConfig()
		c := newConnection(conn, cfg)

		if calls.Add(1) == 1 {
			received := make(chan struct{})
			c.OnMessage(func(Record) { close(received) })
			<-received
			return
		}

		srv := NewServer(cfg)
		srv.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
			var v int
			require.NoError(t, json.Unmarshal(payload, &v))
			return v, nil
		})
		srv.Serve(c)
		<-c.Done()
	}
}

func TestSessionRetriesAcrossRespawn(t *testing.T) {
	entry := crashOnceThenServe(t)
	cfg := NewConfig(
		WithDefaultStrategy(RetryStrategy(2)),
		WithConnectRetry(3, time.Second),
	)

	sess, err := NewSession(context.Background(), NewThreadDriverFactory(entry), cfg)
	require.NoError(t, err)
	defer sess.Close()

	result, err := sess.Client().Send(context.Background(), "echo", 42)
	require.NoError(t, err)

	var v int
	require.NoError(t, json.Unmarshal(result, &v))
	require.Equal(t, 42, v)
}

func TestSessionRejectsWithoutRetryStrategy(t *testing.T) {
	entry := crashOnceThenServe(t)
	cfg := NewConfig(WithDefaultStrategy(RejectStrategy))

	sess, err := NewSession(context.Background(), NewThreadDriverFactory(entry), cfg)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Client().Send(context.Background(), "echo", 1)
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, KindWorkerCrashed, f.Kind)
}

func TestSessionRespawnBudgetExhausted(t *testing.T) {
	entry := func(conn Transport) {} // crashes immediately, every spawn

	cfg := NewConfig(
		WithDefaultStrategy(RetryStrategy(5)),
		WithMaxRespawnsPerSession(1),
	)

	sess, err := NewSession(context.Background(), NewThreadDriverFactory(entry), cfg)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Client().Send(context.Background(), "echo", 1)
	require.Error(t, err)
}
