package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newClientServerPair(t *testing.T, cfg *Config) (*Client, *Server) {
	t.Helper()
	hostT, workerT := newPipeTransportPair()
	hostConn := newConnection(hostT, cfg)
	workerConn := newConnection(workerT, cfg)

	client := NewClient(hostConn, cfg)
	server := NewServer(cfg)
	server.Serve(workerConn)

	t.Cleanup(func() { client.Close() })
	return client, server
}

func TestClientServerEcho(t *testing.T) {
	cfg := defaultConfig()
	client, server := newClientServerPair(t, cfg)

	server.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
		var v map[string]any
		require.NoError(t, json.Unmarshal(payload, &v))
		return v, nil
	})

	result, err := client.Send(context.Background(), "echo", map[string]any{"hello": "world"})
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"world"}`, string(result))
}

func TestClientServerHandlerError(t *testing.T) {
	cfg := defaultConfig()
	client, server := newClientServerPair(t, cfg)

	server.Handle("divide", func(_ context.Context, payload json.RawMessage) (any, error) {
		var args struct{ A, B float64 }
		require.NoError(t, json.Unmarshal(payload, &args))
		if args.B == 0 {
			return nil, newFailure(KindHandlerError)
		}
		return args.A / args.B, nil
	})

	_, err := client.Send(context.Background(), "divide", map[string]float64{"A": 1, "B": 0})
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, KindHandlerError, f.Kind)
}

func TestClientServerUnknownMessageType(t *testing.T) {
	cfg := defaultConfig()
	client, _ := newClientServerPair(t, cfg)

	_, err := client.Send(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestClientPerTypeTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.timeouts["slow"] = 50 * time.Millisecond
	client, server := newClientServerPair(t, cfg)

	server.Handle("slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	_, err := client.Send(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClientOneWayMessageGetsNoResponse(t *testing.T) {
	cfg := defaultConfig()
	client, server := newClientServerPair(t, cfg)

	called := make(chan struct{}, 1)
	server.Handle("notify", func(_ context.Context, _ json.RawMessage) (any, error) {
		called <- struct{}{}
		return nil, nil
	})

	conn := client.getConn()
	responses := make(chan Record, 1)
	conn.OnMessage(func(rec Record) { responses <- rec })
	require.NoError(t, conn.Send(Record{Type: "notify"}))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("one-way handler was never invoked")
	}

	select {
	case rec := <-responses:
		t.Fatalf("one-way message got a response frame: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientConcurrentRequestsEachGetOwnResponse(t *testing.T) {
	cfg := defaultConfig()
	client, server := newClientServerPair(t, cfg)

	server.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
		var v int
		require.NoError(t, json.Unmarshal(payload, &v))
		return v, nil
	})

	const n = 100
	results := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			res, err := client.Send(context.Background(), "echo", i)
			if err != nil {
				errs <- err
				return
			}
			var v int
			errs <- json.Unmarshal(res, &v)
			results <- v
		}(i)
	}

	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		v := <-results
		require.False(t, seen[v], "duplicate result %d", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
}
