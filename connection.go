package workers

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connState is the Connection lifecycle:
// Connecting -> Open -> Closing -> Closed. Closing and Closed are both
// terminal-adjacent: Closing only exists while Close() is unwinding the
// read loop, and the transition to Closed happens exactly once.
type connState int32

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

// Connection is the framed, bidirectional message channel between a host
// and one worker execution context. It owns the transport's read loop,
// layering Framer (byte stream -> frames) and Serializer (frame -> Record)
// on top, and fans decoded Records, transport errors, and the close event
// out to registered handlers. State is atomic, close is sync.Once-guarded,
// and the only lock held across a transport call is writeMu, around the
// single Write of one frame.
type Connection struct {
	cfg        *Config
	transport  Transport
	framer     *Framer
	serializer Serializer

	state atomic.Int32

	// handlersMu guards the three slices below. Handlers are snapshotted
	// under the lock and invoked outside it, so a handler registering
	// another handler (or Close()) can't deadlock against dispatch.
	handlersMu sync.Mutex
	onMessage  []func(Record)
	onError    []func(error)
	onClose    []func()

	writeMu   sync.Mutex // serializes Send; one frame in flight at a time
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(t Transport, cfg *Config) *Connection {
	c := &Connection{
		cfg:        cfg,
		transport:  t,
		framer:     NewFramer(cfg.serializer),
		serializer: cfg.serializer,
		closed:     make(chan struct{}),
	}
	c.state.Store(int32(stateOpen))
	go c.readLoop()
	return c
}

// dialFunc opens one transport attempt. The process driver supplies a
// closure that calls dialSocket on its endpoint; the thread driver has no
// dial phase and does not use one.
type dialFunc func(ctx context.Context) (Transport, error)

// openConnection performs a bounded connect-retry: up to cfg.connectAttempts
// dial attempts, each bounded by cfg.attemptTimeout, spaced by cfg.backoff.
// The last failure is reported as a ConnectTimeout or ConnectRefused
// Failure depending on its cause.
func openConnection(ctx context.Context, dial dialFunc, cfg *Config) (*Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.connectAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.attemptTimeout)
		t, err := dial(attemptCtx)
		cancel()
		if err == nil {
			return newConnection(t, cfg), nil
		}
		lastErr = err
		cfg.metrics.IncrementRetries()

		if attempt == cfg.connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, wrapFailure(KindConnectTimeout, ctx.Err())
		case <-time.After(min(cfg.backoff(attempt), MaxConnectBackoff)):
		}
	}

	kind := KindConnectTimeout
	if errors.Is(lastErr, net.ErrClosed) || isConnRefused(lastErr) {
		kind = KindConnectRefused
	}
	return nil, wrapFailure(kind, lastErr)
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout()
}

// OnMessage registers a handler invoked for every decoded frame, in
// registration order. Handlers are expected to return quickly; a worker
// server dispatches the actual message handling onto its own goroutine
// rather than blocking this loop.
func (c *Connection) OnMessage(fn func(Record)) {
	c.handlersMu.Lock()
	c.onMessage = append(c.onMessage, fn)
	c.handlersMu.Unlock()
}

// OnError registers a handler invoked when the transport reports a local
// error (not a graceful remote close).
func (c *Connection) OnError(fn func(error)) {
	c.handlersMu.Lock()
	c.onError = append(c.onError, fn)
	c.handlersMu.Unlock()
}

// OnClose registers a handler invoked exactly once when the connection
// transitions to Closed, whether via Close() or a transport-reported
// closure.
func (c *Connection) OnClose(fn func()) {
	c.handlersMu.Lock()
	c.onClose = append(c.onClose, fn)
	c.handlersMu.Unlock()
}

// State reports the current lifecycle state.
func (c *Connection) State() connState { return connState(c.state.Load()) }

// Done returns a channel closed exactly once the connection reaches
// Closed, whether via Close() or a transport-reported closure.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Send encodes rec, applies outgoing middleware, frames it, and writes it
// to the transport. Safe for concurrent use: writes are
// serialized by writeMu so concurrent Send calls never interleave frames.
func (c *Connection) Send(rec Record) error {
	if connState(c.state.Load()) != stateOpen {
		return ErrNotConnected
	}

	runMiddlewares(c.cfg.middlewares, Outgoing, &rec, c.cfg.logger)

	data, err := c.serializer.Encode(rec)
	if err != nil {
		return err
	}
	framed := c.framer.Frame(data)

	c.writeMu.Lock()
	n, err := c.transport.Write(framed)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.cfg.metrics.IncrementFramesSent()
	c.cfg.metrics.IncrementBytesSent(int64(n))
	return nil
}

func (c *Connection) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			for _, frame := range c.framer.Push(buf[:n]) {
				c.handleFrame(frame)
			}
		}
		if err != nil {
			c.handleReadError(err)
			return
		}
	}
}

func (c *Connection) handleFrame(frame []byte) {
	var rec Record
	if err := c.serializer.Decode(frame, &rec); err != nil {
		c.cfg.logger.WithError(err).Warn("workers: dropped unparseable frame")
		return
	}

	c.cfg.metrics.IncrementFramesReceived()
	c.cfg.metrics.IncrementBytesReceived(int64(len(frame)))

	runMiddlewares(c.cfg.middlewares, Incoming, &rec, c.cfg.logger)

	c.handlersMu.Lock()
	handlers := append([]func(Record){}, c.onMessage...)
	c.handlersMu.Unlock()

	for _, h := range handlers {
		c.safeCall(func() { h(rec) })
	}
}

func (c *Connection) handleReadError(err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		c.handlersMu.Lock()
		handlers := append([]func(error){}, c.onError...)
		c.handlersMu.Unlock()
		for _, h := range handlers {
			e := err
			c.safeCall(func() { h(e) })
		}
	}
	c.transitionClosed()
}

// safeCall invokes fn, logging (not propagating) a panic: a misbehaving
// handler must not take the read loop down with it.
func (c *Connection) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.logger.WithField("panic", r).Error("workers: handler panicked")
		}
	}()
	fn()
}

// Close gracefully tears the connection down: it stops accepting Sends
// immediately, then closes the transport, unblocking the read loop. The
// onClose handlers fire exactly once (transitionClosed is idempotent),
// whether Close was called or the peer closed first.
func (c *Connection) Close() error {
	c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing))
	err := c.transport.Close()
	<-c.closed
	return err
}

func (c *Connection) transitionClosed() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.closed)

		c.handlersMu.Lock()
		handlers := append([]func(){}, c.onClose...)
		c.handlersMu.Unlock()
		for _, h := range handlers {
			c.safeCall(h)
		}
	})
}
