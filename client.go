package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// pendingRequest is one in-flight request awaiting a response: a one-shot
// channel the resolver delivers into, the deadline Send computed from the
// effective timeout, and the shutdown/retry strategy and attempt count a
// Session consults when the worker terminates mid-flight.
type pendingRequest struct {
	resultCh chan pendingResult
	deadline time.Time
	msgType  string
	payload  []byte // re-sent verbatim on a policy-driven retry
	strategy Strategy
	attempt  int
}

type pendingResult struct {
	payload json.RawMessage
	err     error
}

// Client is the host side of the protocol: it multiplexes concurrent Send
// calls over one Connection using transaction ids, and resolves each one
// exactly once, by success, error, timeout, or connection loss. Each
// pending entry tracks its own deadline and strategy so a Session can
// resend it against a respawned worker instead of failing it outright.
type Client struct {
	cfg *Config

	connMu sync.RWMutex
	conn   *Connection

	driverMu sync.RWMutex
	driver   Driver

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	disconnectMu sync.Mutex
	disconnectFn func(error)

	closedMu sync.Mutex
	closed   bool
}

// NewClient wraps an already-open Connection as a host client. Driver code
// calls this once the connect phase (openConnection) has succeeded. The
// default disconnect behavior fails every outstanding request with
// Disconnected; a Session overrides this with setDisconnectHandler to
// apply the shutdown/retry policy instead.
func NewClient(conn *Connection, cfg *Config) *Client {
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		pending: map[string]*pendingRequest{},
	}
	c.disconnectFn = func(err error) { c.failAllPending(wrapFailure(KindDisconnected, err)) }

	conn.OnMessage(c.handleRecord)
	conn.OnClose(func() { c.disconnect(nil) })
	conn.OnError(func(err error) { c.disconnect(err) })

	return c
}

func (c *Client) getConn() *Connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// bindDriver records the Driver currently backing this Client, so
// Disconnect/Reconnect can consult its Capabilities and call through to it.
// Session calls this once after spawning and again after every respawn.
func (c *Client) bindDriver(d Driver) {
	c.driverMu.Lock()
	c.driver = d
	c.driverMu.Unlock()
}

func (c *Client) getDriver() Driver {
	c.driverMu.RLock()
	defer c.driverMu.RUnlock()
	return c.driver
}

// rebind swaps in a freshly connected Connection after a Session-driven
// respawn and wires its events back to this Client.
func (c *Client) rebind(conn *Connection) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	conn.OnMessage(c.handleRecord)
	conn.OnClose(func() { c.disconnect(nil) })
	conn.OnError(func(err error) { c.disconnect(err) })
}

// setDisconnectHandler overrides the default "fail everything" behavior.
// Used by Session, which has a more authoritative signal for why the
// connection went away (the driver's exit event, with reason/exit code)
// than a bare transport close.
func (c *Client) setDisconnectHandler(fn func(error)) {
	c.disconnectMu.Lock()
	c.disconnectFn = fn
	c.disconnectMu.Unlock()
}

func (c *Client) disconnect(err error) {
	c.disconnectMu.Lock()
	fn := c.disconnectFn
	c.disconnectMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Send issues a request of the given message type and blocks until a
// response arrives, the connection closes, or the effective timeout for
// msgType elapses. The returned payload is the raw decoded result payload
// on success. On failure the error is a *Failure, except that an error
// encoding payload and ctx's own error on cancellation are returned as is.
func (c *Client) Send(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	c.closedMu.Lock()
	closed := c.closed
	c.closedMu.Unlock()
	if closed {
		return nil, newFailure(KindWorkerClosed)
	}

	conn := c.getConn()
	if conn == nil {
		return nil, newFailure(KindWorkerInactive)
	}

	data, err := c.cfg.serializer.Encode(payload)
	if err != nil {
		return nil, err
	}

	tx := c.cfg.txGen.Next()
	timeout := c.cfg.effectiveTimeout(msgType)

	pr := &pendingRequest{
		resultCh: make(chan pendingResult, 1),
		deadline: time.Now().Add(timeout),
		msgType:  msgType,
		payload:  data,
		strategy: c.cfg.strategyFor(msgType),
		attempt:  1,
	}

	c.pendingMu.Lock()
	c.pending[tx] = pr
	c.pendingMu.Unlock()

	if err := conn.Send(Record{Tx: tx, Type: msgType, Payload: data}); err != nil {
		c.removePending(tx)
		return nil, wrapFailure(KindDisconnected, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pr.resultCh:
		return res.payload, res.err
	case <-timer.C:
		c.removePending(tx)
		return nil, newFailure(KindTimeout)
	case <-ctx.Done():
		c.removePending(tx)
		return nil, ctx.Err()
	}
}

// removePending deletes tx from the table if still present and reports
// whether it was there (guards against a response racing a timeout).
func (c *Client) removePending(tx string) (*pendingRequest, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	pr, ok := c.pending[tx]
	if ok {
		delete(c.pending, tx)
	}
	return pr, ok
}

// handleRecord resolves the pending entry matching rec.Tx, if any. A
// response for an unknown tx is logged and dropped, never fatal. The
// pending entry is removed from the table before the resolver is
// signaled, so a duplicate/late response can't double-resolve it.
func (c *Client) handleRecord(rec Record) {
	_, isResult, isError := baseType(rec.Type)
	if !isResult && !isError {
		c.cfg.logger.WithField("type", rec.Type).Warn("workers: ignoring non-response frame on client connection")
		return
	}

	pr, ok := c.removePending(rec.Tx)
	if !ok {
		c.cfg.logger.WithField("tx", rec.Tx).Warn("workers: response for unknown transaction, dropped")
		return
	}

	if isError {
		var se SerializedError
		if err := c.cfg.serializer.Decode(rec.Payload, &se); err != nil {
			pr.resultCh <- pendingResult{err: wrapFailure(KindHandlerError, err)}
			return
		}
		kind := KindHandlerError
		if se.Name == KindUnknownMessageType.String() {
			kind = KindUnknownMessageType
		}
		pr.resultCh <- pendingResult{err: &Failure{Kind: kind, Name: se.Name, Message: se.Message, Code: se.Code}}
		return
	}

	pr.resultCh <- pendingResult{payload: rec.Payload}
}

// failAllPending resolves every outstanding request with err. This is the
// default disconnect behavior; a Session replaces it via
// setDisconnectHandler so it can retry eligible requests instead.
func (c *Client) failAllPending(err error) {
	for tx, pr := range c.snapshotAndClear() {
		_ = tx
		pr.resultCh <- pendingResult{err: err}
	}
}

// snapshotAndClear atomically takes ownership of every pending entry,
// leaving the table empty. Used both by failAllPending and by Session when
// a worker crash requires re-triaging every outstanding request.
func (c *Client) snapshotAndClear() map[string]*pendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.pending
	c.pending = map[string]*pendingRequest{}
	return out
}

// reinsertAndResend restores a pending entry after a successful respawn and
// re-sends its original payload under a freshly generated tx from the same
// generator, so the replay never shares an id with the attempt that was
// lost in the crash.
func (c *Client) reinsertAndResend(pr *pendingRequest) {
	tx := c.cfg.txGen.Next()

	c.pendingMu.Lock()
	c.pending[tx] = pr
	c.pendingMu.Unlock()

	conn := c.getConn()
	if conn == nil {
		c.failPending(tx, newFailure(KindWorkerInactive))
		return
	}
	if err := conn.Send(Record{Tx: tx, Type: pr.msgType, Payload: pr.payload}); err != nil {
		c.failPending(tx, wrapFailure(KindDisconnected, err))
	}
}

func (c *Client) failPending(tx string, err error) {
	pr, ok := c.removePending(tx)
	if ok {
		pr.resultCh <- pendingResult{err: err}
	}
}

// markInactive clears the current connection so concurrent Sends fail
// fast with WorkerInactive during the gap between a crash and a
// successful respawn.
func (c *Client) markInactive() {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
}

// Close marks the client closed and fails any still-outstanding requests,
// then closes the underlying connection.
func (c *Client) Close() error {
	c.closedMu.Lock()
	c.closed = true
	c.closedMu.Unlock()

	c.failAllPending(newFailure(KindWorkerClosed))

	conn := c.getConn()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Disconnect closes the current connection while leaving the worker itself
// running, failing every outstanding request with Disconnected. Only
// supported against a driver whose Capabilities().Reconnect is true (the
// worker survives a dropped transport); any other driver returns
// ErrCapabilityUnsupported without touching the connection.
func (c *Client) Disconnect() error {
	driver := c.getDriver()
	if driver == nil || !driver.Capabilities().Reconnect {
		return ErrCapabilityUnsupported
	}

	conn := c.getConn()
	c.markInactive()
	c.failAllPending(newFailure(KindDisconnected))

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reconnect attaches a fresh Connection to the still-running worker via the
// bound driver, without replaying any pending entries — it is the caller's
// responsibility to resend anything it still cares about. Returns
// ErrCapabilityUnsupported for a driver that doesn't support Reconnect.
func (c *Client) Reconnect(ctx context.Context) error {
	driver := c.getDriver()
	if driver == nil || !driver.Capabilities().Reconnect {
		return ErrCapabilityUnsupported
	}

	conn, err := driver.Connect(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.rebind(conn)
	return nil
}
