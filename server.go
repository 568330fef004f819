package workers

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler processes one decoded request payload and returns the value to
// serialize back as the result. Returning an error produces an
// Error-suffixed response frame instead of a Result-suffixed one.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Server is the worker side of the protocol. It holds a handler registry
// keyed by message type and dispatches each inbound request on its own
// goroutine, so a slow handler never blocks unrelated requests and
// responses are written in completion order rather than arrival order.
// A request with an empty Tx is one-way: its return value and any error
// are discarded, and no response frame is sent.
type Server struct {
	cfg  *Config
	conn *Connection

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer builds a worker server against cfg. Call Serve once the
// worker's transport has accepted the host's connection.
func NewServer(cfg *Config) *Server {
	return &Server{cfg: cfg, handlers: map[string]Handler{}}
}

// Handle registers (or replaces) the handler for msgType.
func (s *Server) Handle(msgType string, h Handler) {
	s.mu.Lock()
	s.handlers[msgType] = h
	s.mu.Unlock()
}

// Serve attaches the server to an open connection and begins dispatching.
// It returns immediately; dispatch happens on Connection's read loop
// goroutine plus one goroutine per in-flight request.
func (s *Server) Serve(conn *Connection) {
	s.conn = conn
	conn.OnMessage(s.dispatch)
	conn.OnClose(func() {
		s.cfg.logger.Info("workers: host connection closed, worker server idle")
	})
}

func (s *Server) dispatch(rec Record) {
	s.mu.RLock()
	h, ok := s.handlers[rec.Type]
	s.mu.RUnlock()

	if !ok {
		if rec.Tx != "" {
			s.respondError(rec.Tx, rec.Type, newFailure(KindUnknownMessageType))
		} else {
			s.cfg.logger.WithField("type", rec.Type).Warn("workers: no handler for one-way message type")
		}
		return
	}

	go s.run(h, rec)
}

// run executes one handler on its own goroutine. Cancellation is
// best-effort: ctx is canceled when the host connection closes or the
// server's base context is canceled, but a handler ignoring ctx simply
// keeps running until it returns on its own.
func (s *Server) run(h Handler, rec Record) {
	ctx, cancel := context.WithCancel(s.cfg.ctx)
	defer cancel()
	go func() {
		select {
		case <-s.conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := h(ctx, rec.Payload)

	if rec.Tx == "" {
		if err != nil {
			s.cfg.logger.WithError(err).WithField("type", rec.Type).Warn("workers: one-way handler error")
		}
		return
	}

	if err != nil {
		s.respondError(rec.Tx, rec.Type, err)
		return
	}
	s.respondResult(rec.Tx, rec.Type, result)
}

func (s *Server) respondResult(tx, reqType string, value any) {
	payload, err := s.cfg.serializer.Encode(value)
	if err != nil {
		s.respondError(tx, reqType, err)
		return
	}
	if err := s.conn.Send(Record{Tx: tx, Type: resultType(reqType), Payload: payload}); err != nil {
		s.cfg.logger.WithError(err).WithField("tx", tx).Warn("workers: failed to send result")
	}
}

func (s *Server) respondError(tx, reqType string, cause error) {
	se := serializeError(cause)
	payload, err := s.cfg.serializer.Encode(se)
	if err != nil {
		s.cfg.logger.WithError(err).Error("workers: failed to encode error response")
		return
	}
	if err := s.conn.Send(Record{Tx: tx, Type: errorType(reqType), Payload: payload}); err != nil {
		s.cfg.logger.WithError(err).WithField("tx", tx).Warn("workers: failed to send error response")
	}
}

// serializeError turns a Go error into the wire SerializedError shape.
// A *Failure's Kind becomes Name when no more specific name was set; any
// other error just carries its Error() string as Message.
func serializeError(err error) SerializedError {
	if f, ok := err.(*Failure); ok {
		name := f.Name
		if name == "" {
			name = f.Kind.String()
		}
		msg := f.Message
		if msg == "" {
			msg = f.Error()
		}
		return SerializedError{Name: name, Message: msg, Code: f.Code}
	}
	return SerializedError{Name: "Error", Message: err.Error()}
}
