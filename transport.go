package workers

import (
	"context"
	"io"
	"net"
)

// Transport is the raw bidirectional byte carrier between a host and a
// worker execution context. It deliberately mirrors the
// narrow slice of net.Conn that Connection needs: any net.Conn (a Unix
// domain socket, an in-memory net.Pipe half) satisfies it without
// adaptation. Framing (Framer) and wire decoding (Serializer) are layered
// on top by Connection, which owns the read loop and turns transport bytes
// into three events — frame-received, remote-closed, local-error — as
// OnMessage/OnClose/OnError callbacks.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// transportDialer opens the host side of a transport. Drivers supply one
// matching the endpoint they handed the worker at spawn time.
type transportDialer func(ctx context.Context, endpoint string) (Transport, error)

// transportListener accepts the worker side of a transport. It must refuse
// a second connection attempt while one is already active.
type transportListener interface {
	Accept(ctx context.Context) (Transport, error)
	Close() error
	Addr() net.Addr
}
