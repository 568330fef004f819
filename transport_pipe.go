package workers

import (
	"context"
	"net"
)

// pipeTransport is the in-memory port transport used by the thread driver:
// both ends live in the same process, so a net.Pipe full-duplex pair
// stands in for a real socket with zero syscalls.
type pipeTransport = net.Conn

// newPipeTransportPair returns the host and worker ends of a thread-driver
// connection. Unlike the stream-socket transport there is no listen/accept
// phase: the pipe is wired synchronously at spawn time.
func newPipeTransportPair() (host, worker Transport) {
	a, b := net.Pipe()
	return a, b
}

// pipeDialer returns an already-wired pipe end as if it had just been
// dialed. It is not a dialFunc, and ThreadDriver.Connect does not call it:
// the thread driver wires its pipe pair directly. ctx is accepted for
// signature symmetry with dialSocket; net.Pipe never blocks on connect.
func pipeDialer(_ context.Context, conn Transport) (Transport, error) {
	return conn, nil
}
