package workers

import (
	"context"
	"fmt"
	"sync"
)

// WorkerEntry is the function a ThreadDriver runs on its own goroutine,
// given the worker-side end of an in-memory transport pipe. It should build
// a Connection/Server over conn and block until told to stop; returning
// ends the worker and is reported through Wait as ExitNormal.
type WorkerEntry func(conn Transport)

// ThreadDriver runs a worker on a goroutine in the host's own address
// space rather than a separate OS process, connected over a net.Pipe
// instead of a stream socket. There is no process boundary to cross, so
// Capabilities().SharedMemory is true and Reconnect is false: once the
// goroutine returns there is nothing left to reattach to.
type ThreadDriver struct {
	entry WorkerEntry

	mu      sync.Mutex
	started bool
	exitCh  chan ExitInfo
}

// NewThreadDriverFactory returns a Factory that runs entry on its own
// goroutine per spawn.
func NewThreadDriverFactory(entry WorkerEntry) Factory {
	return func() (Driver, error) {
		return &ThreadDriver{entry: entry, exitCh: make(chan ExitInfo, 1)}, nil
	}
}

func (d *ThreadDriver) Capabilities() Capabilities {
	return Capabilities{Reconnect: false, Detached: false, SharedMemory: true}
}

// Connect starts the worker goroutine on first call and returns a
// Connection over its half of an in-memory pipe. A second call against an
// already-started ThreadDriver is an error: there is no process to
// redial, only the one goroutine already running.
func (d *ThreadDriver) Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, wrapFailure(KindConnectRefused, fmt.Errorf("workers: thread driver worker already started"))
	}
	d.started = true
	d.mu.Unlock()

	hostSide, workerSide := newPipeTransportPair()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.exitCh <- ExitInfo{Kind: ExitTransportError, Err: fmt.Errorf("workers: worker goroutine panicked: %v", r)}
				close(d.exitCh)
				return
			}
			d.exitCh <- ExitInfo{Kind: ExitNormal}
			close(d.exitCh)
		}()
		d.entry(workerSide)
	}()

	return newConnection(hostSide, cfg), nil
}

// Wait returns a channel that receives exactly one ExitInfo when the
// worker goroutine returns, then is closed.
func (d *ThreadDriver) Wait() <-chan ExitInfo { return d.exitCh }

// Kill has no OS-level equivalent for a goroutine and is a no-op: the
// Client's own Close already closes the host side of the pipe, which is
// what makes the worker's next read/write fail and its goroutine return.
func (d *ThreadDriver) Kill() error { return nil }
