package workers

import (
	"context"
	"sort"
	"strconv"
)

// Capabilities flags what a Driver supports, so callers don't have to
// type-assert for optional behavior: Disconnect/Reconnect are only ever
// exposed on a driver whose Capabilities().Reconnect is true.
type Capabilities struct {
	// Reconnect is true if the worker survives a closed transport (the
	// process driver: the OS process keeps running) and a new transport
	// can be attached to the same worker.
	Reconnect bool
	// Detached is true if the driver supports releasing the worker from
	// parent-lifetime coupling.
	Detached bool
	// SharedMemory is true if host and worker share an address space (the
	// thread driver), so no serialization boundary is strictly required.
	SharedMemory bool
}

// ExitKind classifies how a worker execution context ended.
type ExitKind int

const (
	// ExitNormal is a clean process exit or goroutine return.
	ExitNormal ExitKind = iota
	// ExitSignaled is a process terminated by a signal.
	ExitSignaled
	// ExitTransportError is a local transport failure unrelated to the
	// worker's own termination (e.g. a broken pipe write).
	ExitTransportError
	// ExitRemoteClosed is a graceful remote close with the worker still
	// alive (only meaningful for drivers with Capabilities().Reconnect).
	ExitRemoteClosed
)

// ExitInfo is the one-shot termination report a Driver delivers on its
// Wait channel.
type ExitInfo struct {
	Kind   ExitKind
	Code   int    // process exit code, meaningful for ExitNormal
	Signal string // signal name, meaningful for ExitSignaled
	Err    error  // set for ExitTransportError
}

// reason renders ExitInfo as the short string a WorkerCrashed Failure
// carries as its Reason field.
func (e ExitInfo) reason() string {
	switch e.Kind {
	case ExitNormal:
		return "exit code " + strconv.Itoa(e.Code)
	case ExitSignaled:
		return "signal " + e.Signal
	case ExitTransportError:
		if e.Err != nil {
			return "transport error: " + e.Err.Error()
		}
		return "transport error"
	default:
		return "remote closed"
	}
}

// Driver spawns and manages one worker execution context: process or
// thread. It is a polymorphic interface over spawn/connect/observe_exit/
// kill, with capability flags as data rather than type assertions.
type Driver interface {
	Capabilities() Capabilities
	// Connect spawns (if not already spawned) and returns an open
	// Connection to the worker, applying cfg's bounded connect retry.
	Connect(ctx context.Context, cfg *Config) (*Connection, error)
	// Wait returns a channel that receives exactly one ExitInfo when the
	// worker terminates, then is closed.
	Wait() <-chan ExitInfo
	// Kill forcibly terminates the worker. Safe to call after the worker
	// has already exited.
	Kill() error
}

// Factory constructs a fresh Driver instance. Session calls this once per
// respawn, so each retry cycle gets a new worker identity.
type Factory func() (Driver, error)

var driverFactories = map[string]Factory{}

// RegisterFactory registers a Factory under a driver name ("process",
// "thread", or a custom name for an embedding application's own driver).
func RegisterFactory(name string, f Factory) {
	if _, dup := driverFactories[name]; dup {
		panic("workers: factory already registered for driver " + name)
	}
	driverFactories[name] = f
}

// UnregisterFactory removes a driver registration, mainly useful in tests.
func UnregisterFactory(name string) { delete(driverFactories, name) }

func lookupFactory(name string) (Factory, bool) {
	f, ok := driverFactories[name]
	return f, ok
}

// Drivers lists every registered driver name, sorted.
func Drivers() []string {
	names := make([]string, 0, len(driverFactories))
	for n := range driverFactories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
