package workers

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessDriver runs a worker in its own OS process, connected over a
// stream socket whose endpoint is handed to the child through its
// environment. The child survives the parent's own transport going away
// (Capabilities().Reconnect), which lets Client.Reconnect attach a fresh
// Connection to the same running process without respawning it.
type ProcessDriver struct {
	path   string
	args   []string
	detach bool

	mu       sync.Mutex
	cmd      *exec.Cmd
	endpoint string
	started  bool
	exitCh   chan ExitInfo
}

// ProcessDriverOption configures NewProcessDriverFactory.
type ProcessDriverOption func(*ProcessDriver)

// WithDetached releases the worker from parent-lifetime coupling: on Unix
// this puts the child in its own process group so it isn't signaled
// alongside the parent; on Windows it starts the child in a new process
// group.
func WithDetached() ProcessDriverOption {
	return func(d *ProcessDriver) { d.detach = true }
}

// WithArgs sets extra arguments passed to the spawned binary.
func WithArgs(args ...string) ProcessDriverOption {
	return func(d *ProcessDriver) { d.args = args }
}

// NewProcessDriverFactory returns a Factory that spawns path as a worker
// process. Register it under a driver name with RegisterFactory, or use
// it directly wherever a Driver is expected.
func NewProcessDriverFactory(path string, opts ...ProcessDriverOption) Factory {
	return func() (Driver, error) {
		d := &ProcessDriver{path: path, exitCh: make(chan ExitInfo, 1)}
		for _, o := range opts {
			o(d)
		}
		return d, nil
	}
}

func (d *ProcessDriver) Capabilities() Capabilities {
	return Capabilities{Reconnect: true, Detached: true, SharedMemory: false}
}

// Connect spawns the worker process on first call, then dials the socket
// endpoint it listens on, applying cfg's bounded connect retry. A second
// call against an already-spawned process redials without respawning,
// which is how Client.Reconnect reattaches to a reconnect-capable worker.
func (d *ProcessDriver) Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	d.mu.Lock()
	endpoint := d.endpoint
	started := d.started
	d.mu.Unlock()

	if !started {
		ep, err := d.start(cfg)
		if err != nil {
			return nil, err
		}
		endpoint = ep
	}

	conn, err := openConnection(ctx, func(ctx context.Context) (Transport, error) {
		return dialSocket(ctx, endpoint)
	}, cfg)
	if err != nil {
		// The worker may have already bound the endpoint before the host's
		// connect budget ran out; its own cleanup defer never runs once
		// Session kills it, so unlink it here instead of leaking the file.
		removeEndpoint(endpoint)
	}
	return conn, err
}

func (d *ProcessDriver) start(cfg *Config) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	endpoint := newEndpointName()
	sd := StartupData{
		Driver:               driverChildProcess,
		SocketPath:           endpoint,
		Serializer:           cfg.serializer.Name(),
		ServerConnectTimeout: int64(cfg.serverConnect / time.Millisecond),
	}
	env, err := encodeStartupData(sd)
	if err != nil {
		return "", err
	}

	cmd := exec.Command(d.path, d.args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	applyDetach(cmd, d.detach)

	if err := cmd.Start(); err != nil {
		return "", wrapFailure(KindConnectRefused, err)
	}

	d.cmd = cmd
	d.started = true
	d.endpoint = endpoint

	go d.watchExit(cfg)

	return endpoint, nil
}

func (d *ProcessDriver) watchExit(cfg *Config) {
	err := d.cmd.Wait()
	info := classifyExit(d.cmd, err)
	cfg.metrics.IncrementCrashes()
	d.exitCh <- info
	close(d.exitCh)
}

// Wait returns a channel that receives exactly one ExitInfo when the
// worker process terminates, then is closed.
func (d *ProcessDriver) Wait() <-chan ExitInfo { return d.exitCh }

// Kill forcibly terminates the worker process. Safe to call after the
// process has already exited; the signal simply fails and is ignored.
func (d *ProcessDriver) Kill() error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

