package workers

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"
)

const (
	// driverChildProcess and driverWorkerThreads are the values the
	// startup data's "driver" field carries.
	driverChildProcess  = "child_process"
	driverWorkerThreads = "worker_threads"

	// envStartupData is the single JSON startup-data variable new code
	// should always set.
	envStartupData = "WORKER_STARTUP_DATA"

	// Legacy per-field variables, read in this priority order when
	// envStartupData is absent. New code should emit both.
	envLegacyStartupData     = "ISOLATED_WORKERS_STARTUP_DATA"
	envLegacySocketPath      = "ISOLATED_WORKERS_SOCKET_PATH"
	envLegacyServerConnectMS = "ISOLATED_WORKERS_SERVER_CONNECT_TIMEOUT"
)

// StartupData is injected into a process-driver worker at spawn time
// through environment variables. The thread driver passes no StartupData:
// its WorkerEntry receives only the worker end of the pipe.
type StartupData struct {
	Driver               string `json:"driver"`
	SocketPath           string `json:"socketPath,omitempty"`
	Serializer           string `json:"serializer"`
	ServerConnectTimeout int64  `json:"serverConnectTimeout"` // milliseconds
}

// loadStartupData decodes a process-driver worker's startup data from its
// environment, preferring the single JSON variable and falling back to
// the legacy per-field variables for backward compatibility.
func loadStartupData() (StartupData, error) {
	if raw, ok := os.LookupEnv(envStartupData); ok {
		var sd StartupData
		if err := json.Unmarshal([]byte(raw), &sd); err != nil {
			return StartupData{}, err
		}
		return sd, nil
	}

	if raw, ok := os.LookupEnv(envLegacyStartupData); ok {
		var sd StartupData
		if err := json.Unmarshal([]byte(raw), &sd); err != nil {
			return StartupData{}, err
		}
		return sd, nil
	}

	path, ok := os.LookupEnv(envLegacySocketPath)
	if !ok {
		return StartupData{}, ErrInvalidConfig
	}
	sd := StartupData{
		Driver:               driverChildProcess,
		SocketPath:           path,
		Serializer:           JSONSerializer{}.Name(),
		ServerConnectTimeout: int64(DefaultServerConnectTimeout / time.Millisecond),
	}
	if raw, ok := os.LookupEnv(envLegacyServerConnectMS); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			sd.ServerConnectTimeout = ms
		}
	}
	return sd, nil
}

// encodeStartupData is the driver-side counterpart: it builds the
// environment variable the process driver sets on the spawned command,
// including both the primary variable and the legacy fallbacks.
func encodeStartupData(sd StartupData) ([]string, error) {
	raw, err := json.Marshal(sd)
	if err != nil {
		return nil, err
	}
	return []string{
		envStartupData + "=" + string(raw),
		envLegacyStartupData + "=" + string(raw),
		envLegacySocketPath + "=" + sd.SocketPath,
		envLegacyServerConnectMS + "=" + strconv.FormatInt(sd.ServerConnectTimeout, 10),
	}, nil
}

// Run is the worker-side entry point for the process driver: it loads
// startup data, verifies the serializer matches, listens on the assigned
// endpoint, accepts exactly one host connection within the configured
// server-connect timeout, and serves register's handlers until the
// connection closes. It returns the process exit code: 0 clean, 1 on any
// startup failure including a serializer mismatch.
func Run(cfg *Config, register func(*Server)) int {
	sd, err := loadStartupData()
	if err != nil {
		cfg.logger.WithError(err).Error("workers: failed to load startup data")
		return 1
	}

	if sd.Serializer != "" && sd.Serializer != cfg.serializer.Name() {
		cfg.logger.WithField("worker_serializer", cfg.serializer.Name()).
			WithField("host_serializer", sd.Serializer).
			Error("workers: serializer mismatch")
		return 1
	}

	timeout := cfg.serverConnect
	if sd.ServerConnectTimeout > 0 {
		timeout = time.Duration(sd.ServerConnectTimeout) * time.Millisecond
	}

	ln, err := listenSocket(sd.SocketPath, cfg)
	if err != nil {
		cfg.logger.WithError(err).Error("workers: failed to listen on assigned endpoint")
		return 1
	}
	defer removeEndpoint(sd.SocketPath)
	defer ln.Close()

	acceptCtx, cancel := context.WithTimeout(cfg.ctx, timeout)
	t, err := ln.Accept(acceptCtx)
	cancel()
	if err != nil {
		cfg.logger.WithError(err).Error("workers: host never connected within SERVER_CONNECT")
		return 1
	}

	conn := newConnection(t, cfg)
	srv := NewServer(cfg)
	register(srv)
	srv.Serve(conn)

	<-conn.Done()
	return 0
}
