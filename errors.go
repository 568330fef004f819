package workers

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a Failure returned from host-side operations. It does
// not replace Go's error wrapping; a Failure always satisfies errors.Is
// against the matching sentinel below and errors.As against *Failure itself.
type ErrorKind int

const (
	// KindConnectTimeout means connection setup failed within its budget.
	KindConnectTimeout ErrorKind = iota
	// KindConnectRefused means the worker server refused the connection attempt.
	KindConnectRefused
	// KindTimeout means a per-request deadline elapsed with no response.
	KindTimeout
	// KindDisconnected means the transport closed while a request was in
	// flight and the worker is still alive.
	KindDisconnected
	// KindWorkerCrashed means the worker terminated while a request was in
	// flight.
	KindWorkerCrashed
	// KindHandlerError means the worker's handler raised; reconstructed from
	// the serialized-error payload.
	KindHandlerError
	// KindUnknownMessageType means the worker had no handler registered for
	// the requested message type.
	KindUnknownMessageType
	// KindSerializerMismatch means the worker detected a serializer name
	// different from the host's at startup.
	KindSerializerMismatch
	// KindWorkerInactive means the client currently has no connection: its
	// worker exited and no respawn has completed yet, or Disconnect was
	// called.
	KindWorkerInactive
	// KindWorkerClosed means the client (or its worker) has already been
	// closed.
	KindWorkerClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectTimeout:
		return "ConnectTimeout"
	case KindConnectRefused:
		return "ConnectRefused"
	case KindTimeout:
		return "Timeout"
	case KindDisconnected:
		return "Disconnected"
	case KindWorkerCrashed:
		return "WorkerCrashed"
	case KindHandlerError:
		return "HandlerError"
	case KindUnknownMessageType:
		return "UnknownMessageType"
	case KindSerializerMismatch:
		return "SerializerMismatch"
	case KindWorkerInactive:
		return "WorkerInactive"
	case KindWorkerClosed:
		return "WorkerClosed"
	default:
		return "Unknown"
	}
}

// Failure is the error type returned by host client operations. Kind is the
// stable classification; the remaining fields carry kind-specific detail.
type Failure struct {
	Kind ErrorKind

	// Reason is the termination reason, set only for KindWorkerCrashed.
	Reason string
	// Attempt and MaxAttempts describe the retry policy outcome, set only
	// for KindWorkerCrashed.
	Attempt, MaxAttempts int

	// Name, Message and Code mirror SerializedError, set only for
	// KindHandlerError.
	Name, Message, Code string

	wrapped error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindWorkerCrashed:
		return fmt.Sprintf("workers: worker crashed (%s), attempt %d/%d", f.Reason, f.Attempt, f.MaxAttempts)
	case KindHandlerError:
		if f.Message != "" {
			return fmt.Sprintf("workers: handler error: %s: %s", f.Name, f.Message)
		}
	}
	if f.wrapped != nil {
		return fmt.Sprintf("workers: %s: %v", f.Kind, f.wrapped)
	}
	return fmt.Sprintf("workers: %s", f.Kind)
}

func (f *Failure) Unwrap() error { return f.wrapped }

// Is lets errors.Is(err, ErrTimeout) etc. match a *Failure by kind.
func (f *Failure) Is(target error) bool {
	sentinel, ok := target.(*kindSentinel)
	return ok && sentinel.kind == f.Kind
}

type kindSentinel struct{ kind ErrorKind }

func (s *kindSentinel) Error() string { return "workers: " + s.kind.String() }

func newFailure(kind ErrorKind) *Failure { return &Failure{Kind: kind} }

func wrapFailure(kind ErrorKind, err error) *Failure {
	return &Failure{Kind: kind, wrapped: err}
}

// Sentinel errors usable with errors.Is against any *Failure of the matching
// kind, regardless of the wrapped detail.
var (
	ErrConnectTimeout     error = &kindSentinel{KindConnectTimeout}
	ErrConnectRefused     error = &kindSentinel{KindConnectRefused}
	ErrTimeout            error = &kindSentinel{KindTimeout}
	ErrDisconnected       error = &kindSentinel{KindDisconnected}
	ErrWorkerCrashed      error = &kindSentinel{KindWorkerCrashed}
	ErrHandlerError       error = &kindSentinel{KindHandlerError}
	ErrUnknownMessageType error = &kindSentinel{KindUnknownMessageType}
	ErrSerializerMismatch error = &kindSentinel{KindSerializerMismatch}
	ErrWorkerInactive     error = &kindSentinel{KindWorkerInactive}
	ErrWorkerClosed       error = &kindSentinel{KindWorkerClosed}
)

// Protocol/configuration errors that aren't per-request Failures.
var (
	// ErrNotConnected is returned by Connection.Send when the connection is
	// not in the Open state.
	ErrNotConnected = errors.New("workers: not connected")
	// ErrAlreadyConnected is returned by a worker server transport when a
	// second host connection is attempted while one is active.
	ErrAlreadyConnected = errors.New("workers: worker already has an active connection")
	// ErrInvalidConfig is returned when functional options produce an
	// inconsistent Config.
	ErrInvalidConfig = errors.New("workers: invalid configuration")
	// ErrUnsupportedDriver is returned when no registered driver exists for
	// a requested driver name.
	ErrUnsupportedDriver = errors.New("workers: unsupported driver")
	// ErrCapabilityUnsupported is returned by Disconnect/Reconnect when the
	// active driver doesn't support that capability.
	ErrCapabilityUnsupported = errors.New("workers: driver does not support this operation")
	// ErrRespawnBudgetExhausted is returned internally when a Session has
	// already used its configured MaxRespawnsPerSession.
	ErrRespawnBudgetExhausted = errors.New("workers: respawn budget exhausted for this session")
)
