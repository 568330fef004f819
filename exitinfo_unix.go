//go:build !windows

package workers

import (
	"os/exec"
	"syscall"
)

// classifyExit turns cmd.Wait's error and the final ProcessState into an
// ExitInfo: a clean exit carries its code, a signal death carries the
// signal name, and any other failure (the binary couldn't even start)
// becomes a transport error.
func classifyExit(cmd *exec.Cmd, err error) ExitInfo {
	state := cmd.ProcessState
	if state == nil {
		return ExitInfo{Kind: ExitTransportError, Err: err}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitInfo{Kind: ExitSignaled, Signal: ws.Signal().String()}
	}
	return ExitInfo{Kind: ExitNormal, Code: state.ExitCode()}
}
