//go:build windows

package workers

import (
	"os/exec"
)

// classifyExit turns cmd.Wait's error and the final ProcessState into an
// ExitInfo. Windows has no POSIX signal delivery, so every termination is
// reported by exit code; a nil ProcessState (the binary never started)
// becomes a transport error.
func classifyExit(cmd *exec.Cmd, err error) ExitInfo {
	state := cmd.ProcessState
	if state == nil {
		return ExitInfo{Kind: ExitTransportError, Err: err}
	}
	return ExitInfo{Kind: ExitNormal, Code: state.ExitCode()}
}
