//go:build !windows

package workers

import (
	"os/exec"
	"syscall"
)

// applyDetach puts the worker in its own process group so a signal sent
// to the host's process group (e.g. an interactive shell's Ctrl-C)
// doesn't also reach the worker.
func applyDetach(cmd *exec.Cmd, detach bool) {
	if !detach {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
