//go:build windows

package workers

import (
	"os/exec"
	"syscall"
)

// applyDetach creates the worker in its own process group (CREATE_NEW_
// PROCESS_GROUP), so it doesn't receive Ctrl-C/Ctrl-Break console events
// sent to the host's process group.
func applyDetach(cmd *exec.Cmd, detach bool) {
	if !detach {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
