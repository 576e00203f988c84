//go:build !windows

package process

import (
	"os"
	"syscall"
)

// exitCode follows the shell convention of 128+signal for children that were
// terminated by a signal.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
