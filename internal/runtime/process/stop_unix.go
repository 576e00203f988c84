//go:build !windows

package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func (p *Process) interrupt() error {
	return p.signalGroup(unix.SIGINT)
}

func (p *Process) kill() error {
	return p.signalGroup(unix.SIGKILL)
}

// signalGroup delivers sig to the child's process group (negative pid).
func (p *Process) signalGroup(sig unix.Signal) error {
	if err := unix.Kill(-p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", p.spec.Name, err)
	}
	logger.Printf("sent %s to %s (pgid=%d)", unix.SignalName(sig), p.spec.Name, p.cmd.Process.Pid)
	return nil
}
