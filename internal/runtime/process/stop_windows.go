//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
)

// Console interrupts cannot target a single child on Windows, so the
// cooperative request falls back to terminating the direct child.
func (p *Process) interrupt() error {
	if err := p.cmd.Process.Signal(os.Interrupt); err == nil {
		return nil
	}
	return p.kill()
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.spec.Name, err)
	}
	return nil
}
