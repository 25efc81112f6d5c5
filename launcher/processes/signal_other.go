//go:build !unix

package processes

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// Windows has no polite termination signal for console-less children, so the
// graceful phase terminates the process outright.
func terminateProcess(p *os.Process) error {
	return killProcess(p)
}

func killProcess(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
