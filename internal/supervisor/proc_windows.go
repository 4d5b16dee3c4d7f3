//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

// Windows has no SIGTERM; terminate is a kill.
func terminate(p *os.Process) error { return p.Kill() }

func kill(p *os.Process) error { return p.Kill() }
