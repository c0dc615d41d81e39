//go:build windows

package agent

import (
	"os"
	"os/exec"
)

func setProcessGroup(c *exec.Cmd) {}

// Windows has no SIGTERM; both steps kill the process.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
