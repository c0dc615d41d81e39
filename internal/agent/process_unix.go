//go:build !windows

package agent

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in a new process group so that tools it
// spawns (mysqldump | gzip pipelines) are signalled together.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGTERM)
}

func killProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
