//go:build unix

package toolrun

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts c as the leader of a new process group and makes
// cancellation kill the whole group, so no descendant outlives the node.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}

func killProcessGroup(c *exec.Cmd) {
	if c.Process != nil {
		_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
