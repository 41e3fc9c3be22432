//go:build linux

package launcher

import (
	"os/exec"
	"syscall"
)

// configureCleanup makes the kernel kill the host when this process dies.
func configureCleanup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}

func startWithCleanup(cmd *exec.Cmd) error {
	configureCleanup(cmd)
	return cmd.Start()
}
