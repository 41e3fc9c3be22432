//go:build !linux

package launcher

import "os/exec"

// No parent-death signal outside Linux; Cleanup is the only guard.
func configureCleanup(cmd *exec.Cmd) {}

func startWithCleanup(cmd *exec.Cmd) error {
	return cmd.Start()
}
