//go:build windows

package runner

import "os/exec"

func configureProcGroup(cmd *exec.Cmd) {
	// Windows doesn't use Setsid; the child is killed directly instead
	// of through a process group.
}

func killProcGroup(cmd *exec.Cmd, _ bool) error {
	return cmd.Process.Kill()
}
