//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

func configureProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// killProcGroup signals the whole process group so children the
// provider CLI spawned are also terminated. terminate requests SIGTERM
// (graceful); otherwise SIGKILL (hard).
func killProcGroup(cmd *exec.Cmd, terminate bool) error {
	sig := syscall.SIGKILL
	if terminate {
		sig = syscall.SIGTERM
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}
