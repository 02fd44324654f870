//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals sent to
// the scheduler's group do not reach it. The runner kills it explicitly.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
