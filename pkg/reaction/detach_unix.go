//go:build !windows

package reaction

import (
	"os/exec"
	"syscall"
)

// detach puts the command in its own process group, a Ctrl-C sent to
// onbreak does not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
