//go:build windows

package decompiler

import (
	"os/exec"
	"strconv"
)

// setProcessGroup is a no-op on Windows; killProcessGroup uses taskkill /T
// to terminate the whole process tree instead of relying on a process
// group.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run()
}
