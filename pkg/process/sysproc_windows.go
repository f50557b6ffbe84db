//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func terminateGroup(process *os.Process) error {
	if process == nil {
		return nil
	}
	return exec.Command("taskkill", "/PID", strconv.Itoa(process.Pid), "/T").Run()
}

func killGroup(process *os.Process) error {
	if process == nil {
		return nil
	}
	return exec.Command("taskkill", "/PID", strconv.Itoa(process.Pid), "/T", "/F").Run()
}
