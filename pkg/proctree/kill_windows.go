//go:build windows

package proctree

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
)

func terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err == nil {
		if err = p.Kill(); err == nil {
			return nil
		}
	}
	// TerminateProcess 失败时交给 taskkill 处理整棵树
	out, terr := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if terr != nil {
		return fmt.Errorf("taskkill %d: %v: %s", pid, terr, out)
	}
	return nil
}
