//go:build !windows

package proctree

import (
	"github.com/shirou/gopsutil/v3/process"
)

func terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}
