// Package proctree 跟踪浏览器驱动进程，并在会话结束时清理整棵进程树
package proctree

import (
	"context"
	"errors"
	"sync"

	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/shirou/gopsutil/v3/process"
)

// Table 操作系统进程表能力
type Table interface {
	// Children 返回 pid 的直接子进程
	Children(pid int) ([]int, error)
	// Terminate 强制结束 pid
	Terminate(pid int) error
}

// SystemTable 基于 gopsutil 的进程表实现
type SystemTable struct{}

func (SystemTable) Children(pid int) ([]int, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	children, err := p.Children()
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int, 0, len(children))
	for _, c := range children {
		pids = append(pids, int(c.Pid))
	}
	return pids, nil
}

func (SystemTable) Terminate(pid int) error {
	return terminate(pid)
}

// Manager 记录一个驱动进程 PID，并负责强制清理
type Manager struct {
	mu    sync.Mutex
	table Table
	pid   int
}

// NewManager 创建进程管理器，table 为 nil 时使用系统进程表
func NewManager(table Table) *Manager {
	if table == nil {
		table = SystemTable{}
	}
	return &Manager{table: table, pid: -1}
}

// Track 记录需要清理的进程
func (m *Manager) Track(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pid = pid
}

// Tracked 返回当前跟踪的 PID，未跟踪时为 -1
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pid
}

// KillAll 结束跟踪进程的所有后代以及进程本身，然后清空状态
// 单个进程结束失败只记录日志。没有跟踪进程时什么也不做，可重复调用
func (m *Manager) KillAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pid <= 0 {
		m.pid = -1
		return
	}
	root := m.pid
	m.pid = -1

	descendants := m.collect(ctx, root)
	// 先结束最深的子进程
	for i := len(descendants) - 1; i >= 0; i-- {
		pid := descendants[i]
		if err := m.table.Terminate(pid); err != nil {
			logger.Warn(ctx, "Failed to kill child process %d of %d: %v", pid, root, err)
			continue
		}
		logger.Debug(ctx, "Killed child process %d of %d", pid, root)
	}
	if err := m.table.Terminate(root); err != nil {
		logger.Warn(ctx, "Failed to kill driver process %d: %v", root, err)
		return
	}
	logger.Info(ctx, "Driver process %d killed", root)
}

// collect 按广度优先收集所有后代进程
func (m *Manager) collect(ctx context.Context, root int) []int {
	seen := map[int]bool{root: true}
	queue := []int{root}
	var out []int
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		children, err := m.table.Children(pid)
		if err != nil {
			logger.Warn(ctx, "Failed to list children of process %d: %v", pid, err)
			continue
		}
		for _, c := range children {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}
