package driver

import (
	"context"
	"sync"
	"time"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
)

// Manager 管理当前驱动会话，对外部调用加锁串行化
// 会话终止后，下一次调用会自动创建新的会话
type Manager struct {
	mu        sync.Mutex
	newDriver func() (*Driver, error)
	current   *Driver
	startTime time.Time
}

// NewManager 创建驱动管理器
func NewManager(newDriver func() (*Driver, error)) *Manager {
	return &Manager{newDriver: newDriver}
}

func (m *Manager) driver(ctx context.Context) (*Driver, error) {
	if m.current != nil && m.current.State() != models.SessionTerminated {
		return m.current, nil
	}
	d, err := m.newDriver()
	if err != nil {
		return nil, err
	}
	if m.current != nil {
		logger.Info(ctx, "Previous session %s terminated, created session %s", m.current.ID(), d.ID())
	}
	m.current = d
	return d, nil
}

// Do 在锁内对当前驱动执行 fn
func (m *Manager) Do(ctx context.Context, fn func(d *Driver) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.driver(ctx)
	if err != nil {
		return err
	}
	before := d.State()
	err = fn(d)
	if before == models.SessionUnstarted && d.State() == models.SessionReady {
		m.startTime = time.Now()
	}
	return err
}

// Start 启动浏览器（已运行时重启）
func (m *Manager) Start(ctx context.Context) error {
	return m.Do(ctx, func(d *Driver) error {
		if err := d.Start(ctx); err != nil {
			return err
		}
		m.startTime = time.Now()
		return nil
	})
}

// Stop 结束当前会话并清理驱动进程
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	m.current.Quit(ctx)
}

// ForceKill 强制结束当前会话的驱动进程树
func (m *Manager) ForceKill(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	m.current.ForceKillWebDriver(ctx)
}

// IsRunning 当前会话是否可用
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running()
}

func (m *Manager) running() bool {
	if m.current == nil {
		return false
	}
	s := m.current.State()
	return s == models.SessionReady || s == models.SessionCrossContext
}

// Status 获取会话状态
func (m *Manager) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]interface{}{
		"is_running": m.running(),
	}
	if m.current == nil {
		return status
	}

	status["session_id"] = m.current.ID()
	status["state"] = m.current.State()
	status["pid"] = m.current.PID()
	status["browser"] = m.current.Options().Browser
	if m.running() {
		status["context"] = m.current.Context()
		status["start_time"] = m.startTime.Format(time.RFC3339)
		status["uptime"] = time.Since(m.startTime).String()
	}
	return status
}
