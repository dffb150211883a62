package driver

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/remote"
	pkgerrors "github.com/pkg/errors"
)

// ContextTracker 记录当前活动的窗口与 iframe 路径
type ContextTracker struct {
	clock    clock.Clock
	interval time.Duration

	windowIndex int
	windowCount int // 上次记录的窗口数量，-1 表示尚未记录
	framePath   []string
}

func NewContextTracker(clk clock.Clock, interval time.Duration) *ContextTracker {
	return &ContextTracker{clock: clk, interval: interval, windowCount: -1}
}

// Reset 清空所有记录，用于新会话
func (t *ContextTracker) Reset() {
	t.windowIndex = 0
	t.windowCount = -1
	t.framePath = nil
}

// InFrame 当前是否位于 iframe 内
func (t *ContextTracker) InFrame() bool {
	return len(t.framePath) > 0
}

// Context 返回当前浏览上下文
func (t *ContextTracker) Context() models.BrowsingContext {
	c := models.BrowsingContext{Kind: models.ContextWindow, WindowIndex: t.windowIndex}
	if t.InFrame() {
		c.Kind = models.ContextFrame
		c.FramePath = append([]string(nil), t.framePath...)
	}
	return c
}

// ResetFrames 页面整体导航后 iframe 记录失效
func (t *ContextTracker) ResetFrames() {
	t.framePath = nil
}

// EnsureActiveTab 位于 iframe 内时从顶层重新进入记录的 iframe 路径；
// 否则窗口数量变化时切换到最新窗口
func (t *ContextTracker) EnsureActiveTab(ctx context.Context, s remote.Session) error {
	if t.InFrame() {
		err := t.reenterFrames(s)
		if err == nil {
			return nil
		}
		logger.Warn(ctx, "Failed to re-enter frame %v, falling back to top document: %v", t.framePath, err)
		t.framePath = nil
		_ = s.SwitchToDefaultContent()
	}

	handles, err := s.WindowHandles()
	if err != nil {
		return pkgerrors.Wrap(err, "list window handles")
	}
	if len(handles) == t.windowCount {
		return nil
	}
	if len(handles) == 0 {
		t.windowCount = 0
		return errors.New("no open windows")
	}

	newest := len(handles) - 1
	if err := s.SwitchToWindow(handles[newest]); err != nil {
		return pkgerrors.Wrapf(err, "switch to window %d", newest)
	}
	if t.windowCount >= 0 {
		logger.Info(ctx, "Window count changed from %d to %d, switched to newest window", t.windowCount, len(handles))
	}
	t.windowIndex = newest
	t.windowCount = len(handles)
	return nil
}

func (t *ContextTracker) reenterFrames(s remote.Session) error {
	if err := s.SwitchToDefaultContent(); err != nil {
		return err
	}
	for _, f := range t.framePath {
		if err := s.SwitchToFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// SwitchToFrame 回到顶层文档后进入 locator 指定的 iframe；RootFrame 表示停留在顶层
func (t *ContextTracker) SwitchToFrame(ctx context.Context, s remote.Session, locator string, timeout time.Duration) error {
	if err := t.EnsureActiveTab(ctx, s); err != nil {
		logger.Warn(ctx, "Failed to sync active tab: %v", err)
	}
	if err := s.SwitchToDefaultContent(); err != nil {
		return pkgerrors.Wrap(err, "switch to default content")
	}
	t.framePath = nil
	if locator == RootFrame {
		return nil
	}
	if err := t.waitForFrame(ctx, s, locator, timeout); err != nil {
		return err
	}
	t.framePath = []string{locator}
	return nil
}

// SwitchToNestedFrame 在当前 iframe 内继续进入子 iframe
func (t *ContextTracker) SwitchToNestedFrame(ctx context.Context, s remote.Session, locator string, timeout time.Duration) error {
	if err := t.EnsureActiveTab(ctx, s); err != nil {
		logger.Warn(ctx, "Failed to sync active tab: %v", err)
	}
	if err := t.waitForFrame(ctx, s, locator, timeout); err != nil {
		return err
	}
	t.framePath = append(t.framePath, locator)
	return nil
}

func (t *ContextTracker) waitForFrame(ctx context.Context, s remote.Session, locator string, timeout time.Duration) error {
	start := t.clock.Now()
	for {
		err := s.SwitchToFrame(locator)
		if err == nil {
			return nil
		}
		if t.clock.Since(start) >= timeout {
			return pkgerrors.Wrapf(ErrWaitTimeout, "frame %s not available within %v (last error: %v)", locator, timeout, err)
		}
		if !pause(ctx, t.clock, t.interval) {
			return pkgerrors.Wrapf(ctx.Err(), "waiting for frame %s", locator)
		}
	}
}

// SwitchToTab 切换到第 index 个标签页（从 0 开始）
func (t *ContextTracker) SwitchToTab(ctx context.Context, s remote.Session, index int) error {
	handles, err := s.WindowHandles()
	if err != nil {
		return pkgerrors.Wrap(err, "list window handles")
	}
	if index < 0 || index >= len(handles) {
		return pkgerrors.Wrapf(remote.ErrTabOutOfRange, "index %d, %d tabs open", index, len(handles))
	}
	if err := s.SwitchToWindow(handles[index]); err != nil {
		return pkgerrors.Wrapf(err, "switch to tab %d", index)
	}
	t.windowIndex = index
	t.windowCount = len(handles)
	t.framePath = nil
	logger.Info(ctx, "Switched to tab %d", index)
	return nil
}
