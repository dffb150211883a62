package driver

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/remote"
	pkgerrors "github.com/pkg/errors"
)

// WaitEngine 元素状态等待
type WaitEngine struct {
	clock    clock.Clock
	interval time.Duration
	resolver *Resolver
	tracker  *ContextTracker

	spinner        string
	spinnerTimeout time.Duration
}

func NewWaitEngine(clk clock.Clock, interval time.Duration, resolver *Resolver, tracker *ContextTracker) *WaitEngine {
	return &WaitEngine{clock: clk, interval: interval, resolver: resolver, tracker: tracker}
}

// holds 判断元素是否满足状态；el 为 nil 表示未找到
func holds(el remote.Element, state models.ElementState) bool {
	switch state {
	case models.StateInvisible:
		if el == nil {
			return true
		}
		displayed, err := el.Displayed()
		return err != nil || !displayed
	case models.StateVisible:
		return isDisplayed(el)
	case models.StateClickable:
		if !isDisplayed(el) {
			return false
		}
		enabled, err := el.Enabled()
		if err != nil || !enabled {
			return false
		}
		return !isReadOnly(el)
	case models.StateDisabled:
		if el == nil {
			return false
		}
		enabled, err := el.Enabled()
		return err == nil && !enabled
	}
	return false
}

func isDisplayed(el remote.Element) bool {
	if el == nil {
		return false
	}
	displayed, err := el.Displayed()
	return err == nil && displayed
}

// isReadOnly 无法读取属性时视为非只读
func isReadOnly(el remote.Element) bool {
	v, present, err := el.Attribute("readonly")
	if err != nil || !present {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(v), "false")
}

// WaitForState 阻塞直到定位器对应的元素满足状态，超时返回 ErrWaitTimeout
func (w *WaitEngine) WaitForState(ctx context.Context, s remote.Session, locator string, state models.ElementState, timeout time.Duration) error {
	w.WaitForLoadingSpinner(ctx, s)
	return w.waitFor(ctx, s, locator, state, timeout)
}

func (w *WaitEngine) waitFor(ctx context.Context, s remote.Session, locator string, state models.ElementState, timeout time.Duration) error {
	start := w.clock.Now()
	var lastErr error
	for {
		el, err := w.resolver.attempt(s, locator, "")
		switch {
		case err == nil:
			lastErr = nil
			if holds(el, state) {
				return nil
			}
		case remote.IsTransient(err):
			// 元素不存在或已失效，等同于未找到
			lastErr = nil
			if holds(nil, state) {
				return nil
			}
		default:
			lastErr = err
		}
		if w.clock.Since(start) >= timeout {
			if lastErr != nil {
				return pkgerrors.Wrapf(ErrWaitTimeout, "element %s not %s within %v: %v", locator, state, timeout, lastErr)
			}
			return pkgerrors.Wrapf(ErrWaitTimeout, "element %s not %s within %v", locator, state, timeout)
		}
		if !pause(ctx, w.clock, w.interval) {
			return pkgerrors.Wrapf(ctx.Err(), "waiting for element %s to be %s", locator, state)
		}
	}
}

// waitElement 等待已找到的元素满足状态
func (w *WaitEngine) waitElement(ctx context.Context, el remote.Element, locator string, state models.ElementState, timeout time.Duration) error {
	start := w.clock.Now()
	for {
		if holds(el, state) {
			return nil
		}
		if w.clock.Since(start) >= timeout {
			return pkgerrors.Wrapf(ErrWaitTimeout, "element %s not %s within %v", locator, state, timeout)
		}
		if !pause(ctx, w.clock, w.interval) {
			return pkgerrors.Wrapf(ctx.Err(), "waiting for element %s to be %s", locator, state)
		}
	}
}

// CheckForElementState 快速检查一次元素状态，不返回错误
func (w *WaitEngine) CheckForElementState(ctx context.Context, s remote.Session, locator, filter string, state models.ElementState) bool {
	el, _ := w.resolver.Resolve(ctx, s, locator, filter, models.WaitBudget{Attempts: quickCheckAttempts})
	return holds(el, state)
}

// WaitForLoadingSpinner 同步活动标签页，并等待加载指示器消失，所有错误都被忽略
func (w *WaitEngine) WaitForLoadingSpinner(ctx context.Context, s remote.Session) {
	if err := w.tracker.EnsureActiveTab(ctx, s); err != nil {
		logger.Debug(ctx, "Failed to sync active tab: %v", err)
	}
	if w.spinner == "" {
		return
	}
	if err := w.waitFor(ctx, s, w.spinner, models.StateInvisible, w.spinnerTimeout); err != nil {
		logger.Debug(ctx, "Loading spinner still present: %v", err)
	}
}
