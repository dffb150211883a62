package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/remote"
)

// Resolver 在预算内轮询查找元素
type Resolver struct {
	clock    clock.Clock
	interval time.Duration
	// preWait 每次查找前执行（加载指示器等待）
	preWait func(ctx context.Context, s remote.Session)
}

func NewResolver(clk clock.Clock, interval time.Duration) *Resolver {
	return &Resolver{clock: clk, interval: interval}
}

// Resolve 查找元素。预算耗尽时返回 (nil, false)，不返回错误
func (r *Resolver) Resolve(ctx context.Context, s remote.Session, locator, filter string, budget models.WaitBudget) (remote.Element, bool) {
	if r.preWait != nil {
		r.preWait(ctx, s)
	}

	start := r.clock.Now()
	attempts := budget.Attempts
	logged := false
	for {
		el, err := r.attempt(s, locator, filter)
		if err == nil && el != nil {
			return el, true
		}
		if err != nil && !remote.IsTransient(err) && !logged {
			logger.Warn(ctx, "Unexpected error while resolving %s: %v", locator, err)
			logged = true
		}

		if budget.AttemptBased() {
			attempts--
			if attempts <= 0 {
				return nil, false
			}
		} else if r.clock.Since(start) >= budget.Timeout {
			return nil, false
		}
		if !pause(ctx, r.clock, r.interval) {
			return nil, false
		}
	}
}

// attempt 单次查找，不重试
func (r *Resolver) attempt(s remote.Session, locator, filter string) (remote.Element, error) {
	els, err := s.FindElements(locator)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	if filter == "" {
		return els[0], nil
	}
	res, err := s.ExecuteScript(filter, els)
	if err != nil {
		return nil, err
	}
	el, _ := res.(remote.Element)
	return el, nil
}

// pause 等待一个轮询间隔；ctx 结束时返回 false
func pause(ctx context.Context, clk clock.Clock, interval time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if interval <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-clk.After(interval):
		return true
	}
}
