package models

import (
	"fmt"
	"strings"
	"time"
)

// BrowserKind 浏览器类型
type BrowserKind string

const (
	BrowserChrome       BrowserKind = "chrome"       // 本地 Chrome / Chromium
	BrowserEdge         BrowserKind = "edge"         // Chromium 内核 Edge
	BrowserFirefox      BrowserKind = "firefox"      // Firefox
	BrowserIE           BrowserKind = "ie"           // Internet Explorer
	BrowserSafari       BrowserKind = "safari"       // Safari
	BrowserRemoteChrome BrowserKind = "remotechrome" // 远程 Chrome
)

// ParseBrowserKind 根据名称解析浏览器类型（大小写不敏感，按包含关系匹配）
func ParseBrowserKind(name string) (BrowserKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.Contains(n, "chrome"):
		if strings.Contains(n, "remote") {
			return BrowserRemoteChrome, nil
		}
		return BrowserChrome, nil
	case strings.Contains(n, "edge"):
		return BrowserEdge, nil
	case strings.Contains(n, "firefox"):
		return BrowserFirefox, nil
	case strings.Contains(n, "safari"):
		return BrowserSafari, nil
	case n == "ie" || strings.Contains(n, "explorer"):
		return BrowserIE, nil
	}
	return "", fmt.Errorf("unsupported browser: %q", name)
}

// IsRemote 是否连接远程浏览器而不是启动本地进程
func (k BrowserKind) IsRemote() bool {
	return k == BrowserRemoteChrome
}

// IsChromium 是否为 Chromium 系列（可以通过 CDP 驱动）
func (k BrowserKind) IsChromium() bool {
	return k == BrowserChrome || k == BrowserEdge || k == BrowserRemoteChrome
}

// ElementState 元素状态
type ElementState string

const (
	StateInvisible ElementState = "invisible" // 找不到或不可见
	StateVisible   ElementState = "visible"   // 可见
	StateClickable ElementState = "clickable" // 可见、可用且非只读
	StateDisabled  ElementState = "disabled"  // 存在但不可用
)

// ParseElementState 解析元素状态
func ParseElementState(s string) (ElementState, error) {
	switch ElementState(strings.ToLower(strings.TrimSpace(s))) {
	case StateInvisible:
		return StateInvisible, nil
	case StateVisible:
		return StateVisible, nil
	case StateClickable:
		return StateClickable, nil
	case StateDisabled:
		return StateDisabled, nil
	}
	return "", fmt.Errorf("unknown element state: %q", s)
}

// ContextKind 浏览上下文类型
type ContextKind string

const (
	ContextWindow ContextKind = "window"
	ContextFrame  ContextKind = "frame"
)

// BrowsingContext 当前活动的浏览上下文（窗口或 iframe）
type BrowsingContext struct {
	Kind        ContextKind `json:"kind"`
	WindowIndex int         `json:"window_index"`
	FramePath   []string    `json:"frame_path,omitempty"` // 从窗口根开始的 iframe 定位器序列
}

// WaitBudget 元素查找的重试预算
// Attempts > 0 时按次数重试，与耗时无关；否则按 Timeout 计时
type WaitBudget struct {
	Timeout  time.Duration
	Attempts int
}

// AttemptBased 是否按次数计算
func (b WaitBudget) AttemptBased() bool {
	return b.Attempts > 0
}

// SessionState 会话生命周期状态
type SessionState string

const (
	SessionUnstarted     SessionState = "unstarted"
	SessionInstantiating SessionState = "instantiating"
	SessionReady         SessionState = "ready"
	SessionCrossContext  SessionState = "cross_context" // 位于 iframe 内
	SessionQuitting      SessionState = "quitting"
	SessionTerminated    SessionState = "terminated"
)
