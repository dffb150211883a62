// Package remote 定义驱动所依赖的浏览器自动化会话能力
package remote

import (
	"errors"
)

var (
	// ErrStaleElement 元素已从文档中分离，重新查找即可
	ErrStaleElement = errors.New("stale element reference")
	// ErrNoSuchElement 当前上下文中没有匹配元素
	ErrNoSuchElement = errors.New("no such element")
	// ErrNoAlert 当前没有打开的对话框
	ErrNoAlert = errors.New("no alert open")
	// ErrTabOutOfRange 标签页下标越界
	ErrTabOutOfRange = errors.New("tab index out of range")
	// ErrNoSuchFrame iframe 不存在或尚不可用
	ErrNoSuchFrame = errors.New("no such frame")
	// ErrUnsupportedBrowser 浏览器类型无法驱动
	ErrUnsupportedBrowser = errors.New("unsupported browser")
	// ErrMissingRemoteHost 远程模式缺少调试地址
	ErrMissingRemoteHost = errors.New("remote host is required")
)

// IsTransient 是否为可重试的查找错误
func IsTransient(err error) bool {
	return errors.Is(err, ErrStaleElement) || errors.Is(err, ErrNoSuchElement)
}

// Key 具名按键
type Key string

const (
	KeyEnter Key = "enter"
	KeyTab   Key = "tab"
)

// Session 一个浏览器自动化连接。所有定位器都是 XPath，在当前活动上下文中求值
type Session interface {
	FindElements(locator string) ([]Element, error)
	// ExecuteScript 执行脚本，args 通过 arguments 传入；返回 Element、基础类型或 nil
	ExecuteScript(script string, args ...any) (any, error)

	WindowHandles() ([]string, error)
	SwitchToWindow(handle string) error
	SwitchToFrame(locator string) error
	SwitchToDefaultContent() error

	Navigate(url string) error
	Back() error
	Forward() error
	Refresh() error
	CurrentURL() (string, error)

	AcceptAlert() error
	DismissAlert() error
	AlertText() (string, error)

	// SendKeys 向当前焦点元素输入文本
	SendKeys(text string) error
	// PressKey 向当前焦点元素发送具名按键
	PressKey(key Key) error

	Screenshot() ([]byte, error)
	PageHTML() (string, error)
	CloseWindow() error
	Maximize() error
	Quit() error
}

// Element 页面元素
type Element interface {
	Displayed() (bool, error)
	Enabled() (bool, error)
	Selected() (bool, error)
	// Attribute 返回属性值以及属性是否存在
	Attribute(name string) (string, bool, error)
	Text() (string, error)
	Click() error
	Clear() error
	SendKeys(text string) error
	SelectByText(text string) error
	// Options 返回下拉框所有选项的文本
	Options() ([]string, error)
}
