// Package browser 基于 go-rod 实现 remote.Session
package browser

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/browserwing/testingdriver/services/remote"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// argsWrapper 将 arguments 风格的脚本包装成 rod 可调用的函数
// layout 描述每个参数：-1 表示普通值，n>=0 表示由 n 个元素组成的数组
const argsWrapper = `function(layout, ...raw) {
	const args = [];
	let i = 0;
	for (const n of layout) {
		if (n < 0) {
			args.push(raw[i++]);
		} else {
			args.push(raw.slice(i, i + n));
			i += n;
		}
	}
	return (function() { %s }).apply(this, args);
}`

// Session go-rod 浏览器会话
type Session struct {
	browser       *rod.Browser
	launcher      *launcher.Launcher // 仅本地模式
	useStealth    bool
	loadTimeout   time.Duration
	actionTimeout time.Duration

	handles []proto.TargetTargetID // 按打开顺序记录的标签页
	top     *rod.Page              // 当前窗口
	scope   *rod.Page              // 当前窗口或 iframe

	mu      sync.Mutex
	dialogs map[proto.TargetTargetID]*proto.PageJavascriptDialogOpening
	watched map[proto.TargetTargetID]bool
	opened  chan struct{} // 对话框弹出时发出信号
}

func newSession(b *rod.Browser, l *launcher.Launcher, opts LaunchOptions) *Session {
	timeout := opts.PageLoadTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	action := opts.ActionTimeout
	if action <= 0 {
		action = defaultActionTimeout
	}
	return &Session{
		browser:       b,
		launcher:      l,
		useStealth:    opts.UseStealth,
		loadTimeout:   timeout,
		actionTimeout: action,
		dialogs:       make(map[proto.TargetTargetID]*proto.PageJavascriptDialogOpening),
		watched:       make(map[proto.TargetTargetID]bool),
		opened:        make(chan struct{}, 1),
	}
}

// attach 把 page 设为当前窗口并监听其对话框
func (s *Session) attach(page *rod.Page) {
	s.top = page
	s.scope = page

	s.mu.Lock()
	id := page.TargetID
	if s.watched[id] {
		s.mu.Unlock()
		return
	}
	s.watched[id] = true
	s.mu.Unlock()

	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		s.mu.Lock()
		s.dialogs[id] = e
		s.mu.Unlock()
		select {
		case s.opened <- struct{}{}:
		default:
		}
	}, func(e *proto.PageJavascriptDialogClosed) {
		s.mu.Lock()
		delete(s.dialogs, id)
		s.mu.Unlock()
	})()
}

func (s *Session) current() (*rod.Page, error) {
	if s.top == nil || s.scope == nil {
		return nil, errors.New("no active window")
	}
	return s.scope, nil
}

// bounded 返回带操作超时的页面副本，用完后调用 release
func (s *Session) bounded(p *rod.Page) (timed *rod.Page, release func()) {
	timed = p.Timeout(s.actionTimeout)
	return timed, func() { timed.CancelTimeout() }
}

// wrap 把元素重新绑定到 scope 的上下文，使其不受查找时超时的影响
func (s *Session) wrap(scope *rod.Page, el *rod.Element) *Element {
	return &Element{el: el.Context(scope.GetContext()), sess: s}
}

// dialogSignal 清空旧信号后返回对话框通知通道
func (s *Session) dialogSignal() <-chan struct{} {
	select {
	case <-s.opened:
	default:
	}
	return s.opened
}

func (s *Session) FindElements(locator string) ([]remote.Element, error) {
	scope, err := s.current()
	if err != nil {
		return nil, err
	}
	timed, release := s.bounded(scope)
	defer release()
	els, err := timed.ElementsX(locator)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]remote.Element, 0, len(els))
	for _, el := range els {
		out = append(out, s.wrap(scope, el))
	}
	return out, nil
}

func (s *Session) ExecuteScript(script string, args ...any) (any, error) {
	scope, err := s.current()
	if err != nil {
		return nil, err
	}

	layout := make([]int, 0, len(args))
	raw := []any{nil}
	for _, arg := range args {
		switch v := arg.(type) {
		case remote.Element:
			layout = append(layout, -1)
			raw = append(raw, objectOf(v))
		case []remote.Element:
			layout = append(layout, len(v))
			for _, el := range v {
				raw = append(raw, objectOf(el))
			}
		default:
			layout = append(layout, -1)
			raw = append(raw, v)
		}
	}
	raw[0] = layout

	timed, release := s.bounded(scope)
	defer release()
	res, err := timed.Evaluate(rod.Eval(fmt.Sprintf(argsWrapper, script), raw...).ByObject())
	if err != nil {
		return nil, classify(err)
	}
	return s.unwrap(scope, timed, res)
}

func objectOf(el remote.Element) any {
	if e, ok := el.(*Element); ok {
		return e.el.Object
	}
	return nil
}

// unwrap 把脚本返回值转换为 Element 或普通 Go 值
func (s *Session) unwrap(scope, timed *rod.Page, res *proto.RuntimeRemoteObject) (any, error) {
	if res == nil || res.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return nil, nil
	}
	if res.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, nil
	}
	if res.Subtype == proto.RuntimeRemoteObjectSubtypeNode {
		el, err := timed.ElementFromObject(res)
		if err != nil {
			return nil, classify(err)
		}
		return s.wrap(scope, el), nil
	}
	if res.ObjectID == "" {
		return res.Value.Val(), nil
	}
	byValue, err := timed.Evaluate(rod.Eval(`function() { return this }`).This(res))
	if err != nil {
		return nil, classify(err)
	}
	return byValue.Value.Val(), nil
}

// WindowHandles 返回标签页 ID，已知标签页保持原顺序，新标签页追加在末尾
func (s *Session) WindowHandles() ([]string, error) {
	pages, err := s.browser.Pages()
	if err != nil {
		return nil, err
	}
	live := make(map[proto.TargetTargetID]bool, len(pages))
	for _, p := range pages {
		live[p.TargetID] = true
	}

	kept := s.handles[:0]
	known := make(map[proto.TargetTargetID]bool, len(s.handles))
	for _, id := range s.handles {
		if live[id] {
			kept = append(kept, id)
			known[id] = true
		}
	}
	for _, p := range pages {
		if !known[p.TargetID] {
			kept = append(kept, p.TargetID)
		}
	}
	s.handles = kept

	out := make([]string, len(kept))
	for i, id := range kept {
		out[i] = string(id)
	}
	return out, nil
}

func (s *Session) SwitchToWindow(handle string) error {
	page, err := s.browser.PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("failed to switch to window %s: %w", handle, err)
	}
	if _, err := page.Activate(); err != nil {
		return fmt.Errorf("failed to activate window %s: %w", handle, err)
	}
	s.attach(page)
	return nil
}

func (s *Session) SwitchToFrame(locator string) error {
	scope, err := s.current()
	if err != nil {
		return err
	}
	els, err := scope.ElementsX(locator)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", remote.ErrNoSuchFrame, locator, err)
	}
	if len(els) == 0 {
		return fmt.Errorf("%w: %s", remote.ErrNoSuchFrame, locator)
	}
	frame, err := els[0].Frame()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", remote.ErrNoSuchFrame, locator, err)
	}
	s.scope = frame
	return nil
}

func (s *Session) SwitchToDefaultContent() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	s.scope = s.top
	return nil
}

func (s *Session) waitLoad() error {
	if err := s.top.Timeout(s.loadTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page to load: %w", err)
	}
	s.scope = s.top
	return nil
}

func (s *Session) Navigate(url string) error {
	if s.top == nil {
		return errors.New("no active window")
	}
	if err := s.top.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return s.waitLoad()
}

func (s *Session) Back() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	if err := s.top.NavigateBack(); err != nil {
		return err
	}
	return s.waitLoad()
}

func (s *Session) Forward() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	if err := s.top.NavigateForward(); err != nil {
		return err
	}
	return s.waitLoad()
}

func (s *Session) Refresh() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	if err := s.top.Reload(); err != nil {
		return err
	}
	return s.waitLoad()
}

func (s *Session) CurrentURL() (string, error) {
	if s.top == nil {
		return "", errors.New("no active window")
	}
	info, err := s.top.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *Session) openDialog() (*proto.PageJavascriptDialogOpening, error) {
	if s.top == nil {
		return nil, remote.ErrNoAlert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[s.top.TargetID]
	if !ok {
		return nil, remote.ErrNoAlert
	}
	return d, nil
}

func (s *Session) handleDialog(accept bool) error {
	if _, err := s.openDialog(); err != nil {
		return err
	}
	err := proto.PageHandleJavaScriptDialog{Accept: accept}.Call(s.top)
	s.mu.Lock()
	delete(s.dialogs, s.top.TargetID)
	s.mu.Unlock()
	return err
}

func (s *Session) AcceptAlert() error {
	return s.handleDialog(true)
}

func (s *Session) DismissAlert() error {
	return s.handleDialog(false)
}

func (s *Session) AlertText() (string, error) {
	d, err := s.openDialog()
	if err != nil {
		return "", err
	}
	return d.Message, nil
}

func (s *Session) SendKeys(text string) error {
	scope, err := s.current()
	if err != nil {
		return err
	}
	timed, release := s.bounded(scope)
	defer release()
	return timed.InsertText(text)
}

func (s *Session) PressKey(key remote.Key) error {
	if s.top == nil {
		return errors.New("no active window")
	}
	switch key {
	case remote.KeyEnter:
		return s.top.Keyboard.Type(input.Enter)
	case remote.KeyTab:
		return s.top.Keyboard.Type(input.Tab)
	}
	return fmt.Errorf("unsupported key: %s", key)
}

func (s *Session) Screenshot() ([]byte, error) {
	if s.top == nil {
		return nil, errors.New("no active window")
	}
	timed, release := s.bounded(s.top)
	defer release()
	return timed.Screenshot(false, nil)
}

func (s *Session) PageHTML() (string, error) {
	scope, err := s.current()
	if err != nil {
		return "", err
	}
	timed, release := s.bounded(scope)
	defer release()
	return timed.HTML()
}

func (s *Session) CloseWindow() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	err := s.top.Close()
	s.top = nil
	s.scope = nil
	return err
}

func (s *Session) Maximize() error {
	if s.top == nil {
		return errors.New("no active window")
	}
	return s.top.SetWindow(&proto.BrowserBounds{WindowState: proto.BrowserWindowStateMaximized})
}

// Quit 关闭浏览器连接，本地模式下同时结束浏览器进程
func (s *Session) Quit() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	// 只杀死进程，不调用 Cleanup，以免删除用户数据目录
	if s.launcher != nil {
		s.launcher.Kill()
	}
	s.top = nil
	s.scope = nil
	return err
}

// classify 将 rod/CDP 错误映射为 remote 包中的错误类别
func classify(err error) error {
	if err == nil {
		return nil
	}
	var notFound *rod.ErrElementNotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", remote.ErrNoSuchElement, err)
	}
	var objNotFound *rod.ErrObjectNotFound
	if errors.As(err, &objNotFound) {
		return fmt.Errorf("%w: %v", remote.ErrStaleElement, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "No node with given id found") ||
		strings.Contains(msg, "Could not find node with given id") ||
		strings.Contains(msg, "Node is detached from document") ||
		strings.Contains(msg, "Cannot find object with id") {
		return fmt.Errorf("%w: %v", remote.ErrStaleElement, err)
	}
	return err
}
