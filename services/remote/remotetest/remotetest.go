// Package remotetest 提供内存中的 remote.Session 实现，用于测试
package remotetest

import (
	"errors"
	"fmt"

	"github.com/browserwing/testingdriver/services/remote"
)

// ErrNoWindow 当前窗口已关闭
var ErrNoWindow = errors.New("no such window")

// PNG 一个最小的 PNG 文件头，作为截图内容
var PNG = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

// Element 可编程的假元素
type Element struct {
	Name        string
	IsDisplayed bool
	IsEnabled   bool
	IsSelected  bool
	Attrs       map[string]string
	TextValue   string
	OptionTexts []string

	// Err 不为空时所有调用都返回该错误
	Err error

	Clicks   int
	Typed    string
	Cleared  int
	Selected []string
}

// Visible 返回可见且可用的元素
func Visible(name string) *Element {
	return &Element{Name: name, IsDisplayed: true, IsEnabled: true, Attrs: map[string]string{}}
}

func (e *Element) Displayed() (bool, error) { return e.IsDisplayed, e.Err }
func (e *Element) Enabled() (bool, error)   { return e.IsEnabled, e.Err }
func (e *Element) Selected() (bool, error)  { return e.IsSelected, e.Err }
func (e *Element) Text() (string, error)    { return e.TextValue, e.Err }
func (e *Element) Options() ([]string, error) {
	return e.OptionTexts, e.Err
}

func (e *Element) Attribute(name string) (string, bool, error) {
	if e.Err != nil {
		return "", false, e.Err
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Click() error {
	if e.Err != nil {
		return e.Err
	}
	e.Clicks++
	return nil
}

func (e *Element) Clear() error {
	if e.Err != nil {
		return e.Err
	}
	e.Cleared++
	e.Typed = ""
	return nil
}

func (e *Element) SendKeys(text string) error {
	if e.Err != nil {
		return e.Err
	}
	e.Typed += text
	return nil
}

func (e *Element) SelectByText(text string) error {
	if e.Err != nil {
		return e.Err
	}
	for _, o := range e.OptionTexts {
		if o == text {
			e.Selected = append(e.Selected, text)
			return nil
		}
	}
	return fmt.Errorf("option %q not found", text)
}

// Document 一个文档（窗口根或 iframe）
type Document struct {
	Elements map[string][]*Element
	Frames   map[string]*Document
}

func NewDocument() *Document {
	return &Document{Elements: map[string][]*Element{}, Frames: map[string]*Document{}}
}

// Put 设置定位器匹配的元素
func (d *Document) Put(locator string, els ...*Element) {
	d.Elements[locator] = els
}

// Remove 删除定位器匹配的元素
func (d *Document) Remove(locator string) {
	delete(d.Elements, locator)
}

// Frame 返回（必要时创建）子 iframe 文档
func (d *Document) Frame(locator string) *Document {
	f, ok := d.Frames[locator]
	if !ok {
		f = NewDocument()
		d.Frames[locator] = f
	}
	return f
}

// Window 一个标签页
type Window struct {
	Handle  string
	URL     string
	History []string
	Root    *Document
}

// Alert 打开的对话框
type Alert struct {
	Text string
	// OnClose 在 accept/dismiss 时调用，可用于模拟关闭标签页
	OnClose func(s *Session, accepted bool)
}

// Session 内存中的浏览器会话
type Session struct {
	Windows []*Window
	Alert   *Alert

	// BeforeFind 每次 FindElements 前调用，可用于推进时钟或修改页面
	BeforeFind func(locator string)
	// FindErr 返回非空时 FindElements 失败
	FindErr func(locator string) error
	// Script 处理 ExecuteScript
	Script func(script string, args ...any) (any, error)

	QuitErr       error
	ScreenshotErr error

	Finds   int
	Scripts []string
	Keys    []string
	Quits   int
	Closed  []string

	active    *Window
	framePath []string
	nextID    int
}

// NewSession 创建只有一个空白标签页的会话
func NewSession() *Session {
	s := &Session{}
	s.active = s.OpenWindow("about:blank")
	return s
}

// OpenWindow 打开新标签页（不切换）
func (s *Session) OpenWindow(url string) *Window {
	w := &Window{Handle: fmt.Sprintf("w%d", s.nextID), URL: url, Root: NewDocument()}
	s.nextID++
	s.Windows = append(s.Windows, w)
	return w
}

// CloseWindowAt 关闭第 i 个标签页
func (s *Session) CloseWindowAt(i int) {
	w := s.Windows[i]
	s.Windows = append(s.Windows[:i:i], s.Windows[i+1:]...)
	s.Closed = append(s.Closed, w.Handle)
	if s.active == w {
		s.active = nil
	}
}

// Active 当前标签页，可能为 nil
func (s *Session) Active() *Window {
	return s.active
}

// FramePath 当前 iframe 路径
func (s *Session) FramePath() []string {
	return append([]string(nil), s.framePath...)
}

// Doc 当前活动文档
func (s *Session) Doc() (*Document, error) {
	if s.active == nil {
		return nil, ErrNoWindow
	}
	d := s.active.Root
	for _, f := range s.framePath {
		next, ok := d.Frames[f]
		if !ok {
			return nil, remote.ErrNoSuchFrame
		}
		d = next
	}
	return d, nil
}

func (s *Session) FindElements(locator string) ([]remote.Element, error) {
	s.Finds++
	if s.BeforeFind != nil {
		s.BeforeFind(locator)
	}
	if s.FindErr != nil {
		if err := s.FindErr(locator); err != nil {
			return nil, err
		}
	}
	d, err := s.Doc()
	if err != nil {
		return nil, err
	}
	els := d.Elements[locator]
	out := make([]remote.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (s *Session) ExecuteScript(script string, args ...any) (any, error) {
	s.Scripts = append(s.Scripts, script)
	if s.Script != nil {
		return s.Script(script, args...)
	}
	return nil, nil
}

func (s *Session) WindowHandles() ([]string, error) {
	out := make([]string, len(s.Windows))
	for i, w := range s.Windows {
		out[i] = w.Handle
	}
	return out, nil
}

func (s *Session) SwitchToWindow(handle string) error {
	for _, w := range s.Windows {
		if w.Handle == handle {
			s.active = w
			s.framePath = nil
			return nil
		}
	}
	return ErrNoWindow
}

func (s *Session) SwitchToFrame(locator string) error {
	d, err := s.Doc()
	if err != nil {
		return err
	}
	if _, ok := d.Frames[locator]; !ok {
		return fmt.Errorf("%w: %s", remote.ErrNoSuchFrame, locator)
	}
	s.framePath = append(s.framePath, locator)
	return nil
}

func (s *Session) SwitchToDefaultContent() error {
	if s.active == nil {
		return ErrNoWindow
	}
	s.framePath = nil
	return nil
}

func (s *Session) Navigate(url string) error {
	if s.active == nil {
		return ErrNoWindow
	}
	s.active.History = append(s.active.History, s.active.URL)
	s.active.URL = url
	s.framePath = nil
	return nil
}

func (s *Session) Back() error {
	if s.active == nil {
		return ErrNoWindow
	}
	if n := len(s.active.History); n > 0 {
		s.active.URL = s.active.History[n-1]
		s.active.History = s.active.History[:n-1]
	}
	s.framePath = nil
	return nil
}

func (s *Session) Forward() error {
	if s.active == nil {
		return ErrNoWindow
	}
	s.framePath = nil
	return nil
}

func (s *Session) Refresh() error {
	if s.active == nil {
		return ErrNoWindow
	}
	s.framePath = nil
	return nil
}

func (s *Session) CurrentURL() (string, error) {
	if s.active == nil {
		return "", ErrNoWindow
	}
	return s.active.URL, nil
}

func (s *Session) closeAlert(accepted bool) error {
	if s.Alert == nil {
		return remote.ErrNoAlert
	}
	a := s.Alert
	s.Alert = nil
	if a.OnClose != nil {
		a.OnClose(s, accepted)
	}
	return nil
}

func (s *Session) AcceptAlert() error  { return s.closeAlert(true) }
func (s *Session) DismissAlert() error { return s.closeAlert(false) }

func (s *Session) AlertText() (string, error) {
	if s.Alert == nil {
		return "", remote.ErrNoAlert
	}
	return s.Alert.Text, nil
}

func (s *Session) SendKeys(text string) error {
	s.Keys = append(s.Keys, text)
	return nil
}

func (s *Session) PressKey(key remote.Key) error {
	s.Keys = append(s.Keys, "<"+string(key)+">")
	return nil
}

func (s *Session) Screenshot() ([]byte, error) {
	if s.ScreenshotErr != nil {
		return nil, s.ScreenshotErr
	}
	return PNG, nil
}

func (s *Session) PageHTML() (string, error) {
	if s.active == nil {
		return "", ErrNoWindow
	}
	return "<html><body><h1>" + s.active.URL + "</h1></body></html>", nil
}

func (s *Session) CloseWindow() error {
	if s.active == nil {
		return ErrNoWindow
	}
	for i, w := range s.Windows {
		if w == s.active {
			s.CloseWindowAt(i)
			break
		}
	}
	return nil
}

func (s *Session) Maximize() error {
	if s.active == nil {
		return ErrNoWindow
	}
	return nil
}

func (s *Session) Quit() error {
	s.Quits++
	s.active = nil
	return s.QuitErr
}
