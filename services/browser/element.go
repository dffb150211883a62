package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Element go-rod 元素
type Element struct {
	el   *rod.Element
	sess *Session
}

// bounded 返回带操作超时的元素副本，用完后调用 release
func (e *Element) bounded() (timed *rod.Element, release func()) {
	if e.sess == nil || e.sess.actionTimeout <= 0 {
		return e.el, func() {}
	}
	timed = e.el.Timeout(e.sess.actionTimeout)
	return timed, func() { timed.CancelTimeout() }
}

func (e *Element) eval(js string) (*proto.RuntimeRemoteObject, error) {
	el, release := e.bounded()
	defer release()
	res, err := el.Eval(js)
	return res, classify(err)
}

func (e *Element) evalBool(js string) (bool, error) {
	res, err := e.eval(js)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *Element) Displayed() (bool, error) {
	el, release := e.bounded()
	defer release()
	visible, err := el.Visible()
	if err != nil {
		return false, classify(err)
	}
	return visible, nil
}

func (e *Element) Enabled() (bool, error) {
	return e.evalBool(`() => !this.disabled`)
}

func (e *Element) Selected() (bool, error) {
	return e.evalBool(`() => !!(this.selected || this.checked)`)
}

// Attribute 先读 HTML 属性，不存在时退回到 DOM property（例如 value）
func (e *Element) Attribute(name string) (string, bool, error) {
	el, release := e.bounded()
	defer release()
	attr, err := el.Attribute(name)
	if err != nil {
		return "", false, classify(err)
	}
	if attr != nil {
		return *attr, true, nil
	}
	prop, err := el.Property(name)
	if err != nil {
		return "", false, classify(err)
	}
	if prop.Nil() {
		return "", false, nil
	}
	return prop.String(), true, nil
}

func (e *Element) Text() (string, error) {
	el, release := e.bounded()
	defer release()
	text, err := el.Text()
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

// Click 点击元素；点击弹出 alert/confirm 时立即返回，对话框留给调用方处理
func (e *Element) Click() error {
	el, release := e.bounded()
	var opened <-chan struct{}
	if e.sess != nil {
		opened = e.sess.dialogSignal()
	}

	done := make(chan error, 1)
	go func() {
		defer release()
		done <- el.Click(proto.InputMouseButtonLeft, 1)
	}()

	for {
		select {
		case err := <-done:
			return classify(err)
		case <-opened:
			if _, err := e.sess.openDialog(); err == nil {
				return nil
			}
		}
	}
}

func (e *Element) Clear() error {
	_, err := e.eval(`() => {
		this.value = '';
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`)
	return err
}

func (e *Element) SendKeys(text string) error {
	el, release := e.bounded()
	defer release()
	return classify(el.Input(text))
}

func (e *Element) SelectByText(text string) error {
	el, release := e.bounded()
	defer release()
	return classify(el.Select([]string{text}, true, rod.SelectorTypeText))
}

func (e *Element) Options() ([]string, error) {
	res, err := e.eval(`() => Array.from(this.options || []).map(o => o.text)`)
	if err != nil {
		return nil, err
	}
	arr := res.Value.Arr()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.String())
	}
	return out, nil
}
