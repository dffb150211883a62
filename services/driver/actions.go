package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	pkgerrors "github.com/pkg/errors"
)

const (
	jsClickScript        = "var element=arguments[0]; setTimeout(function() {element.click();}, 100)"
	screenshotTimeLayout = "2006_01_02-03_04_05_PM"
)

// NavigateToURL 打开页面，未启动时先启动浏览器；url 为空时使用默认地址
func (d *Driver) NavigateToURL(ctx context.Context, url string) error {
	ctx = d.ctx(ctx)
	if d.state == models.SessionUnstarted {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	if url == "" {
		url = d.opts.DefaultURL
	}
	return d.navigate(ctx, url)
}

func (d *Driver) navigate(ctx context.Context, url string) error {
	s, err := d.active()
	if err != nil {
		return err
	}
	d.sync(ctx, s)
	logger.Info(ctx, "Navigate to: %s", url)
	if err := s.Navigate(url); err != nil {
		return pkgerrors.Wrapf(err, "navigate to %s", url)
	}
	d.tracker.ResetFrames()
	d.syncState(ctx)
	return nil
}

// sync 同步活动标签页，失败只记录日志
func (d *Driver) sync(ctx context.Context, s remote.Session) {
	if err := d.tracker.EnsureActiveTab(ctx, s); err != nil {
		logger.Warn(ctx, "Failed to sync active tab: %v", err)
	}
	d.syncState(ctx)
}

// find 在超时内查找元素，找不到返回 ErrElementNotFound
func (d *Driver) find(ctx context.Context, s remote.Session, locator string, ao actionOptions) (remote.Element, error) {
	el, ok := d.resolver.Resolve(ctx, s, locator, ao.filter, models.WaitBudget{Timeout: ao.timeout})
	d.syncState(ctx)
	if !ok {
		return nil, pkgerrors.Wrapf(ErrElementNotFound, "%s", locator)
	}
	return el, nil
}

// findClickable 查找元素并等待其可点击
func (d *Driver) findClickable(ctx context.Context, s remote.Session, locator string, ao actionOptions) (remote.Element, error) {
	el, err := d.find(ctx, s, locator, ao)
	if err != nil {
		return nil, err
	}
	if err := d.waits.waitElement(ctx, el, locator, models.StateClickable, ao.timeout); err != nil {
		return nil, err
	}
	return el, nil
}

// ClickElement 点击元素
func (d *Driver) ClickElement(ctx context.Context, locator string, opts ...ActionOption) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	ao := d.actionOptions(opts)
	el, err := d.findClickable(ctx, s, locator, ao)
	if err != nil {
		return err
	}
	if ao.byJS {
		_, err = s.ExecuteScript(jsClickScript, el)
	} else {
		err = el.Click()
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "click %s", locator)
	}
	logger.Info(ctx, "Clicked element: %s", locator)
	d.CheckErrorContainer(ctx)
	return nil
}

// PopulateElement 清空输入框后输入 value
func (d *Driver) PopulateElement(ctx context.Context, locator, value string, opts ...ActionOption) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	ao := d.actionOptions(opts)
	el, err := d.findClickable(ctx, s, locator, ao)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return pkgerrors.Wrapf(err, "clear %s", locator)
	}
	if err := el.SendKeys(value); err != nil {
		return pkgerrors.Wrapf(err, "populate %s", locator)
	}
	logger.Info(ctx, "Populated element: %s", locator)
	d.CheckErrorContainer(ctx)
	return nil
}

// SelectValueInElement 按选项文本选择下拉框的值
func (d *Driver) SelectValueInElement(ctx context.Context, locator, value string, opts ...ActionOption) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	ao := d.actionOptions(opts)
	el, err := d.findClickable(ctx, s, locator, ao)
	if err != nil {
		return err
	}
	if err := el.SelectByText(value); err != nil {
		return pkgerrors.Wrapf(err, "select %q in %s", value, locator)
	}
	logger.Info(ctx, "Selected %q in element: %s", value, locator)
	d.CheckErrorContainer(ctx)
	return nil
}

// SendKeys 向当前焦点元素输入；{ENTER} 与 {TAB} 作为按键发送
func (d *Driver) SendKeys(ctx context.Context, keys string) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	d.sync(ctx, s)
	switch strings.ToUpper(keys) {
	case "{ENTER}":
		err = s.PressKey(remote.KeyEnter)
	case "{TAB}":
		err = s.PressKey(remote.KeyTab)
	default:
		err = s.SendKeys(keys)
	}
	return pkgerrors.Wrap(err, "send keys")
}

// SwitchToIFrame 进入 iframe；RootFrame 回到顶层文档
func (d *Driver) SwitchToIFrame(ctx context.Context, locator string) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	err = d.tracker.SwitchToFrame(ctx, s, locator, d.opts.Timeout)
	d.syncState(ctx)
	return err
}

// SwitchToNestedIFrame 从当前 iframe 进入子 iframe
func (d *Driver) SwitchToNestedIFrame(ctx context.Context, locator string) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	err = d.tracker.SwitchToNestedFrame(ctx, s, locator, d.opts.Timeout)
	d.syncState(ctx)
	return err
}

// SwitchToTab 切换到第 index 个标签页
func (d *Driver) SwitchToTab(ctx context.Context, index int) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	err = d.tracker.SwitchToTab(ctx, s, index)
	d.syncState(ctx)
	return err
}

func (d *Driver) history(ctx context.Context, name string, op func(remote.Session) error) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	d.sync(ctx, s)
	if err := op(s); err != nil {
		return pkgerrors.Wrap(err, name)
	}
	d.tracker.ResetFrames()
	d.syncState(ctx)
	return nil
}

// Back 后退
func (d *Driver) Back(ctx context.Context) error {
	return d.history(ctx, "back", remote.Session.Back)
}

// Forward 前进
func (d *Driver) Forward(ctx context.Context) error {
	return d.history(ctx, "forward", remote.Session.Forward)
}

// RefreshWebPage 刷新
func (d *Driver) RefreshWebPage(ctx context.Context) error {
	return d.history(ctx, "refresh", remote.Session.Refresh)
}

// CloseBrowser 关闭当前窗口并切换到剩余的最新窗口
func (d *Driver) CloseBrowser(ctx context.Context) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	if err := s.CloseWindow(); err != nil {
		return pkgerrors.Wrap(err, "close window")
	}
	d.tracker.ResetFrames()
	d.sync(ctx, s)
	return nil
}

// Maximize 最大化当前窗口
func (d *Driver) Maximize(ctx context.Context) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	d.sync(ctx, s)
	return pkgerrors.Wrap(s.Maximize(), "maximize")
}

// AcceptAlert 接受对话框，随后同步活动标签页
func (d *Driver) AcceptAlert(ctx context.Context) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	err = s.AcceptAlert()
	d.sync(ctx, s)
	return pkgerrors.Wrap(err, "accept alert")
}

// DismissAlert 取消对话框，随后同步活动标签页
func (d *Driver) DismissAlert(ctx context.Context) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	err = s.DismissAlert()
	d.sync(ctx, s)
	return pkgerrors.Wrap(err, "dismiss alert")
}

// GetAlertText 读取对话框文本
func (d *Driver) GetAlertText(ctx context.Context) (string, error) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return "", err
	}
	text, err := s.AlertText()
	if err != nil {
		logger.Debug(ctx, "No alert to read: %v", err)
		return "", pkgerrors.Wrap(err, "alert text")
	}
	logger.Debug(ctx, "Alert text: %s", text)
	return text, nil
}

// CurrentURL 当前页面地址
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return "", err
	}
	d.sync(ctx, s)
	url, err := s.CurrentURL()
	return url, pkgerrors.Wrap(err, "current url")
}

// ExecuteJS 在当前上下文执行脚本
func (d *Driver) ExecuteJS(ctx context.Context, script string, args ...any) (any, error) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return nil, err
	}
	d.sync(ctx, s)
	res, err := s.ExecuteScript(script, args...)
	return res, pkgerrors.Wrap(err, "execute script")
}

// GetAllLinksURL 返回页面所有链接地址，跳过 javascript 链接
func (d *Driver) GetAllLinksURL(ctx context.Context) ([]string, error) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return nil, err
	}
	d.waits.WaitForLoadingSpinner(ctx, s)
	els, err := s.FindElements("//a")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "find links")
	}
	urls := make([]string, 0, len(els))
	for _, el := range els {
		href, ok, err := el.Attribute("href")
		if err != nil || !ok || href == "" {
			continue
		}
		if strings.Contains(strings.ToLower(href), "javascript") {
			continue
		}
		urls = append(urls, href)
	}
	return urls, nil
}

// CheckErrorContainer 读取页面错误提示区域的文本并记录日志，失败时返回空字符串
func (d *Driver) CheckErrorContainer(ctx context.Context) string {
	if d.opts.ErrorContainer == "" {
		return ""
	}
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return ""
	}
	el, ok := d.resolver.Resolve(ctx, s, d.opts.ErrorContainer, "", models.WaitBudget{Attempts: 1})
	if !ok || !isDisplayed(el) {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		logger.Debug(ctx, "Failed to read error container: %v", err)
		return ""
	}
	text = strings.TrimSpace(text)
	if text != "" {
		logger.Error(ctx, "Error container reported: %s", text)
	}
	return text
}

// TakeScreenShot 保存截图到截图目录，失败时只记录日志并返回 nil
func (d *Driver) TakeScreenShot(ctx context.Context) *models.ScreenshotRecord {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		logger.Warn(ctx, "Cannot take screenshot: %v", err)
		return nil
	}
	d.sync(ctx, s)

	data, err := s.Screenshot()
	if err != nil {
		logger.Warn(ctx, "Failed to take screenshot: %v", err)
		return nil
	}

	ext, mime := "png", "image/png"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		ext, mime = kind.Extension, kind.MIME.Value
	}

	if err := os.MkdirAll(d.opts.ScreenshotDir, 0o755); err != nil {
		logger.Warn(ctx, "Failed to create screenshot directory: %v", err)
		return nil
	}
	now := d.clock.Now()
	name := now.Format(screenshotTimeLayout)
	path := filepath.Join(d.opts.ScreenshotDir, name+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn(ctx, "Failed to save screenshot: %v", err)
		return nil
	}
	logger.Info(ctx, "Screenshot saved: %s", path)

	rec := &models.ScreenshotRecord{
		ID:        uuid.New().String(),
		SessionID: d.id,
		Path:      path,
		MimeType:  mime,
		Size:      int64(len(data)),
		CreatedAt: now,
	}
	if url, err := s.CurrentURL(); err == nil {
		rec.URL = url
	}
	if d.opts.SavePageSnapshot {
		rec.SnapshotPath = d.savePageSnapshot(ctx, s, filepath.Join(d.opts.ScreenshotDir, name+".md"))
	}
	if d.store != nil {
		if err := d.store.SaveScreenshot(rec); err != nil {
			logger.Warn(ctx, "Failed to save screenshot record: %v", err)
		}
	}
	return rec
}

// savePageSnapshot 将当前页面转换为 markdown 保存
func (d *Driver) savePageSnapshot(ctx context.Context, s remote.Session, path string) string {
	html, err := s.PageHTML()
	if err != nil {
		logger.Warn(ctx, "Failed to read page html: %v", err)
		return ""
	}
	markdown, err := md.NewConverter("", true, nil).ConvertString(html)
	if err != nil {
		logger.Warn(ctx, "Failed to convert page to markdown: %v", err)
		return ""
	}
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		logger.Warn(ctx, "Failed to save page snapshot: %v", err)
		return ""
	}
	return path
}
