package driver

import (
	"context"
	"strings"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	pkgerrors "github.com/pkg/errors"
)

// VerifyAttribute 元素属性值是否等于 expected（区分大小写）
// 属性名默认转小写，Options.PreserveAttributeCase 为 true 时保持原样
func (d *Driver) VerifyAttribute(ctx context.Context, attribute, expected, locator string, opts ...ActionOption) bool {
	value, ok := d.GetElementAttribute(ctx, attribute, locator, opts...)
	return ok && value == expected
}

// GetElementAttribute 读取元素属性，元素或属性不存在时第二个返回值为 false
func (d *Driver) GetElementAttribute(ctx context.Context, attribute, locator string, opts ...ActionOption) (string, bool) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return "", false
	}
	el, err := d.find(ctx, s, locator, d.actionOptions(opts))
	if err != nil {
		return "", false
	}
	if !d.opts.PreserveAttributeCase {
		attribute = strings.ToLower(attribute)
	}
	value, present, err := el.Attribute(attribute)
	if err != nil {
		logger.Debug(ctx, "Failed to read attribute %s of %s: %v", attribute, locator, err)
		return "", false
	}
	return value, present
}

// VerifyElementText 元素文本是否等于 expected
func (d *Driver) VerifyElementText(ctx context.Context, expected, locator string, opts ...ActionOption) bool {
	text, err := d.GetElementText(ctx, locator, opts...)
	return err == nil && text == expected
}

// GetElementText 读取元素文本
func (d *Driver) GetElementText(ctx context.Context, locator string, opts ...ActionOption) (string, error) {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return "", err
	}
	el, err := d.find(ctx, s, locator, d.actionOptions(opts))
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	return text, pkgerrors.Wrapf(err, "text of %s", locator)
}

// VerifyElementSelected 元素是否被选中（option 或 checkbox/radio）
func (d *Driver) VerifyElementSelected(ctx context.Context, locator string, opts ...ActionOption) bool {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return false
	}
	el, err := d.find(ctx, s, locator, d.actionOptions(opts))
	if err != nil {
		return false
	}
	selected, err := el.Selected()
	return err == nil && selected
}

// VerifyDropDownContent 下拉框是否包含 expected 中的所有选项（子集判断）
func (d *Driver) VerifyDropDownContent(ctx context.Context, expected []string, locator string, opts ...ActionOption) bool {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return false
	}
	el, err := d.find(ctx, s, locator, d.actionOptions(opts))
	if err != nil {
		return false
	}
	options, err := el.Options()
	if err != nil {
		logger.Debug(ctx, "Failed to read options of %s: %v", locator, err)
		return false
	}
	have := make(map[string]bool, len(options))
	for _, o := range options {
		have[o] = true
	}
	for _, e := range expected {
		if !have[e] {
			return false
		}
	}
	return true
}

// CheckForElementState 快速检查元素状态（少量重试，不等待完整超时）
func (d *Driver) CheckForElementState(ctx context.Context, locator string, state models.ElementState, opts ...ActionOption) bool {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return false
	}
	ao := d.actionOptions(opts)
	ok := d.waits.CheckForElementState(ctx, s, locator, ao.filter, state)
	d.syncState(ctx)
	return ok
}

// WaitForElementState 等待元素进入指定状态，超时返回 ErrWaitTimeout
func (d *Driver) WaitForElementState(ctx context.Context, locator string, state models.ElementState, opts ...ActionOption) error {
	ctx = d.ctx(ctx)
	s, err := d.active()
	if err != nil {
		return err
	}
	ao := d.actionOptions(opts)
	err = d.waits.WaitForState(ctx, s, locator, state, ao.timeout)
	d.syncState(ctx)
	return err
}
