// Package driver 实现面向测试代码的浏览器驱动：元素查找与等待、上下文跟踪以及驱动进程生命周期
package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/pkg/proctree"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// Store 会话与截图记录的持久化
type Store interface {
	SaveSession(rec *models.SessionRecord) error
	SaveScreenshot(rec *models.ScreenshotRecord) error
}

// Option 构造参数
type Option func(*Driver)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithFactory 替换远程会话的创建方式
func WithFactory(f Factory) Option {
	return func(d *Driver) { d.factory = f }
}

// WithProcessTable 替换进程表实现
func WithProcessTable(t proctree.Table) Option {
	return func(d *Driver) { d.table = t }
}

// WithStore 持久化会话状态与截图
func WithStore(s Store) Option {
	return func(d *Driver) { d.store = s }
}

// WithPollInterval 覆盖轮询间隔，0 表示不等待直接重试
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.opts.PollInterval = interval
		d.pollSet = true
	}
}

// Driver 一个浏览器驱动会话，不能并发使用
type Driver struct {
	id      string
	opts    Options
	clock   clock.Clock
	factory Factory
	table   proctree.Table
	store   Store
	pollSet bool

	procs    *proctree.Manager
	session  remote.Session
	tracker  *ContextTracker
	resolver *Resolver
	waits    *WaitEngine

	state  models.SessionState
	record *models.SessionRecord
}

// New 创建驱动会话。浏览器在首次导航或调用 Start 时才启动
func New(opts Options, options ...Option) (*Driver, error) {
	if _, err := models.ParseBrowserKind(string(opts.Browser)); err != nil {
		return nil, pkgerrors.Wrapf(remote.ErrUnsupportedBrowser, "%q", opts.Browser)
	}

	d := &Driver{
		id:      uuid.New().String(),
		clock:   clock.New(),
		factory: RodFactory,
		state:   models.SessionUnstarted,
	}
	d.opts = opts
	for _, o := range options {
		o(d)
	}
	interval := d.opts.PollInterval
	d.opts.applyDefaults()
	if d.pollSet {
		d.opts.PollInterval = interval
	}

	d.procs = proctree.NewManager(d.table)
	d.tracker = NewContextTracker(d.clock, d.opts.PollInterval)
	d.resolver = NewResolver(d.clock, d.opts.PollInterval)
	d.waits = NewWaitEngine(d.clock, d.opts.PollInterval, d.resolver, d.tracker)
	d.waits.spinner = d.opts.LoadingSpinner
	d.waits.spinnerTimeout = d.opts.Timeout
	d.resolver.preWait = d.waits.WaitForLoadingSpinner

	now := d.clock.Now()
	d.record = &models.SessionRecord{
		ID:          d.id,
		Browser:     d.opts.Browser,
		Environment: d.opts.Environment,
		RemoteHost:  d.opts.RemoteHost,
		PID:         -1,
		State:       d.state,
		Transitions: []models.StateTransition{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	d.persist(context.Background())
	return d, nil
}

// ID 会话 ID
func (d *Driver) ID() string {
	return d.id
}

// State 当前生命周期状态
func (d *Driver) State() models.SessionState {
	return d.state
}

// Context 当前浏览上下文
func (d *Driver) Context() models.BrowsingContext {
	return d.tracker.Context()
}

// PID 当前跟踪的驱动进程，未跟踪时为 -1
func (d *Driver) PID() int {
	return d.procs.Tracked()
}

// Options 返回会话配置
func (d *Driver) Options() Options {
	return d.opts
}

// SetTimeOutThreshold 修改默认超时（秒）
func (d *Driver) SetTimeOutThreshold(seconds int) {
	if seconds <= 0 {
		return
	}
	d.opts.Timeout = time.Duration(seconds) * time.Second
	d.waits.spinnerTimeout = d.opts.Timeout
}

func (d *Driver) ctx(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return logger.WithSessionID(ctx, d.id)
}

func (d *Driver) setState(ctx context.Context, to models.SessionState, cause error) {
	if d.state == to {
		return
	}
	now := d.clock.Now()
	d.record.Transitions = append(d.record.Transitions, models.StateTransition{From: d.state, To: to, At: now})
	d.state = to
	d.record.State = to
	d.record.UpdatedAt = now
	d.record.PID = d.procs.Tracked()
	if cause != nil {
		d.record.LastError = cause.Error()
	}
	d.persist(ctx)
}

func (d *Driver) persist(ctx context.Context) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveSession(d.record); err != nil {
		logger.Warn(ctx, "Failed to save session record: %v", err)
	}
}

// syncState 根据是否位于 iframe 更新 Ready/CrossContext
func (d *Driver) syncState(ctx context.Context) {
	if d.state != models.SessionReady && d.state != models.SessionCrossContext {
		return
	}
	if d.tracker.InFrame() {
		d.setState(ctx, models.SessionCrossContext, nil)
	} else {
		d.setState(ctx, models.SessionReady, nil)
	}
}

// Start 启动浏览器会话；已启动时先关闭旧会话再重新启动
func (d *Driver) Start(ctx context.Context) error {
	ctx = d.ctx(ctx)
	switch d.state {
	case models.SessionTerminated:
		return ErrTerminated
	case models.SessionReady, models.SessionCrossContext:
		logger.Info(ctx, "Restarting browser session")
		d.teardown(ctx)
	}

	d.setState(ctx, models.SessionInstantiating, nil)
	logger.Info(ctx, "Starting %s browser session", d.opts.Browser)

	sess, err := d.factory(ctx, d.opts, d.procs.Track)
	if err != nil {
		err = pkgerrors.Wrapf(err, "instantiate %s browser", d.opts.Browser)
		logger.Error(ctx, "Failed to start browser: %v", err)
		d.procs.KillAll(ctx)
		d.setState(ctx, models.SessionTerminated, err)
		return err
	}
	d.session = sess
	d.tracker.Reset()
	if err := d.tracker.EnsureActiveTab(ctx, sess); err != nil {
		logger.Warn(ctx, "Failed to sync active tab: %v", err)
	}
	if !d.opts.Headless {
		if err := sess.Maximize(); err != nil {
			logger.Debug(ctx, "Failed to maximize window: %v", err)
		}
	}
	d.setState(ctx, models.SessionReady, nil)

	if d.opts.DefaultURL != "" {
		if err := d.navigate(ctx, d.opts.DefaultURL); err != nil {
			logger.Warn(ctx, "Failed to open default url %s: %v", d.opts.DefaultURL, err)
		}
	}
	logger.Info(ctx, "Browser session ready, driver pid: %d", d.procs.Tracked())
	return nil
}

// teardown 关闭远程会话并清理进程树，不改变状态
func (d *Driver) teardown(ctx context.Context) {
	defer d.procs.KillAll(ctx)
	if d.session == nil {
		return
	}
	sess := d.session
	d.session = nil
	if err := sess.Quit(); err != nil {
		logger.Warn(ctx, "Failed to quit browser session gracefully: %v", err)
	}
}

// Quit 结束会话。可重复调用，从不失败；无论关闭是否成功都会清理驱动进程树
func (d *Driver) Quit(ctx context.Context) {
	ctx = d.ctx(ctx)
	if d.state == models.SessionTerminated {
		return
	}
	d.setState(ctx, models.SessionQuitting, nil)
	defer func() {
		d.tracker.Reset()
		d.setState(ctx, models.SessionTerminated, nil)
		logger.Info(ctx, "Browser session terminated")
	}()
	d.teardown(ctx)
}

// ForceKillWebDriver 强制结束驱动进程及其子进程
func (d *Driver) ForceKillWebDriver(ctx context.Context) {
	d.procs.KillAll(d.ctx(ctx))
}

// active 返回可用的远程会话
func (d *Driver) active() (remote.Session, error) {
	switch d.state {
	case models.SessionTerminated, models.SessionQuitting:
		return nil, ErrTerminated
	case models.SessionReady, models.SessionCrossContext:
		if d.session != nil {
			return d.session, nil
		}
	}
	return nil, ErrNotStarted
}
