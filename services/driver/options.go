package driver

import (
	"context"
	"errors"
	"time"

	"github.com/browserwing/testingdriver/config"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/services/browser"
	"github.com/browserwing/testingdriver/services/remote"
	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotStarted 会话尚未启动
	ErrNotStarted = errors.New("driver session not started")
	// ErrTerminated 会话已结束，不能再使用
	ErrTerminated = errors.New("driver session terminated")
	// ErrElementNotFound 在超时时间内没有找到元素
	ErrElementNotFound = errors.New("element not found")
	// ErrWaitTimeout 等待元素状态超时
	ErrWaitTimeout = errors.New("wait timed out")
)

// RootFrame 切回窗口顶层文档的特殊定位器
const RootFrame = "root"

const (
	defaultTimeout      = 5 * time.Second
	defaultPageLoad     = 60 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
	quickCheckAttempts  = 3
)

// Options 驱动会话配置
type Options struct {
	Browser               models.BrowserKind
	Timeout               time.Duration // 元素查找与等待的默认超时
	PageLoadTimeout       time.Duration
	RemoteHost            string
	DefaultURL            string
	Environment           string
	LoadingSpinner        string // 加载指示器定位器
	ErrorContainer        string // 页面错误提示区域定位器
	ScreenshotDir         string
	BinPath               string
	UserDataDir           string
	Headless              bool
	UseStealth            bool
	LaunchArgs            []string
	SavePageSnapshot      bool
	PollInterval          time.Duration
	PreserveAttributeCase bool
}

// OptionsFromConfig 将 [driver] 配置转换为 Options
func OptionsFromConfig(cfg *config.DriverConfig) (Options, error) {
	if cfg == nil {
		cfg = config.DefaultDriverConfig()
	}
	kind, err := models.ParseBrowserKind(cfg.Browser)
	if err != nil {
		return Options{}, pkgerrors.Wrapf(remote.ErrUnsupportedBrowser, "%s", cfg.Browser)
	}
	return Options{
		Browser:               kind,
		Timeout:               time.Duration(cfg.TimeoutSeconds) * time.Second,
		PageLoadTimeout:       time.Duration(cfg.PageLoadTimeoutMinutes) * time.Minute,
		RemoteHost:            cfg.RemoteHost,
		DefaultURL:            cfg.DefaultURL,
		Environment:           cfg.Environment,
		LoadingSpinner:        cfg.LoadingSpinner,
		ErrorContainer:        cfg.ErrorContainer,
		ScreenshotDir:         cfg.ScreenshotDir,
		BinPath:               cfg.BinPath,
		UserDataDir:           cfg.UserDataDir,
		Headless:              cfg.Headless,
		UseStealth:            cfg.UseStealth,
		LaunchArgs:            cfg.LaunchArgs,
		SavePageSnapshot:      cfg.SavePageSnapshot,
		PollInterval:          time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		PreserveAttributeCase: cfg.PreserveAttributeCase,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = defaultPageLoad
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = "./"
	}
}

// Factory 创建远程会话；track 用于登记驱动进程 PID
type Factory func(ctx context.Context, opts Options, track func(pid int)) (remote.Session, error)

// RodFactory 使用 go-rod 启动或连接浏览器
func RodFactory(ctx context.Context, opts Options, track func(pid int)) (remote.Session, error) {
	return browser.Launch(ctx, browser.LaunchOptions{
		Kind:            opts.Browser,
		RemoteHost:      opts.RemoteHost,
		BinPath:         opts.BinPath,
		UserDataDir:     opts.UserDataDir,
		Headless:        opts.Headless,
		UseStealth:      opts.UseStealth,
		LaunchArgs:      opts.LaunchArgs,
		PageLoadTimeout: opts.PageLoadTimeout,
		ActionTimeout:   opts.Timeout,
	}, track)
}

// ActionOption 单次操作的可选参数
type ActionOption func(*actionOptions)

type actionOptions struct {
	filter  string
	byJS    bool
	timeout time.Duration
}

// WithFilterScript 多个元素匹配时用脚本筛选，arguments[0] 为候选元素数组
func WithFilterScript(script string) ActionOption {
	return func(o *actionOptions) { o.filter = script }
}

// ByJS 通过脚本触发点击
func ByJS() ActionOption {
	return func(o *actionOptions) { o.byJS = true }
}

// WithTimeout 覆盖本次操作的超时
func WithTimeout(d time.Duration) ActionOption {
	return func(o *actionOptions) { o.timeout = d }
}

func (d *Driver) actionOptions(opts []ActionOption) actionOptions {
	ao := actionOptions{timeout: d.opts.Timeout}
	for _, opt := range opts {
		opt(&ao)
	}
	if ao.timeout <= 0 {
		ao.timeout = d.opts.Timeout
	}
	return ao
}
