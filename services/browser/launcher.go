package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// LaunchOptions 浏览器启动参数
type LaunchOptions struct {
	Kind            models.BrowserKind
	RemoteHost      string // remotechrome 的调试地址
	BinPath         string
	UserDataDir     string
	Headless        bool
	UseStealth      bool
	LaunchArgs      []string
	PageLoadTimeout time.Duration
	ActionTimeout   time.Duration // 单次 CDP 操作的上限，<=0 时使用默认值
}

const defaultActionTimeout = 30 * time.Second

// ErrEdgeNotFound 选择 edge 但未配置 bin_path 且本机找不到 Edge
var ErrEdgeNotFound = errors.New("microsoft edge binary not found, set bin_path")

// lookEdge 查找本机 Edge，可在测试中替换
var lookEdge = findEdgeBinary

func findEdgeBinary() (string, bool) {
	for _, name := range []string{"microsoft-edge", "microsoft-edge-stable", "microsoft-edge-beta", "msedge"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	commonPaths := []string{
		"/opt/microsoft/msedge/msedge",
		"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		"C:\\Program Files (x86)\\Microsoft\\Edge\\Application\\msedge.exe",
		"C:\\Program Files\\Microsoft\\Edge\\Application\\msedge.exe",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// resolveBin 返回本地启动使用的浏览器路径，空串表示交给 rod 自动查找 Chrome
func resolveBin(opts LaunchOptions) (string, error) {
	if opts.Kind != models.BrowserEdge {
		return opts.BinPath, nil
	}
	if opts.BinPath == "" {
		bin, ok := lookEdge()
		if !ok {
			return "", ErrEdgeNotFound
		}
		return bin, nil
	}
	return opts.BinPath, nil
}

// Launch 启动本地浏览器或连接远程浏览器
// track 在浏览器进程启动后立即被调用，保证后续失败时进程也能被清理
func Launch(ctx context.Context, opts LaunchOptions, track func(pid int)) (*Session, error) {
	if !opts.Kind.IsChromium() {
		return nil, fmt.Errorf("%w: %s", remote.ErrUnsupportedBrowser, opts.Kind)
	}

	var (
		controlURL string
		l          *launcher.Launcher
	)

	if opts.Kind.IsRemote() {
		if opts.RemoteHost == "" {
			return nil, remote.ErrMissingRemoteHost
		}
		logger.Info(ctx, "Using remote Chrome browser: %s", opts.RemoteHost)
		u, err := launcher.ResolveURL(opts.RemoteHost)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve remote host %s: %w", opts.RemoteHost, err)
		}
		controlURL = u
	} else {
		headless := opts.Headless || isHeadlessEnvironment()
		logger.Info(ctx, "Starting local %s browser, headless: %v", opts.Kind, headless)

		l = launcher.New().
			Headless(headless).
			Devtools(false).
			Leakless(false)

		for _, arg := range opts.LaunchArgs {
			arg = strings.TrimPrefix(arg, "--")
			if strings.Contains(arg, "=") {
				parts := strings.SplitN(arg, "=", 2)
				l = l.Set(flags.Flag(parts[0]), parts[1])
			} else {
				l = l.Set(flags.Flag(arg))
			}
		}

		bin, err := resolveBin(opts)
		if err != nil {
			return nil, err
		}
		if opts.Kind == models.BrowserEdge && !strings.Contains(strings.ToLower(filepath.Base(bin)), "edge") {
			logger.Warn(ctx, "Browser is edge but bin_path does not look like Edge: %s", bin)
		}
		if bin != "" {
			l = l.Bin(bin)
			logger.Info(ctx, "Using browser path: %s", bin)
		}
		if opts.UserDataDir != "" {
			if err := os.MkdirAll(opts.UserDataDir, 0o755); err != nil {
				logger.Warn(ctx, "Failed to create user data directory: %v", err)
			} else {
				l = l.UserDataDir(opts.UserDataDir)
			}
		}

		u, err := l.Launch()
		if pid := l.PID(); pid > 0 && track != nil {
			track(pid)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		controlURL = u
	}

	logger.Info(ctx, "Browser control URL: %s", controlURL)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	if version, err := b.Version(); err != nil {
		logger.Warn(ctx, "Failed to get browser version: %v", err)
	} else {
		logger.Info(ctx, "Browser product: %s", version.Product)
	}

	s := newSession(b, l, opts)
	if err := s.openInitialPage(ctx); err != nil {
		_ = s.Quit()
		return nil, err
	}
	return s, nil
}

func (s *Session) openInitialPage(ctx context.Context) error {
	pages, err := s.browser.Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages[0]
	} else if s.useStealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	s.handles = nil
	if _, err := s.WindowHandles(); err != nil {
		logger.Warn(ctx, "Failed to list window handles: %v", err)
	}
	s.attach(page)
	return nil
}

// isHeadlessEnvironment 判断当前环境是否没有图形界面
func isHeadlessEnvironment() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return false
	}
	return os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
}
