package config

import (
	"os"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Debug    bool                 `json:"debug" yaml:"debug" toml:"debug"`
	Server   *ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Database *DatabaseConfig      `json:"database" yaml:"database" toml:"database"`
	Driver   *DriverConfig        `json:"driver" yaml:"driver" toml:"driver"`
	Log      *logger.LoggerConfig `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty"`
}

type ServerConfig struct {
	Port    string `json:"port" toml:"port"`
	Host    string `json:"host" toml:"host"`
	MCPPort string `json:"mcp_port,omitempty" toml:"mcp_port,omitempty"` // 为空时不启动 MCP 服务
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

// DriverConfig 浏览器驱动配置
type DriverConfig struct {
	Browser                string   `json:"browser" toml:"browser"`                                     // chrome / edge / remotechrome / firefox / ie / safari
	TimeoutSeconds         int      `json:"timeout_seconds" toml:"timeout_seconds"`                     // 元素查找与等待的默认超时
	PageLoadTimeoutMinutes int      `json:"page_load_timeout_minutes" toml:"page_load_timeout_minutes"` // 页面加载超时
	RemoteHost             string   `json:"remote_host,omitempty" toml:"remote_host,omitempty"`         // remotechrome 使用的调试地址
	DefaultURL             string   `json:"default_url,omitempty" toml:"default_url,omitempty"`         // 启动后打开的页面
	Environment            string   `json:"environment,omitempty" toml:"environment,omitempty"`         // 运行环境标识，仅记录
	LoadingSpinner         string   `json:"loading_spinner,omitempty" toml:"loading_spinner,omitempty"` // 加载指示器 XPath
	ErrorContainer         string   `json:"error_container,omitempty" toml:"error_container,omitempty"` // 页面错误提示区域 XPath
	ScreenshotDir          string   `json:"screenshot_dir" toml:"screenshot_dir"`                       // 截图目录
	BinPath                string   `json:"bin_path,omitempty" toml:"bin_path,omitempty"`               // 浏览器可执行文件
	UserDataDir            string   `json:"user_data_dir,omitempty" toml:"user_data_dir,omitempty"`     // 用户数据目录
	Headless               bool     `json:"headless" toml:"headless"`                                   // 无头模式
	UseStealth             bool     `json:"use_stealth" toml:"use_stealth"`                             // 使用 stealth 创建页面
	LaunchArgs             []string `json:"launch_args,omitempty" toml:"launch_args,omitempty"`         // 额外启动参数，形如 "--flag=value"
	SavePageSnapshot       bool     `json:"save_page_snapshot" toml:"save_page_snapshot"`               // 截图时同时保存 markdown 快照
	PollIntervalMS         int      `json:"poll_interval_ms" toml:"poll_interval_ms"`                   // 轮询间隔
	PreserveAttributeCase  bool     `json:"preserve_attribute_case" toml:"preserve_attribute_case"`     // VerifyAttribute 不转小写属性名
}

// DefaultDriverConfig 返回驱动默认配置
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Browser:                "chrome",
		TimeoutSeconds:         5,
		PageLoadTimeoutMinutes: 60,
		ScreenshotDir:          "./",
		BinPath:                detectChromeBinPath(),
		UserDataDir:            "./chrome_user_data",
		Headless:               true,
		PollIntervalMS:         100,
	}
}

func detectChromeBinPath() string {
	if envPath := os.Getenv("CHROME_BIN_PATH"); envPath != "" {
		return envPath
	}
	// 常见的 Chrome/Chromium 安装路径
	commonPaths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome-stable",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
		"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Default 返回完整默认配置
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: &DatabaseConfig{
			Path: "./data/testingdriver.db",
		},
		Driver: DefaultDriverConfig(),
		Log: &logger.LoggerConfig{
			Level: "info",
			File:  "./log/testingdriver.log",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// 如果本地不存在 data 和 log 目录，则创建
		if _, statErr := os.Stat("./data"); os.IsNotExist(statErr) {
			os.Mkdir("./data", 0o755)
		}
		if _, statErr := os.Stat("./log"); os.IsNotExist(statErr) {
			os.Mkdir("./log", 0o755)
		}
		defConfig := Default()
		// 如果错误是文件不存在，则将defConfig写到本地的path位置
		if os.IsNotExist(err) {
			cfgData, err := toml.Marshal(defConfig)
			if err == nil {
				os.WriteFile(path, cfgData, 0o644)
			}
		}
		applyEnv(defConfig)
		return defConfig, nil
	}

	var cfg Config
	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	// 确保所有必需的配置项都有值
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{Port: "8080", Host: "0.0.0.0"}
	}
	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{Path: "./data/testingdriver.db"}
	}
	if cfg.Driver == nil {
		cfg.Driver = DefaultDriverConfig()
	}
	fillDriverDefaults(cfg.Driver)
	if cfg.Log == nil {
		cfg.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func fillDriverDefaults(d *DriverConfig) {
	def := DefaultDriverConfig()
	if d.Browser == "" {
		d.Browser = def.Browser
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = def.TimeoutSeconds
	}
	if d.PageLoadTimeoutMinutes <= 0 {
		d.PageLoadTimeoutMinutes = def.PageLoadTimeoutMinutes
	}
	if d.ScreenshotDir == "" {
		d.ScreenshotDir = def.ScreenshotDir
	}
	if d.BinPath == "" && usesChromeBin(d.Browser) {
		d.BinPath = def.BinPath
	}
	if d.PollIntervalMS <= 0 {
		d.PollIntervalMS = def.PollIntervalMS
	}
}

// usesChromeBin 只有本地 Chrome 使用探测到的 Chrome 路径，Edge 由启动器自行查找
func usesChromeBin(browser string) bool {
	kind, err := models.ParseBrowserKind(browser)
	return err == nil && kind == models.BrowserChrome
}

// 从环境变量覆盖
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if bin := os.Getenv("CHROME_BIN_PATH"); bin != "" && usesChromeBin(cfg.Driver.Browser) {
		cfg.Driver.BinPath = bin
	}
	if remote := os.Getenv("TESTINGDRIVER_REMOTE_HOST"); remote != "" {
		cfg.Driver.RemoteHost = remote
	}
}
