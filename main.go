package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/browserwing/testingdriver/api"
	"github.com/browserwing/testingdriver/config"
	"github.com/browserwing/testingdriver/mcp"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/driver"
	"github.com/browserwing/testingdriver/storage"
)

// 构建信息变量，通过Makefile的LDFLAGS注入
var (
	Version   = "v0.1.0"
	BuildTime = ""
	GoVersion = ""
)

func main() {
	// 命令行参数
	port := flag.String("port", "", "Server port (default: 8080)")
	host := flag.String("host", "", "Server host (default: 0.0.0.0)")
	configPath := flag.String("config", "config.toml", "Path to config file (default: config.toml)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	// 加载配置（环境变量已在 Load 中生效）
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	logger.InitLogger(cfg.Log)
	ctx := context.Background()

	// 优先级: 命令行参数 > 环境变量 > 配置文件
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	logger.Info(ctx, "Database initialized: %s", cfg.Database.Path)

	opts, err := driver.OptionsFromConfig(cfg.Driver)
	if err != nil {
		log.Fatalf("Invalid driver config: %v", err)
	}
	drivers := driver.NewManager(func() (*driver.Driver, error) {
		return driver.New(opts, driver.WithStore(db))
	})
	logger.Info(ctx, "Driver manager initialized (browser: %s, headless: %v)", opts.Browser, opts.Headless)

	mcpServer := mcp.NewMCPServer(drivers, Version)
	if cfg.Server.MCPPort != "" {
		mcpServer.StartStreamableHTTPServer(net.JoinHostPort(cfg.Server.Host, cfg.Server.MCPPort))
	}

	handler := api.NewHandler(db, drivers, cfg)
	router := api.SetupRouter(handler, mcpServer.Handler(), cfg.Debug)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	done := setupGracefulShutdown(srv, drivers, db, mcpServer)

	logger.Info(ctx, "TestingDriver server started at http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "Failed to start server: %v", err)
		drivers.Stop(ctx)
		db.Close()
		os.Exit(1)
	}
	<-done
}

// setupGracefulShutdown 设置优雅退出：关闭服务、结束浏览器会话并清理驱动进程
func setupGracefulShutdown(srv *http.Server, drivers *driver.Manager, db *storage.BoltDB, mcpServer *mcp.MCPServer) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	// 监听 SIGINT (Ctrl+C) 和 SIGTERM
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(done)
		sig := <-sigChan
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "Received exit signal: %v, exiting gracefully", sig)

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Failed to shutdown HTTP server: %v", err)
		}
		mcpServer.Stop(ctx)

		// Quit 总会清理驱动进程树
		drivers.Stop(ctx)
		logger.Info(ctx, "Browser session closed")

		if err := db.Close(); err != nil {
			logger.Error(ctx, "Failed to close database: %v", err)
		} else {
			logger.Info(ctx, "Database closed")
		}
	}()
	return done
}
