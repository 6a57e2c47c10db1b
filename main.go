/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 22:20:00
 * @FilePath: \go-swarm\main.go
 * @Description: 分布式负载生成集群主入口
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/node"
	"github.com/kamalyes/go-swarm/scenario"
	"github.com/kamalyes/go-swarm/transport"
	"github.com/kamalyes/go-swarm/types"
)

// 退出码约定
const (
	exitOK     = 0
	exitConfig = 1
	exitBind   = 2
	exitSignal = 130
)

var (
	// 集群参数
	bootstraps arrayFlags
	bindMode   types.BindMode
	port       int

	// 场景参数
	scenarioSpec string
	outputStats  bool

	// 输出
	logLevel            string
	logFile             string
	quiet               bool
	verbose             bool
	metricsSnapshotPath string
	webPort             int

	// 明细存储
	storageMode types.StorageMode
	storagePath string
)

// arrayFlags 可重复 flag（每项允许逗号分隔多个地址）
type arrayFlags []string

func (a *arrayFlags) String() string {
	return fmt.Sprintf("%v", *a)
}

func (a *arrayFlags) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*a = append(*a, part)
		}
	}
	return nil
}

func init() {
	bindMode = types.BindModePublic
	storageMode = types.StorageModeMemory

	flag.Var(&bootstraps, "b", "引导节点地址，逗号分隔，可多次使用 (如: tcp://10.0.0.1:42042)")
	flag.Var(&bindMode, "H", "监听模式 (public/local/具体IP)")
	flag.IntVar(&port, "p", 42042, "监听端口")
	flag.StringVar(&scenarioSpec, "j", "", "启动时运行的场景名")
	flag.BoolVar(&outputStats, "s", false, "周期性打印统计行")

	flag.StringVar(&logLevel, "log-level", "info", "日志级别 (debug/info/warn/error)")
	flag.StringVar(&logFile, "log-file", "", "日志文件路径")
	flag.BoolVar(&quiet, "quiet", false, "静默模式（仅错误）")
	flag.BoolVar(&verbose, "verbose", false, "详细模式（包含调试信息）")

	flag.StringVar(&metricsSnapshotPath, "metrics-snapshot", "", "退出时写出本地指标快照的路径")
	flag.IntVar(&webPort, "web-port", 0, "仪表盘端口 (0 表示关闭)")

	flag.Var(&storageMode, "storage", "明细存储模式 (memory:内存 | sqlite:持久化)")
	flag.StringVar(&storagePath, "storage-path", "", "SQLite 明细存储文件路径")
}

func main() {
	flag.Parse()
	initLogger()
	printBanner()

	registerScenarios()

	cfg := config.DefaultNodeConfig()
	cfg.Host = bindMode.String()
	cfg.Port = port
	cfg.BootstrapNodes = bootstraps
	cfg.ScenarioSpec = scenarioSpec
	cfg.OutputStats = outputStats
	cfg.MetricsSnapshotPath = metricsSnapshotPath
	cfg.WebPort = webPort
	cfg.StorageMode = storageMode
	cfg.StoragePath = storagePath

	n, err := node.New(cfg, scenario.DefaultRegistry, logger.Default)
	if err != nil {
		logger.Default.Errorf("❌ 节点初始化失败: %v", err)
		os.Exit(exitConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		logger.Default.Errorf("❌ 节点启动失败: %v", err)
		n.Shutdown()
		if errors.Is(err, transport.ErrBind) {
			os.Exit(exitBind)
		}
		os.Exit(exitConfig)
	}

	// 等待终止信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Default.Warnf("⚠️  收到信号 %v，正在优雅退出...", sig)

	cancel()
	if err := n.Shutdown(); err != nil {
		logger.Default.Errorf("❌ 关停失败: %v", err)
		os.Exit(exitConfig)
	}

	if sig == os.Interrupt || sig == syscall.SIGTERM {
		os.Exit(exitSignal)
	}
	os.Exit(exitOK)
}

// initLogger 初始化日志器
func initLogger() {
	cfg := logger.DefaultConfig()

	// 优先级：verbose > quiet > logLevel
	switch {
	case verbose:
		cfg = cfg.WithLevel(logger.DEBUG).WithShowCaller(true).WithTimeFormat("2006-01-02 15:04:05.000")
	case quiet:
		cfg = cfg.WithLevel(logger.ERROR)
	default:
		cfg = cfg.WithLevel(logger.ParseLogLevel(logLevel))
	}

	if logFile != "" {
		rotateWriter := logger.NewRotateWriter(logFile, 100*1024*1024, 5)
		cfg = cfg.WithOutput(rotateWriter).WithColorful(false)
	}

	logger.SetDefault(logger.New(cfg))
}

// printBanner 打印启动banner
func printBanner() {
	logger.Default.Info(`
╔══════════════════════════════════════════════════════════╗
║                                                          ║
║     🐝 Go Swarm - 分布式负载生成集群 🐝                   ║
║                                                          ║
║     🌐 对等 gossip 成员管理                               ║
║     📈 集群级速率调度与指标聚合                           ║
║     ⚙️  基于 go-toolbox 工具库                           ║
║                                                          ║
╚══════════════════════════════════════════════════════════╝
`)
}
