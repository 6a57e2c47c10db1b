/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 21:45:00
 * @FilePath: \go-swarm\node\node.go
 * @Description: 对等节点 - 传输、成员、调度、聚合的装配与生命周期
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kamalyes/go-swarm/cluster"
	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/scenario"
	"github.com/kamalyes/go-swarm/storage"
	"github.com/kamalyes/go-swarm/transport"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-swarm/web"
	"github.com/kamalyes/go-toolbox/pkg/netx"
	"github.com/kamalyes/go-toolbox/pkg/osx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
	"github.com/kamalyes/go-toolbox/pkg/units"
)

// Node 对称的集群节点：每个节点都运行完整技术栈。
type Node struct {
	identity  string
	cfg       *config.NodeConfig
	log       logger.ILogger
	startedAt time.Time

	col     *metrics.Collector
	tm      *transport.Manager
	reg     *cluster.Registry
	pinger  *cluster.Pinger
	gossip  *cluster.Gossip
	runner  *journey.Runner
	scman   *scenario.Manager
	agg     *metrics.Aggregator
	sink    storage.Interface
	webSrv  *web.Server
	monitor *ResourceMonitor

	cancel  context.CancelFunc
	running *syncx.Bool
}

// New 装配节点。scenarios 为场景注册表（通常是 scenario.DefaultRegistry）。
func New(cfg *config.NodeConfig, scenarios *scenario.Registry, log logger.ILogger) (*Node, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	identity := types.NewIdentity()

	host, err := resolveHost(cfg.Host)
	if err != nil {
		return nil, err
	}
	listenAddr := fmt.Sprintf("%s:%d", host, cfg.Port)

	col := metrics.NewCollectorWithCapacity(cfg.EventBufferCapacity)

	sink, err := storage.NewStorage(cfg.StorageMode, cfg.StoragePath, identity, log)
	if err != nil {
		return nil, err
	}

	n := &Node{
		identity:  identity,
		cfg:       cfg,
		log:       log,
		startedAt: time.Now(),
		col:       col,
		sink:      sink,
		running:   syncx.NewBool(false),
	}

	n.tm = transport.NewManager(identity, listenAddr, cfg, col, log)
	n.reg = cluster.NewRegistry(identity, host, cfg.Port, osx.SafeGetHostName(), cfg, log)
	n.gossip = cluster.NewGossip(identity, n.reg, n.tm, cfg, col, log)
	n.pinger = cluster.NewPinger(n.reg, n.tm, cfg, log)
	n.runner = journey.NewRunner(cfg.MaxInFlightJourneys, col, sink, identity, log)
	n.scman = scenario.NewManager(identity, scenarios, n.runner, n.gossip, n.reg.AliveCount, col, cfg, log)
	n.agg = metrics.NewAggregator(col, identity, n.gossip, cfg.SnapshotTimeout, log)
	n.monitor = NewResourceMonitor(n.reg, 5*time.Second, log)

	// 控制消息施效
	n.gossip.HandleControlKind(types.ControlScenarioStart, n.scman.HandleScenarioStart)
	n.gossip.HandleControlKind(types.ControlScenarioStop, n.scman.HandleScenarioStop)
	n.gossip.HandleControlKind(types.ControlSnapshotPing, n.handleSnapshotPing)

	// 传输事件装配
	n.tm.OnFrame = n.routeFrame
	n.tm.OnPeerUp = func(hello transport.HelloPayload) {
		peerHost, peerPort := splitAddr(hello.ListenAddr)
		n.reg.NoteSeen(hello.Identity, peerHost, peerPort)
		n.reg.MarkAlive(hello.Identity)
	}
	n.tm.OnPeerDown = func(peerID string, err error) {
		n.reg.MarkSuspect(peerID)
		if rec, ok := n.reg.Get(peerID); ok {
			n.tm.EnsureSession(peerID, rec.Addr())
		}
	}
	n.tm.OnHandshakeReject = func(identity, reason string) {
		n.reg.Quarantine(identity)
	}

	if cfg.WebPort > 0 {
		n.webSrv = web.NewServer(n, cfg.WebPort, log)
	}

	return n, nil
}

// Identity 节点标识
func (n *Node) Identity() string {
	return n.identity
}

// Registry 节点注册表（测试与仪表盘使用）
func (n *Node) Registry() *cluster.Registry {
	return n.reg
}

// ScenarioManager 场景管理器
func (n *Node) ScenarioManager() *scenario.Manager {
	return n.scman
}

// Collector 指标注册表
func (n *Node) Collector() *metrics.Collector {
	return n.col
}

// Start 启动节点全部子系统
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CAS(false, true) {
		return fmt.Errorf("node is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.tm.Start(); err != nil {
		return err
	}

	// 引导：主动连上 -b 指定的节点
	for _, addr := range n.cfg.BootstrapNodes {
		target := normalizeBootstrapAddr(addr)
		if target == "" {
			continue
		}
		if _, err := n.tm.Connect(target); err != nil {
			n.log.WarnKV("Bootstrap connect failed", "addr", target, "error", err)
		}
	}

	n.pinger.Start(ctx)
	n.gossip.Run(ctx)
	n.monitor.Start(ctx)

	if n.cfg.OutputStats {
		n.startStatsLoop(ctx)
	}

	if n.webSrv != nil {
		if err := n.webSrv.Start(); err != nil {
			return err
		}
	}

	if n.cfg.ScenarioSpec != "" {
		if _, err := n.scman.StartByName(n.cfg.ScenarioSpec); err != nil {
			return fmt.Errorf("start scenario %q: %w", n.cfg.ScenarioSpec, err)
		}
	}

	n.log.InfoKV("Node started",
		"identity", types.ShortIdentity(n.identity),
		"addr", n.tm.ListenAddr(),
		"bootstrap", len(n.cfg.BootstrapNodes))
	return nil
}

// startStatsLoop 周期统计行（-s）
func (n *Node) startStatsLoop(ctx context.Context) {
	tasks := syncx.NewPeriodicTaskManager()
	task := syncx.NewPeriodicTask("stats-line", time.Second, func(taskCtx context.Context) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		n.log.Infof("%s:%d Node Count:%d Index:%d Journeys Spawned:%d InFlight:%d Mem:%s",
			types.ShortIdentity(n.identity),
			n.cfg.Port,
			n.reg.AliveCount(),
			n.reg.SelfIndex(),
			n.col.CounterTotal(metrics.MetricJourneyExecutionsTotal),
			n.runner.InFlight(),
			units.FormatBytes(float64(ms.Alloc)))
		return nil
	})
	tasks.AddTask(task)
	tasks.StartWithContext(ctx)
}

// routeFrame 入站帧分发
func (n *Node) routeFrame(peerID string, f transport.Frame) {
	switch f.Kind {
	case types.FramePing:
		n.pinger.HandlePing(peerID, f)
	case types.FramePong:
		n.pinger.HandlePong(peerID, f)
	case types.FrameGossip:
		n.gossip.HandleGossip(peerID, f)
	case types.FrameControl:
		n.gossip.HandleControl(peerID, f)
	case types.FrameSnapshotReq:
		n.handleSnapshotReq(peerID, f)
	case types.FrameSnapshotResp:
		n.handleSnapshotResp(peerID, f)
	case types.FrameBye:
		n.handleBye(peerID, f)
	default:
		n.log.DebugKV("Unexpected frame", "kind", f.Kind, "peer", types.ShortIdentity(peerID))
	}
}

// handleSnapshotPing SnapshotPing 控制消息：把本地快照直送请求方
func (n *Node) handleSnapshotPing(body json.RawMessage) {
	var ping metrics.SnapshotPingBody
	if err := json.Unmarshal(body, &ping); err != nil {
		n.log.WarnKV("Malformed snapshot ping", "error", err)
		return
	}
	if ping.Requester == n.identity {
		return
	}

	frame, err := transport.NewFrame(types.FrameSnapshotResp, metrics.SnapshotRespPayload{
		RequestID: ping.RequestID,
		Snapshot:  n.col.Snapshot(n.identity),
	})
	if err != nil {
		return
	}

	// 必要时为响应临时建立会话
	if !n.tm.HasSession(ping.Requester) && ping.RequesterAddr != "" {
		if _, err := n.tm.Connect(ping.RequesterAddr); err != nil {
			n.log.DebugKV("Snapshot response connect failed", "addr", ping.RequesterAddr, "error", err)
			return
		}
	}
	if err := n.tm.Send(ping.Requester, frame); err != nil {
		n.log.DebugKV("Snapshot response send failed",
			"peer", types.ShortIdentity(ping.Requester), "error", err)
	}
}

// handleSnapshotReq 点对点快照请求：同会话回送本地快照
func (n *Node) handleSnapshotReq(peerID string, f transport.Frame) {
	var req metrics.SnapshotReqPayload
	if err := f.Decode(&req); err != nil {
		n.log.WarnKV("Malformed snapshot request", "error", err)
		return
	}
	frame, err := transport.NewFrame(types.FrameSnapshotResp, metrics.SnapshotRespPayload{
		RequestID: req.RequestID,
		Snapshot:  n.col.Snapshot(n.identity),
	})
	if err != nil {
		return
	}
	if err := n.tm.Send(peerID, frame); err != nil {
		n.log.DebugKV("Snapshot response send failed", "peer", types.ShortIdentity(peerID), "error", err)
	}
}

// handleSnapshotResp 路由聚合响应
func (n *Node) handleSnapshotResp(peerID string, f transport.Frame) {
	var resp metrics.SnapshotRespPayload
	if err := f.Decode(&resp); err != nil {
		n.log.WarnKV("Malformed snapshot response", "peer", types.ShortIdentity(peerID), "error", err)
		return
	}
	n.agg.Deliver(resp.RequestID, resp.Snapshot)
}

// handleBye 对端优雅下线
func (n *Node) handleBye(peerID string, f transport.Frame) {
	n.log.InfoKV("Peer said bye", "peer", types.ShortIdentity(peerID))
	n.reg.Remove(peerID)
}

// Shutdown 优雅关停：排空场景、通知对端、按需写出快照
func (n *Node) Shutdown() error {
	if !n.running.CAS(true, false) {
		return nil
	}
	n.log.Info("Shutting down node...")

	n.scman.StopAll()

	if n.cfg.MetricsSnapshotPath != "" {
		if err := n.writeSnapshotFile(); err != nil {
			n.log.WarnKV("Metrics snapshot write failed", "error", err)
		}
	}

	if n.webSrv != nil {
		n.webSrv.Stop()
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.tm.Close()

	if err := n.sink.Close(); err != nil {
		n.log.WarnKV("Detail storage close failed", "error", err)
	}

	n.log.Info("Node shutdown complete.")
	return nil
}

// writeSnapshotFile 把本地快照写到 --metrics-snapshot 指定路径
func (n *Node) writeSnapshotFile() error {
	snap := n.col.Snapshot(n.identity)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(n.cfg.MetricsSnapshotPath, data, 0644); err != nil {
		return err
	}
	n.log.InfoKV("Metrics snapshot written", "path", n.cfg.MetricsSnapshotPath)
	return nil
}

// ===== web.NodeView 实现 =====

// Cluster get_cluster()
func (n *Node) Cluster() web.ClusterView {
	return web.ClusterView{
		Self:       n.reg.Self(),
		Peers:      n.reg.AllPeers(),
		AliveCount: n.reg.AliveCount(),
		SelfIndex:  n.reg.SelfIndex(),
	}
}

// LocalSnapshot get_metrics(local)
func (n *Node) LocalSnapshot() *metrics.Snapshot {
	return n.col.Snapshot(n.identity)
}

// ClusterSnapshot get_metrics(cluster)
func (n *Node) ClusterSnapshot(ctx context.Context) (*metrics.ClusterSnapshot, error) {
	var expected []string
	for _, p := range n.reg.AlivePeers() {
		expected = append(expected, p.Identity)
	}
	return n.agg.Cluster(ctx, n.tm.ListenAddr(), expected)
}

// StartScenario start_scenario(descriptor)
func (n *Node) StartScenario(name string) (string, error) {
	return n.scman.StartByName(name)
}

// StopScenario stop_scenario(id)
func (n *Node) StopScenario(id string) {
	n.scman.Stop(id, true)
}

// Scenarios list_scenarios()
func (n *Node) Scenarios() []scenario.Status {
	return n.scman.List()
}

// Details 请求明细分页查询
func (n *Node) Details(offset, limit int, filter storage.StatusFilter, scenarioID, journeyName string) ([]*types.OutcomeRecord, int, error) {
	records, err := n.sink.Query(offset, limit, filter, scenarioID, journeyName)
	if err != nil {
		return nil, 0, err
	}
	total, err := n.sink.Count(filter, scenarioID, journeyName)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Exporter Prometheus 导出器
func (n *Node) Exporter() *metrics.Exporter {
	return metrics.NewExporter(n.col, n.identity)
}

// ===== 地址处理 =====

// resolveHost 解析监听模式
func resolveHost(mode string) (string, error) {
	switch types.BindMode(mode) {
	case types.BindModePublic:
		ip, err := netx.GetPrivateIP()
		if err != nil {
			return "127.0.0.1", nil
		}
		return ip, nil
	case types.BindModeLocal:
		return "127.0.0.1", nil
	default:
		if mode == "" {
			return "", fmt.Errorf("empty bind host")
		}
		return mode, nil
	}
}

// normalizeBootstrapAddr 容忍 tcp:// 前缀的引导地址
func normalizeBootstrapAddr(addr string) string {
	const prefix = "tcp://"
	if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
		return addr[len(prefix):]
	}
	return addr
}

// splitAddr 拆分 host:port
func splitAddr(addr string) (string, int) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host := addr[:i]
			port := 0
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return host, port
		}
	}
	return addr, 0
}
