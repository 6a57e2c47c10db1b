/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-04 21:10:00
 * @FilePath: \go-swarm\config\config.go
 * @Description: 节点配置与默认值
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package config

import (
	"fmt"
	"time"

	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
)

// NodeConfig 节点配置
type NodeConfig struct {
	// 基础参数
	Host           string   // 监听模式: "public" / "local" / 具体IP
	Port           int      // 监听端口
	BootstrapNodes []string // 引导节点地址列表 (host:port)
	ScenarioSpec   string   // 启动时注册的场景名 (-j)
	OutputStats    bool     // 周期性打印统计行 (-s)
	WebPort        int      // 仪表盘端口 (0 表示关闭)

	// 退出时快照
	MetricsSnapshotPath string // 优雅退出时写出本地快照的文件路径

	// 明细存储
	StorageMode types.StorageMode // memory / sqlite
	StoragePath string            // sqlite 文件路径

	// 存活检测
	PingInterval  time.Duration // 心跳间隔
	PingTimeout   time.Duration // PONG 超时
	SuspectToDead time.Duration // SUSPECT -> DEAD 时间
	Quarantine    time.Duration // 握手失败隔离时间

	// Gossip
	GossipInterval  time.Duration // 成员交换间隔（带 [0.5x,1.5x] 抖动）
	Fanout          int           // 每轮随机选取的目标数
	FreshnessWindow time.Duration // last_seen 合并的新鲜度窗口
	TombstoneWindow time.Duration // stop 先于 start 到达时的缓冲窗口
	RecentSetSize   int           // 控制消息去重集合容量
	RecentSetTTL    time.Duration // 控制消息去重保留时间

	// 传输
	QueueHighWatermark int           // 会话收发队列容量
	ControlSendTimeout time.Duration // CONTROL 帧阻塞发送上限
	ReconnectBaseDelay time.Duration // 重连退避基准
	ReconnectMaxDelay  time.Duration // 重连退避上限
	MaxFrameSize       int           // 单帧最大字节数

	// 调度
	TickPeriod     time.Duration // Pacer 心跳周期
	DrainTimeout   time.Duration // 排空阶段等待在途 journey 的上限
	RequestTimeout time.Duration // journey 内单次 HTTP 请求超时

	// 聚合
	SnapshotTimeout time.Duration // 集群快照聚合截止时间

	// 资源上限
	MaxPeers                int
	MaxScenarios            int
	MaxPacersPerScenario    int
	MaxInFlightJourneys     int
	EventBufferCapacity     int
	DatapoolChannelCapacity int
}

// DefaultNodeConfig 创建默认配置
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Host: string(types.BindModePublic),
		Port: 42042,

		StorageMode: types.StorageModeMemory,

		PingInterval:  5 * time.Second,
		PingTimeout:   2 * time.Second,
		SuspectToDead: 30 * time.Second,
		Quarantine:    5 * time.Minute,

		GossipInterval:  3 * time.Second,
		Fanout:          3,
		FreshnessWindow: 30 * time.Second,
		TombstoneWindow: 5 * time.Second,
		RecentSetSize:   4096,
		RecentSetTTL:    2 * time.Minute,

		QueueHighWatermark: 256,
		ControlSendTimeout: 3 * time.Second,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  30 * time.Second,
		MaxFrameSize:       10 * 1024 * 1024,

		TickPeriod:     100 * time.Millisecond,
		DrainTimeout:   10 * time.Second,
		RequestTimeout: 30 * time.Second,

		SnapshotTimeout: 2 * time.Second,

		MaxPeers:                1024,
		MaxScenarios:            16,
		MaxPacersPerScenario:    64,
		MaxInFlightJourneys:     1024,
		EventBufferCapacity:     4096,
		DatapoolChannelCapacity: 1024,
	}
}

// Normalize 填补零值字段为默认值
func (c *NodeConfig) Normalize() {
	def := DefaultNodeConfig()

	c.Host = mathx.IfEmpty(c.Host, def.Host)
	c.Port = mathx.IfNotZero(c.Port, def.Port)
	c.StorageMode = types.StorageMode(mathx.IfEmpty(string(c.StorageMode), string(def.StorageMode)))

	c.PingInterval = mathx.IfNotZero(c.PingInterval, def.PingInterval)
	c.PingTimeout = mathx.IfNotZero(c.PingTimeout, def.PingTimeout)
	c.SuspectToDead = mathx.IfNotZero(c.SuspectToDead, def.SuspectToDead)
	c.Quarantine = mathx.IfNotZero(c.Quarantine, def.Quarantine)

	c.GossipInterval = mathx.IfNotZero(c.GossipInterval, def.GossipInterval)
	c.Fanout = mathx.IfNotZero(c.Fanout, def.Fanout)
	c.FreshnessWindow = mathx.IfNotZero(c.FreshnessWindow, def.FreshnessWindow)
	c.TombstoneWindow = mathx.IfNotZero(c.TombstoneWindow, def.TombstoneWindow)
	c.RecentSetSize = mathx.IfNotZero(c.RecentSetSize, def.RecentSetSize)
	c.RecentSetTTL = mathx.IfNotZero(c.RecentSetTTL, def.RecentSetTTL)

	c.QueueHighWatermark = mathx.IfNotZero(c.QueueHighWatermark, def.QueueHighWatermark)
	c.ControlSendTimeout = mathx.IfNotZero(c.ControlSendTimeout, def.ControlSendTimeout)
	c.ReconnectBaseDelay = mathx.IfNotZero(c.ReconnectBaseDelay, def.ReconnectBaseDelay)
	c.ReconnectMaxDelay = mathx.IfNotZero(c.ReconnectMaxDelay, def.ReconnectMaxDelay)
	c.MaxFrameSize = mathx.IfNotZero(c.MaxFrameSize, def.MaxFrameSize)

	c.TickPeriod = mathx.IfNotZero(c.TickPeriod, def.TickPeriod)
	c.DrainTimeout = mathx.IfNotZero(c.DrainTimeout, def.DrainTimeout)
	c.RequestTimeout = mathx.IfNotZero(c.RequestTimeout, def.RequestTimeout)

	c.SnapshotTimeout = mathx.IfNotZero(c.SnapshotTimeout, def.SnapshotTimeout)

	c.MaxPeers = mathx.IfNotZero(c.MaxPeers, def.MaxPeers)
	c.MaxScenarios = mathx.IfNotZero(c.MaxScenarios, def.MaxScenarios)
	c.MaxPacersPerScenario = mathx.IfNotZero(c.MaxPacersPerScenario, def.MaxPacersPerScenario)
	c.MaxInFlightJourneys = mathx.IfNotZero(c.MaxInFlightJourneys, def.MaxInFlightJourneys)
	c.EventBufferCapacity = mathx.IfNotZero(c.EventBufferCapacity, def.EventBufferCapacity)
	c.DatapoolChannelCapacity = mathx.IfNotZero(c.DatapoolChannelCapacity, def.DatapoolChannelCapacity)
}

// Validate 校验配置合法性
func (c *NodeConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Fanout <= 0 {
		return fmt.Errorf("fanout must be positive, got %d", c.Fanout)
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick period must be positive, got %v", c.TickPeriod)
	}
	if c.StorageMode != types.StorageModeMemory && c.StorageMode != types.StorageModeSQLite {
		return fmt.Errorf("unknown storage mode: %s", c.StorageMode)
	}
	return nil
}
