/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 19:40:00
 * @FilePath: \go-swarm\scenario\manager.go
 * @Description: 场景管理器 - 幂等启动、gossip 广播、排空停止
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// ScenarioStartBody ScenarioStart 控制消息负载。
// journey 可执行体不过网：按注册名在各节点本地解析。
type ScenarioStartBody struct {
	ScenarioID    string `json:"scenario_id"`
	Name          string `json:"name"`
	StartDelayMs  int64  `json:"start_delay_ms"`
	StartedAtUnix int64  `json:"started_at_unix_ms"`
}

// ScenarioStopBody ScenarioStop 控制消息负载
type ScenarioStopBody struct {
	ScenarioID string `json:"scenario_id"`
}

// Status 场景状态视图
type Status struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	StartedAt time.Time       `json:"started_at"`
	Journeys  []JourneyStatus `json:"journeys"`
	Stopping  bool            `json:"stopping"`
}

// JourneyStatus 单条 journey 的状态视图
type JourneyStatus struct {
	Name      string           `json:"name"`
	State     types.PacerState `json:"state"`
	TargetRPS float64          `json:"target_rps"`
}

// activeScenario 运行中的场景
type activeScenario struct {
	scenario  *Scenario
	startedAt time.Time
	pacers    []*Pacer
	pools     []datapool.Pool
	cancel    context.CancelFunc
	stopping  *syncx.Bool
}

// Manager 场景管理器。本地 CLI 与 gossip ScenarioStart 都经此进入；
// scenario_id 幂等：重复启动静默接受。
type Manager struct {
	identity string
	registry *Registry
	runner   *journey.Runner
	bc       metrics.Broadcaster
	alive    func() int
	col      *metrics.Collector
	cfg      *config.NodeConfig
	log      logger.ILogger

	scenarios  *syncx.Map[string, *activeScenario]
	count      *syncx.Int32
	tombstones *syncx.Map[string, time.Time] // scenario_id -> stop 到达时间
}

// NewManager 创建场景管理器
func NewManager(identity string, registry *Registry, runner *journey.Runner, bc metrics.Broadcaster, alive func() int, col *metrics.Collector, cfg *config.NodeConfig, log logger.ILogger) *Manager {
	return &Manager{
		identity:   identity,
		registry:   registry,
		runner:     runner,
		bc:         bc,
		alive:      alive,
		col:        col,
		cfg:        cfg,
		log:        log,
		scenarios:  syncx.NewMap[string, *activeScenario](),
		count:      syncx.NewInt32(0),
		tombstones: syncx.NewMap[string, time.Time](),
	}
}

// StartByName 本地发起：按注册名解析场景并启动，返回 scenario_id
func (m *Manager) StartByName(name string) (string, error) {
	sc, err := m.registry.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := m.Start(sc, time.Now(), true); err != nil {
		return "", err
	}
	return sc.ID, nil
}

// Start 启动场景。localOrigin 为真时向集群广播 ScenarioStart。
// 同 id 重复启动幂等接受（不报错）。
func (m *Manager) Start(sc *Scenario, startedAt time.Time, localOrigin bool) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if sc.ID == "" {
		sc.ID = NewScenarioID()
	}

	// stop 先于 start 到达：墓碑窗口内的 start 直接吞掉
	if stopAt, ok := m.tombstones.Load(sc.ID); ok {
		m.tombstones.Delete(sc.ID)
		if time.Since(stopAt) < m.cfg.TombstoneWindow {
			m.log.WarnKV("Scenario start suppressed by buffered stop", "scenario_id", types.ShortIdentity(sc.ID))
			return nil
		}
	}

	if _, exists := m.scenarios.Load(sc.ID); exists {
		m.log.DebugKV("Duplicate scenario start ignored", "scenario_id", types.ShortIdentity(sc.ID))
		return nil
	}
	if int(m.count.Load()) >= m.cfg.MaxScenarios {
		return fmt.Errorf("scenario limit reached (%d)", m.cfg.MaxScenarios)
	}
	if len(sc.Journeys) > m.cfg.MaxPacersPerScenario {
		return fmt.Errorf("scenario %s exceeds pacer limit: %d > %d",
			sc.Name, len(sc.Journeys), m.cfg.MaxPacersPerScenario)
	}

	active := &activeScenario{
		scenario:  sc,
		startedAt: startedAt,
		stopping:  syncx.NewBool(false),
	}

	// 每条 journey 一个数据池、一个 pacer
	runCtx, cancel := context.WithCancel(context.Background())
	active.cancel = cancel

	// 场景级请求超时覆盖节点默认值
	nodeCfg := m.cfg
	if sc.RequestTimeout > 0 {
		scCfg := *m.cfg
		scCfg.RequestTimeout = sc.RequestTimeout
		nodeCfg = &scCfg
	}

	for i := range sc.Journeys {
		desc := sc.Journeys[i]

		var pool datapool.Pool
		if desc.Datapool != nil {
			built, err := desc.Datapool.Build(m.cfg.DatapoolChannelCapacity)
			if err != nil {
				cancel()
				m.closePools(active)
				return fmt.Errorf("build datapool for %s: %w", desc.Journey.Name(), err)
			}
			pool = built
			active.pools = append(active.pools, built)
		}

		pacer := NewPacer(PacerConfig{
			Descriptor:   desc,
			Pool:         pool,
			Runner:       m.runner,
			AliveCount:   m.alive,
			Collector:    m.col,
			NodeConfig:   nodeCfg,
			ScenarioID:   sc.ID,
			ScenarioName: sc.Name,
			NodeIdentity: m.identity,
			StartedAt:    startedAt,
			StartDelay:   sc.StartDelay,
			Logger:       m.log,
		})
		active.pacers = append(active.pacers, pacer)
	}

	if _, loaded := m.scenarios.LoadOrStore(sc.ID, active); loaded {
		cancel()
		m.closePools(active)
		return nil
	}
	m.count.Add(1)

	if localOrigin {
		if err := m.bc.Broadcast(types.ControlScenarioStart, ScenarioStartBody{
			ScenarioID:    sc.ID,
			Name:          sc.Name,
			StartDelayMs:  sc.StartDelay.Milliseconds(),
			StartedAtUnix: startedAt.UnixMilli(),
		}); err != nil {
			m.log.WarnKV("Scenario start broadcast failed", "error", err)
		}
	}

	m.log.InfoKV("Scenario started",
		"scenario_id", types.ShortIdentity(sc.ID),
		"name", sc.Name,
		"journeys", len(sc.Journeys),
		"local_origin", localOrigin)

	// 各 pacer 按登记顺序错峰启动节拍，多 pacer 争抢 runner 余量时
	// 形成稳定的轮转次序
	for i, pacer := range active.pacers {
		offset := time.Duration(i) * time.Millisecond
		p := pacer
		syncx.Go().
			OnPanic(func(r interface{}) {
				m.log.ErrorKV("Pacer panicked", "scenario", sc.Name, "panic", r)
			}).
			Exec(func() {
				if offset > 0 {
					time.Sleep(offset)
				}
				p.Run(runCtx)
			})
	}

	// 全部 pacer STOPPED 后场景自停
	syncx.Go().OnPanic(func(r interface{}) {}).Exec(func() {
		for _, p := range active.pacers {
			p.Wait()
		}
		m.finish(sc.ID)
	})

	return nil
}

// Stop 停止场景：全部 pacer 进入排空。
// 未知 id 记入墓碑，等待窗口内可能到达的 start。
func (m *Manager) Stop(scenarioID string, localOrigin bool) {
	if localOrigin {
		if err := m.bc.Broadcast(types.ControlScenarioStop, ScenarioStopBody{ScenarioID: scenarioID}); err != nil {
			m.log.WarnKV("Scenario stop broadcast failed", "error", err)
		}
	}

	active, ok := m.scenarios.Load(scenarioID)
	if !ok {
		m.tombstones.Store(scenarioID, time.Now())
		m.log.DebugKV("Stop for unknown scenario buffered", "scenario_id", types.ShortIdentity(scenarioID))
		return
	}

	if !active.stopping.CAS(false, true) {
		return
	}
	m.log.InfoKV("Scenario stopping", "scenario_id", types.ShortIdentity(scenarioID))
	for _, p := range active.pacers {
		p.Stop()
	}
}

// finish 场景收尾：关闭数据池并摘除登记
func (m *Manager) finish(scenarioID string) {
	active, ok := m.scenarios.Load(scenarioID)
	if !ok {
		return
	}
	m.scenarios.Delete(scenarioID)
	m.count.Add(-1)
	active.cancel()
	m.closePools(active)
	m.log.InfoKV("Scenario finished", "scenario_id", types.ShortIdentity(scenarioID))
}

func (m *Manager) closePools(active *activeScenario) {
	for _, pool := range active.pools {
		if err := pool.Close(); err != nil {
			m.log.WarnKV("Datapool close failed", "error", err)
		}
	}
}

// HandleScenarioStart gossip ScenarioStart 施效
func (m *Manager) HandleScenarioStart(body json.RawMessage) {
	var msg ScenarioStartBody
	if err := json.Unmarshal(body, &msg); err != nil {
		m.log.WarnKV("Malformed scenario start", "error", err)
		return
	}

	sc, err := m.registry.Resolve(msg.Name)
	if err != nil {
		m.log.WarnKV("Gossiped scenario not registered locally", "name", msg.Name)
		return
	}
	sc.ID = msg.ScenarioID
	sc.StartDelay = time.Duration(msg.StartDelayMs) * time.Millisecond

	startedAt := time.UnixMilli(msg.StartedAtUnix)
	if err := m.Start(sc, startedAt, false); err != nil {
		m.log.WarnKV("Gossiped scenario start failed", "name", msg.Name, "error", err)
	}
}

// HandleScenarioStop gossip ScenarioStop 施效
func (m *Manager) HandleScenarioStop(body json.RawMessage) {
	var msg ScenarioStopBody
	if err := json.Unmarshal(body, &msg); err != nil {
		m.log.WarnKV("Malformed scenario stop", "error", err)
		return
	}
	m.Stop(msg.ScenarioID, false)
}

// List 列出活动场景状态
func (m *Manager) List() []Status {
	var out []Status
	m.scenarios.Range(func(id string, active *activeScenario) bool {
		st := Status{
			ID:        id,
			Name:      active.scenario.Name,
			StartedAt: active.startedAt,
			Stopping:  active.stopping.Load(),
		}
		for _, p := range active.pacers {
			st.Journeys = append(st.Journeys, JourneyStatus{
				Name:      p.JourneyName(),
				State:     p.State(),
				TargetRPS: p.desc.Volume.TargetRPS,
			})
		}
		out = append(out, st)
		return true
	})
	return out
}

// Count 活动场景数
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// StopAll 停止全部场景并等待收尾（优雅关停路径）
func (m *Manager) StopAll() {
	var actives []*activeScenario
	m.scenarios.Range(func(id string, active *activeScenario) bool {
		actives = append(actives, active)
		m.Stop(id, false)
		return true
	})
	for _, active := range actives {
		for _, p := range active.pacers {
			p.Wait()
		}
	}
}
