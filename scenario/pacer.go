/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 19:00:00
 * @FilePath: \go-swarm\scenario\pacer.go
 * @Description: Volume Pacer - 基于 credit 累加器的节拍调度
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// Pacer 每条 journey 一个调度器。每个节拍把本节点份额的瞬时速率
// 积分进 credit 累加器，credit 每满 1 启动一次 journey。
// 启动因 runner 饱和失败时不退还 credit（该请求视为丢失）。
type Pacer struct {
	desc JourneyDescriptor
	pool datapool.Pool

	runner     *journey.Runner
	aliveCount func() int
	col        *metrics.Collector
	cfg        *config.NodeConfig
	log        logger.ILogger

	scenarioID   string
	scenarioName string
	nodeIdentity string
	startedAt    time.Time
	startDelay   time.Duration

	state   types.PacerState
	stateMu *syncx.RWLock
	sm      *syncx.StateMachine[types.PacerState]

	credit float64

	group      *syncGroup
	journeyCtx context.Context
	cancelRuns context.CancelFunc

	stopCh   chan struct{}
	stopOnce *syncx.Bool
	doneCh   chan struct{}
}

// PacerConfig Pacer 装配参数
type PacerConfig struct {
	Descriptor   JourneyDescriptor
	Pool         datapool.Pool
	Runner       *journey.Runner
	AliveCount   func() int
	Collector    *metrics.Collector
	NodeConfig   *config.NodeConfig
	ScenarioID   string
	ScenarioName string
	NodeIdentity string
	StartedAt    time.Time
	StartDelay   time.Duration
	Logger       logger.ILogger
}

// NewPacer 创建调度器
func NewPacer(cfg PacerConfig) *Pacer {
	sm := syncx.NewStateMachine(types.PacerStateScheduled, syncx.WithTrackHistory[types.PacerState](16))
	sm.AllowTransition(types.PacerStateScheduled, types.PacerStateRunning)
	sm.AllowTransition(types.PacerStateScheduled, types.PacerStateDraining)
	sm.AllowTransition(types.PacerStateRunning, types.PacerStateDraining)
	sm.AllowTransition(types.PacerStateDraining, types.PacerStateStopped)

	journeyCtx, cancel := context.WithCancel(context.Background())

	return &Pacer{
		desc:         cfg.Descriptor,
		pool:         cfg.Pool,
		runner:       cfg.Runner,
		aliveCount:   cfg.AliveCount,
		col:          cfg.Collector,
		cfg:          cfg.NodeConfig,
		log:          cfg.Logger,
		scenarioID:   cfg.ScenarioID,
		scenarioName: cfg.ScenarioName,
		nodeIdentity: cfg.NodeIdentity,
		startedAt:    cfg.StartedAt,
		startDelay:   cfg.StartDelay,
		state:        types.PacerStateScheduled,
		stateMu:      syncx.NewRWLock(),
		sm:           sm,
		group:        newSyncGroup(),
		journeyCtx:   journeyCtx,
		cancelRuns:   cancel,
		stopCh:       make(chan struct{}),
		stopOnce:     syncx.NewBool(false),
		doneCh:       make(chan struct{}),
	}
}

// JourneyName 调度的 journey 名
func (p *Pacer) JourneyName() string {
	return p.desc.Journey.Name()
}

// State 当前状态
func (p *Pacer) State() types.PacerState {
	return syncx.WithRLockReturnValue(p.stateMu, func() types.PacerState {
		return p.state
	})
}

// transitionTo 经状态机校验后的状态迁移
func (p *Pacer) transitionTo(next types.PacerState) bool {
	return syncx.WithLockReturnValue(p.stateMu, func() bool {
		if err := p.sm.TransitionTo(next); err != nil {
			return false
		}
		p.state = next
		return true
	})
}

// Run 节拍循环。阻塞直到 STOPPED。
func (p *Pacer) Run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.stopCh:
			p.drain()
			return
		case <-ticker.C:
			if p.tick() {
				p.drain()
				return
			}
		}
	}
}

// tick 处理一个节拍；返回 true 表示进入排空
func (p *Pacer) tick() bool {
	effective := time.Since(p.startedAt) - p.startDelay
	if effective < 0 {
		return false
	}

	if p.State() == types.PacerStateScheduled {
		p.transitionTo(types.PacerStateRunning)
		p.log.InfoKV("Pacer running",
			"scenario", p.scenarioName,
			"journey", p.JourneyName(),
			"target_rps", p.desc.Volume.TargetRPS)
	}

	if p.desc.Volume.Done(effective) {
		return true
	}

	// alive 集合变化在下一节拍生效；credit 不重置
	rate := p.desc.Volume.RateAt(effective, p.aliveCount())
	p.credit += rate * p.cfg.TickPeriod.Seconds()

	for p.credit >= 1 {
		p.credit--
		p.launch()
	}
	return false
}

// launch 启动一次 journey。饱和丢弃由 runner 记账。
func (p *Pacer) launch() {
	jctx := &journey.Context{
		Ctx:            p.journeyCtx,
		ScenarioID:     p.scenarioID,
		ScenarioName:   p.scenarioName,
		JourneyName:    p.JourneyName(),
		NodeIdentity:   p.nodeIdentity,
		Metrics:        p.col,
		RequestTimeout: p.cfg.RequestTimeout,
	}
	p.runner.TryRun(jctx, p.desc.Journey, p.pool, p.group.wg())
}

// drain 排空：不再发起新 journey，等待在途完成，超时强制取消
func (p *Pacer) drain() {
	if !p.transitionTo(types.PacerStateDraining) {
		// SCHEDULED/RUNNING 之外的状态不可再排空
		if p.State() == types.PacerStateStopped {
			return
		}
	}
	p.log.InfoKV("Pacer draining",
		"scenario", p.scenarioName,
		"journey", p.JourneyName(),
		"in_flight", p.runner.InFlight())

	if !p.group.waitTimeout(p.cfg.DrainTimeout) {
		p.log.WarnKV("Drain timeout, cancelling in-flight journeys",
			"scenario", p.scenarioName,
			"journey", p.JourneyName())
		p.cancelRuns()
		p.group.waitTimeout(time.Second)
	}
	p.cancelRuns()

	p.transitionTo(types.PacerStateStopped)
	p.log.InfoKV("Pacer stopped",
		"scenario", p.scenarioName,
		"journey", p.JourneyName())
}

// Stop 请求进入排空（幂等）
func (p *Pacer) Stop() {
	if p.stopOnce.CAS(false, true) {
		close(p.stopCh)
	}
}

// Wait 阻塞直到 STOPPED
func (p *Pacer) Wait() {
	<-p.doneCh
}

// Done 返回完成通知通道
func (p *Pacer) Done() <-chan struct{} {
	return p.doneCh
}

// syncGroup 支持超时等待的 WaitGroup 包装
type syncGroup struct {
	inner sync.WaitGroup
}

func newSyncGroup() *syncGroup {
	return &syncGroup{}
}

func (g *syncGroup) wg() *sync.WaitGroup {
	return &g.inner
}

// waitTimeout 在 timeout 内等待全部完成；超时返回 false
func (g *syncGroup) waitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.inner.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
