/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 12:40:00
 * @FilePath: \go-swarm\cluster\liveness.go
 * @Description: 存活检测 - 周期 PING / PONG 超时降级
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package cluster

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/transport"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// Pinger 存活检测器。每 ping_interval 对 alive 节点发 PING；
// ping_timeout 内未收到 PONG 则降级 SUSPECT，连续三次成功恢复。
type Pinger struct {
	reg *Registry
	tm  *transport.Manager
	cfg *config.NodeConfig
	log logger.ILogger

	nonce   uint64
	pending *syncx.Map[string, time.Time] // identity -> 本轮 PING 发出时间
	tasks   *syncx.PeriodicTaskManager
}

// NewPinger 创建存活检测器
func NewPinger(reg *Registry, tm *transport.Manager, cfg *config.NodeConfig, log logger.ILogger) *Pinger {
	return &Pinger{
		reg:     reg,
		tm:      tm,
		cfg:     cfg,
		log:     log,
		pending: syncx.NewMap[string, time.Time](),
		tasks:   syncx.NewPeriodicTaskManager(),
	}
}

// Start 启动周期检测
func (p *Pinger) Start(ctx context.Context) {
	task := syncx.NewPeriodicTask("liveness-ping", p.cfg.PingInterval, func(taskCtx context.Context) error {
		p.tick()
		return nil
	}).SetOnError(func(name string, err error) {
		p.log.WarnKV("Liveness tick error", "error", err)
	})

	p.tasks.AddTask(task)
	p.tasks.StartWithContext(ctx)
}

// tick 一轮检测：结算上一轮超时、清扫 SUSPECT、发出新 PING
func (p *Pinger) tick() {
	now := time.Now()

	// 上一轮未应答且超时的节点降级
	p.pending.Range(func(identity string, sentAt time.Time) bool {
		if now.Sub(sentAt) > p.cfg.PingTimeout {
			p.pending.Delete(identity)
			p.reg.MarkSuspect(identity)
		}
		return true
	})

	// SUSPECT 超过 suspect_to_dead 判死
	p.reg.SweepSuspects()

	// 对 alive 节点与 SUSPECT 节点发新一轮 PING（SUSPECT 需要探测恢复）
	for _, peer := range p.reg.AllPeers() {
		if peer.State != types.PeerStateAlive && peer.State != types.PeerStateSuspect {
			continue
		}
		if !p.tm.HasSession(peer.Identity) {
			p.tm.EnsureSession(peer.Identity, peer.Addr())
			continue
		}

		frame, err := transport.NewFrame(types.FramePing, transport.PingPayload{
			Nonce:    atomic.AddUint64(&p.nonce, 1),
			SentUnix: now.Unix(),
		})
		if err != nil {
			continue
		}
		if err := p.tm.Send(peer.Identity, frame); err != nil {
			p.reg.MarkSuspect(peer.Identity)
			continue
		}
		p.pending.Store(peer.Identity, now)
	}
}

// HandlePing 响应对端 PING：原样回 PONG
func (p *Pinger) HandlePing(peerID string, f transport.Frame) {
	pong := transport.Frame{Kind: types.FramePong, Payload: f.Payload}
	if err := p.tm.Send(peerID, pong); err != nil {
		p.log.DebugKV("Pong send failed", "peer", types.ShortIdentity(peerID), "error", err)
	}
}

// HandlePong 对端应答：清除待结算项并记一次成功
func (p *Pinger) HandlePong(peerID string, f transport.Frame) {
	p.pending.Delete(peerID)
	p.reg.NotePong(peerID)
}
