/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 13:30:00
 * @FilePath: \go-swarm\cluster\gossip.go
 * @Description: Gossip - 成员交换与控制消息受限洪泛
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/transport"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/random"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// GossipEntry 成员交换条目
type GossipEntry struct {
	Identity     string `json:"identity"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	LastSeenUnix int64  `json:"last_seen"`
}

// GossipPayload GOSSIP 帧负载：发送方的 alive 集合视图
type GossipPayload struct {
	From    string        `json:"from"`
	Entries []GossipEntry `json:"entries"`
}

// ControlEnvelope CONTROL 帧负载。MsgID 为 (origin, seq)，
// hops 逐跳递减到 0 为止。
type ControlEnvelope struct {
	MsgID  string            `json:"msg_id"`
	Origin string            `json:"origin"`
	Seq    uint64            `json:"seq"`
	Hops   int               `json:"hops_remaining"`
	Kind   types.ControlKind `json:"kind"`
	Body   json.RawMessage   `json:"payload"`
}

// ControlHandler 控制消息处理器
type ControlHandler func(body json.RawMessage)

// Gossip 成员交换 + 控制消息扇出
type Gossip struct {
	identity string
	reg      *Registry
	tm       *transport.Manager
	cfg      *config.NodeConfig
	col      *metrics.Collector
	log      logger.ILogger

	seq      uint64
	recent   *recentSet
	handlers *syncx.Map[types.ControlKind, ControlHandler]
}

// NewGossip 创建 gossip 组件
func NewGossip(identity string, reg *Registry, tm *transport.Manager, cfg *config.NodeConfig, col *metrics.Collector, log logger.ILogger) *Gossip {
	return &Gossip{
		identity: identity,
		reg:      reg,
		tm:       tm,
		cfg:      cfg,
		col:      col,
		log:      log,
		recent:   newRecentSet(cfg.RecentSetSize, cfg.RecentSetTTL),
		handlers: syncx.NewMap[types.ControlKind, ControlHandler](),
	}
}

// HandleControlKind 注册控制消息处理器
func (g *Gossip) HandleControlKind(kind types.ControlKind, h ControlHandler) {
	g.handlers.Store(kind, h)
}

// Run 周期性成员交换循环（间隔带 [0.5x,1.5x] 全抖动）
func (g *Gossip) Run(ctx context.Context) {
	syncx.Go().
		OnPanic(func(r interface{}) {
			g.log.ErrorKV("Gossip loop panicked", "panic", r)
		}).
		Exec(func() {
			for {
				jitter := time.Duration(random.RandInt(50, 150)) * g.cfg.GossipInterval / 100
				select {
				case <-ctx.Done():
					return
				case <-time.After(jitter):
				}
				g.exchange()
			}
		})
}

// exchange 一轮成员交换：把本地 alive 集合发给 fanout 个随机节点
func (g *Gossip) exchange() {
	alive := g.reg.AliveSnapshot()
	entries := make([]GossipEntry, 0, len(alive))
	for _, p := range alive {
		entries = append(entries, GossipEntry{
			Identity:     p.Identity,
			Host:         p.Host,
			Port:         p.Port,
			LastSeenUnix: p.LastSeen.Unix(),
		})
	}

	frame, err := transport.NewFrame(types.FrameGossip, GossipPayload{
		From:    g.identity,
		Entries: entries,
	})
	if err != nil {
		return
	}

	for _, peer := range g.pickTargets(g.cfg.Fanout) {
		if !g.tm.HasSession(peer.Identity) {
			g.tm.EnsureSession(peer.Identity, peer.Addr())
			continue
		}
		if err := g.tm.Send(peer.Identity, frame); err != nil {
			g.log.DebugKV("Gossip send failed", "peer", types.ShortIdentity(peer.Identity), "error", err)
		}
	}
}

// pickTargets 随机选取至多 n 个 alive 对端
func (g *Gossip) pickTargets(n int) []*PeerRecord {
	peers := g.reg.AlivePeers()
	if len(peers) <= n {
		return peers
	}
	// 部分 Fisher-Yates
	for i := 0; i < n; i++ {
		j := random.RandInt(i, len(peers)-1)
		peers[i], peers[j] = peers[j], peers[i]
	}
	return peers[:n]
}

// HandleGossip 合并对端 alive 集合。未知节点发起被动连接；
// 已知节点仅在发送方于新鲜度窗口内观测过时合并 last_seen，状态从不回退。
func (g *Gossip) HandleGossip(peerID string, f transport.Frame) {
	var payload GossipPayload
	if err := f.Decode(&payload); err != nil {
		g.col.Inc(metrics.MetricGossipMalformedTotal, nil, 1)
		g.log.WarnKV("Malformed gossip frame", "peer", types.ShortIdentity(peerID), "error", err)
		return
	}

	// 发送方本身是活的
	g.reg.NoteSeen(peerID, "", 0)

	now := time.Now()
	for _, entry := range payload.Entries {
		if entry.Identity == g.identity {
			continue
		}
		seen := time.Unix(entry.LastSeenUnix, 0)

		if _, known := g.reg.Get(entry.Identity); !known {
			g.reg.NoteSeenAt(entry.Identity, entry.Host, entry.Port, seen)
			g.tm.EnsureSession(entry.Identity, fmt.Sprintf("%s:%d", entry.Host, entry.Port))
			continue
		}

		if now.Sub(seen) <= g.cfg.FreshnessWindow {
			g.reg.NoteSeenAt(entry.Identity, entry.Host, entry.Port, seen)
		}
	}
}

// Broadcast 以本节点为源发出控制消息
func (g *Gossip) Broadcast(kind types.ControlKind, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode control body: %w", err)
	}

	seq := atomic.AddUint64(&g.seq, 1)
	env := ControlEnvelope{
		MsgID:  fmt.Sprintf("%s:%d", g.identity, seq),
		Origin: g.identity,
		Seq:    seq,
		Hops:   g.hopLimit(),
		Kind:   kind,
		Body:   data,
	}

	// 源端登记，消息回流时不重复施效
	g.recent.Seen(env.MsgID)
	g.forward(env)
	return nil
}

// HandleControl 控制消息接收：去重、施效、按剩余跳数转发
func (g *Gossip) HandleControl(peerID string, f transport.Frame) {
	var env ControlEnvelope
	if err := f.Decode(&env); err != nil {
		g.col.Inc(metrics.MetricGossipMalformedTotal, nil, 1)
		g.log.WarnKV("Malformed control frame", "peer", types.ShortIdentity(peerID), "error", err)
		return
	}

	if g.recent.Seen(env.MsgID) {
		return
	}

	if h, ok := g.handlers.Load(env.Kind); ok {
		h(env.Body)
	} else {
		g.log.DebugKV("Unhandled control kind", "kind", env.Kind)
	}

	if env.Hops > 0 {
		env.Hops--
		g.forward(env)
	}
}

// forward 将信封发往 fanout 个随机对端
func (g *Gossip) forward(env ControlEnvelope) {
	frame, err := transport.NewFrame(types.FrameControl, env)
	if err != nil {
		return
	}
	for _, peer := range g.pickTargets(g.cfg.Fanout) {
		if !g.tm.HasSession(peer.Identity) {
			g.tm.EnsureSession(peer.Identity, peer.Addr())
			continue
		}
		if err := g.tm.Send(peer.Identity, frame); err != nil {
			g.log.DebugKV("Control forward failed", "peer", types.ShortIdentity(peer.Identity), "error", err)
		}
	}
}

// hopLimit 初始跳数: ceil(log2(N_alive)) + 2
func (g *Gossip) hopLimit() int {
	n := g.reg.AliveCount()
	if n <= 1 {
		return 2
	}
	return int(math.Ceil(math.Log2(float64(n)))) + 2
}
