/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 12:10:00
 * @FilePath: \go-swarm\cluster\registry.go
 * @Description: 节点注册表 - 身份、地址、存活状态
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package cluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// PeerRecord 节点记录。每个标识恰好一条；last_seen 单调不减。
type PeerRecord struct {
	Identity  string               `json:"identity"`
	Host      string               `json:"host"`
	Port      int                  `json:"port"`
	Hostname  string               `json:"hostname,omitempty"`
	FirstSeen time.Time            `json:"first_seen"`
	LastSeen  time.Time            `json:"last_seen"`
	State     types.PeerState      `json:"state"`
	Resources *types.ResourceUsage `json:"resources,omitempty"`

	suspectAt     time.Time // 进入 SUSPECT 的时刻
	quarantinedAt time.Time // 进入隔离的时刻（握手失败）
	pongStreak    int       // 连续 PONG 成功次数
}

// Addr 返回节点监听地址
func (p *PeerRecord) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// clone 导出用浅拷贝（内部簿记字段不外漏）
func (p *PeerRecord) clone() *PeerRecord {
	cp := *p
	return &cp
}

// Registry 节点注册表。self 永远在 alive 集合中。
type Registry struct {
	self  *PeerRecord
	peers map[string]*PeerRecord
	mu    *syncx.RWLock
	cfg   *config.NodeConfig
	log   logger.ILogger
}

// NewRegistry 创建注册表
func NewRegistry(identity, host string, port int, hostname string, cfg *config.NodeConfig, log logger.ILogger) *Registry {
	now := time.Now()
	return &Registry{
		self: &PeerRecord{
			Identity:  identity,
			Host:      host,
			Port:      port,
			Hostname:  hostname,
			FirstSeen: now,
			LastSeen:  now,
			State:     types.PeerStateAlive,
		},
		peers: make(map[string]*PeerRecord),
		mu:    syncx.NewRWLock(),
		cfg:   cfg,
		log:   log,
	}
}

// Self 返回自身记录副本
func (r *Registry) Self() *PeerRecord {
	return syncx.WithRLockReturnValue(r.mu, func() *PeerRecord {
		return r.self.clone()
	})
}

// SetSelfResources 更新自身资源使用情况
func (r *Registry) SetSelfResources(usage *types.ResourceUsage) {
	syncx.WithLock(r.mu, func() {
		r.self.Resources = usage
	})
}

// NoteSeen 记录一次对节点的直接观测：插入或更新、刷新 last_seen，
// 并在未处于 DEAD 隔离期时提升为 ALIVE。
func (r *Registry) NoteSeen(identity, host string, port int) {
	r.NoteSeenAt(identity, host, port, time.Now())
	r.MarkAlive(identity)
}

// NoteSeenAt 以给定观测时间记录节点。用于 gossip 合并：
// last_seen 只取较大值，状态从不回退。
func (r *Registry) NoteSeenAt(identity, host string, port int, seen time.Time) {
	if identity == "" || identity == r.self.Identity {
		return
	}

	syncx.WithLock(r.mu, func() {
		p, exists := r.peers[identity]
		if !exists {
			if len(r.peers) >= r.cfg.MaxPeers {
				r.log.WarnKV("Peer table full, ignoring new peer",
					"peer", types.ShortIdentity(identity), "max", r.cfg.MaxPeers)
				return
			}
			now := time.Now()
			p = &PeerRecord{
				Identity:  identity,
				Host:      host,
				Port:      port,
				FirstSeen: now,
				LastSeen:  seen,
				State:     types.PeerStateConnecting,
			}
			r.peers[identity] = p
			r.log.DebugKV("Peer discovered",
				"peer", types.ShortIdentity(identity), "addr", p.Addr())
			return
		}

		if host != "" {
			p.Host = host
			p.Port = port
		}
		if seen.After(p.LastSeen) {
			p.LastSeen = seen
		}
		if p.State == types.PeerStateDead {
			if time.Since(p.quarantinedAt) < r.cfg.Quarantine && !p.quarantinedAt.IsZero() {
				return
			}
			// 隔离期满后允许复活，但要求重新直接观测
		}
	})
}

// MarkAlive 将节点标记为 ALIVE（会话建立或连续心跳恢复后）
func (r *Registry) MarkAlive(identity string) {
	syncx.WithLock(r.mu, func() {
		p, ok := r.peers[identity]
		if !ok {
			return
		}
		if p.State == types.PeerStateDead && !p.quarantinedAt.IsZero() &&
			time.Since(p.quarantinedAt) < r.cfg.Quarantine {
			return
		}
		if p.State != types.PeerStateAlive {
			r.log.InfoKV("Peer alive", "peer", types.ShortIdentity(identity))
		}
		p.State = types.PeerStateAlive
		p.LastSeen = time.Now()
		p.suspectAt = time.Time{}
		p.pongStreak = 0
	})
}

// MarkSuspect 心跳丢失或传输故障后的降级
func (r *Registry) MarkSuspect(identity string) {
	syncx.WithLock(r.mu, func() {
		p, ok := r.peers[identity]
		if !ok || p.State == types.PeerStateDead {
			return
		}
		if p.State != types.PeerStateSuspect {
			p.State = types.PeerStateSuspect
			p.suspectAt = time.Now()
			p.pongStreak = 0
			r.log.WarnKV("Peer suspect", "peer", types.ShortIdentity(identity))
		}
	})
}

// MarkDead 超过 suspect_to_dead 未恢复后的终判。
// DEAD 节点保留记录但不再作为 gossip 目标。
func (r *Registry) MarkDead(identity string) {
	syncx.WithLock(r.mu, func() {
		p, ok := r.peers[identity]
		if !ok || p.State == types.PeerStateDead {
			return
		}
		p.State = types.PeerStateDead
		r.log.WarnKV("Peer dead", "peer", types.ShortIdentity(identity))
	})
}

// Quarantine 握手失败隔离：DEAD 且在 quarantine 窗口内拒绝复活
func (r *Registry) Quarantine(identity string) {
	syncx.WithLock(r.mu, func() {
		p, ok := r.peers[identity]
		if !ok {
			now := time.Now()
			p = &PeerRecord{
				Identity:  identity,
				FirstSeen: now,
				LastSeen:  now,
			}
			r.peers[identity] = p
		}
		p.State = types.PeerStateDead
		p.quarantinedAt = time.Now()
		r.log.WarnKV("Peer quarantined", "peer", types.ShortIdentity(identity))
	})
}

// NotePong 记录一次心跳成功；连续三次后恢复 ALIVE
func (r *Registry) NotePong(identity string) {
	syncx.WithLock(r.mu, func() {
		p, ok := r.peers[identity]
		if !ok || p.State == types.PeerStateDead {
			return
		}
		p.LastSeen = time.Now()
		if p.State == types.PeerStateAlive {
			return
		}
		p.pongStreak++
		if p.pongStreak >= 3 {
			p.State = types.PeerStateAlive
			p.suspectAt = time.Time{}
			p.pongStreak = 0
			r.log.InfoKV("Peer recovered", "peer", types.ShortIdentity(identity))
		}
	})
}

// SweepSuspects 将超时未恢复的 SUSPECT 节点判定为 DEAD，
// 返回本轮转为 DEAD 的标识。
func (r *Registry) SweepSuspects() []string {
	return syncx.WithLockReturnValue(r.mu, func() []string {
		var dead []string
		for id, p := range r.peers {
			if p.State == types.PeerStateSuspect && !p.suspectAt.IsZero() &&
				time.Since(p.suspectAt) >= r.cfg.SuspectToDead {
				p.State = types.PeerStateDead
				dead = append(dead, id)
				r.log.WarnKV("Peer suspect timeout, marking dead", "peer", types.ShortIdentity(id))
			}
		}
		return dead
	})
}

// Remove 删除节点记录（对端 BYE 优雅下线）
func (r *Registry) Remove(identity string) {
	syncx.WithLock(r.mu, func() {
		if _, ok := r.peers[identity]; ok {
			delete(r.peers, identity)
			r.log.InfoKV("Peer removed", "peer", types.ShortIdentity(identity))
		}
	})
}

// Get 查询节点记录副本
func (r *Registry) Get(identity string) (*PeerRecord, bool) {
	return syncx.WithRLockReturnWithE(r.mu, func() (*PeerRecord, bool) {
		if identity == r.self.Identity {
			return r.self.clone(), true
		}
		p, ok := r.peers[identity]
		if !ok {
			return nil, false
		}
		return p.clone(), true
	})
}

// AliveSnapshot 返回 alive 集合副本（含 self），按标识排序
func (r *Registry) AliveSnapshot() []*PeerRecord {
	return syncx.WithRLockReturnValue(r.mu, func() []*PeerRecord {
		out := make([]*PeerRecord, 0, len(r.peers)+1)
		out = append(out, r.self.clone())
		for _, p := range r.peers {
			if p.State == types.PeerStateAlive {
				out = append(out, p.clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].Identity < out[j].Identity
		})
		return out
	})
}

// AlivePeers 返回 alive 集合中除 self 外的节点
func (r *Registry) AlivePeers() []*PeerRecord {
	snapshot := r.AliveSnapshot()
	out := make([]*PeerRecord, 0, len(snapshot))
	for _, p := range snapshot {
		if p.Identity != r.self.Identity {
			out = append(out, p)
		}
	}
	return out
}

// AliveCount alive 集合大小（含 self）
func (r *Registry) AliveCount() int {
	return len(r.AliveSnapshot())
}

// SelfIndex self 在按标识排序的 alive 集合中的下标
func (r *Registry) SelfIndex() int {
	snapshot := r.AliveSnapshot()
	for i, p := range snapshot {
		if p.Identity == r.self.Identity {
			return i
		}
	}
	return 0
}

// AllPeers 返回全部已知节点记录副本（不含 self），按标识排序
func (r *Registry) AllPeers() []*PeerRecord {
	return syncx.WithRLockReturnValue(r.mu, func() []*PeerRecord {
		out := make([]*PeerRecord, 0, len(r.peers))
		for _, p := range r.peers {
			out = append(out, p.clone())
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].Identity < out[j].Identity
		})
		return out
	})
}
