/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 13:00:00
 * @FilePath: \go-swarm\cluster\recent.go
 * @Description: 控制消息去重集合 - bloom 快路径 + 带时限的 LRU
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package cluster

import (
	"hash/fnv"
	"time"

	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// recentSet 近期消息去重集合。bloom 位图给出快速否定，
// 精确判定走带时间戳的映射；容量满时淘汰最旧条目。
type recentSet struct {
	mu       syncx.Locker
	entries  map[string]time.Time
	order    []string // 插入顺序环
	head     int
	capacity int
	ttl      time.Duration

	bloom     []uint64
	bloomBits uint64
}

func newRecentSet(capacity int, ttl time.Duration) *recentSet {
	// 位数约为容量的 16 倍，两个哈希下误判率足够低
	bits := uint64(capacity * 16)
	return &recentSet{
		mu:        syncx.NewLock(),
		entries:   make(map[string]time.Time, capacity),
		order:     make([]string, capacity),
		capacity:  capacity,
		ttl:       ttl,
		bloom:     make([]uint64, (bits+63)/64),
		bloomBits: bits,
	}
}

// bloomHashes 双哈希派生两个位置
func (r *recentSet) bloomHashes(key string) (uint64, uint64) {
	h := fnv.New64a()
	h.Write([]byte(key))
	h1 := h.Sum64()
	h2 := h1>>33 | h1<<31
	return h1 % r.bloomBits, h2 % r.bloomBits
}

func (r *recentSet) bloomSet(key string) {
	a, b := r.bloomHashes(key)
	r.bloom[a/64] |= 1 << (a % 64)
	r.bloom[b/64] |= 1 << (b % 64)
}

func (r *recentSet) bloomMaybe(key string) bool {
	a, b := r.bloomHashes(key)
	return r.bloom[a/64]&(1<<(a%64)) != 0 && r.bloom[b/64]&(1<<(b%64)) != 0
}

// Seen 判定并登记：已见过（且未过期）返回 true，否则记录并返回 false
func (r *recentSet) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bloomMaybe(key) {
		if at, ok := r.entries[key]; ok && time.Since(at) < r.ttl {
			return true
		}
	}

	// 淘汰被覆盖位置上的旧条目
	if old := r.order[r.head]; old != "" {
		delete(r.entries, old)
	}
	r.order[r.head] = key
	r.head = (r.head + 1) % r.capacity

	r.entries[key] = time.Now()
	r.bloomSet(key)
	return false
}

// Len 当前条目数
func (r *recentSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
