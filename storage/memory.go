/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 16:20:00
 * @FilePath: \go-swarm\storage\memory.go
 * @Description: 内存存储层 - 有界环形明细存储
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package storage

import (
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// defaultMemoryCapacity 内存模式默认保留的明细条数
const defaultMemoryCapacity = 100000

// MemoryStorage 内存存储。有界环：写满后淘汰最旧记录。
type MemoryStorage struct {
	records  []*types.OutcomeRecord
	next     int
	wrapped  bool
	capacity int

	mu     *syncx.RWLock
	nodeID string
	logger logger.ILogger
	closed bool

	totalCount   *syncx.Uint64
	successCount *syncx.Uint64
	failedCount  *syncx.Uint64
}

// NewMemoryStorage 创建内存存储
func NewMemoryStorage(nodeID string, log logger.ILogger) *MemoryStorage {
	log.Infof("💾 内存明细存储已启用 (节点: %s, 容量: %d)", types.ShortIdentity(nodeID), defaultMemoryCapacity)

	return &MemoryStorage{
		records:      make([]*types.OutcomeRecord, defaultMemoryCapacity),
		capacity:     defaultMemoryCapacity,
		mu:           syncx.NewRWLock(),
		nodeID:       nodeID,
		logger:       log,
		totalCount:   syncx.NewUint64(0),
		successCount: syncx.NewUint64(0),
		failedCount:  syncx.NewUint64(0),
	}
}

// Write 写入明细（实现 Interface）
func (m *MemoryStorage) Write(record *types.OutcomeRecord) {
	if record == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.records[m.next] = record
	m.next++
	if m.next == m.capacity {
		m.next = 0
		m.wrapped = true
	}

	m.totalCount.Add(1)
	if record.Success {
		m.successCount.Add(1)
	} else {
		m.failedCount.Add(1)
	}
}

// snapshotLocked 按时间倒序导出当前记录（持读锁调用）
func (m *MemoryStorage) snapshotLocked() []*types.OutcomeRecord {
	var out []*types.OutcomeRecord
	if m.wrapped {
		out = make([]*types.OutcomeRecord, 0, m.capacity)
		for i := m.next - 1; i >= 0; i-- {
			out = append(out, m.records[i])
		}
		for i := m.capacity - 1; i >= m.next; i-- {
			out = append(out, m.records[i])
		}
	} else {
		out = make([]*types.OutcomeRecord, 0, m.next)
		for i := m.next - 1; i >= 0; i-- {
			out = append(out, m.records[i])
		}
	}
	return out
}

// matches 过滤条件判定
func matches(r *types.OutcomeRecord, statusFilter StatusFilter, scenarioID, journey string) bool {
	if r == nil {
		return false
	}
	if scenarioID != "" && r.ScenarioID != scenarioID {
		return false
	}
	if journey != "" && r.Journey != journey {
		return false
	}
	switch statusFilter {
	case StatusFilterSuccess:
		return r.Success
	case StatusFilterFailed:
		return !r.Success
	default:
		return true
	}
}

// Query 分页查询（实现 Interface）
func (m *MemoryStorage) Query(offset, limit int, statusFilter StatusFilter, scenarioID, journey string) ([]*types.OutcomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.OutcomeRecord, 0, limit)
	skipped := 0
	for _, r := range m.snapshotLocked() {
		if !matches(r, statusFilter, scenarioID, journey) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count 统计总数（实现 Interface）
func (m *MemoryStorage) Count(statusFilter StatusFilter, scenarioID, journey string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.snapshotLocked() {
		if matches(r, statusFilter, scenarioID, journey) {
			count++
		}
	}
	return count, nil
}

// Close 关闭存储（实现 Interface）
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetNodeID 获取节点ID（实现 Interface）
func (m *MemoryStorage) GetNodeID() string {
	return m.nodeID
}
