/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 11:25:00
 * @FilePath: \go-swarm\metrics\aggregate.go
 * @Description: 集群快照聚合器 - SnapshotPing 扇出 + 截止时间内归并
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// SnapshotPingBody SnapshotPing 控制消息负载
type SnapshotPingBody struct {
	RequestID     string `json:"request_id"`
	Requester     string `json:"requester"`
	RequesterAddr string `json:"requester_addr"`
}

// SnapshotRespPayload SNAPSHOT_RESP 帧负载
type SnapshotRespPayload struct {
	RequestID string    `json:"request_id"`
	Snapshot  *Snapshot `json:"snapshot"`
}

// SnapshotReqPayload SNAPSHOT_REQ 帧负载（点对点直接索要快照）
type SnapshotReqPayload struct {
	RequestID string `json:"request_id"`
	Requester string `json:"requester"`
}

// Broadcaster 控制消息广播口（由 gossip 实现）
type Broadcaster interface {
	Broadcast(kind types.ControlKind, body interface{}) error
}

// ClusterSnapshot 集群聚合结果。截止时间到达后必定返回；
// 未响应节点记入 Missing 并置 Partial。
type ClusterSnapshot struct {
	*Snapshot
	Partial    bool     `json:"partial"`
	Missing    []string `json:"missing,omitempty"`
	Responders int      `json:"responders"`
}

// Aggregator 按需聚合集群快照
type Aggregator struct {
	collector *Collector
	identity  string
	bc        Broadcaster
	timeout   time.Duration
	log       logger.ILogger

	pending *syncx.Map[string, chan *Snapshot]
}

// NewAggregator 创建聚合器
func NewAggregator(collector *Collector, identity string, bc Broadcaster, timeout time.Duration, log logger.ILogger) *Aggregator {
	return &Aggregator{
		collector: collector,
		identity:  identity,
		bc:        bc,
		timeout:   timeout,
		log:       log,
		pending:   syncx.NewMap[string, chan *Snapshot](),
	}
}

// Cluster 发起一次集群快照聚合。expectedPeers 为发起时刻
// alive 集合中除本节点外的节点标识。
func (a *Aggregator) Cluster(ctx context.Context, requesterAddr string, expectedPeers []string) (*ClusterSnapshot, error) {
	u := uuid.New()
	requestID := hex.EncodeToString(u[:])

	ch := make(chan *Snapshot, len(expectedPeers)+8)
	a.pending.Store(requestID, ch)
	defer a.pending.Delete(requestID)

	if err := a.bc.Broadcast(types.ControlSnapshotPing, SnapshotPingBody{
		RequestID:     requestID,
		Requester:     a.identity,
		RequesterAddr: requesterAddr,
	}); err != nil {
		a.log.WarnKV("Snapshot ping broadcast failed", "error", err)
	}

	merged := a.collector.Snapshot(a.identity)
	seen := map[string]bool{a.identity: true}

	deadline := time.NewTimer(a.timeout)
	defer deadline.Stop()

collect:
	for !allSeen(seen, expectedPeers) {
		select {
		case snap := <-ch:
			if snap == nil || seen[snap.NodeIdentity] {
				continue
			}
			seen[snap.NodeIdentity] = true
			merged = Merge(merged, snap)
			if allSeen(seen, expectedPeers) {
				break collect
			}
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	var missing []string
	for _, id := range expectedPeers {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)

	result := &ClusterSnapshot{
		Snapshot:   merged,
		Partial:    len(missing) > 0,
		Missing:    missing,
		Responders: len(seen),
	}

	if result.Partial {
		a.log.WarnKV("Cluster snapshot is partial",
			"request_id", requestID,
			"responders", result.Responders,
			"missing", len(missing))
	}
	return result, nil
}

// Deliver 路由一条 SNAPSHOT_RESP 到等待中的聚合请求。
// 截止时间之后到达的响应被静默丢弃。
func (a *Aggregator) Deliver(requestID string, snap *Snapshot) {
	ch, ok := a.pending.Load(requestID)
	if !ok {
		return
	}
	select {
	case ch <- snap:
	default:
	}
}

// Local 返回本地快照
func (a *Aggregator) Local() *Snapshot {
	return a.collector.Snapshot(a.identity)
}

func allSeen(seen map[string]bool, expected []string) bool {
	for _, id := range expected {
		if !seen[id] {
			return false
		}
	}
	return true
}
