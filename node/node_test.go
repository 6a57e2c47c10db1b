/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 05:50:00
 * @FilePath: \go-swarm\node\node_test.go
 * @Description: 节点端到端测试 - 双节点会合、集群快照、场景传播
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package node

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/scenario"
	"github.com/kamalyes/go-swarm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// newTestNode 构建 local 模式测试节点
func newTestNode(t *testing.T, registry *scenario.Registry, bootstrap ...string) *Node {
	t.Helper()
	cfg := config.DefaultNodeConfig()
	cfg.Host = string(types.BindModeLocal)
	cfg.Port = freePort(t)
	cfg.BootstrapNodes = bootstrap
	cfg.GossipInterval = 300 * time.Millisecond
	cfg.PingInterval = 500 * time.Millisecond
	cfg.TickPeriod = 20 * time.Millisecond
	cfg.DrainTimeout = 2 * time.Second

	n, err := New(cfg, registry, logger.New(nil))
	require.NoError(t, err)
	return n
}

// TestTwoNodeRendezvous 双节点会合：B 引导到 A 后双方 alive 集合均为 2
func TestTwoNodeRendezvous(t *testing.T) {
	registry := scenario.NewRegistry()

	a := newTestNode(t, registry)
	require.NoError(t, a.Start(context.Background()))
	defer a.Shutdown()

	b := newTestNode(t, registry, fmt.Sprintf("tcp://127.0.0.1:%d", a.cfg.Port))
	require.NoError(t, b.Start(context.Background()))
	defer b.Shutdown()

	require.Eventually(t, func() bool {
		return a.Registry().AliveCount() == 2 && b.Registry().AliveCount() == 2
	}, 10*time.Second, 50*time.Millisecond)

	// get_cluster() 双方互见且标识一致
	viewA := a.Cluster()
	viewB := b.Cluster()
	require.Len(t, viewA.Peers, 1)
	require.Len(t, viewB.Peers, 1)
	assert.Equal(t, b.Identity(), viewA.Peers[0].Identity)
	assert.Equal(t, a.Identity(), viewB.Peers[0].Identity)
}

// TestClusterSnapshotAggregation 集群快照聚合：计数等于双方之和
func TestClusterSnapshotAggregation(t *testing.T) {
	registry := scenario.NewRegistry()

	a := newTestNode(t, registry)
	require.NoError(t, a.Start(context.Background()))
	defer a.Shutdown()

	b := newTestNode(t, registry, fmt.Sprintf("127.0.0.1:%d", a.cfg.Port))
	require.NoError(t, b.Start(context.Background()))
	defer b.Shutdown()

	require.Eventually(t, func() bool {
		return a.Registry().AliveCount() == 2 && b.Registry().AliveCount() == 2
	}, 10*time.Second, 50*time.Millisecond)

	a.Collector().Inc("test_counter", nil, 7)
	b.Collector().Inc("test_counter", nil, 5)

	result, err := a.ClusterSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.Empty(t, result.Missing)
	assert.Equal(t, uint64(12), result.CounterValue("test_counter", nil))
}

// TestPartialSnapshotOnDeadline 缺员时聚合在截止时间内返回 partial
func TestPartialSnapshotOnDeadline(t *testing.T) {
	registry := scenario.NewRegistry()

	a := newTestNode(t, registry)
	require.NoError(t, a.Start(context.Background()))
	defer a.Shutdown()

	// 手工注入一个不存在的 alive 节点
	a.Registry().NoteSeen("ghost-peer", "127.0.0.1", freePort(t))

	started := time.Now()
	result, err := a.ClusterSnapshot(context.Background())
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, []string{"ghost-peer"}, result.Missing)
	assert.Less(t, elapsed, a.cfg.SnapshotTimeout+500*time.Millisecond)
}

// TestScenarioStartPropagates 场景启动经 gossip 传播到对端
func TestScenarioStartPropagates(t *testing.T) {
	var countA, countB int64
	registryA := scenario.NewRegistry()
	registryB := scenario.NewRegistry()

	register := func(r *scenario.Registry, counter *int64) {
		r.Register("test:spread", func() *scenario.Scenario {
			return &scenario.Scenario{
				Journeys: []scenario.JourneyDescriptor{
					{
						Journey: &journey.Func{
							JourneyName: "noop",
							Fn: func(ctx *journey.Context, row string) ([]types.Outcome, error) {
								atomic.AddInt64(counter, 1)
								return nil, nil
							},
						},
						Volume: scenario.VolumeModel{TargetRPS: 20, Duration: 2 * time.Second},
					},
				},
			}
		})
	}
	register(registryA, &countA)
	register(registryB, &countB)

	a := newTestNode(t, registryA)
	require.NoError(t, a.Start(context.Background()))
	defer a.Shutdown()

	b := newTestNode(t, registryB, fmt.Sprintf("127.0.0.1:%d", a.cfg.Port))
	require.NoError(t, b.Start(context.Background()))
	defer b.Shutdown()

	require.Eventually(t, func() bool {
		return a.Registry().AliveCount() == 2 && b.Registry().AliveCount() == 2
	}, 10*time.Second, 50*time.Millisecond)

	id, err := a.StartScenario("test:spread")
	require.NoError(t, err)

	// 对端经 gossip 收到同 id 场景并开始执行
	require.Eventually(t, func() bool {
		for _, st := range b.Scenarios() {
			if st.ID == id {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&countB) > 0
	}, 10*time.Second, 50*time.Millisecond)

	assert.Greater(t, atomic.LoadInt64(&countA), int64(0))

	// 幂等：同名再次 gossip 不会产生第二个场景
	assert.LessOrEqual(t, len(b.Scenarios()), 1)
}

// TestJourneyMetricsFlow 执行场景后核心指标自洽
func TestJourneyMetricsFlow(t *testing.T) {
	registry := scenario.NewRegistry()
	registry.Register("test:metrics", func() *scenario.Scenario {
		return &scenario.Scenario{
			Journeys: []scenario.JourneyDescriptor{
				{
					Journey: &journey.Func{
						JourneyName: "probe",
						Fn: func(ctx *journey.Context, row string) ([]types.Outcome, error) {
							return []types.Outcome{
								{Label: "fake", Status: types.OutcomeOK, StatusCode: 200, Duration: time.Millisecond},
							}, nil
						},
					},
					Volume: scenario.VolumeModel{TargetRPS: 30, Duration: time.Second},
				},
			},
		}
	})

	n := newTestNode(t, registry)
	require.NoError(t, n.Start(context.Background()))
	defer n.Shutdown()

	_, err := n.StartScenario("test:metrics")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(n.Scenarios()) == 0
	}, 10*time.Second, 100*time.Millisecond)

	snap := n.LocalSnapshot()
	executions := snap.CounterTotal(metrics.MetricJourneyExecutionsTotal)
	requests := snap.CounterTotal(metrics.MetricHTTPRequestsTotal)

	// 速率保真（容差 max(5, 5%)）且每次执行恰好一条请求记录
	assert.InDelta(t, 30, float64(executions), 5)
	assert.Equal(t, executions, requests)
}
