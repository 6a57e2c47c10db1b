/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 03:40:00
 * @FilePath: \go-swarm\scenario\manager_test.go
 * @Description: 场景管理器测试 - 幂等启动、墓碑、广播
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package scenario

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBroadcaster 记录控制消息广播
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []types.ControlKind
	bodies []interface{}
}

func (r *recordingBroadcaster) Broadcast(kind types.ControlKind, body interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingBroadcaster) kinds() []types.ControlKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ControlKind, len(r.events))
	copy(out, r.events)
	return out
}

// newManagerUnderTest 构建测试管理器
func newManagerUnderTest(t *testing.T, counter *int64) (*Manager, *recordingBroadcaster) {
	t.Helper()
	cfg := config.DefaultNodeConfig()
	cfg.TickPeriod = 20 * time.Millisecond
	cfg.DrainTimeout = time.Second

	col := metrics.NewCollector()
	registry := NewRegistry()
	registry.Register("test:fast", func() *Scenario {
		return &Scenario{
			Journeys: []JourneyDescriptor{
				{
					Journey: countingJourney("fast", counter, 0),
					Volume:  VolumeModel{TargetRPS: 20, Duration: 400 * time.Millisecond},
				},
			},
		}
	})

	bc := &recordingBroadcaster{}
	runner := journey.NewRunner(64, col, nil, "node-test", logger.New(nil))
	m := NewManager("node-test", registry, runner, bc, func() int { return 1 }, col, cfg, logger.New(nil))
	return m, bc
}

// TestDuplicateStartIdempotent 测试同 id 重复启动只产生一个场景
func TestDuplicateStartIdempotent(t *testing.T) {
	var count int64
	m, _ := newManagerUnderTest(t, &count)

	sc, err := m.registry.Resolve("test:fast")
	require.NoError(t, err)

	startedAt := time.Now()
	require.NoError(t, m.Start(sc, startedAt, true))
	assert.Equal(t, 1, m.Count())

	// 同 id 再次启动：幂等接受、无报错、不重复建 pacer
	dup, err := m.registry.Resolve("test:fast")
	require.NoError(t, err)
	dup.ID = sc.ID
	require.NoError(t, m.Start(dup, startedAt, true))
	assert.Equal(t, 1, m.Count())

	statuses := m.List()
	require.Len(t, statuses, 1)
	assert.Len(t, statuses[0].Journeys, 1)

	m.StopAll()
}

// TestLocalStartBroadcasts 测试本地启动广播 ScenarioStart
func TestLocalStartBroadcasts(t *testing.T) {
	var count int64
	m, bc := newManagerUnderTest(t, &count)

	id, err := m.StartByName("test:fast")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	kinds := bc.kinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, types.ControlScenarioStart, kinds[0])

	m.StopAll()
}

// TestGossipedStartDoesNotRebroadcast 测试 gossip 来源不再广播
func TestGossipedStartDoesNotRebroadcast(t *testing.T) {
	var count int64
	m, bc := newManagerUnderTest(t, &count)

	body, _ := json.Marshal(ScenarioStartBody{
		ScenarioID:    NewScenarioID(),
		Name:          "test:fast",
		StartedAtUnix: time.Now().UnixMilli(),
	})
	m.HandleScenarioStart(body)

	assert.Equal(t, 1, m.Count())
	assert.Empty(t, bc.kinds())

	m.StopAll()
}

// TestStopBeforeStartTombstone 测试 stop 先到时窗口内的 start 被吞掉
func TestStopBeforeStartTombstone(t *testing.T) {
	var count int64
	m, _ := newManagerUnderTest(t, &count)

	sc, err := m.registry.Resolve("test:fast")
	require.NoError(t, err)

	// stop 先于 start 到达
	m.Stop(sc.ID, false)
	require.NoError(t, m.Start(sc, time.Now(), false))
	assert.Equal(t, 0, m.Count())
}

// TestUnknownScenarioNameRejected 测试未注册场景名
func TestUnknownScenarioNameRejected(t *testing.T) {
	var count int64
	m, _ := newManagerUnderTest(t, &count)

	_, err := m.StartByName("nope")
	assert.Error(t, err)
}

// TestScenarioSelfStops 测试时长耗尽后场景自停并摘除
func TestScenarioSelfStops(t *testing.T) {
	var count int64
	m, _ := newManagerUnderTest(t, &count)

	_, err := m.StartByName("test:fast")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Count() == 0
	}, 5*time.Second, 50*time.Millisecond)

	assert.Greater(t, atomic.LoadInt64(&count), int64(0))
}

// TestScenarioLimit 测试活动场景上限
func TestScenarioLimit(t *testing.T) {
	var count int64
	m, _ := newManagerUnderTest(t, &count)
	m.cfg.MaxScenarios = 1

	_, err := m.StartByName("test:fast")
	require.NoError(t, err)

	_, err = m.StartByName("test:fast")
	assert.Error(t, err)

	m.StopAll()
}

// TestStopBroadcasts 测试本地停止广播 ScenarioStop
func TestStopBroadcasts(t *testing.T) {
	var count int64
	m, bc := newManagerUnderTest(t, &count)

	id, err := m.StartByName("test:fast")
	require.NoError(t, err)

	m.Stop(id, true)
	kinds := bc.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, types.ControlScenarioStop, kinds[1])

	m.StopAll()
}
