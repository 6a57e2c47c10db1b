/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 04:10:00
 * @FilePath: \go-swarm\journey\runner_test.go
 * @Description: Journey 运行池测试
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/storage"
	"github.com/kamalyes/go-swarm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(col *metrics.Collector) *Context {
	return &Context{
		Ctx:          context.Background(),
		ScenarioID:   "sc-1",
		ScenarioName: "test",
		JourneyName:  "j1",
		NodeIdentity: "node-1",
		Metrics:      col,
	}
}

// TestRunnerRecordsOutcomes 测试结果记账
func TestRunnerRecordsOutcomes(t *testing.T) {
	col := metrics.NewCollector()
	r := NewRunner(16, col, nil, "node-1", logger.New(nil))

	j := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			return []types.Outcome{
				{Label: "ok-step", Status: types.OutcomeOK, StatusCode: 200, Duration: 10 * time.Millisecond},
				{Label: "err-step", Status: types.OutcomeError, ErrorKind: "HTTPTimeout", Duration: time.Second},
			}, nil
		},
	}

	var wg sync.WaitGroup
	require.True(t, r.TryRun(newTestContext(col), j, nil, &wg))
	wg.Wait()

	assert.Equal(t, uint64(2), col.CounterTotal(metrics.MetricHTTPRequestsTotal))
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricHTTPErrorsTotal))
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricJourneyExecutionsTotal))
	assert.Equal(t, uint64(0), col.CounterTotal(metrics.MetricJourneyFailuresTotal))
}

// TestRunnerJourneyFailure 测试 journey 失败记账且不影响其他执行
func TestRunnerJourneyFailure(t *testing.T) {
	col := metrics.NewCollector()
	r := NewRunner(16, col, nil, "node-1", logger.New(nil))

	failing := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			return nil, fmt.Errorf("user journey exploded")
		},
	}
	healthy := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			return nil, nil
		},
	}

	var wg sync.WaitGroup
	require.True(t, r.TryRun(newTestContext(col), failing, nil, &wg))
	require.True(t, r.TryRun(newTestContext(col), healthy, nil, &wg))
	wg.Wait()

	assert.Equal(t, uint64(2), col.CounterTotal(metrics.MetricJourneyExecutionsTotal))
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricJourneyFailuresTotal))
}

// TestRunnerSaturation 测试池饱和时拒绝并计数
func TestRunnerSaturation(t *testing.T) {
	col := metrics.NewCollector()
	r := NewRunner(1, col, nil, "node-1", logger.New(nil))

	release := make(chan struct{})
	blocking := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			<-release
			return nil, nil
		},
	}

	var wg sync.WaitGroup
	require.True(t, r.TryRun(newTestContext(col), blocking, nil, &wg))

	// 等首个占住槽位
	require.Eventually(t, func() bool { return r.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, r.TryRun(newTestContext(col), blocking, nil, &wg))
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricJourneyBackpressureTotal))
	assert.LessOrEqual(t, r.InFlight(), 1)

	close(release)
	wg.Wait()
	assert.Equal(t, 0, r.InFlight())
}

// TestRunnerDatapoolExhausted 测试数据池耗尽时静默跳过
func TestRunnerDatapoolExhausted(t *testing.T) {
	col := metrics.NewCollector()
	r := NewRunner(16, col, nil, "node-1", logger.New(nil))

	pool := datapool.NewInMemoryOnce([]string{"only"})

	executions := 0
	var mu sync.Mutex
	j := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			mu.Lock()
			executions++
			mu.Unlock()
			return nil, nil
		},
	}

	var wg sync.WaitGroup
	require.True(t, r.TryRun(newTestContext(col), j, pool, &wg))
	wg.Wait()
	require.True(t, r.TryRun(newTestContext(col), j, pool, &wg))
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, executions)
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricDatapoolExhaustedTotal))
	assert.Equal(t, uint64(1), col.CounterTotal(metrics.MetricJourneyExecutionsTotal))
}

// TestRunnerWritesDetailSink 测试明细落库
func TestRunnerWritesDetailSink(t *testing.T) {
	col := metrics.NewCollector()
	sink := storage.NewMemoryStorage("node-1", logger.New(nil))
	r := NewRunner(16, col, sink, "node-1", logger.New(nil))

	j := &Func{
		JourneyName: "j1",
		Fn: func(ctx *Context, row string) ([]types.Outcome, error) {
			return []types.Outcome{
				{Label: "home", Status: types.OutcomeOK, StatusCode: 200},
			}, nil
		},
	}

	var wg sync.WaitGroup
	require.True(t, r.TryRun(newTestContext(col), j, nil, &wg))
	wg.Wait()

	count, err := sink.Count(storage.StatusFilterAll, "sc-1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := sink.Query(0, 10, storage.StatusFilterSuccess, "", "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "home", records[0].Label)
	assert.NotEmpty(t, records[0].ID)
}
