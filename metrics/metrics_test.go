/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 01:20:00
 * @FilePath: \go-swarm\metrics\metrics_test.go
 * @Description: 指标核心测试
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalLabels 测试标签规范化与顺序无关
func TestCanonicalLabels(t *testing.T) {
	a := CanonicalLabels(Labels{"b": "2", "a": "1"})
	b := CanonicalLabels(Labels{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, "a=1,b=2", a)
	assert.Equal(t, "", CanonicalLabels(nil))
}

// TestCounterInc 测试计数器自增与标签区分
func TestCounterInc(t *testing.T) {
	c := NewCollector()

	c.Inc("requests", Labels{"label": "home"}, 1)
	c.Inc("requests", Labels{"label": "home"}, 2)
	c.Inc("requests", Labels{"label": "login"}, 5)

	assert.Equal(t, uint64(3), c.CounterValue("requests", Labels{"label": "home"}))
	assert.Equal(t, uint64(5), c.CounterValue("requests", Labels{"label": "login"}))
	assert.Equal(t, uint64(8), c.CounterTotal("requests"))
	assert.Equal(t, uint64(0), c.CounterValue("requests", Labels{"label": "missing"}))
}

// TestCounterConcurrency 测试并发写同一序列
func TestCounterConcurrency(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Inc("concurrent", nil, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(16000), c.CounterValue("concurrent", nil))
}

// TestHistogramBuckets 测试直方图分桶
func TestHistogramBuckets(t *testing.T) {
	c := NewCollector()

	c.Observe("latency", nil, 0.003) // 桶 0: <=0.005
	c.Observe("latency", nil, 0.004)
	c.Observe("latency", nil, 0.3) // 桶 6: <=0.5
	c.Observe("latency", nil, 100) // +Inf 桶

	snap := c.Snapshot("node-1")
	require.Len(t, snap.Histograms, 1)
	h := snap.Histograms[0]

	assert.Equal(t, uint64(4), h.Count)
	assert.InDelta(t, 100.307, h.Sum, 0.001)
	assert.Len(t, h.Buckets, len(DefaultLatencyBuckets)+1)
	assert.Equal(t, uint64(2), h.Buckets[0])
	assert.Equal(t, uint64(1), h.Buckets[6])
	assert.Equal(t, uint64(1), h.Buckets[len(h.Buckets)-1])
}

// TestEventBufferRing 测试事件环容量与淘汰最旧
func TestEventBufferRing(t *testing.T) {
	c := NewCollectorWithCapacity(4)

	for i := 0; i < 6; i++ {
		c.Event("http_request", EventSample{Timestamp: float64(i)})
	}

	snap := c.Snapshot("node-1")
	require.Len(t, snap.Events, 1)
	samples := snap.Events[0].Samples
	require.Len(t, samples, 4)

	// 最旧的两条被淘汰，剩下 2..5 升序
	assert.Equal(t, float64(2), samples[0].Timestamp)
	assert.Equal(t, float64(5), samples[3].Timestamp)
}

// TestSnapshotConsistency 测试快照期间写入不被阻塞且计数自洽
func TestSnapshotConsistency(t *testing.T) {
	c := NewCollector()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Inc("requests", Labels{"label": "x"}, 1)
				c.Observe("duration", Labels{"label": "x"}, 0.01)
			}
		}
	}()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := c.Snapshot("node-1")
		// counters.total >= histograms.count（计数先于观测）不是必然，
		// 但两者都不应超过当前写入总量，且快照自身内部一致
		for _, h := range snap.Histograms {
			var sum uint64
			for _, b := range h.Buckets {
				sum += b
			}
			assert.Equal(t, h.Count, sum)
		}
	}
	close(stop)
	wg.Wait()
}

// TestRecordHelpers 测试标准记账助手
func TestRecordHelpers(t *testing.T) {
	c := NewCollector()
	scope := ScenarioLabels{Scenario: "s1", Journey: "j1", Node: "n1"}

	RecordHTTPRequest(c, scope, "home", "GET", "http://example.com/api", "2xx", "", 50*time.Millisecond)
	RecordHTTPRequest(c, scope, "home", "GET", "http://example.com/api", "5xx", "ServerError", 10*time.Millisecond)
	RecordJourneySuccess(c, scope, 100*time.Millisecond)
	RecordJourneyFailure(c, scope, "HTTPTimeout", 200*time.Millisecond)
	RecordBackpressure(c, scope)
	RecordDatapoolExhausted(c, scope)

	assert.Equal(t, uint64(2), c.CounterTotal(MetricHTTPRequestsTotal))
	assert.Equal(t, uint64(1), c.CounterTotal(MetricHTTPErrorsTotal))
	assert.Equal(t, uint64(2), c.CounterTotal(MetricJourneyExecutionsTotal))
	assert.Equal(t, uint64(1), c.CounterTotal(MetricJourneyFailuresTotal))
	assert.Equal(t, uint64(1), c.CounterTotal(MetricJourneyBackpressureTotal))
	assert.Equal(t, uint64(1), c.CounterTotal(MetricDatapoolExhaustedTotal))

	snap := c.Snapshot("n1")
	// http_requests_total >= http_request_duration_seconds.count 的对应关系
	assert.GreaterOrEqual(t,
		snap.CounterTotal(MetricHTTPRequestsTotal),
		snap.Histograms[histIndex(snap, MetricHTTPDurationSeconds)].Count)
}

func histIndex(s *Snapshot, name string) int {
	for i, h := range s.Histograms {
		if h.Name == name {
			return i
		}
	}
	return -1
}
