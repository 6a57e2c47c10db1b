/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 01:50:00
 * @FilePath: \go-swarm\metrics\snapshot_test.go
 * @Description: 快照合并测试 - 结合律、交换律、事件截断
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapWith(node string, counterValue uint64, histCounts []uint64, eventTimestamps ...float64) *Snapshot {
	s := &Snapshot{NodeIdentity: node}
	s.Counters = append(s.Counters, CounterSnap{
		Name:   "requests",
		Labels: Labels{"label": "home"},
		Value:  counterValue,
	})

	bounds := []float64{0.1, 1}
	s.Histograms = append(s.Histograms, HistogramSnap{
		Name:    "latency",
		Labels:  Labels{"label": "home"},
		Bounds:  bounds,
		Buckets: histCounts,
		Sum:     float64(counterValue),
		Count:   sumOf(histCounts),
	})

	var samples []EventSample
	for _, ts := range eventTimestamps {
		samples = append(samples, EventSample{Timestamp: ts})
	}
	s.Events = append(s.Events, EventSnap{Name: "http_request", Capacity: 8, Samples: samples})
	s.sortSeries()
	return s
}

func sumOf(counts []uint64) uint64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	return total
}

// TestMergeCounters 测试计数器逐序列求和
func TestMergeCounters(t *testing.T) {
	a := snapWith("n1", 10, []uint64{1, 2, 3}, 1)
	b := snapWith("n2", 5, []uint64{4, 0, 1}, 2)

	merged := Merge(a, b)
	assert.Equal(t, uint64(15), merged.CounterValue("requests", Labels{"label": "home"}))
}

// TestMergeHistograms 测试直方图逐桶求和
func TestMergeHistograms(t *testing.T) {
	a := snapWith("n1", 10, []uint64{1, 2, 3})
	b := snapWith("n2", 5, []uint64{4, 0, 1})

	merged := Merge(a, b)
	require.Len(t, merged.Histograms, 1)
	h := merged.Histograms[0]
	assert.Equal(t, []uint64{5, 2, 4}, h.Buckets)
	assert.Equal(t, uint64(11), h.Count)
	assert.InDelta(t, 15.0, h.Sum, 0.0001)
}

// TestMergeDisjointSeries 测试不相交序列直接并集
func TestMergeDisjointSeries(t *testing.T) {
	a := &Snapshot{NodeIdentity: "n1", Counters: []CounterSnap{{Name: "only_a", Value: 1}}}
	b := &Snapshot{NodeIdentity: "n2", Counters: []CounterSnap{{Name: "only_b", Value: 2}}}

	merged := Merge(a, b)
	assert.Equal(t, uint64(1), merged.CounterValue("only_a", nil))
	assert.Equal(t, uint64(2), merged.CounterValue("only_b", nil))
}

// TestMergeCommutative 测试交换律
func TestMergeCommutative(t *testing.T) {
	a := snapWith("n1", 10, []uint64{1, 2, 3}, 1, 3)
	b := snapWith("n2", 5, []uint64{4, 0, 1}, 2)

	ab := Merge(a, b)
	ba := Merge(b, a)

	assert.Equal(t, ab.Counters, ba.Counters)
	assert.Equal(t, ab.Histograms, ba.Histograms)
	assert.Equal(t, eventTimestamps(ab), eventTimestamps(ba))
}

// TestMergeAssociative 测试结合律
func TestMergeAssociative(t *testing.T) {
	a := snapWith("n1", 10, []uint64{1, 2, 3}, 1)
	b := snapWith("n2", 5, []uint64{4, 0, 1}, 2, 5)
	c := snapWith("n3", 7, []uint64{0, 1, 0}, 3)

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	assert.Equal(t, left.Counters, right.Counters)
	assert.Equal(t, left.Histograms, right.Histograms)
	assert.Equal(t, eventTimestamps(left), eventTimestamps(right))
}

func eventTimestamps(s *Snapshot) []float64 {
	var out []float64
	for _, e := range s.Events {
		for _, sample := range e.Samples {
			out = append(out, sample.Timestamp)
		}
	}
	return out
}

// TestMergeEventTruncation 测试事件流按容量截断保留最新
func TestMergeEventTruncation(t *testing.T) {
	a := &Snapshot{Events: []EventSnap{{
		Name: "e", Capacity: 3,
		Samples: []EventSample{{Timestamp: 1}, {Timestamp: 3}, {Timestamp: 5}},
	}}}
	b := &Snapshot{Events: []EventSnap{{
		Name: "e", Capacity: 3,
		Samples: []EventSample{{Timestamp: 2}, {Timestamp: 4}, {Timestamp: 6}},
	}}}

	merged := Merge(a, b)
	require.Len(t, merged.Events, 1)
	samples := merged.Events[0].Samples
	require.Len(t, samples, 3)
	assert.Equal(t, float64(4), samples[0].Timestamp)
	assert.Equal(t, float64(6), samples[2].Timestamp)
}

// TestMergeNil 测试空参合并
func TestMergeNil(t *testing.T) {
	a := snapWith("n1", 1, []uint64{1, 0, 0})
	assert.Equal(t, a, Merge(a, nil))
	assert.Equal(t, a, Merge(nil, a))
}
