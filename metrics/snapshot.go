/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 10:30:00
 * @FilePath: \go-swarm\metrics\snapshot.go
 * @Description: 指标快照与合并（可结合、可交换）
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"sort"
)

// CounterSnap 计数器序列快照
type CounterSnap struct {
	Name   string `json:"name"`
	Labels Labels `json:"labels,omitempty"`
	Value  uint64 `json:"value"`
}

// HistogramSnap 直方图序列快照。Buckets 比 Bounds 多一位（+Inf 桶）。
type HistogramSnap struct {
	Name    string    `json:"name"`
	Labels  Labels    `json:"labels,omitempty"`
	Bounds  []float64 `json:"bounds"`
	Buckets []uint64  `json:"buckets"`
	Sum     float64   `json:"sum"`
	Count   uint64    `json:"count"`
}

// EventSnap 事件环快照（按时间戳升序）
type EventSnap struct {
	Name     string        `json:"name"`
	Capacity int           `json:"capacity"`
	Samples  []EventSample `json:"samples"`
}

// Snapshot 单节点一致性指标镜像
type Snapshot struct {
	NodeIdentity string          `json:"node_identity"`
	CapturedAt   float64         `json:"captured_at"`
	Counters     []CounterSnap   `json:"counters"`
	Histograms   []HistogramSnap `json:"histograms"`
	Events       []EventSnap     `json:"events"`
}

// sortSeries 按 (name, labels) 排序，保证序列顺序稳定
func (s *Snapshot) sortSeries() {
	sort.Slice(s.Counters, func(i, j int) bool {
		return seriesKey(s.Counters[i].Name, s.Counters[i].Labels) <
			seriesKey(s.Counters[j].Name, s.Counters[j].Labels)
	})
	sort.Slice(s.Histograms, func(i, j int) bool {
		return seriesKey(s.Histograms[i].Name, s.Histograms[i].Labels) <
			seriesKey(s.Histograms[j].Name, s.Histograms[j].Labels)
	})
	sort.Slice(s.Events, func(i, j int) bool {
		return s.Events[i].Name < s.Events[j].Name
	})
}

// CounterValue 查询快照内计数器取值
func (s *Snapshot) CounterValue(name string, labels Labels) uint64 {
	key := seriesKey(name, labels)
	for _, c := range s.Counters {
		if seriesKey(c.Name, c.Labels) == key {
			return c.Value
		}
	}
	return 0
}

// CounterTotal 累加快照内同名计数器的全部标签组合
func (s *Snapshot) CounterTotal(name string) uint64 {
	var total uint64
	for _, c := range s.Counters {
		if c.Name == name {
			total += c.Value
		}
	}
	return total
}

// Merge 合并两份快照。计数器逐序列求和，直方图逐桶求和，
// 事件流按时间戳归并后截断到容量上限。运算满足结合律与交换律。
func Merge(a, b *Snapshot) *Snapshot {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	out := &Snapshot{
		NodeIdentity: a.NodeIdentity,
		CapturedAt:   maxFloat(a.CapturedAt, b.CapturedAt),
	}

	// 计数器
	counterIdx := make(map[string]int)
	for _, c := range a.Counters {
		counterIdx[seriesKey(c.Name, c.Labels)] = len(out.Counters)
		out.Counters = append(out.Counters, CounterSnap{Name: c.Name, Labels: copyLabels(c.Labels), Value: c.Value})
	}
	for _, c := range b.Counters {
		key := seriesKey(c.Name, c.Labels)
		if i, ok := counterIdx[key]; ok {
			out.Counters[i].Value += c.Value
		} else {
			counterIdx[key] = len(out.Counters)
			out.Counters = append(out.Counters, CounterSnap{Name: c.Name, Labels: copyLabels(c.Labels), Value: c.Value})
		}
	}

	// 直方图
	histIdx := make(map[string]int)
	for _, h := range a.Histograms {
		histIdx[seriesKey(h.Name, h.Labels)] = len(out.Histograms)
		out.Histograms = append(out.Histograms, cloneHistogram(h))
	}
	for _, h := range b.Histograms {
		key := seriesKey(h.Name, h.Labels)
		i, ok := histIdx[key]
		if !ok {
			histIdx[key] = len(out.Histograms)
			out.Histograms = append(out.Histograms, cloneHistogram(h))
			continue
		}
		dst := &out.Histograms[i]
		for j := 0; j < len(dst.Buckets) && j < len(h.Buckets); j++ {
			dst.Buckets[j] += h.Buckets[j]
		}
		dst.Sum += h.Sum
		dst.Count += h.Count
	}

	// 事件流
	eventIdx := make(map[string]int)
	for _, e := range a.Events {
		eventIdx[e.Name] = len(out.Events)
		out.Events = append(out.Events, cloneEvents(e))
	}
	for _, e := range b.Events {
		i, ok := eventIdx[e.Name]
		if !ok {
			eventIdx[e.Name] = len(out.Events)
			out.Events = append(out.Events, cloneEvents(e))
			continue
		}
		dst := &out.Events[i]
		if e.Capacity < dst.Capacity {
			dst.Capacity = e.Capacity
		}
		dst.Samples = append(dst.Samples, e.Samples...)
		sort.SliceStable(dst.Samples, func(x, y int) bool {
			return dst.Samples[x].Timestamp < dst.Samples[y].Timestamp
		})
		if len(dst.Samples) > dst.Capacity {
			// 保留最新样本
			dst.Samples = dst.Samples[len(dst.Samples)-dst.Capacity:]
		}
	}

	out.sortSeries()
	return out
}

func cloneHistogram(h HistogramSnap) HistogramSnap {
	bounds := make([]float64, len(h.Bounds))
	copy(bounds, h.Bounds)
	buckets := make([]uint64, len(h.Buckets))
	copy(buckets, h.Buckets)
	return HistogramSnap{
		Name:    h.Name,
		Labels:  copyLabels(h.Labels),
		Bounds:  bounds,
		Buckets: buckets,
		Sum:     h.Sum,
		Count:   h.Count,
	}
}

func cloneEvents(e EventSnap) EventSnap {
	samples := make([]EventSample, len(e.Samples))
	copy(samples, e.Samples)
	return EventSnap{Name: e.Name, Capacity: e.Capacity, Samples: samples}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
