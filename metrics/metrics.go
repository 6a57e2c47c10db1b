/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 10:05:00
 * @FilePath: \go-swarm\metrics\metrics.go
 * @Description: 指标核心 - 按 (name, canonical labels) 索引的计数器/直方图/事件环
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// DefaultLatencyBuckets 请求延迟直方图的默认桶边界（秒），外加隐含的 +Inf 桶
var DefaultLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DefaultEventCapacity 事件环默认容量
const DefaultEventCapacity = 4096

// Labels 指标标签（无序短字符串映射）
type Labels map[string]string

// CanonicalLabels 将标签规范化为稳定字符串（按键排序的 k=v 串）
func CanonicalLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

// seriesKey 注册表键
func seriesKey(name string, labels Labels) string {
	c := CanonicalLabels(labels)
	if c == "" {
		return name
	}
	return name + "|" + c
}

// copyLabels 拷贝标签，序列持有自己的副本
func copyLabels(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// counterSeries 单条计数器序列（无锁更新）
type counterSeries struct {
	name   string
	labels Labels
	value  *syncx.Uint64
}

// histogramSeries 单条直方图序列（序列级细粒度锁）
type histogramSeries struct {
	name   string
	labels Labels
	bounds []float64

	mu      syncx.Locker
	buckets []uint64 // len(bounds)+1，末位为 +Inf
	sum     float64
	count   uint64
}

func (h *histogramSeries) observe(v float64) {
	idx := len(h.bounds)
	for i, b := range h.bounds {
		if v <= b {
			idx = i
			break
		}
	}
	h.mu.Lock()
	h.buckets[idx]++
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// EventSample 事件环样本
type EventSample struct {
	Timestamp float64 `json:"timestamp"` // unix 秒
	Duration  float64 `json:"duration"`
	Labels    Labels  `json:"labels,omitempty"`
}

// EventBuffer 固定容量时间序列环，满时淘汰最旧样本
type EventBuffer struct {
	name     string
	capacity int

	mu      syncx.Locker
	ring    []EventSample
	next    int
	wrapped bool
}

func newEventBuffer(name string, capacity int) *EventBuffer {
	return &EventBuffer{
		name:     name,
		capacity: capacity,
		mu:       syncx.NewLock(),
		ring:     make([]EventSample, capacity),
	}
}

// Record 写入一条样本
func (b *EventBuffer) Record(sample EventSample) {
	b.mu.Lock()
	b.ring[b.next] = sample
	b.next++
	if b.next == b.capacity {
		b.next = 0
		b.wrapped = true
	}
	b.mu.Unlock()
}

// Samples 按时间戳升序导出当前环内容
func (b *EventBuffer) Samples() []EventSample {
	b.mu.Lock()
	var out []EventSample
	if b.wrapped {
		out = make([]EventSample, 0, b.capacity)
		out = append(out, b.ring[b.next:]...)
		out = append(out, b.ring[:b.next]...)
	} else {
		out = make([]EventSample, b.next)
		copy(out, b.ring[:b.next])
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Collector 进程内指标注册表。写路径在首次插入后 O(1)，
// 序列更新为原子或序列级锁，注册表扩张由读写锁保护。
type Collector struct {
	mu         *syncx.RWLock
	counters   map[string]*counterSeries
	histograms map[string]*histogramSeries
	events     map[string]*EventBuffer

	eventCapacity int
}

// NewCollector 创建指标注册表
func NewCollector() *Collector {
	return NewCollectorWithCapacity(DefaultEventCapacity)
}

// NewCollectorWithCapacity 创建指标注册表并指定事件环容量
func NewCollectorWithCapacity(eventCapacity int) *Collector {
	if eventCapacity <= 0 {
		eventCapacity = DefaultEventCapacity
	}
	return &Collector{
		mu:            syncx.NewRWLock(),
		counters:      make(map[string]*counterSeries),
		histograms:    make(map[string]*histogramSeries),
		events:        make(map[string]*EventBuffer),
		eventCapacity: eventCapacity,
	}
}

// Inc 计数器自增
func (c *Collector) Inc(name string, labels Labels, delta uint64) {
	key := seriesKey(name, labels)

	c.mu.RLock()
	s, ok := c.counters[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		s, ok = c.counters[key]
		if !ok {
			s = &counterSeries{name: name, labels: copyLabels(labels), value: syncx.NewUint64(0)}
			c.counters[key] = s
		}
		c.mu.Unlock()
	}

	s.value.Add(delta)
}

// CounterValue 读取计数器当前值（不存在时返回 0）
func (c *Collector) CounterValue(name string, labels Labels) uint64 {
	key := seriesKey(name, labels)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.counters[key]; ok {
		return s.value.Load()
	}
	return 0
}

// CounterTotal 累加同名计数器的全部标签组合
func (c *Collector) CounterTotal(name string) uint64 {
	var total uint64
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.counters {
		if s.name == name {
			total += s.value.Load()
		}
	}
	return total
}

// Observe 直方图观测（默认延迟桶）
func (c *Collector) Observe(name string, labels Labels, value float64) {
	c.ObserveWithBuckets(name, labels, value, DefaultLatencyBuckets)
}

// ObserveWithBuckets 直方图观测，首次观测时以给定桶边界注册序列
func (c *Collector) ObserveWithBuckets(name string, labels Labels, value float64, bounds []float64) {
	key := seriesKey(name, labels)

	c.mu.RLock()
	s, ok := c.histograms[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		s, ok = c.histograms[key]
		if !ok {
			sorted := make([]float64, len(bounds))
			copy(sorted, bounds)
			sort.Float64s(sorted)
			s = &histogramSeries{
				name:    name,
				labels:  copyLabels(labels),
				bounds:  sorted,
				mu:      syncx.NewLock(),
				buckets: make([]uint64, len(sorted)+1),
			}
			c.histograms[key] = s
		}
		c.mu.Unlock()
	}

	s.observe(value)
}

// Event 写入事件样本
func (c *Collector) Event(name string, sample EventSample) {
	c.mu.RLock()
	b, ok := c.events[name]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		b, ok = c.events[name]
		if !ok {
			b = newEventBuffer(name, c.eventCapacity)
			c.events[name] = b
		}
		c.mu.Unlock()
	}

	b.Record(sample)
}

// Snapshot 生成一致性快照。读取不全局阻塞写入者：
// 注册表遍历持读锁，逐序列拷贝为原子动作。
func (c *Collector) Snapshot(nodeIdentity string) *Snapshot {
	snap := &Snapshot{
		NodeIdentity: nodeIdentity,
		CapturedAt:   float64(time.Now().UnixNano()) / float64(time.Second),
	}

	c.mu.RLock()
	counters := make([]*counterSeries, 0, len(c.counters))
	for _, s := range c.counters {
		counters = append(counters, s)
	}
	histograms := make([]*histogramSeries, 0, len(c.histograms))
	for _, s := range c.histograms {
		histograms = append(histograms, s)
	}
	events := make([]*EventBuffer, 0, len(c.events))
	for _, b := range c.events {
		events = append(events, b)
	}
	c.mu.RUnlock()

	for _, s := range counters {
		snap.Counters = append(snap.Counters, CounterSnap{
			Name:   s.name,
			Labels: copyLabels(s.labels),
			Value:  s.value.Load(),
		})
	}

	for _, s := range histograms {
		s.mu.Lock()
		buckets := make([]uint64, len(s.buckets))
		copy(buckets, s.buckets)
		sum, count := s.sum, s.count
		s.mu.Unlock()

		bounds := make([]float64, len(s.bounds))
		copy(bounds, s.bounds)
		snap.Histograms = append(snap.Histograms, HistogramSnap{
			Name:    s.name,
			Labels:  copyLabels(s.labels),
			Bounds:  bounds,
			Buckets: buckets,
			Sum:     sum,
			Count:   count,
		})
	}

	for _, b := range events {
		snap.Events = append(snap.Events, EventSnap{
			Name:     b.name,
			Capacity: b.capacity,
			Samples:  b.Samples(),
		})
	}

	snap.sortSeries()
	return snap
}
