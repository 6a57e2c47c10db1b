/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 11:00:00
 * @FilePath: \go-swarm\metrics\exporter.go
 * @Description: Prometheus 导出桥 - 将注册表序列转为 const metrics
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter 实现 prometheus.Collector，把本地注册表以 const metric 形式暴露。
// Describe 不发送描述符（unchecked collector），序列标签集允许逐条不同。
type Exporter struct {
	collector    *Collector
	nodeIdentity string
}

// NewExporter 创建导出器
func NewExporter(c *Collector, nodeIdentity string) *Exporter {
	return &Exporter{collector: c, nodeIdentity: nodeIdentity}
}

// Describe 空实现：序列集合是动态的
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect 遍历快照并输出
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot(e.nodeIdentity)

	for _, c := range snap.Counters {
		keys, vals := splitLabels(c.Labels)
		desc := prometheus.NewDesc(c.Name, "", keys, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.CounterValue, float64(c.Value), vals...)
		if err != nil {
			continue
		}
		ch <- m
	}

	for _, h := range snap.Histograms {
		keys, vals := splitLabels(h.Labels)
		desc := prometheus.NewDesc(h.Name, "", keys, nil)

		// prometheus 直方图桶为累计计数，+Inf 隐含于 count
		buckets := make(map[float64]uint64, len(h.Bounds))
		var cumulative uint64
		for i, bound := range h.Bounds {
			cumulative += h.Buckets[i]
			buckets[bound] = cumulative
		}

		m, err := prometheus.NewConstHistogram(desc, h.Count, h.Sum, buckets, vals...)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// splitLabels 拆分为排序后的键值平行切片
func splitLabels(labels Labels) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return sanitizeNames(keys), vals
}

// sanitizeNames 将标签键规整为合法的 prometheus 标签名
func sanitizeNames(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		runes := []rune(k)
		for j, r := range runes {
			valid := r == '_' ||
				(r >= 'a' && r <= 'z') ||
				(r >= 'A' && r <= 'Z') ||
				(j > 0 && r >= '0' && r <= '9')
			if !valid {
				runes[j] = '_'
			}
		}
		out[i] = string(runes)
	}
	return out
}

var _ prometheus.Collector = (*Exporter)(nil)
