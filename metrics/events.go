/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 10:45:00
 * @FilePath: \go-swarm\metrics\events.go
 * @Description: 标准指标记账助手（HTTP 请求 / journey 成败）
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package metrics

import (
	"net/url"
	"strings"
	"time"
)

// 核心指标名
const (
	MetricHTTPRequestsTotal   = "swarm_http_requests_total"
	MetricHTTPErrorsTotal     = "swarm_http_errors_total"
	MetricHTTPDurationSeconds = "swarm_http_request_duration_seconds"

	MetricJourneyExecutionsTotal   = "swarm_journey_executions_total"
	MetricJourneyFailuresTotal     = "swarm_journey_failures_total"
	MetricJourneyDurationSeconds   = "swarm_journey_duration_seconds"
	MetricJourneyBackpressureTotal = "swarm_journey_backpressure_total"
	MetricDatapoolExhaustedTotal   = "swarm_datapool_exhausted_total"

	MetricGossipMalformedTotal = "swarm_gossip_malformed_total"

	EventHTTPRequest = "http_request"
)

// ScenarioLabels journey 记账的基础标签
type ScenarioLabels struct {
	Scenario string
	Journey  string
	Node     string
}

func (l ScenarioLabels) base() Labels {
	labels := Labels{
		"scenario": defaultIfEmpty(l.Scenario, "unknown"),
		"journey":  defaultIfEmpty(l.Journey, "unknown"),
	}
	if l.Node != "" {
		labels["node"] = l.Node
	}
	return labels
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// RecordHTTPRequest 记录一次 HTTP 请求结果：
// 请求计数、错误计数、延迟直方图与事件环各记一笔。
func RecordHTTPRequest(c *Collector, scope ScenarioLabels, label, method, rawURL, statusClass, errorKind string, duration time.Duration) {
	labels := scope.base()
	labels["label"] = label
	labels["status_class"] = statusClass
	if method != "" {
		labels["method"] = strings.ToUpper(method)
	}
	if rawURL != "" {
		if parsed, err := url.Parse(rawURL); err == nil {
			if parsed.Host != "" {
				labels["host"] = parsed.Host
			}
			if parsed.Path != "" {
				labels["path"] = parsed.Path
			}
		}
	}

	c.Inc(MetricHTTPRequestsTotal, labels, 1)

	if errorKind != "" {
		errLabels := scope.base()
		errLabels["label"] = label
		errLabels["kind"] = errorKind
		c.Inc(MetricHTTPErrorsTotal, errLabels, 1)
	}

	histLabels := scope.base()
	histLabels["label"] = label
	c.Observe(MetricHTTPDurationSeconds, histLabels, duration.Seconds())

	c.Event(EventHTTPRequest, EventSample{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Duration:  duration.Seconds(),
		Labels:    labels,
	})
}

// RecordJourneySuccess 记录一次 journey 成功执行
func RecordJourneySuccess(c *Collector, scope ScenarioLabels, duration time.Duration) {
	labels := scope.base()
	c.Inc(MetricJourneyExecutionsTotal, labels, 1)
	c.Observe(MetricJourneyDurationSeconds, labels, duration.Seconds())
}

// RecordJourneyFailure 记录一次 journey 失败（仍计入执行总数）
func RecordJourneyFailure(c *Collector, scope ScenarioLabels, errorKind string, duration time.Duration) {
	labels := scope.base()
	c.Inc(MetricJourneyExecutionsTotal, labels, 1)

	failLabels := scope.base()
	failLabels["kind"] = defaultIfEmpty(errorKind, "UnknownError")
	c.Inc(MetricJourneyFailuresTotal, failLabels, 1)

	if duration >= 0 {
		c.Observe(MetricJourneyDurationSeconds, labels, duration.Seconds())
	}
}

// RecordBackpressure 记录一次因 runner 饱和被丢弃的调度
func RecordBackpressure(c *Collector, scope ScenarioLabels) {
	c.Inc(MetricJourneyBackpressureTotal, scope.base(), 1)
}

// RecordDatapoolExhausted 记录一次因数据池耗尽被跳过的调度
func RecordDatapoolExhausted(c *Collector, scope ScenarioLabels) {
	c.Inc(MetricDatapoolExhaustedTotal, scope.base(), 1)
}
