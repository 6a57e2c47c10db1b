/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-03 09:30:00
 * @FilePath: \go-swarm\types\runtime.go
 * @Description: 运行时核心数据结构
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package types

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// 协议版本（HELLO 握手时比较主版本号）
const ProtocolVersion = "1.0.0"

// NewIdentity 生成 128 位随机节点标识（uuid4 的 hex 形式，进程生命周期内稳定）
func NewIdentity() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ShortIdentity 截取标识前 8 位用于日志展示
func ShortIdentity(identity string) string {
	if len(identity) <= 8 {
		return identity
	}
	return identity[:8]
}

// Outcome 单次请求结果（由 Journey 产出，Runner 负责记账）
type Outcome struct {
	Label      string        `json:"label"`
	Duration   time.Duration `json:"duration"`
	Status     OutcomeStatus `json:"status"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Method     string        `json:"method,omitempty"`
	URL        string        `json:"url,omitempty"`
}

// StatusClass 返回结果的状态分类标签（2xx/4xx/... 或 ok/error）
func (o *Outcome) StatusClass() string {
	if o.StatusCode > 0 {
		switch {
		case o.StatusCode < 200:
			return "1xx"
		case o.StatusCode < 300:
			return "2xx"
		case o.StatusCode < 400:
			return "3xx"
		case o.StatusCode < 500:
			return "4xx"
		default:
			return "5xx"
		}
	}
	if o.Status == OutcomeOK {
		return "ok"
	}
	return "error"
}

// OutcomeRecord 请求明细记录（可选落库，供仪表盘明细页查询）
type OutcomeRecord struct {
	ID         string        `json:"id"`
	NodeID     string        `json:"node_id"`
	ScenarioID string        `json:"scenario_id"`
	Journey    string        `json:"journey"`
	Label      string        `json:"label"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// ResourceUsage 节点资源使用情况
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    int64   `json:"memory_used"`
}
