/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 14:45:00
 * @FilePath: \go-swarm\journey\journey.go
 * @Description: Journey 接口与执行上下文
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"context"
	"time"

	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
)

// Journey 用户旅程。一次 Execute 执行一轮用户旅程，
// 产出带标签的请求结果序列；收到取消信号后应在下一个
// 让出点尽快返回。
type Journey interface {
	// Name 旅程名（指标标签）
	Name() string

	// Execute 执行一轮。row 为数据池行（无池时为空串）。
	Execute(ctx *Context, row string) ([]types.Outcome, error)
}

// Context journey 执行上下文。指标通过显式句柄传入，
// 不依赖进程级全局状态（测试中可各建一份）。
type Context struct {
	Ctx context.Context

	ScenarioID   string
	ScenarioName string
	JourneyName  string
	NodeIdentity string

	Metrics        *metrics.Collector
	RequestTimeout time.Duration
}

// Scope 返回指标基础标签
func (c *Context) Scope() metrics.ScenarioLabels {
	return metrics.ScenarioLabels{
		Scenario: c.ScenarioName,
		Journey:  c.JourneyName,
		Node:     c.NodeIdentity,
	}
}

// Cancelled 是否已收到取消信号
func (c *Context) Cancelled() bool {
	select {
	case <-c.Ctx.Done():
		return true
	default:
		return false
	}
}

// Func 以函数形式适配 Journey 接口
type Func struct {
	JourneyName string
	Fn          func(ctx *Context, row string) ([]types.Outcome, error)
}

func (f *Func) Name() string {
	return f.JourneyName
}

func (f *Func) Execute(ctx *Context, row string) ([]types.Outcome, error) {
	return f.Fn(ctx, row)
}
