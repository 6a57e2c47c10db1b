/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 21:00:00
 * @FilePath: \go-swarm\node\monitor.go
 * @Description: 资源监控 - 周期采集 CPU/内存并写入注册表
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package node

import (
	"context"
	"time"

	"github.com/kamalyes/go-swarm/cluster"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceMonitor 周期采集本机资源占用，结果进入注册表的
// self 记录，供 get_cluster() 与仪表盘展示。
type ResourceMonitor struct {
	reg      *cluster.Registry
	interval time.Duration
	logger   logger.ILogger
	tasks    *syncx.PeriodicTaskManager
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(reg *cluster.Registry, interval time.Duration, log logger.ILogger) *ResourceMonitor {
	return &ResourceMonitor{
		reg:      reg,
		interval: interval,
		logger:   log,
		tasks:    syncx.NewPeriodicTaskManager(),
	}
}

// Start 启动采集
func (m *ResourceMonitor) Start(ctx context.Context) {
	task := syncx.NewPeriodicTask("resource-monitor", m.interval, func(taskCtx context.Context) error {
		m.reg.SetSelfResources(m.collect())
		return nil
	}).SetOnError(func(name string, err error) {
		m.logger.DebugKV("Resource monitor error", "error", err)
	})

	m.tasks.AddTask(task)
	m.tasks.StartWithContext(ctx)
}

// collect 采集一次 CPU/内存
func (m *ResourceMonitor) collect() *types.ResourceUsage {
	usage := &types.ResourceUsage{}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		usage.MemoryPercent = v.UsedPercent
		usage.MemoryUsed = int64(v.Used)
	}

	return usage
}
