/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 16:00:00
 * @FilePath: \go-swarm\storage\interface.go
 * @Description: 请求明细存储接口定义
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package storage

import "github.com/kamalyes/go-swarm/types"

// StatusFilter 状态过滤器枚举
type StatusFilter int

const (
	StatusFilterAll     StatusFilter = iota // 全部
	StatusFilterSuccess                     // 成功
	StatusFilterFailed                      // 失败
)

// String 返回状态过滤器的字符串表示
func (s StatusFilter) String() string {
	switch s {
	case StatusFilterSuccess:
		return "success"
	case StatusFilterFailed:
		return "failed"
	default:
		return "all"
	}
}

// ParseStatusFilter 从字符串解析状态过滤器
func ParseStatusFilter(s string) StatusFilter {
	switch s {
	case "success":
		return StatusFilterSuccess
	case "failed":
		return StatusFilterFailed
	default:
		return StatusFilterAll
	}
}

// Interface 存储接口（统一所有存储实现）
type Interface interface {
	// Write 写入请求明细
	Write(record *types.OutcomeRecord)

	// Query 分页查询请求明细（支持 scenarioID 和 journey 过滤）
	Query(offset, limit int, statusFilter StatusFilter, scenarioID, journey string) ([]*types.OutcomeRecord, error)

	// Count 统计总数（支持 scenarioID 和 journey 过滤）
	Count(statusFilter StatusFilter, scenarioID, journey string) (int, error)

	// Close 关闭存储并释放资源
	Close() error

	// GetNodeID 获取节点ID
	GetNodeID() string
}
