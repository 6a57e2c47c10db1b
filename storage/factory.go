/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 17:00:00
 * @FilePath: \go-swarm\storage\factory.go
 * @Description: 存储工厂 - 按模式创建存储实例
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package storage

import (
	"fmt"

	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
)

// NewStorage 按模式创建存储实例。sqlite 模式下 path 为空时使用默认路径。
func NewStorage(mode types.StorageMode, path, nodeID string, log logger.ILogger) (Interface, error) {
	switch mode {
	case types.StorageModeMemory, "":
		return NewMemoryStorage(nodeID, log), nil
	case types.StorageModeSQLite:
		path = mathx.IfEmpty(path, fmt.Sprintf("./swarm-details-%s.db", types.ShortIdentity(nodeID)))
		return NewSQLiteStorage(path, nodeID, log)
	default:
		return nil, fmt.Errorf("unknown storage mode: %s", mode)
	}
}
