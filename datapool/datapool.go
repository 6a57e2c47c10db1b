/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 14:00:00
 * @FilePath: \go-swarm\datapool\datapool.go
 * @Description: 数据池 - journey 行数据的线程安全供给
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package datapool

import (
	"fmt"

	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// Pool 行数据供给接口。Next 的交付是原子的：
// 两个 runner 同时请求时每行至多交付一次。
type Pool interface {
	// Next 取下一行；池耗尽时第二个返回值为 false
	Next() (string, bool)

	// Close 关闭池并释放底层资源
	Close() error
}

// Kind 数据池变体
type Kind string

const (
	KindInMemoryOnce    Kind = "in_memory_once"
	KindInMemoryRecycle Kind = "in_memory_recycle"
	KindFileOnce        Kind = "file_once"
	KindFileRecycle     Kind = "file_recycle"
)

// Descriptor 数据池描述符（场景描述符的一部分）
type Descriptor struct {
	Kind Kind     `json:"kind"`
	Rows []string `json:"rows,omitempty"`
	Path string   `json:"path,omitempty"`
}

// Build 依据描述符构建数据池实例
func (d *Descriptor) Build(channelCapacity int) (Pool, error) {
	switch d.Kind {
	case KindInMemoryOnce:
		return NewInMemoryOnce(d.Rows), nil
	case KindInMemoryRecycle:
		return NewInMemoryRecycle(d.Rows), nil
	case KindFileOnce:
		return NewFilePool(d.Path, false, channelCapacity)
	case KindFileRecycle:
		return NewFilePool(d.Path, true, channelCapacity)
	default:
		return nil, fmt.Errorf("unknown datapool kind: %s", d.Kind)
	}
}

// memoryPool 内存数据池（once / recycle 共用）
type memoryPool struct {
	rows    []string
	index   int
	recycle bool
	closed  bool
	mu      syncx.Locker
}

// NewInMemoryOnce 有限池：每行全局（本节点内）至多交付一次，耗尽即止
func NewInMemoryOnce(rows []string) Pool {
	return &memoryPool{rows: rows, mu: syncx.NewLock()}
}

// NewInMemoryRecycle 循环池：按 FIFO 顺序无限循环
func NewInMemoryRecycle(rows []string) Pool {
	return &memoryPool{rows: rows, recycle: true, mu: syncx.NewLock()}
}

func (m *memoryPool) Next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || len(m.rows) == 0 {
		return "", false
	}
	if m.index >= len(m.rows) {
		if !m.recycle {
			return "", false
		}
		m.index = 0
	}
	row := m.rows[m.index]
	m.index++
	return row, true
}

func (m *memoryPool) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
