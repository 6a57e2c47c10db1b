/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 00:30:00
 * @FilePath: \go-swarm\cluster\recent_test.go
 * @Description: 控制消息去重集合测试
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRecentSetDedup 测试重复消息判定
func TestRecentSetDedup(t *testing.T) {
	rs := newRecentSet(64, time.Minute)

	assert.False(t, rs.Seen("msg-1"))
	assert.True(t, rs.Seen("msg-1"))
	assert.False(t, rs.Seen("msg-2"))
	assert.True(t, rs.Seen("msg-2"))
	assert.True(t, rs.Seen("msg-1"))
}

// TestRecentSetTTL 测试过期条目不再判重
func TestRecentSetTTL(t *testing.T) {
	rs := newRecentSet(64, 10*time.Millisecond)

	assert.False(t, rs.Seen("msg-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, rs.Seen("msg-1"))
}

// TestRecentSetEviction 测试容量满时淘汰最旧条目
func TestRecentSetEviction(t *testing.T) {
	rs := newRecentSet(4, time.Minute)

	for i := 0; i < 8; i++ {
		rs.Seen(fmt.Sprintf("msg-%d", i))
	}

	assert.LessOrEqual(t, rs.Len(), 4)
	// 最早的条目已被淘汰，重新插入视为新消息
	assert.False(t, rs.Seen("msg-0"))
	// 最新条目仍在
	assert.True(t, rs.Seen("msg-7"))
}
