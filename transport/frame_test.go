/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 23:20:00
 * @FilePath: \go-swarm\transport\frame_test.go
 * @Description: 帧编解码测试
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kamalyes/go-swarm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundtrip 测试帧编解码往返
func TestFrameRoundtrip(t *testing.T) {
	frame, err := NewFrame(types.FrameHello, HelloPayload{
		Identity:   "abc123",
		ListenAddr: "127.0.0.1:42042",
		Version:    types.ProtocolVersion,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	decoded, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, types.FrameHello, decoded.Kind)

	var hello HelloPayload
	require.NoError(t, decoded.Decode(&hello))
	assert.Equal(t, "abc123", hello.Identity)
	assert.Equal(t, "127.0.0.1:42042", hello.ListenAddr)
}

// TestFrameEmptyPayload 测试空负载帧
func TestFrameEmptyPayload(t *testing.T) {
	frame := Frame{Kind: types.FramePong}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	decoded, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, types.FramePong, decoded.Kind)
	assert.Empty(t, decoded.Payload)
}

// TestFrameTooLarge 测试超长帧被拒绝
func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], 1024*1024)
	header[4] = byte(types.FrameGossip)
	buf.Write(header[:])

	_, err := ReadFrame(&buf, 1024)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
}

// TestFrameUnknownKind 测试未知帧类型被拒绝
func TestFrameUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], 1)
	header[4] = 200
	buf.Write(header[:])

	_, err := ReadFrame(&buf, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown frame kind")
}

// TestFrameZeroLength 测试零长度帧被拒绝
func TestFrameZeroLength(t *testing.T) {
	var buf bytes.Buffer
	var header [5]byte
	buf.Write(header[:])

	_, err := ReadFrame(&buf, 0)
	assert.Error(t, err)
}

// TestVersionMajor 测试主版本号提取
func TestVersionMajor(t *testing.T) {
	assert.Equal(t, "1", VersionMajor("1.0.0"))
	assert.Equal(t, "2", VersionMajor("2.13.4"))
	assert.Equal(t, "3", VersionMajor("3"))
}

// TestFrameKindString 测试帧类型字符串
func TestFrameKindString(t *testing.T) {
	assert.Equal(t, "HELLO", types.FrameHello.String())
	assert.Equal(t, "SNAPSHOT_RESP", types.FrameSnapshotResp.String())
	assert.True(t, types.FrameBye.Valid())
	assert.False(t, types.FrameKind(0).Valid())
	assert.False(t, types.FrameKind(99).Valid())
}
