/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-04 21:40:00
 * @FilePath: \go-swarm\transport\frame.go
 * @Description: 长度前缀二进制帧编解码 (u32 length | u8 kind | payload)
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kamalyes/go-swarm/types"
)

// DefaultMaxFrameSize 单帧默认上限（防御恶意节点）
const DefaultMaxFrameSize = 10 * 1024 * 1024

// Frame 传输帧。Payload 为自描述的 JSON 序列化映射。
type Frame struct {
	Kind    types.FrameKind
	Payload []byte
}

// NewFrame 编码任意负载构建帧
func NewFrame(kind types.FrameKind, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Kind: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: data}, nil
}

// Decode 解码帧负载到目标结构
func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Kind, err)
	}
	return nil
}

// WriteFrame 写出一帧: u32 大端长度 (kind+payload) | u8 kind | payload
func WriteFrame(w io.Writer, f Frame) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(1+len(f.Payload)))
	header[4] = byte(f.Kind)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame 读取一帧，超过 maxSize 或 kind 不在协议范围时报错
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length == 0 {
		return Frame{}, fmt.Errorf("zero-length frame")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if int(length) > maxSize {
		return Frame{}, fmt.Errorf("frame too large: %d > %d", length, maxSize)
	}

	kind := types.FrameKind(header[4])
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("unknown frame kind: %d", header[4])
	}

	payload := make([]byte, length-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Kind: kind, Payload: payload}, nil
}

// HelloPayload HELLO / HELLO_ACK 握手负载
type HelloPayload struct {
	Identity   string   `json:"identity"`
	ListenAddr string   `json:"listen_addr"`
	Version    string   `json:"version"`
	Features   []string `json:"features,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	StartedAt  int64    `json:"started_at"`
}

// HelloAckPayload 握手应答
type HelloAckPayload struct {
	Identity   string `json:"identity"`
	ListenAddr string `json:"listen_addr"`
	Version    string `json:"version"`
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
}

// PingPayload PING / PONG 负载
type PingPayload struct {
	Nonce    uint64 `json:"nonce"`
	SentUnix int64  `json:"sent_unix"`
}

// ByePayload 优雅下线通知
type ByePayload struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason,omitempty"`
}

// VersionMajor 提取版本号主位（"1.0.0" -> "1"）
func VersionMajor(version string) string {
	for i := 0; i < len(version); i++ {
		if version[i] == '.' {
			return version[:i]
		}
	}
	return version
}
