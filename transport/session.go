/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-04 22:05:00
 * @FilePath: \go-swarm\transport\session.go
 * @Description: 会话 - 读写双泵 + 有界收发队列
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// Session 对等节点会话。每个对端至多存在一个。
// 读写两侧各自运行一个 goroutine，经由有界队列衔接。
type Session struct {
	peerID     string // 对端节点标识（握手后填充）
	remoteAddr string // 对端监听地址 (host:port)
	outbound   bool   // 本端是否为拨号方
	conn       net.Conn

	sendQueue chan Frame
	closed    *syncx.Bool
	done      chan struct{}

	controlTimeout time.Duration
	maxFrameSize   int

	// 队列高水位丢帧计数（普通帧丢弃时回调）
	onDrop func(kind types.FrameKind)
}

// newSession 创建会话（由 Manager 在握手完成后调用）
func newSession(conn net.Conn, peerID, remoteAddr string, outbound bool, queueSize int, controlTimeout time.Duration, maxFrameSize int, onDrop func(types.FrameKind)) *Session {
	return &Session{
		peerID:         peerID,
		remoteAddr:     remoteAddr,
		outbound:       outbound,
		conn:           conn,
		sendQueue:      make(chan Frame, queueSize),
		closed:         syncx.NewBool(false),
		done:           make(chan struct{}),
		controlTimeout: controlTimeout,
		maxFrameSize:   maxFrameSize,
		onDrop:         onDrop,
	}
}

// PeerID 对端节点标识
func (s *Session) PeerID() string {
	return s.peerID
}

// RemoteAddr 对端监听地址
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Send 非阻塞投递一帧。队列到达高水位时丢弃并计数。
// CONTROL 帧例外：允许阻塞至 controlTimeout，超时视为会话故障。
func (s *Session) Send(f Frame) error {
	if s.closed.Load() {
		return fmt.Errorf("session to %s closed", types.ShortIdentity(s.peerID))
	}

	if f.Kind == types.FrameControl {
		timer := time.NewTimer(s.controlTimeout)
		defer timer.Stop()
		select {
		case s.sendQueue <- f:
			return nil
		case <-s.done:
			return fmt.Errorf("session to %s closed", types.ShortIdentity(s.peerID))
		case <-timer.C:
			s.Close()
			return fmt.Errorf("control send to %s timed out after %v", types.ShortIdentity(s.peerID), s.controlTimeout)
		}
	}

	select {
	case s.sendQueue <- f:
		return nil
	case <-s.done:
		return fmt.Errorf("session to %s closed", types.ShortIdentity(s.peerID))
	default:
		if s.onDrop != nil {
			s.onDrop(f.Kind)
		}
		return nil
	}
}

// writeLoop 发送泵：串行写出队列中的帧
func (s *Session) writeLoop(onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.sendQueue:
			if err := WriteFrame(s.conn, f); err != nil {
				s.Close()
				if onError != nil {
					onError(err)
				}
				return
			}
		}
	}
}

// readLoop 接收泵：逐帧读取并分发
func (s *Session) readLoop(onFrame func(Frame), onError func(error)) {
	for {
		f, err := ReadFrame(s.conn, s.maxFrameSize)
		if err != nil {
			s.Close()
			if onError != nil {
				onError(err)
			}
			return
		}
		onFrame(f)
	}
}

// Close 关闭会话（幂等）
func (s *Session) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
}

// Closed 会话是否已关闭
func (s *Session) Closed() bool {
	return s.closed.Load()
}
