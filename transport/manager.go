/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 09:20:00
 * @FilePath: \go-swarm\transport\manager.go
 * @Description: 会话管理 - 监听、懒拨号、握手、重复会话仲裁、指数退避重连
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kamalyes/go-swarm/config"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/osx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// ErrBind 监听失败（main 据此返回退出码 2）
var ErrBind = errors.New("bind failed")

// ErrNoSession 目标节点当前没有会话
var ErrNoSession = errors.New("no session")

// ErrIdentityCollision 对端与本节点标识冲突
var ErrIdentityCollision = errors.New("identity collision")

const handshakeTimeout = 5 * time.Second

// Manager 传输管理器。按节点标识索引会话，地址只在拨号时使用，
// 避免会话生命周期与节点记录互相耦合。
type Manager struct {
	identity   string
	listenAddr string
	startedAt  int64

	cfg *config.NodeConfig
	col *metrics.Collector
	log logger.ILogger

	listener net.Listener
	sessions *syncx.Map[string, *Session]
	dialing  *syncx.Map[string, bool] // identity/addr -> 正在重连

	closed *syncx.Bool

	// 回调（由 Node 装配）
	OnFrame           func(peerID string, f Frame)
	OnPeerUp          func(hello HelloPayload)
	OnPeerDown        func(peerID string, err error)
	OnHandshakeReject func(identity string, reason string)
}

// NewManager 创建传输管理器
func NewManager(identity, listenAddr string, cfg *config.NodeConfig, col *metrics.Collector, log logger.ILogger) *Manager {
	return &Manager{
		identity:   identity,
		listenAddr: listenAddr,
		startedAt:  time.Now().Unix(),
		cfg:        cfg,
		col:        col,
		log:        log,
		sessions:   syncx.NewMap[string, *Session](),
		dialing:    syncx.NewMap[string, bool](),
		closed:     syncx.NewBool(false),
	}
}

// ListenAddr 本节点对外公布的监听地址
func (m *Manager) ListenAddr() string {
	return m.listenAddr
}

// Start 绑定端口并启动 accept 循环
func (m *Manager) Start() error {
	ln, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, m.listenAddr, err)
	}
	m.listener = ln

	syncx.Go().
		OnPanic(func(r interface{}) {
			m.log.ErrorKV("Accept loop panicked", "panic", r)
		}).
		Exec(m.acceptLoop)

	m.log.InfoKV("Transport listening", "addr", m.listenAddr, "identity", types.ShortIdentity(m.identity))
	return nil
}

// acceptLoop 接受入站连接
func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.closed.Load() {
				return
			}
			m.log.WarnKV("Accept failed", "error", err)
			continue
		}

		syncx.Go().
			OnPanic(func(r interface{}) {
				m.log.ErrorKV("Inbound handshake panicked", "panic", r)
			}).
			Exec(func() {
				m.handshakeInbound(conn)
			})
	}
}

// helloPayload 构建本端握手负载
func (m *Manager) helloPayload() HelloPayload {
	return HelloPayload{
		Identity:   m.identity,
		ListenAddr: m.listenAddr,
		Version:    types.ProtocolVersion,
		Hostname:   osx.SafeGetHostName(),
		StartedAt:  m.startedAt,
	}
}

// handshakeInbound 被动握手：读 HELLO，校验后回 HELLO_ACK
func (m *Manager) handshakeInbound(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	f, err := ReadFrame(conn, m.cfg.MaxFrameSize)
	if err != nil || f.Kind != types.FrameHello {
		conn.Close()
		return
	}

	var hello HelloPayload
	if err := f.Decode(&hello); err != nil {
		conn.Close()
		return
	}

	if reason := m.rejectReason(hello); reason != "" {
		m.sendAck(conn, false, reason)
		conn.Close()
		if m.OnHandshakeReject != nil && hello.Identity != m.identity {
			m.OnHandshakeReject(hello.Identity, reason)
		}
		m.log.WarnKV("Rejected inbound handshake",
			"peer", types.ShortIdentity(hello.Identity),
			"reason", reason)
		return
	}

	if err := m.sendAck(conn, true, ""); err != nil {
		conn.Close()
		return
	}

	conn.SetDeadline(time.Time{})
	m.register(conn, hello, false)
}

// sendAck 写出握手应答
func (m *Manager) sendAck(conn net.Conn, accepted bool, reason string) error {
	ack, err := NewFrame(types.FrameHelloAck, HelloAckPayload{
		Identity:   m.identity,
		ListenAddr: m.listenAddr,
		Version:    types.ProtocolVersion,
		Accepted:   accepted,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	return WriteFrame(conn, ack)
}

// rejectReason 校验对端握手负载，返回空串表示接受
func (m *Manager) rejectReason(hello HelloPayload) string {
	if hello.Identity == "" {
		return "empty identity"
	}
	if hello.Identity == m.identity {
		return "identity collision"
	}
	if VersionMajor(hello.Version) != VersionMajor(types.ProtocolVersion) {
		return fmt.Sprintf("version mismatch: %s vs %s", hello.Version, types.ProtocolVersion)
	}
	return ""
}

// Connect 主动握手：拨号、发 HELLO、等待 HELLO_ACK
func (m *Manager) Connect(addr string) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	helloFrame, err := NewFrame(types.FrameHello, m.helloPayload())
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := WriteFrame(conn, helloFrame); err != nil {
		conn.Close()
		return nil, err
	}

	ackFrame, err := ReadFrame(conn, m.cfg.MaxFrameSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ackFrame.Kind != types.FrameHelloAck {
		conn.Close()
		return nil, fmt.Errorf("expected HELLO_ACK, got %s", ackFrame.Kind)
	}

	var ack HelloAckPayload
	if err := ackFrame.Decode(&ack); err != nil {
		conn.Close()
		return nil, err
	}
	if !ack.Accepted {
		conn.Close()
		return nil, fmt.Errorf("handshake rejected by %s: %s", addr, ack.Reason)
	}
	if ack.Identity == m.identity {
		conn.Close()
		return nil, ErrIdentityCollision
	}
	if VersionMajor(ack.Version) != VersionMajor(types.ProtocolVersion) {
		conn.Close()
		if m.OnHandshakeReject != nil {
			m.OnHandshakeReject(ack.Identity, "version mismatch")
		}
		return nil, fmt.Errorf("version mismatch with %s", addr)
	}

	conn.SetDeadline(time.Time{})
	return m.register(conn, HelloPayload{
		Identity:   ack.Identity,
		ListenAddr: ack.ListenAddr,
		Version:    ack.Version,
	}, true), nil
}

// register 注册会话并启动读写泵；同一对端出现重复会话时，
// 由较小标识一方发起的会话胜出，另一条被关闭。
func (m *Manager) register(conn net.Conn, hello HelloPayload, outbound bool) *Session {
	peerID := hello.Identity
	sess := newSession(conn, peerID, hello.ListenAddr, outbound,
		m.cfg.QueueHighWatermark, m.cfg.ControlSendTimeout, m.cfg.MaxFrameSize,
		func(kind types.FrameKind) {
			m.col.Inc("swarm_transport_dropped_frames_total", metrics.Labels{"kind": kind.String()}, 1)
		})

	if existing, ok := m.sessions.Load(peerID); ok && !existing.Closed() {
		// 胜者：由较小标识一方拨出的会话
		dialerIsLocal := m.identity < peerID
		newWins := (outbound == dialerIsLocal) && (existing.outbound != outbound)
		if !newWins {
			m.log.DebugKV("Duplicate session dropped",
				"peer", types.ShortIdentity(peerID), "outbound", outbound)
			sess.Close()
			return existing
		}
		m.log.DebugKV("Duplicate session replaced",
			"peer", types.ShortIdentity(peerID), "outbound", outbound)
		existing.Close()
	}

	m.sessions.Store(peerID, sess)

	syncx.Go().OnPanic(func(r interface{}) {
		m.log.ErrorKV("Session write loop panicked", "panic", r)
	}).Exec(func() {
		sess.writeLoop(func(err error) { m.sessionDown(sess, err) })
	})

	syncx.Go().OnPanic(func(r interface{}) {
		m.log.ErrorKV("Session read loop panicked", "panic", r)
	}).Exec(func() {
		sess.readLoop(func(f Frame) {
			if m.OnFrame != nil {
				m.OnFrame(peerID, f)
			}
		}, func(err error) { m.sessionDown(sess, err) })
	})

	m.log.InfoKV("Session established",
		"peer", types.ShortIdentity(peerID),
		"addr", hello.ListenAddr,
		"outbound", outbound)

	if m.OnPeerUp != nil {
		m.OnPeerUp(hello)
	}
	return sess
}

// sessionDown 会话故障处理：移除并通知上层
func (m *Manager) sessionDown(sess *Session, err error) {
	if cur, ok := m.sessions.Load(sess.peerID); ok && cur == sess {
		m.sessions.Delete(sess.peerID)
	}
	if m.closed.Load() {
		return
	}
	m.col.Inc("swarm_transport_session_errors_total", nil, 1)
	if m.OnPeerDown != nil {
		m.OnPeerDown(sess.peerID, err)
	}
}

// Send 向指定节点发送一帧
func (m *Manager) Send(peerID string, f Frame) error {
	sess, ok := m.sessions.Load(peerID)
	if !ok || sess.Closed() {
		return fmt.Errorf("%w: %s", ErrNoSession, types.ShortIdentity(peerID))
	}
	return sess.Send(f)
}

// HasSession 是否已有到指定节点的健康会话
func (m *Manager) HasSession(peerID string) bool {
	sess, ok := m.sessions.Load(peerID)
	return ok && !sess.Closed()
}

// EnsureSession 确保到 (identity, addr) 的会话存在；
// 不存在时后台拨号，指数退避（基准 500ms、上限 30s、全抖动），
// 直到成功或管理器关闭。
func (m *Manager) EnsureSession(peerID, addr string) {
	if peerID == m.identity || addr == "" {
		return
	}
	if m.HasSession(peerID) {
		return
	}
	if _, loaded := m.dialing.LoadOrStore(peerID, true); loaded {
		return
	}

	syncx.Go().
		OnPanic(func(r interface{}) {
			m.log.ErrorKV("Reconnect loop panicked", "panic", r)
		}).
		Exec(func() {
			defer m.dialing.Delete(peerID)

			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = m.cfg.ReconnectBaseDelay
			bo.MaxInterval = m.cfg.ReconnectMaxDelay
			bo.RandomizationFactor = 1 // 全抖动
			bo.MaxElapsedTime = 0

			for !m.closed.Load() && !m.HasSession(peerID) {
				if _, err := m.Connect(addr); err == nil {
					return
				} else if errors.Is(err, ErrIdentityCollision) {
					m.log.ErrorKV("Identity collision during reconnect", "addr", addr)
					return
				} else {
					m.log.DebugKV("Reconnect attempt failed",
						"peer", types.ShortIdentity(peerID), "addr", addr, "error", err)
				}
				time.Sleep(bo.NextBackOff())
			}
		})
}

// Broadcast 尽力向给定节点集合发送同一帧
func (m *Manager) Broadcast(peerIDs []string, f Frame) {
	for _, id := range peerIDs {
		if err := m.Send(id, f); err != nil {
			m.log.DebugKV("Broadcast send failed", "peer", types.ShortIdentity(id), "error", err)
		}
	}
}

// Close 关闭监听与全部会话，先尽力发送 BYE
func (m *Manager) Close() {
	if !m.closed.CAS(false, true) {
		return
	}

	bye, err := NewFrame(types.FrameBye, ByePayload{Identity: m.identity, Reason: "shutdown"})
	if err == nil {
		m.sessions.Range(func(id string, sess *Session) bool {
			_ = sess.Send(bye)
			return true
		})
		// 留给发送泵一点冲刷时间
		time.Sleep(100 * time.Millisecond)
	}

	if m.listener != nil {
		m.listener.Close()
	}
	m.sessions.Range(func(id string, sess *Session) bool {
		sess.Close()
		return true
	})
}
