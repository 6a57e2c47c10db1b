/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 20:40:00
 * @FilePath: \go-swarm\web\push.go
 * @Description: WebSocket 推送通道 - 1 Hz 集群/指标/场景更新
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// pushEvent 推送事件信封
type pushEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pushHub WebSocket 客户端集合与 1 Hz 广播循环
type pushHub struct {
	view    NodeView
	clients map[*websocket.Conn]bool
	mu      *syncx.RWLock
	tasks   *syncx.PeriodicTaskManager
	logger  logger.ILogger
}

func newPushHub(view NodeView, log logger.ILogger) *pushHub {
	return &pushHub{
		view:    view,
		clients: make(map[*websocket.Conn]bool),
		mu:      syncx.NewRWLock(),
		tasks:   syncx.NewPeriodicTaskManager(),
		logger:  log,
	}
}

// handleWS 升级连接并登记客户端
func (h *pushHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnKV("WebSocket upgrade failed", "error", err)
		return
	}

	syncx.WithLock(h.mu, func() {
		h.clients[conn] = true
	})

	// 读循环只为感知断开
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *pushHub) drop(conn *websocket.Conn) {
	syncx.WithLock(h.mu, func() {
		delete(h.clients, conn)
	})
	conn.Close()
}

// start 启动 1 Hz 广播
func (h *pushHub) start(ctx context.Context) {
	task := syncx.NewPeriodicTask("dashboard-push", time.Second, func(taskCtx context.Context) error {
		h.broadcastAll()
		return nil
	}).SetOnError(func(name string, err error) {
		h.logger.WarnKV("Dashboard push error", "error", err)
	})

	h.tasks.AddTask(task)
	h.tasks.StartWithContext(ctx)
}

// broadcastAll 推送三类更新事件
func (h *pushHub) broadcastAll() {
	if h.count() == 0 {
		return
	}
	h.broadcast(pushEvent{Type: "cluster_update", Data: h.view.Cluster()})
	h.broadcast(pushEvent{Type: "metrics_update", Data: h.view.LocalSnapshot()})
	h.broadcast(pushEvent{Type: "scenarios_update", Data: h.view.Scenarios()})
}

func (h *pushHub) count() int {
	return syncx.WithRLockReturnValue(h.mu, func() int {
		return len(h.clients)
	})
}

// broadcast 逐客户端写出；写失败的客户端摘除
func (h *pushHub) broadcast(event pushEvent) {
	conns := syncx.WithRLockReturnValue(h.mu, func() []*websocket.Conn {
		out := make([]*websocket.Conn, 0, len(h.clients))
		for c := range h.clients {
			out = append(out, c)
		}
		return out
	})

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			h.drop(conn)
		}
	}
}

// closeAll 关闭全部客户端连接
func (h *pushHub) closeAll() {
	conns := syncx.WithRLockReturnValue(h.mu, func() []*websocket.Conn {
		out := make([]*websocket.Conn, 0, len(h.clients))
		for c := range h.clients {
			out = append(out, c)
		}
		return out
	})
	for _, conn := range conns {
		h.drop(conn)
	}
}
