/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 20:20:00
 * @FilePath: \go-swarm\web\server.go
 * @Description: 仪表盘契约 - REST + WebSocket 推送 + Prometheus 导出
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kamalyes/go-swarm/cluster"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/scenario"
	"github.com/kamalyes/go-swarm/storage"
	"github.com/kamalyes/go-swarm/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClusterView get_cluster() 的返回形态
type ClusterView struct {
	Self       *cluster.PeerRecord   `json:"self"`
	Peers      []*cluster.PeerRecord `json:"peers"`
	AliveCount int                   `json:"alive_count"`
	SelfIndex  int                   `json:"self_index"`
}

// NodeView 核心暴露给仪表盘子系统的窄接口
type NodeView interface {
	Cluster() ClusterView
	LocalSnapshot() *metrics.Snapshot
	ClusterSnapshot(ctx context.Context) (*metrics.ClusterSnapshot, error)
	StartScenario(name string) (string, error)
	StopScenario(id string)
	Scenarios() []scenario.Status
	Details(offset, limit int, filter storage.StatusFilter, scenarioID, journeyName string) ([]*types.OutcomeRecord, int, error)
	Exporter() *metrics.Exporter
}

// Server 仪表盘服务器
type Server struct {
	view   NodeView
	server *http.Server
	push   *pushHub
	port   int
	logger logger.ILogger
	cancel context.CancelFunc
}

// NewServer 创建仪表盘服务器
func NewServer(view NodeView, port int, log logger.ILogger) *Server {
	return &Server{
		view:   view,
		push:   newPushHub(view, log),
		port:   port,
		logger: log,
	}
}

// Start 启动服务器与 1 Hz 推送
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cluster", s.handleCluster)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/scenarios", s.handleScenarios)
	mux.HandleFunc("/api/scenarios/", s.handleScenarioByID)
	mux.HandleFunc("/api/details", s.handleDetails)
	mux.HandleFunc("/ws", s.push.handleWS)

	registry := prometheus.NewRegistry()
	registry.MustRegister(s.view.Exporter())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Infof("🌐 仪表盘服务启动: http://localhost:%d", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("仪表盘服务错误: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.push.start(ctx)

	return nil
}

// Stop 关闭服务器
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.push.closeAll()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return s.server.Close()
		}
	}
	return nil
}

// handleCluster GET /api/cluster
func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.view.Cluster())
}

// handleMetrics GET /api/metrics?scope=local|cluster
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "cluster" {
		snap, err := s.view.ClusterSnapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, snap)
		return
	}
	writeJSON(w, s.view.LocalSnapshot())
}

// handleScenarios GET 列表 / POST 启动
func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.view.Scenarios())
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := s.view.StartScenario(req.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"scenario_id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScenarioByID DELETE /api/scenarios/{id}
func (s *Server) handleScenarioByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/api/scenarios/"):]
	if id == "" {
		http.Error(w, "missing scenario id", http.StatusBadRequest)
		return
	}
	s.view.StopScenario(id)
	writeJSON(w, map[string]string{"status": "stopping"})
}

// handleDetails GET /api/details - 请求明细分页查询
func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	offset := 0
	if v := query.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := 100
	if v := query.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	filter := storage.ParseStatusFilter(query.Get("status"))
	records, total, err := s.view.Details(offset, limit, filter, query.Get("scenario_id"), query.Get("journey"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"total":   total,
		"offset":  offset,
		"limit":   limit,
		"records": records,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}
