/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 23:00:00
 * @FilePath: \go-swarm\testserver\test_server.go
 * @Description: 测试目标服务器 - 演示场景的本地压测对象
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	UserID  string `json:"user_id"`
}

type UserInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

var port = flag.Int("port", 8080, "监听端口")

func main() {
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleIndex)
	mux.HandleFunc("/login", handleLogin)
	mux.HandleFunc("/users/", handleUser)
	mux.HandleFunc("/slow", handleSlow)
	mux.HandleFunc("/flaky", handleFlaky)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("🎯 测试目标服务器启动: http://localhost%s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
}

// handleIndex 基础探活端点
func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleLogin 登录端点 - 返回可供提取的 token
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{
		Success: true,
		Token:   uuid.New().String(),
		UserID:  "u-" + req.Username,
	})
}

// handleUser 用户查询端点
func handleUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/users/")
	if username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UserInfo{
		UserID:   "u-" + username,
		Username: username,
		Email:    username + "@example.com",
	})
}

// handleSlow 延迟端点 - ?ms=N 控制响应时间
func handleSlow(w http.ResponseWriter, r *http.Request) {
	ms := 100
	if v := r.URL.Query().Get("ms"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 && parsed <= 30000 {
			ms = parsed
		}
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"slept_ms": ms})
}

// handleFlaky 不稳定端点 - ?rate=0.3 控制失败概率
func handleFlaky(w http.ResponseWriter, r *http.Request) {
	rate := 0.3
	if v := r.URL.Query().Get("rate"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 && parsed <= 1 {
			rate = parsed
		}
	}

	if rand.Float64() < rate {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
