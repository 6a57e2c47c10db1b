/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-06 04:40:00
 * @FilePath: \go-swarm\journey\http_test.go
 * @Description: 内置 HTTP journey 测试
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPTestContext() *Context {
	return &Context{
		Ctx:            context.Background(),
		ScenarioID:     "sc-1",
		ScenarioName:   "test",
		JourneyName:    "http",
		NodeIdentity:   "node-1",
		Metrics:        metrics.NewCollector(),
		RequestTimeout: 2 * time.Second,
	}
}

// TestHTTPJourneySingleStep 测试单步 GET 与状态码验证
func TestHTTPJourneySingleStep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	j := NewHTTPJourney("single",
		HTTPStep{
			Label:  "home",
			Method: "GET",
			URL:    srv.URL + "/",
			Verify: []VerifyRule{{Type: VerifyStatusCode, Expect: 200}},
		},
	)

	outcomes, err := j.Execute(newHTTPTestContext(), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OutcomeOK, outcomes[0].Status)
	assert.Equal(t, 200, outcomes[0].StatusCode)
	assert.Equal(t, "home", outcomes[0].Label)
	assert.Equal(t, "2xx", outcomes[0].StatusClass())
}

// TestHTTPJourneyRowTemplating 测试数据池行模板展开
func TestHTTPJourneyRowTemplating(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	j := NewHTTPJourney("rows",
		HTTPStep{Label: "lookup", Method: "GET", URL: srv.URL + "/users/{{row}}"},
	)

	_, err := j.Execute(newHTTPTestContext(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "/users/alice", gotPath)
}

// TestHTTPJourneyExtractChain 测试步骤间变量提取与传递
func TestHTTPJourneyExtractChain(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	j := NewHTTPJourney("chain",
		HTTPStep{
			Label:   "login",
			Method:  "POST",
			URL:     srv.URL + "/login",
			Body:    `{"username":"{{row}}"}`,
			Extract: []ExtractRule{{Name: "token", Path: "$.token"}},
			Verify:  []VerifyRule{{Type: VerifyJSONPath, JSONPath: "$.token"}},
		},
		HTTPStep{
			Label:   "profile",
			Method:  "GET",
			URL:     srv.URL + "/profile",
			Headers: map[string]string{"Authorization": "Bearer {{token}}"},
		},
	)

	outcomes, err := j.Execute(newHTTPTestContext(), "alice")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, types.OutcomeOK, outcomes[0].Status)
	assert.Equal(t, types.OutcomeOK, outcomes[1].Status)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

// TestHTTPJourneyVerifyFailure 测试验证失败产生错误结果
func TestHTTPJourneyVerifyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	j := NewHTTPJourney("failing",
		HTTPStep{
			Label:  "home",
			Method: "GET",
			URL:    srv.URL + "/",
			Verify: []VerifyRule{{Type: VerifyStatusCode, Expect: 200}},
		},
	)

	outcomes, err := j.Execute(newHTTPTestContext(), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OutcomeError, outcomes[0].Status)
	assert.Equal(t, "VerifyFailed", outcomes[0].ErrorKind)
	assert.Equal(t, "5xx", outcomes[0].StatusClass())
}

// TestHTTPJourneyTimeout 测试请求超时作为错误结果记账
func TestHTTPJourneyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx := newHTTPTestContext()
	ctx.RequestTimeout = 50 * time.Millisecond

	j := NewHTTPJourney("slow",
		HTTPStep{Label: "slow", Method: "GET", URL: srv.URL + "/"},
	)

	outcomes, err := j.Execute(ctx, "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OutcomeError, outcomes[0].Status)
	assert.Equal(t, "HTTPTimeout", outcomes[0].ErrorKind)
}

// TestHTTPJourneyCancellation 测试取消信号提前返回
func TestHTTPJourneyCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	ctx := newHTTPTestContext()
	ctx.Ctx = cancelled

	j := NewHTTPJourney("cancelled",
		HTTPStep{Label: "a", Method: "GET", URL: srv.URL + "/"},
		HTTPStep{Label: "b", Method: "GET", URL: srv.URL + "/"},
	)

	outcomes, err := j.Execute(ctx, "")
	assert.Error(t, err)
	assert.Empty(t, outcomes)
}

// TestVerifyRules 测试验证规则
func TestVerifyRules(t *testing.T) {
	body := []byte(`{"user":{"name":"alice"},"count":3}`)

	assert.NoError(t, (&VerifyRule{Type: VerifyStatusCode, Expect: 200}).Check(200, body))
	assert.Error(t, (&VerifyRule{Type: VerifyStatusCode, Expect: 200}).Check(500, body))
	assert.NoError(t, (&VerifyRule{Type: VerifyContains, Expect: "alice"}).Check(200, body))
	assert.Error(t, (&VerifyRule{Type: VerifyContains, Expect: "bob"}).Check(200, body))
	assert.NoError(t, (&VerifyRule{Type: VerifyRegex, Expect: `"count":\d+`}).Check(200, body))
	assert.NoError(t, (&VerifyRule{Type: VerifyJSONPath, JSONPath: "$.user.name", Expect: "alice"}).Check(200, body))
}

// TestExtractRule 测试 jsonpath 提取
func TestExtractRule(t *testing.T) {
	body := []byte(`{"data":{"id":42}}`)

	value, err := (&ExtractRule{Name: "id", Path: "$.data.id"}).Extract(body)
	require.NoError(t, err)
	assert.Equal(t, "42", value)

	_, err = (&ExtractRule{Name: "x", Path: "$.missing.path"}).Extract(body)
	assert.Error(t, err)

	_, err = (&ExtractRule{Name: "x", Path: "$.data.id"}).Extract([]byte("not json"))
	assert.Error(t, err)
}
