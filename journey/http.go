/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 15:30:00
 * @FilePath: \go-swarm\journey\http.go
 * @Description: 内置 HTTP journey - 多步请求、验证、变量提取
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kamalyes/go-swarm/types"
)

// HTTPStep 一次 HTTP 交互
type HTTPStep struct {
	Label   string            `json:"label"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Verify  []VerifyRule      `json:"verify,omitempty"`
	Extract []ExtractRule     `json:"extract,omitempty"`
}

// HTTPJourney 多步 HTTP 旅程。步骤串行执行；
// 步骤间可通过提取变量传递数据（{{name}} 占位符），
// 数据池行以 {{row}} 引用。
type HTTPJourney struct {
	JourneyName string
	Steps       []HTTPStep
	Client      *http.Client
}

// NewHTTPJourney 创建 HTTP 旅程
func NewHTTPJourney(name string, steps ...HTTPStep) *HTTPJourney {
	return &HTTPJourney{
		JourneyName: name,
		Steps:       steps,
		Client:      &http.Client{},
	}
}

func (j *HTTPJourney) Name() string {
	return j.JourneyName
}

// Execute 执行一轮旅程。每步一个结果；请求被取消时提前返回。
func (j *HTTPJourney) Execute(ctx *Context, row string) ([]types.Outcome, error) {
	vars := map[string]string{"row": row}
	outcomes := make([]types.Outcome, 0, len(j.Steps))

	for i := range j.Steps {
		if ctx.Cancelled() {
			return outcomes, ctx.Ctx.Err()
		}

		step := &j.Steps[i]
		outcome := j.runStep(ctx, step, vars)
		outcomes = append(outcomes, outcome)

		if outcome.Status == types.OutcomeError && outcome.ErrorKind == "HTTPTimeout" {
			// 超时作为结果记账，不中断旅程（由用户旅程决定是否传播）
			continue
		}
	}

	return outcomes, nil
}

// runStep 执行单步：模板展开、请求、验证、提取
func (j *HTTPJourney) runStep(ctx *Context, step *HTTPStep, vars map[string]string) types.Outcome {
	outcome := types.Outcome{Label: step.Label, Status: types.OutcomeOK}

	url := expandVars(step.URL, vars)
	body := expandVars(step.Body, vars)
	method := step.Method
	if method == "" {
		method = http.MethodGet
	}
	outcome.Method = method
	outcome.URL = url

	timeout := ctx.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx.Ctx, timeout)
	defer cancel()

	started := time.Now()
	statusCode, respBody, err := j.doRequest(reqCtx, method, url, step.Headers, body, vars)
	outcome.Duration = time.Since(started)
	outcome.StatusCode = statusCode

	if err != nil {
		outcome.Status = types.OutcomeError
		outcome.ErrorKind = classifyHTTPError(err)
	} else {
		for i := range step.Verify {
			if verr := step.Verify[i].Check(statusCode, respBody); verr != nil {
				outcome.Status = types.OutcomeError
				outcome.ErrorKind = "VerifyFailed"
				break
			}
		}
		for i := range step.Extract {
			if value, xerr := step.Extract[i].Extract(respBody); xerr == nil {
				vars[step.Extract[i].Name] = value
			}
		}
	}

	return outcome
}

// doRequest 发出请求并读取响应体
func (j *HTTPJourney) doRequest(ctx context.Context, method, url string, headers map[string]string, body string, vars map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, expandVars(v, vars))
	}

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// expandVars 展开 {{name}} 占位符
func expandVars(text string, vars map[string]string) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}

// classifyHTTPError 归类请求错误
func classifyHTTPError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return "HTTPTimeout"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "ConnectionError"
	}
}
