/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 15:05:00
 * @FilePath: \go-swarm\journey\verify.go
 * @Description: 响应验证与变量提取 - 复用 go-toolbox/validator 与 jsonpath
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"encoding/json"
	"fmt"

	"github.com/kamalyes/go-toolbox/pkg/validator"
	"github.com/oliveagle/jsonpath"
)

// VerifyType 验证类型
type VerifyType string

const (
	VerifyStatusCode VerifyType = "STATUS_CODE"
	VerifyJSONPath   VerifyType = "JSONPATH"
	VerifyContains   VerifyType = "CONTAINS"
	VerifyRegex      VerifyType = "REGEX"
)

// VerifyRule 单条验证规则
type VerifyRule struct {
	Type     VerifyType                `json:"type"`
	Expect   interface{}               `json:"expect,omitempty"`
	JSONPath string                    `json:"jsonpath,omitempty"`
	Operator validator.CompareOperator `json:"operator,omitempty"`
}

// Check 对响应执行验证，失败时返回错误
func (r *VerifyRule) Check(statusCode int, body []byte) error {
	operator := r.Operator
	if operator == "" {
		operator = validator.OpEqual
	}

	switch r.Type {
	case VerifyStatusCode:
		expected := 200
		switch exp := r.Expect.(type) {
		case int:
			expected = exp
		case float64: // JSON 解析的数字
			expected = int(exp)
		}
		result := validator.ValidateStatusCode(statusCode, expected, operator)
		if !result.Success {
			return fmt.Errorf("status code verify failed: %s", result.Message)
		}
		return nil

	case VerifyJSONPath:
		var result validator.CompareResult
		if r.Expect != nil {
			result = validator.ValidateJSONPath(body, r.JSONPath, r.Expect, operator)
		} else {
			result = validator.ValidateJSONPathExists(body, r.JSONPath)
		}
		if !result.Success {
			return fmt.Errorf("jsonpath verify failed: %s", result.Message)
		}
		return nil

	case VerifyContains:
		expected, ok := r.Expect.(string)
		if !ok {
			return fmt.Errorf("contains verify requires string expect, got %T", r.Expect)
		}
		result := validator.ValidateContains(body, expected)
		if !result.Success {
			return fmt.Errorf("contains verify failed: %s", result.Message)
		}
		return nil

	case VerifyRegex:
		pattern, ok := r.Expect.(string)
		if !ok {
			return fmt.Errorf("regex verify requires string pattern, got %T", r.Expect)
		}
		result := validator.ValidateRegex(body, pattern)
		if !result.Success {
			return fmt.Errorf("regex verify failed: %s", result.Message)
		}
		return nil

	default:
		return nil
	}
}

// ExtractRule 响应变量提取规则（后续步骤可用 {{name}} 引用）
type ExtractRule struct {
	Name string `json:"name"`
	Path string `json:"path"` // jsonpath 表达式
}

// Extract 从 JSON 响应体提取变量
func (r *ExtractRule) Extract(body []byte) (string, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("extract %s: response not JSON: %w", r.Name, err)
	}
	result, err := jsonpath.JsonPathLookup(data, r.Path)
	if err != nil {
		return "", fmt.Errorf("extract %s at %s: %w", r.Name, r.Path, err)
	}
	return fmt.Sprintf("%v", result), nil
}
