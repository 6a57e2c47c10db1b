/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-02 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-02 10:00:00
 * @FilePath: \go-swarm\logger\logger.go
 * @Description: go-swarm 日志接口，直接复用 go-logger
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package logger

import (
	"io"
	"time"

	"github.com/kamalyes/go-logger"
)

// 类型别名
type (
	ILogger   = logger.ILogger
	LogConfig = logger.LogConfig
	LogLevel  = logger.LogLevel
)

// 常量别名 - 日志级别
const (
	DEBUG = logger.DEBUG
	INFO  = logger.INFO
	WARN  = logger.WARN
	ERROR = logger.ERROR
	FATAL = logger.FATAL
)

// 函数别名
var (
	NewLogger       = logger.NewLogger
	NewRotateWriter = logger.NewRotateWriter
	ParseLogLevel   = logger.ParseLogLevel
)

// Default 全局默认 logger 实例
var Default logger.ILogger

func init() {
	Default = New(DefaultConfig())
}

func DefaultConfig() *logger.LogConfig {
	config := logger.DefaultConfig().
		WithPrefix("[SWARM] ").
		WithShowCaller(false).
		WithColorful(true).
		WithTimeFormat(time.DateTime)
	return config
}

// New 创建日志器（带 SWARM 前缀）
func New(config *logger.LogConfig) *logger.Logger {
	if config == nil {
		config = DefaultConfig()
	}
	return logger.NewLogger(config)
}

// SetDefault 设置全局默认 logger
func SetDefault(l logger.ILogger) {
	Default = l
}

// NewLoggerWithWriter 创建新日志器（便捷函数）
func NewLoggerWithWriter(prefix string, writer io.Writer) *logger.Logger {
	config := logger.DefaultConfig().
		WithPrefix(prefix).
		WithOutput(writer)
	return logger.NewLogger(config)
}
