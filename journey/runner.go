/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 17:30:00
 * @FilePath: \go-swarm\journey\runner.go
 * @Description: Journey 运行池 - 信号量限额、结果记账、可选明细落库
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package journey

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/metrics"
	"github.com/kamalyes/go-swarm/storage"
	"github.com/kamalyes/go-swarm/types"
	"github.com/kamalyes/go-toolbox/pkg/idgen"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
	"golang.org/x/sync/semaphore"
)

// Runner 共享的 journey 运行池。并发在途数由加权信号量限定在
// max_in_flight_journeys 以内；满额时 TryRun 立即失败（绝不排队）。
type Runner struct {
	sem      *semaphore.Weighted
	maxSlots int64

	col    *metrics.Collector
	sink   storage.Interface // 可选明细落库
	nodeID string
	log    logger.ILogger

	inFlight *syncx.Int32
	idGen    *idgen.SnowflakeGenerator
}

// NewRunner 创建运行池
func NewRunner(maxInFlight int, col *metrics.Collector, sink storage.Interface, nodeID string, log logger.ILogger) *Runner {
	if maxInFlight <= 0 {
		maxInFlight = 1024
	}
	return &Runner{
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		maxSlots: int64(maxInFlight),
		col:      col,
		sink:     sink,
		nodeID:   nodeID,
		log:      log,
		inFlight: syncx.NewInt32(0),
		idGen:    idgen.NewSnowflakeGenerator(1, 1),
	}
}

// InFlight 当前在途 journey 数
func (r *Runner) InFlight() int {
	return int(r.inFlight.Load())
}

// TryRun 尝试启动一次 journey。池饱和时返回 false 并计入
// backpressure；调用方（pacer）不退还 credit。
// group 非空时用于排空等待。
func (r *Runner) TryRun(jctx *Context, j Journey, pool datapool.Pool, group *sync.WaitGroup) bool {
	if !r.sem.TryAcquire(1) {
		metrics.RecordBackpressure(r.col, jctx.Scope())
		return false
	}

	r.inFlight.Add(1)
	if group != nil {
		group.Add(1)
	}

	syncx.Go().
		OnPanic(func(rec interface{}) {
			metrics.RecordJourneyFailure(r.col, jctx.Scope(), "Panic", 0)
			r.log.ErrorKV("Journey panicked", "journey", j.Name(), "panic", rec)
		}).
		Exec(func() {
			defer func() {
				r.sem.Release(1)
				r.inFlight.Add(-1)
				if group != nil {
					group.Done()
				}
			}()
			r.run(jctx, j, pool)
		})

	return true
}

// run 执行一次 journey 并记账
func (r *Runner) run(jctx *Context, j Journey, pool datapool.Pool) {
	row := ""
	if pool != nil {
		var ok bool
		row, ok = pool.Next()
		if !ok {
			// 数据池耗尽：静默跳过本次调度并计数
			metrics.RecordDatapoolExhausted(r.col, jctx.Scope())
			return
		}
	}

	started := time.Now()
	outcomes, err := j.Execute(jctx, row)
	elapsed := time.Since(started)

	for i := range outcomes {
		r.recordOutcome(jctx, &outcomes[i])
	}

	if err != nil {
		metrics.RecordJourneyFailure(r.col, jctx.Scope(), errorKind(err), elapsed)
	} else {
		metrics.RecordJourneySuccess(r.col, jctx.Scope(), elapsed)
	}
}

// recordOutcome 单个请求结果的指标与明细记账
func (r *Runner) recordOutcome(jctx *Context, o *types.Outcome) {
	errKind := ""
	if o.Status == types.OutcomeError {
		errKind = o.ErrorKind
		if errKind == "" {
			errKind = "UnknownError"
		}
	}

	metrics.RecordHTTPRequest(r.col, jctx.Scope(),
		o.Label, o.Method, o.URL, o.StatusClass(), errKind, o.Duration)

	if r.sink != nil {
		r.sink.Write(&types.OutcomeRecord{
			ID:         r.idGen.GenerateRequestID(),
			NodeID:     r.nodeID,
			ScenarioID: jctx.ScenarioID,
			Journey:    jctx.JourneyName,
			Label:      o.Label,
			Success:    o.Status == types.OutcomeOK,
			StatusCode: o.StatusCode,
			ErrorKind:  o.ErrorKind,
			Duration:   o.Duration,
			Timestamp:  time.Now(),
		})
	}
}

// errorKind 从错误值派生归类名
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context canceled"):
		return "Cancelled"
	case strings.Contains(msg, "deadline exceeded"):
		return "HTTPTimeout"
	}
	kind := fmt.Sprintf("%T", err)
	kind = strings.TrimPrefix(kind, "*")
	if idx := strings.LastIndex(kind, "."); idx >= 0 {
		kind = kind[idx+1:]
	}
	return kind
}
