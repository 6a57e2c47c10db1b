/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 16:45:00
 * @FilePath: \go-swarm\storage\sqlite.go
 * @Description: SQLite存储层 - 持久化请求明细（批量异步写入）
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kamalyes/go-swarm/logger"
	"github.com/kamalyes/go-swarm/types"
	_ "github.com/mattn/go-sqlite3"
)

const (
	tableOutcomeDetails = "outcome_details"

	sqliteBatchSize     = 200
	sqliteFlushInterval = time.Second
	sqliteWriteBuffer   = 10000
)

// SQLiteStorage SQLite 持久化存储（实现 Interface）
type SQLiteStorage struct {
	db          *sql.DB
	writeChan   chan *types.OutcomeRecord
	flushTicker *time.Ticker
	wg          sync.WaitGroup
	closed      bool
	mu          sync.Mutex
	nodeID      string
	logger      logger.ILogger

	dropCount uint64 // 通道满丢弃数
}

// NewSQLiteStorage 创建存储实例
func NewSQLiteStorage(dbPath, nodeID string, log logger.ILogger) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 仅支持单写多读
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warnf("⚠️  执行 %s 失败: %v", pragma, err)
		}
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		journey TEXT NOT NULL,
		label TEXT NOT NULL,
		success INTEGER NOT NULL,
		status_code INTEGER,
		error_kind TEXT,
		duration_ns INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcome_scenario ON %s (scenario_id, journey);
	CREATE INDEX IF NOT EXISTS idx_outcome_success ON %s (success);
	`, tableOutcomeDetails, tableOutcomeDetails, tableOutcomeDetails)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	s := &SQLiteStorage{
		db:          db,
		writeChan:   make(chan *types.OutcomeRecord, sqliteWriteBuffer),
		flushTicker: time.NewTicker(sqliteFlushInterval),
		nodeID:      nodeID,
		logger:      log,
	}

	s.wg.Add(1)
	go s.writeLoop()

	log.Infof("💾 SQLite 明细存储已启用 (节点: %s, 路径: %s)", types.ShortIdentity(nodeID), dbPath)
	return s, nil
}

// Write 写入明细（实现 Interface）。通道满时丢弃并计数。
func (s *SQLiteStorage) Write(record *types.OutcomeRecord) {
	if record == nil {
		return
	}
	select {
	case s.writeChan <- record:
	default:
		s.mu.Lock()
		s.dropCount++
		s.mu.Unlock()
	}
}

// writeLoop 批量写入循环
func (s *SQLiteStorage) writeLoop() {
	defer s.wg.Done()

	batch := make([]*types.OutcomeRecord, 0, sqliteBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			s.logger.Warnf("⚠️  批量写入失败: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-s.writeChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= sqliteBatchSize {
				flush()
			}
		case <-s.flushTicker.C:
			flush()
		}
	}
}

// flushBatch 单事务写入一批记录
func (s *SQLiteStorage) flushBatch(batch []*types.OutcomeRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s
		 (id, node_id, scenario_id, journey, label, success, status_code, error_kind, duration_ns, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tableOutcomeDetails))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		success := 0
		if r.Success {
			success = 1
		}
		if _, err := stmt.Exec(r.ID, r.NodeID, r.ScenarioID, r.Journey, r.Label,
			success, r.StatusCode, r.ErrorKind, int64(r.Duration), r.Timestamp.Unix()); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// buildWhere 组装查询条件
func buildWhere(statusFilter StatusFilter, scenarioID, journey string) (string, []interface{}) {
	var conds []string
	var args []interface{}

	switch statusFilter {
	case StatusFilterSuccess:
		conds = append(conds, "success = 1")
	case StatusFilterFailed:
		conds = append(conds, "success = 0")
	}
	if scenarioID != "" {
		conds = append(conds, "scenario_id = ?")
		args = append(args, scenarioID)
	}
	if journey != "" {
		conds = append(conds, "journey = ?")
		args = append(args, journey)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query 分页查询（实现 Interface）
func (s *SQLiteStorage) Query(offset, limit int, statusFilter StatusFilter, scenarioID, journey string) ([]*types.OutcomeRecord, error) {
	where, args := buildWhere(statusFilter, scenarioID, journey)
	query := fmt.Sprintf(
		"SELECT id, node_id, scenario_id, journey, label, success, status_code, error_kind, duration_ns, timestamp FROM %s%s ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		tableOutcomeDetails, where)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.OutcomeRecord
	for rows.Next() {
		r := &types.OutcomeRecord{}
		var success int
		var durationNs, ts int64
		if err := rows.Scan(&r.ID, &r.NodeID, &r.ScenarioID, &r.Journey, &r.Label,
			&success, &r.StatusCode, &r.ErrorKind, &durationNs, &ts); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.Duration = time.Duration(durationNs)
		r.Timestamp = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count 统计总数（实现 Interface）
func (s *SQLiteStorage) Count(statusFilter StatusFilter, scenarioID, journey string) (int, error) {
	where, args := buildWhere(statusFilter, scenarioID, journey)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", tableOutcomeDetails, where)

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Close 关闭存储（实现 Interface）
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.writeChan)
	s.wg.Wait()
	s.flushTicker.Stop()

	if s.dropCount > 0 {
		s.logger.Warnf("⚠️  存储关闭，累计丢弃 %d 条明细", s.dropCount)
	}
	return s.db.Close()
}

// GetNodeID 获取节点ID（实现 Interface）
func (s *SQLiteStorage) GetNodeID() string {
	return s.nodeID
}
