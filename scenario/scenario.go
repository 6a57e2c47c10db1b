/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 18:20:00
 * @FilePath: \go-swarm\scenario\scenario.go
 * @Description: 场景描述符与场景注册表
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package scenario

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// JourneyDescriptor 一条 journey 及其容量模型与可选数据池
type JourneyDescriptor struct {
	Journey  journey.Journey
	Volume   VolumeModel
	Datapool *datapool.Descriptor
}

// Scenario 场景：一组 journey 的有界生命周期集合
type Scenario struct {
	ID             string
	Name           string
	StartDelay     time.Duration
	RequestTimeout time.Duration
	Journeys       []JourneyDescriptor
}

// NewScenarioID 生成全局唯一场景标识
func NewScenarioID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Validate 校验场景描述符
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is empty")
	}
	if len(s.Journeys) == 0 {
		return fmt.Errorf("scenario %s has no journeys", s.Name)
	}
	for i := range s.Journeys {
		if s.Journeys[i].Journey == nil {
			return fmt.Errorf("scenario %s journey %d is nil", s.Name, i)
		}
		if err := s.Journeys[i].Volume.Validate(); err != nil {
			return fmt.Errorf("scenario %s journey %s: %w", s.Name, s.Journeys[i].Journey.Name(), err)
		}
	}
	return nil
}

// Factory 场景工厂。注册表按名解析出新的场景实例，
// 与原系统 "module:attr" 规格导入等价：journey 可执行体
// 编译进二进制，gossip 只传播场景名与标识。
type Factory func() *Scenario

// Registry 场景注册表
type Registry struct {
	factories *syncx.Map[string, Factory]
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{factories: syncx.NewMap[string, Factory]()}
}

// Register 注册场景工厂
func (r *Registry) Register(name string, f Factory) {
	r.factories.Store(name, f)
}

// Resolve 按名构建场景实例；未注册时返回错误
func (r *Registry) Resolve(name string) (*Scenario, error) {
	f, ok := r.factories.Load(name)
	if !ok {
		return nil, fmt.Errorf("scenario %q not registered", name)
	}
	sc := f()
	sc.Name = name
	if sc.ID == "" {
		sc.ID = NewScenarioID()
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Names 已注册的场景名
func (r *Registry) Names() []string {
	var names []string
	r.factories.Range(func(name string, f Factory) bool {
		names = append(names, name)
		return true
	})
	return names
}

// DefaultRegistry 进程默认场景注册表
var DefaultRegistry = NewRegistry()
