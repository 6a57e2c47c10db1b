/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 18:00:00
 * @FilePath: \go-swarm\scenario\volumemodel.go
 * @Description: 容量模型 - 集群目标速率与线性爬坡
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package scenario

import (
	"fmt"
	"time"
)

// VolumeModel 描述集群范围的目标请求速率。
// 每个节点消费 TargetRPS / N_alive 份额。
type VolumeModel struct {
	TargetRPS float64       `json:"target_rps"`
	Duration  time.Duration `json:"duration"`
	Ramp      time.Duration `json:"ramp"`
}

// Validate 校验模型合法性
func (vm *VolumeModel) Validate() error {
	if vm.TargetRPS <= 0 {
		return fmt.Errorf("target_rps must be positive, got %v", vm.TargetRPS)
	}
	if vm.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", vm.Duration)
	}
	if vm.Ramp < 0 {
		return fmt.Errorf("ramp must be non-negative, got %v", vm.Ramp)
	}
	return nil
}

// Done 有效时长是否已耗尽
func (vm *VolumeModel) Done(effective time.Duration) bool {
	return effective >= vm.Duration
}

// RateAt 返回 t 时刻本节点的瞬时目标速率 (req/s)：
// (TargetRPS / N) × ramp(t)，ramp 为线性爬坡 min(1, t/Ramp)。
func (vm *VolumeModel) RateAt(effective time.Duration, aliveCount int) float64 {
	if aliveCount < 1 {
		aliveCount = 1
	}
	if effective < 0 {
		return 0
	}

	rate := vm.TargetRPS / float64(aliveCount)
	if vm.Ramp > 0 {
		factor := float64(effective) / float64(vm.Ramp)
		if factor < 1 {
			rate *= factor
		}
	}
	return rate
}
