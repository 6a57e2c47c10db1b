/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-04 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 22:40:00
 * @FilePath: \go-swarm\scenarios.go
 * @Description: 内置演示场景注册
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package main

import (
	"time"

	"github.com/kamalyes/go-swarm/datapool"
	"github.com/kamalyes/go-swarm/journey"
	"github.com/kamalyes/go-swarm/scenario"
)

// registerScenarios 注册内置场景。真实部署中用户场景以同样方式
// 注册进 scenario.DefaultRegistry，gossip 仅传播场景名。
func registerScenarios() {
	// 单步 GET 演示（配合 testserver 使用）
	scenario.DefaultRegistry.Register("demo:http", func() *scenario.Scenario {
		return &scenario.Scenario{
			RequestTimeout: 10 * time.Second,
			Journeys: []scenario.JourneyDescriptor{
				{
					Journey: journey.NewHTTPJourney("browse",
						journey.HTTPStep{
							Label:  "home",
							Method: "GET",
							URL:    "http://127.0.0.1:8080/",
							Verify: []journey.VerifyRule{
								{Type: journey.VerifyStatusCode, Expect: 200},
							},
						},
					),
					Volume: scenario.VolumeModel{
						TargetRPS: 10,
						Duration:  30 * time.Second,
						Ramp:      5 * time.Second,
					},
				},
			},
		}
	})

	// 带数据池的登录-查询演示
	scenario.DefaultRegistry.Register("demo:users", func() *scenario.Scenario {
		return &scenario.Scenario{
			RequestTimeout: 10 * time.Second,
			Journeys: []scenario.JourneyDescriptor{
				{
					Journey: journey.NewHTTPJourney("user-lookup",
						journey.HTTPStep{
							Label:  "lookup",
							Method: "GET",
							URL:    "http://127.0.0.1:8080/users/{{row}}",
						},
					),
					Volume: scenario.VolumeModel{
						TargetRPS: 5,
						Duration:  60 * time.Second,
					},
					Datapool: &datapool.Descriptor{
						Kind: datapool.KindInMemoryRecycle,
						Rows: []string{"alice", "bob", "carol", "dave"},
					},
				},
			},
		}
	})
}
