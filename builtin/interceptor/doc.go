/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package interceptor provides built-in intercept strategies. An intercept
// strategy wraps the processor of every node it applies to: globally through
// Config.InterceptStrategies, per route through the route definition, or per
// node through its interceptStrategies references.
//
// Package interceptor 提供内置拦截策略，可以全局、按路由或者按节点应用。
//
// Available Built-in Interceptors:
// 可用的内置拦截器：
//
//   - StreamCaching: buffers io.Reader bodies so every node can read them (order: -100)
//     StreamCaching：缓存流式消息体，使其可重复读取
//
//   - Tracing: one OpenTelemetry span per node (order: 5)
//     Tracing：为每个节点创建 OpenTelemetry span
//
//   - ConcurrencyLimiter: limits concurrent executions of each node (order: 10)
//     ConcurrencyLimiter：限制节点并发执行
//
//   - MessageHistory: records the nodes an exchange went through (order: 10)
//     MessageHistory：记录消息经过的节点
//
//   - Metrics: Prometheus counters and durations per node (order: 20)
//     Metrics：Prometheus 指标
//
//   - Delayer: sleeps before each node (order: 100)
//     Delayer：每个节点执行前延迟
//
//   - Debug: calls Config.OnDebug before and after each node (order: 900)
//     Debug：节点执行前后调用 OnDebug 回调
//
// Interceptors with a lower order are wrapped outside the ones with a higher order.
//
// Usage Examples:
// 使用示例：
//
//	config := types.NewConfig(types.WithInterceptStrategies(&interceptor.Debug{}, interceptor.NewMessageHistory()))
//	e := routego.New(types.WithConfig(config))
package interceptor
