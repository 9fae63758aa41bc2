/*
 * Copyright 2025 The RuleGo Authors.
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

// Package processor provides the generic enterprise integration pattern
// processors that the route engine composes: pipelines, routing, control
// flow, message transformation and unit of work bookkeeping.
//
// Package processor 提供路由引擎组合使用的通用集成模式处理器：管道、路由、流程控制、消息转换以及工作单元。
//
// Processors here know nothing about route definitions. The engine decodes a
// node configuration, resolves expressions, executors and child processors,
// then constructs the processor with them.
package processor
