/*
 * Copyright 2023 The RuleGo Authors.
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

package types

import "time"

// Executor runs tasks. Submit returns RejectedExecutionError when the task
// cannot be accepted.
// Executor 任务执行器
type Executor interface {
	Submit(task func()) error
}

// ExecutorService is an executor with a lifecycle
type ExecutorService interface {
	Executor
	Shutdown()
	IsShutdown() bool
}

// ScheduledExecutorService runs delayed and periodic tasks
// ScheduledExecutorService 定时任务执行器
type ScheduledExecutorService interface {
	ExecutorService
	// Schedule runs task once after delay. The returned function cancels it.
	Schedule(delay time.Duration, task func()) (cancel func(), err error)
	// ScheduleAtFixedRate runs task every period after initialDelay. The returned function cancels it.
	ScheduleAtFixedRate(initialDelay, period time.Duration, task func()) (cancel func(), err error)
}

// RejectedPolicy what to do when a pool cannot accept a task
type RejectedPolicy string

const (
	// RejectedAbort fails the submission
	RejectedAbort RejectedPolicy = "Abort"
	// RejectedCallerRuns runs the task on the submitting goroutine
	RejectedCallerRuns RejectedPolicy = "CallerRuns"
	// RejectedDiscard silently drops the task
	RejectedDiscard RejectedPolicy = "Discard"
	// RejectedDiscardOldest drops the oldest queued task and queues the new one
	RejectedDiscardOldest RejectedPolicy = "DiscardOldest"
)

// ThreadPoolProfile a named template for creating thread pools
// ThreadPoolProfile 线程池配置模板
type ThreadPoolProfile struct {
	Id string `json:"id" mapstructure:"id"`
	// PoolSize number of workers kept running
	PoolSize int `json:"poolSize" mapstructure:"poolSize"`
	// MaxPoolSize maximum number of workers
	MaxPoolSize int `json:"maxPoolSize" mapstructure:"maxPoolSize"`
	// MaxQueueSize maximum number of pending tasks, 0 means no queue
	MaxQueueSize int `json:"maxQueueSize" mapstructure:"maxQueueSize"`
	// KeepAlive idle time before extra workers are released
	KeepAlive time.Duration `json:"keepAlive" mapstructure:"keepAlive"`
	// RejectedPolicy 拒绝策略
	RejectedPolicy RejectedPolicy `json:"rejectedPolicy" mapstructure:"rejectedPolicy"`
}

// DefaultThreadPoolProfile the profile used when nothing else is configured
func DefaultThreadPoolProfile() ThreadPoolProfile {
	return ThreadPoolProfile{
		Id:             "defaultThreadPoolProfile",
		PoolSize:       10,
		MaxPoolSize:    20,
		MaxQueueSize:   1000,
		KeepAlive:      60 * time.Second,
		RejectedPolicy: RejectedCallerRuns,
	}
}

// Merge fills zero fields of p from defaults
func (p ThreadPoolProfile) Merge(defaults ThreadPoolProfile) ThreadPoolProfile {
	if p.PoolSize <= 0 {
		p.PoolSize = defaults.PoolSize
	}
	if p.MaxPoolSize <= 0 {
		p.MaxPoolSize = defaults.MaxPoolSize
	}
	if p.MaxPoolSize < p.PoolSize {
		p.MaxPoolSize = p.PoolSize
	}
	if p.MaxQueueSize < 0 {
		p.MaxQueueSize = defaults.MaxQueueSize
	}
	if p.KeepAlive <= 0 {
		p.KeepAlive = defaults.KeepAlive
	}
	if p.RejectedPolicy == "" {
		p.RejectedPolicy = defaults.RejectedPolicy
	}
	return p
}
