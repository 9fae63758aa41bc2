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

package engine

import (
	"sync"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/pool"
)

// ExecutorServiceManager creates the thread pools used by the nodes and keeps
// track of their owners, so the pools created for a route are shut down when
// the route stops. Executors looked up in the bean registry are never tracked.
//
// ExecutorServiceManager 线程池管理器，按所有者（路由）记录创建的线程池，路由停止时关闭
type ExecutorServiceManager struct {
	mu             sync.Mutex
	profiles       map[string]types.ThreadPoolProfile
	defaultProfile types.ThreadPoolProfile
	owned          map[string][]types.ExecutorService
	logger         types.Logger
}

// NewExecutorServiceManager creates a manager with the profiles of config
func NewExecutorServiceManager(config types.Config) *ExecutorServiceManager {
	m := &ExecutorServiceManager{
		profiles:       make(map[string]types.ThreadPoolProfile),
		defaultProfile: config.DefaultThreadPoolProfile.Merge(types.DefaultThreadPoolProfile()),
		owned:          make(map[string][]types.ExecutorService),
		logger:         types.NewLogger(config.Logger),
	}
	for id, profile := range config.ThreadPoolProfiles {
		if profile.Id == "" {
			profile.Id = id
		}
		m.profiles[id] = profile
	}
	return m
}

// RegisterThreadPoolProfile adds or replaces a named profile
func (m *ExecutorServiceManager) RegisterThreadPoolProfile(profile types.ThreadPoolProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.Id] = profile
}

// ThreadPoolProfile returns the named profile merged with the default profile
func (m *ExecutorServiceManager) ThreadPoolProfile(id string) (types.ThreadPoolProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return types.ThreadPoolProfile{}, false
	}
	return profile.Merge(m.defaultProfile), true
}

// DefaultThreadPoolProfile 默认线程池配置
func (m *ExecutorServiceManager) DefaultThreadPoolProfile() types.ThreadPoolProfile {
	return m.defaultProfile
}

// NewThreadPool creates and starts a worker pool owned by owner
// NewThreadPool 创建线程池，所有者停止时关闭
func (m *ExecutorServiceManager) NewThreadPool(owner, name string, profile types.ThreadPoolProfile) types.ExecutorService {
	profile = profile.Merge(m.defaultProfile)
	profile.Id = name
	wp := pool.NewWorkerPool(profile)
	wp.Start()
	m.track(owner, wp)
	return wp
}

// NewDefaultThreadPool creates a pool from the default profile
func (m *ExecutorServiceManager) NewDefaultThreadPool(owner, name string) types.ExecutorService {
	return m.NewThreadPool(owner, name, m.defaultProfile)
}

// NewScheduledThreadPool creates a scheduled executor whose tasks run on a
// pool of poolSize workers, or on the timer goroutines when poolSize is 0.
func (m *ExecutorServiceManager) NewScheduledThreadPool(owner, name string, poolSize int) types.ScheduledExecutorService {
	var workers types.Executor
	if poolSize > 0 {
		wp := pool.NewWorkerPool(types.ThreadPoolProfile{
			Id:             name,
			PoolSize:       poolSize,
			MaxPoolSize:    poolSize,
			RejectedPolicy: types.RejectedCallerRuns,
		})
		wp.Start()
		m.track(owner, wp)
		workers = wp
	}
	scheduled := pool.NewScheduledExecutor(name, workers)
	m.track(owner, scheduled)
	return scheduled
}

func (m *ExecutorServiceManager) track(owner string, executor types.ExecutorService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned[owner] = append(m.owned[owner], executor)
}

// Owned number of live executors created for owner
func (m *ExecutorServiceManager) Owned(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, executor := range m.owned[owner] {
		if !executor.IsShutdown() {
			n++
		}
	}
	return n
}

// Shutdown shuts down every executor created for owner, the scheduled ones first
// Shutdown 关闭所有者创建的所有线程池
func (m *ExecutorServiceManager) Shutdown(owner string) {
	m.mu.Lock()
	executors := m.owned[owner]
	delete(m.owned, owner)
	m.mu.Unlock()
	for i := len(executors) - 1; i >= 0; i-- {
		executors[i].Shutdown()
	}
	if len(executors) > 0 {
		types.LogAt(m.logger, "DEBUG", "shut down %d executors of %s", len(executors), owner)
	}
}

// ShutdownAll shuts down every tracked executor
func (m *ExecutorServiceManager) ShutdownAll() {
	m.mu.Lock()
	owners := make([]string, 0, len(m.owned))
	for owner := range m.owned {
		owners = append(owners, owner)
	}
	m.mu.Unlock()
	for _, owner := range owners {
		m.Shutdown(owner)
	}
}
