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

package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/routego/api/types"
)

var (
	_ types.ExecutorService          = (*CallerRunsExecutor)(nil)
	_ types.ScheduledExecutorService = (*ScheduledExecutor)(nil)
)

// CallerRunsExecutor runs every task on the submitting goroutine
// CallerRunsExecutor 在调用者协程中同步执行任务
type CallerRunsExecutor struct {
	shutdown int32
}

// NewCallerRunsExecutor creates a synchronous executor
func NewCallerRunsExecutor() *CallerRunsExecutor {
	return &CallerRunsExecutor{}
}

func (e *CallerRunsExecutor) Submit(task func()) error {
	if task != nil {
		task()
	}
	return nil
}

// Shutdown marks the executor as shut down, tasks still run
func (e *CallerRunsExecutor) Shutdown() {
	atomic.StoreInt32(&e.shutdown, 1)
}

func (e *CallerRunsExecutor) IsShutdown() bool {
	return atomic.LoadInt32(&e.shutdown) == 1
}

// ScheduledExecutor runs delayed and periodic tasks on timers. Delayed tasks
// are handed to the worker executor when one is set, otherwise they run on
// the timer goroutine. Periodic runs never overlap.
//
// ScheduledExecutor 定时执行器，周期任务不会重叠执行
type ScheduledExecutor struct {
	Name    string
	workers types.Executor

	lock     sync.Mutex
	seq      uint64
	tasks    map[uint64]func()
	shutdown int32
}

// NewScheduledExecutor creates a scheduled executor. workers may be nil.
// NewScheduledExecutor 创建定时执行器
func NewScheduledExecutor(name string, workers types.Executor) *ScheduledExecutor {
	return &ScheduledExecutor{Name: name, workers: workers, tasks: make(map[uint64]func())}
}

// Submit runs task as soon as possible
func (s *ScheduledExecutor) Submit(task func()) error {
	_, err := s.Schedule(0, task)
	return err
}

func (s *ScheduledExecutor) track(stop func()) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.IsShutdown() {
		return 0, &types.RejectedExecutionError{Msg: s.Name + " is shut down"}
	}
	s.seq++
	s.tasks[s.seq] = stop
	return s.seq, nil
}

func (s *ScheduledExecutor) untrack(id uint64) {
	s.lock.Lock()
	delete(s.tasks, id)
	s.lock.Unlock()
}

func (s *ScheduledExecutor) dispatch(task func()) {
	if s.workers == nil {
		task()
		return
	}
	if err := s.workers.Submit(task); err != nil {
		task()
	}
}

// Schedule runs task once after delay
// Schedule 延迟执行一次任务
func (s *ScheduledExecutor) Schedule(delay time.Duration, task func()) (func(), error) {
	var timer *time.Timer
	var id uint64
	var once sync.Once
	cancelled := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(cancelled)
			s.lock.Lock()
			t := timer
			s.lock.Unlock()
			if t != nil {
				t.Stop()
			}
			s.untrack(id)
		})
	}
	id, err := s.track(cancel)
	if err != nil {
		return func() {}, err
	}
	fire := func() {
		select {
		case <-cancelled:
			return
		default:
		}
		s.untrack(id)
		s.dispatch(task)
	}
	s.lock.Lock()
	timer = time.AfterFunc(delay, fire)
	s.lock.Unlock()
	return cancel, nil
}

// ScheduleAtFixedRate runs task every period after initialDelay until cancelled or shut down
// ScheduleAtFixedRate 以固定频率执行任务
func (s *ScheduledExecutor) ScheduleAtFixedRate(initialDelay, period time.Duration, task func()) (func(), error) {
	if period <= 0 {
		return func() {}, types.NewIllegalArgumentError("period must be positive, was %s", period)
	}
	stop := make(chan struct{})
	var once sync.Once
	var id uint64
	cancel := func() {
		once.Do(func() {
			close(stop)
			s.untrack(id)
		})
	}
	id, err := s.track(cancel)
	if err != nil {
		return func() {}, err
	}
	go func() {
		if initialDelay > 0 {
			select {
			case <-stop:
				return
			case <-time.After(initialDelay):
			}
		}
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			default:
			}
			task()
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel, nil
}

// Shutdown cancels every pending and periodic task
func (s *ScheduledExecutor) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.shutdown, 0, 1) {
		return
	}
	s.lock.Lock()
	pending := make([]func(), 0, len(s.tasks))
	for _, cancel := range s.tasks {
		pending = append(pending, cancel)
	}
	s.lock.Unlock()
	for _, cancel := range pending {
		cancel()
	}
}

func (s *ScheduledExecutor) IsShutdown() bool {
	return atomic.LoadInt32(&s.shutdown) == 1
}

// Pending number of tasks not yet fired or cancelled
func (s *ScheduledExecutor) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.tasks)
}
