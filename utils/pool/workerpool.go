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

// Package pool provides the executors used by the route engine: a worker pool
// with a bounded task queue and rejection policies, a caller-runs executor and
// a scheduled executor for timers.
//
// Package pool 提供路由引擎使用的执行器：带有界队列和拒绝策略的工作池、调用者执行器以及定时执行器。
//
// Note: The worker management is inspired by:
// Valyala, A. (2023) workerpool.go (Version 1.48.0)
// [Source code]. https://github.com/valyala/fasthttp/blob/master/workerpool.go
// 1.Change the Serve(c net.Conn) method to Submit(fn func()) error method
// 2.Add a bounded pending queue and rejection policies
package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/rulego/routego/api/types"
)

var _ types.ExecutorService = (*WorkerPool)(nil)

// WorkerPool serves submitted tasks using a pool of workers in FILO order.
// The most recently stopped worker serves the next task. When every worker is
// busy and MaxWorkersCount is reached, tasks wait in a bounded queue; when the
// queue is full the RejectedPolicy decides.
//
// WorkerPool 使用工作池以 FILO 顺序处理提交的任务。所有工作者忙碌且达到最大数量时，任务进入有界队列；
// 队列已满时由拒绝策略决定。
//
// Usage Example:
// 使用示例：
//
//	wp := NewWorkerPool(types.DefaultThreadPoolProfile())
//	wp.Start()
//	defer wp.Shutdown()
//	err := wp.Submit(func() {
//	  // Your task implementation
//	})
type WorkerPool struct {
	// Name used in rejection errors
	Name string
	// CoreWorkersCount workers that are never cleaned up when idle
	CoreWorkersCount int
	// MaxWorkersCount is the maximum number of workers that can be created.
	// MaxWorkersCount 是可以创建的最大工作者数量。
	MaxWorkersCount int
	// MaxQueueSize maximum number of tasks waiting for a worker, 0 means no queue
	// MaxQueueSize 等待队列的最大长度
	MaxQueueSize int
	// MaxIdleWorkerDuration is the maximum duration a worker above the core
	// count can remain idle before being cleaned up. Default is 10 seconds.
	// MaxIdleWorkerDuration 非核心工作者的最大空闲时间，默认10秒
	MaxIdleWorkerDuration time.Duration
	// RejectedPolicy 拒绝策略，默认 Abort
	RejectedPolicy types.RejectedPolicy

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	// ready idle workers in FILO order
	ready []*workerChan
	// queue pending tasks
	queue          *deque.Deque[func()]
	stopCh         chan struct{}
	workerChanPool sync.Pool
	startOnce      sync.Once
	shutdown       int32
	active         int32
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan func()
}

// NewWorkerPool creates a worker pool from a thread pool profile.
// NewWorkerPool 根据线程池配置创建工作池
func NewWorkerPool(profile types.ThreadPoolProfile) *WorkerPool {
	profile = profile.Merge(types.DefaultThreadPoolProfile())
	return &WorkerPool{
		Name:                  profile.Id,
		CoreWorkersCount:      profile.PoolSize,
		MaxWorkersCount:       profile.MaxPoolSize,
		MaxQueueSize:          profile.MaxQueueSize,
		MaxIdleWorkerDuration: profile.KeepAlive,
		RejectedPolicy:        profile.RejectedPolicy,
	}
}

// Start initializes the worker pool and its cleanup goroutine. Calling it
// more than once has no effect.
// Start 初始化并启动工作池
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		wp.lock.Lock()
		wp.stopCh = make(chan struct{})
		stopCh := wp.stopCh
		if wp.queue == nil {
			wp.queue = deque.New[func()]()
		}
		wp.lock.Unlock()
		wp.workerChanPool.New = func() interface{} {
			return &workerChan{
				ch: make(chan func(), workerChanCap),
			}
		}
		go func() {
			var scratch []*workerChan
			ticker := time.NewTicker(wp.getMaxIdleWorkerDuration())
			defer ticker.Stop()
			for {
				select {
				case <-stopCh:
					return
				case <-ticker.C:
					wp.clean(&scratch)
				}
			}
		}()
	})
}

// Shutdown stops accepting tasks and terminates idle workers. Busy workers
// drain the pending queue before terminating.
// Shutdown 停止接受新任务，空闲工作者退出，忙碌工作者处理完队列中的任务后退出
func (wp *WorkerPool) Shutdown() {
	if !atomic.CompareAndSwapInt32(&wp.shutdown, 0, 1) {
		return
	}
	wp.lock.Lock()
	if wp.stopCh != nil {
		close(wp.stopCh)
		wp.stopCh = nil
	}
	ready := wp.ready
	for i := range ready {
		ready[i].ch <- nil
		ready[i] = nil
	}
	wp.ready = ready[:0]
	wp.mustStop = true
	// no worker is left to drain the queue when all of them are idle
	if wp.workersCount-len(ready) <= 0 && wp.queue != nil {
		wp.queue.Clear()
	}
	wp.lock.Unlock()
}

// IsShutdown reports whether Shutdown was called
func (wp *WorkerPool) IsShutdown() bool {
	return atomic.LoadInt32(&wp.shutdown) == 1
}

// ActiveCount number of tasks currently running
func (wp *WorkerPool) ActiveCount() int {
	return int(atomic.LoadInt32(&wp.active))
}

// QueueSize number of tasks waiting for a worker
func (wp *WorkerPool) QueueSize() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.queue == nil {
		return 0
	}
	return wp.queue.Len()
}

// WorkersCount number of live workers
func (wp *WorkerPool) WorkersCount() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	return wp.workersCount
}

func (wp *WorkerPool) getMaxIdleWorkerDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

// clean removes workers above the core count that have been idle longer than
// MaxIdleWorkerDuration. ready is ordered by last use, so binary search finds
// the boundary.
func (wp *WorkerPool) clean(scratch *[]*workerChan) {
	criticalTime := time.Now().Add(-wp.getMaxIdleWorkerDuration())

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)
	l, r, mid := 0, n-1, 0
	for l <= r {
		mid = (l + r) / 2
		if criticalTime.After(ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	i := r
	if surplus := wp.workersCount - wp.CoreWorkersCount; i+1 > surplus {
		i = surplus - 1
	}
	if i < 0 {
		wp.lock.Unlock()
		return
	}
	*scratch = append((*scratch)[:0], ready[:i+1]...)
	m := copy(ready, ready[i+1:])
	for i = m; i < n; i++ {
		ready[i] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	// outside the lock, a send may block while the worker wakes up
	tmp := *scratch
	for i := range tmp {
		tmp[i].ch <- nil
		tmp[i] = nil
	}
}

// Submit hands fn to an idle worker, a new worker, or the pending queue, in
// that order. When none can take it the rejected policy applies.
//
// Submit 提交任务：依次尝试空闲工作者、新工作者、等待队列，都不可用时执行拒绝策略。
func (wp *WorkerPool) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	wp.Start()
	if wp.IsShutdown() {
		return &types.RejectedExecutionError{Msg: wp.Name + " is shut down"}
	}
	var ch *workerChan
	createWorker := false
	queued := false

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready) - 1
	if n >= 0 {
		ch = ready[n]
		ready[n] = nil
		wp.ready = ready[:n]
	} else if wp.workersCount < wp.MaxWorkersCount {
		createWorker = true
		wp.workersCount++
	} else if wp.queue.Len() < wp.MaxQueueSize {
		wp.queue.PushBack(fn)
		queued = true
	} else if wp.RejectedPolicy == types.RejectedDiscardOldest && wp.queue.Len() > 0 {
		wp.queue.PopFront()
		wp.queue.PushBack(fn)
		queued = true
	}
	wp.lock.Unlock()

	if queued {
		return nil
	}
	if ch == nil && !createWorker {
		return wp.reject(fn)
	}
	if ch == nil {
		vch := wp.workerChanPool.Get()
		ch = vch.(*workerChan)
		go func() {
			wp.workerFunc(ch)
			wp.workerChanPool.Put(vch)
		}()
	}
	ch.ch <- fn
	return nil
}

func (wp *WorkerPool) reject(fn func()) error {
	switch wp.RejectedPolicy {
	case types.RejectedCallerRuns:
		wp.run(fn)
		return nil
	case types.RejectedDiscard, types.RejectedDiscardOldest:
		return nil
	default:
		return &types.RejectedExecutionError{Msg: wp.Name + " has no idle worker and its queue is full"}
	}
}

func (wp *WorkerPool) run(fn func()) {
	atomic.AddInt32(&wp.active, 1)
	defer atomic.AddInt32(&wp.active, -1)
	fn()
}

// workerChanCap 1 when GOMAXPROCS>1 so that Submit does not lag behind CPU bound tasks
var workerChanCap = func() int {
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}
	return 1
}()

// release returns the next queued task, or puts the worker back in the ready list.
// release 优先返回队列中的任务，否则把工作者放回就绪列表
func (wp *WorkerPool) release(ch *workerChan) (next func(), ok bool) {
	ch.lastUseTime = time.Now()
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.queue != nil && wp.queue.Len() > 0 {
		return wp.queue.PopFront(), true
	}
	if wp.mustStop {
		return nil, false
	}
	wp.ready = append(wp.ready, ch)
	return nil, true
}

func (wp *WorkerPool) workerFunc(ch *workerChan) {
	var fn func()
	for fn = range ch.ch {
		if fn == nil {
			break
		}
		alive := true
		for fn != nil {
			wp.run(fn)
			fn, alive = wp.release(ch)
		}
		if !alive {
			break
		}
	}
	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}
