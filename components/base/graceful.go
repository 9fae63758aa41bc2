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

// Package base provides the building blocks shared by the in-process endpoint components.
// Package base 端点组件的公共基础：优雅停机、运行状态以及端点参数解析
package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/routego/api/types"
)

// DefaultShutdownTimeout 默认优雅停机超时时间
const DefaultShutdownTimeout = 10 * time.Second

// GracefulShutdown tracks the exchanges a consumer is processing so that it can be
// stopped without losing them. It is embedded in consumers.
//
// GracefulShutdown 优雅停机支持，嵌入到消费者中使用。
//
// Usage:
//  1. call InitGracefulShutdown() when the consumer starts
//  2. wrap every exchange in BeginOp()/EndOp(); BeginOp fails once shutdown began
//  3. call GracefulStop() from Stop: new exchanges are rejected, inflight ones
//     are awaited until the context or the timeout expires, then the shutdown
//     context is cancelled
type GracefulShutdown struct {
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	// shutdownTimeout the maximum time to wait for inflight exchanges
	shutdownTimeout time.Duration
	isShuttingDown  int32
	// activeOperations number of exchanges being processed
	activeOperations int64
	mu               sync.Mutex
	// idle closed when activeOperations drops to zero during shutdown
	idle   chan struct{}
	logger types.Logger
}

// InitGracefulShutdown (re)initializes the shutdown state. timeout 0 uses DefaultShutdownTimeout.
func (g *GracefulShutdown) InitGracefulShutdown(logger types.Logger, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownTimeout = timeout
	g.logger = types.NewLogger(logger)
	g.shutdownCtx, g.shutdownCancel = context.WithCancel(context.Background())
	g.idle = nil
	atomic.StoreInt64(&g.activeOperations, 0)
	atomic.StoreInt32(&g.isShuttingDown, 0)
}

// ShutdownContext is cancelled when the consumer is forced to stop.
func (g *GracefulShutdown) ShutdownContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdownCtx == nil {
		return context.Background()
	}
	return g.shutdownCtx
}

// IsShuttingDown 是否正在停机
func (g *GracefulShutdown) IsShuttingDown() bool {
	return atomic.LoadInt32(&g.isShuttingDown) == 1
}

// BeginOp registers an inflight exchange. It returns false once shutdown started,
// in which case the exchange must not be processed and EndOp must not be called.
func (g *GracefulShutdown) BeginOp() bool {
	atomic.AddInt64(&g.activeOperations, 1)
	if g.IsShuttingDown() {
		g.EndOp()
		return false
	}
	return true
}

// EndOp marks an inflight exchange as done.
func (g *GracefulShutdown) EndOp() {
	if atomic.AddInt64(&g.activeOperations, -1) <= 0 && g.IsShuttingDown() {
		g.signalIdle()
	}
}

// ActiveOperations number of inflight exchanges
func (g *GracefulShutdown) ActiveOperations() int64 {
	return atomic.LoadInt64(&g.activeOperations)
}

func (g *GracefulShutdown) signalIdle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idle != nil {
		select {
		case <-g.idle:
		default:
			close(g.idle)
		}
	}
}

// GracefulStop rejects new exchanges, waits for the inflight ones and finally calls stopFunc.
// It returns false when the inflight exchanges did not finish in time; the shutdown
// context is cancelled in both cases. Calling it again is a no-op returning true.
//
// GracefulStop 两阶段停机：先拒绝新请求并等待处理中的请求，超时后强制取消
func (g *GracefulShutdown) GracefulStop(ctx context.Context, stopFunc func()) bool {
	if !atomic.CompareAndSwapInt32(&g.isShuttingDown, 0, 1) {
		return true
	}
	g.mu.Lock()
	g.idle = make(chan struct{})
	idle := g.idle
	timeout := g.shutdownTimeout
	cancel := g.shutdownCancel
	g.mu.Unlock()
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	if atomic.LoadInt64(&g.activeOperations) <= 0 {
		g.signalIdle()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	completed := true
	select {
	case <-idle:
	case <-ctx.Done():
		completed = false
	case <-timer.C:
		completed = false
	}
	if !completed && g.logger != nil {
		types.LogAt(g.logger, "WARN", "graceful shutdown timed out with %d inflight exchanges", g.ActiveOperations())
	}
	if cancel != nil {
		cancel()
	}
	if stopFunc != nil {
		stopFunc()
	}
	return completed
}
