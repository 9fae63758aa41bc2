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

package interceptor

import (
	"sync/atomic"

	"github.com/rulego/routego/api/types"
)

var _ types.InterceptStrategy = (*ConcurrencyLimiter)(nil)

// ConcurrencyLimiter limits the number of exchanges a node processes at the
// same time. Every wrapped node has its own counter; an exchange over the
// limit fails with ErrConcurrencyLimitReached.
//
// ConcurrencyLimiter 节点并发限制拦截器
//
// Usage:
// 使用方法：
//
//	// at most 100 concurrent executions of each node
//	limiter := NewConcurrencyLimiter(100)
//	config := types.NewConfig(types.WithInterceptStrategies(limiter))
type ConcurrencyLimiter struct {
	Max int64 // Maximum number of concurrent executions per node  每个节点最大并发执行数量
}

// NewConcurrencyLimiter creates a limiter allowing max concurrent executions per node
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{Max: int64(max)}
}

func (i *ConcurrencyLimiter) Order() int {
	return 10
}

func (i *ConcurrencyLimiter) WrapProcessorInInterceptors(ctx types.InterceptContext, target types.Processor, next types.Processor) (types.Processor, error) {
	if i.Max <= 0 {
		return target, nil
	}
	counter := new(int64)
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		if !i.acquire(counter) {
			err := types.NewExchangeError(exchange, types.ErrConcurrencyLimitReached, "node %s", ctx.Node.Id)
			exchange.SetErr(err)
			return err
		}
		defer atomic.AddInt64(counter, -1)
		return types.Run(target, exchange)
	}), nil
}

func (i *ConcurrencyLimiter) acquire(counter *int64) bool {
	for {
		current := atomic.LoadInt64(counter)
		if current >= i.Max {
			return false
		}
		// 如果CAS失败，说明有其他goroutine修改了计数器，重试
		if atomic.CompareAndSwapInt64(counter, current, current+1) {
			return true
		}
	}
}
