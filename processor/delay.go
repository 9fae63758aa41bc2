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

package processor

import (
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
)

// DelayProcessorSupport delays an exchange before handing it to the next
// processor, either by blocking the caller or by scheduling the continuation.
// DelayProcessorSupport 延迟支持：同步等待或者通过定时执行器异步继续
type DelayProcessorSupport struct {
	// Scheduler used when AsyncDelayed
	Scheduler types.ScheduledExecutorService
	// AsyncDelayed schedule the continuation instead of blocking
	AsyncDelayed bool
	// CallerRunsWhenRejected block the caller when the scheduler refuses the task
	CallerRunsWhenRejected bool
}

// ProcessDelayed runs next after delay and invokes callback once. It returns
// true when the work completed on the calling goroutine.
func (s *DelayProcessorSupport) ProcessDelayed(exchange *types.Exchange, delay time.Duration, next types.Processor, callback types.AsyncCallback) bool {
	if delay <= 0 {
		_ = types.Run(next, exchange)
		callback(true)
		return true
	}
	if !s.AsyncDelayed || s.Scheduler == nil {
		s.delaySync(exchange, delay, next)
		callback(true)
		return true
	}
	_, err := s.Scheduler.Schedule(delay, func() {
		_ = types.Run(next, exchange)
		callback(false)
	})
	if err != nil {
		if s.CallerRunsWhenRejected {
			s.delaySync(exchange, delay, next)
		} else {
			exchange.SetErr(err)
		}
		callback(true)
		return true
	}
	return false
}

func (s *DelayProcessorSupport) delaySync(exchange *types.Exchange, delay time.Duration, next types.Processor) {
	if err := Sleep(exchange.Context(), delay); err != nil {
		exchange.SetErr(err)
		return
	}
	_ = types.Run(next, exchange)
}

var _ types.AsyncProcessor = (*DelayProcessor)(nil)

// DelayProcessor delays the exchange by the evaluated number of milliseconds, then runs its child
// DelayProcessor 延迟处理器，延迟表达式计算出的毫秒数后执行子处理器
type DelayProcessor struct {
	DelayProcessorSupport
	delay types.Expression
	child types.Processor
}

func NewDelayProcessor(delay types.Expression, child types.Processor, support DelayProcessorSupport) *DelayProcessor {
	return &DelayProcessor{DelayProcessorSupport: support, delay: delay, child: child}
}

func (x *DelayProcessor) ProcessAsync(exchange *types.Exchange, callback types.AsyncCallback) bool {
	v, err := x.delay.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		callback(true)
		return true
	}
	d, err := cast.ToMillisE(v)
	if err != nil {
		exchange.SetErr(types.NewExchangeError(exchange, err, "invalid delay %v", v))
		callback(true)
		return true
	}
	return x.ProcessDelayed(exchange, d, x.child, callback)
}

func (x *DelayProcessor) Process(exchange *types.Exchange) error {
	return types.Await(x, exchange)
}

func (x *DelayProcessor) Next() []types.Processor {
	if x.child == nil {
		return nil
	}
	return []types.Processor{x.child}
}

var _ types.AsyncProcessor = (*ThreadsProcessor)(nil)

// ThreadsProcessor continues routing of the exchange on an executor
// ThreadsProcessor 在执行器中继续执行后续处理器
type ThreadsProcessor struct {
	executor               types.Executor
	child                  types.Processor
	callerRunsWhenRejected bool
}

func NewThreadsProcessor(executor types.Executor, child types.Processor, callerRunsWhenRejected bool) *ThreadsProcessor {
	return &ThreadsProcessor{executor: executor, child: child, callerRunsWhenRejected: callerRunsWhenRejected}
}

func (x *ThreadsProcessor) ProcessAsync(exchange *types.Exchange, callback types.AsyncCallback) bool {
	err := x.executor.Submit(func() {
		_ = types.Run(x.child, exchange)
		callback(false)
	})
	if err == nil {
		return false
	}
	if x.callerRunsWhenRejected {
		_ = types.Run(x.child, exchange)
	} else {
		exchange.SetErr(err)
	}
	callback(true)
	return true
}

func (x *ThreadsProcessor) Process(exchange *types.Exchange) error {
	return types.Await(x, exchange)
}

func (x *ThreadsProcessor) Next() []types.Processor {
	return []types.Processor{x.child}
}
