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
	"github.com/rulego/routego/api/types"
)

// OnCompletionMode when the onCompletion block runs
type OnCompletionMode string

const (
	// AfterConsumer runs when the unit of work of the exchange is done
	AfterConsumer OnCompletionMode = "AfterConsumer"
	// BeforeConsumer runs when the route is done, before control returns to the consumer
	BeforeConsumer OnCompletionMode = "BeforeConsumer"
)

var _ types.Synchronization = (*OnCompletionProcessor)(nil)

// OnCompletionProcessor runs a block on a copy of the exchange once the
// exchange has completed or failed.
//
// OnCompletionProcessor 交换完成或失败后，使用交换副本执行处理块
type OnCompletionProcessor struct {
	child          types.Processor
	onCompleteOnly bool
	onFailureOnly  bool
	// OnWhen optional predicate evaluated on the copy
	OnWhen types.Predicate
	// Mode 执行时机
	Mode OnCompletionMode
	// UseOriginalMessage run with the message as it entered the route
	UseOriginalMessage bool
	// Executor optional, the block runs on the completing goroutine when nil
	Executor types.Executor
	logger   types.Logger
}

// NewOnCompletionProcessor at most one of onCompleteOnly and onFailureOnly may be set
func NewOnCompletionProcessor(child types.Processor, onCompleteOnly, onFailureOnly bool, logger types.Logger) (*OnCompletionProcessor, error) {
	if onCompleteOnly && onFailureOnly {
		return nil, types.NewIllegalArgumentError("both onCompleteOnly and onFailureOnly cannot be true. Only one of them can be true. On node: onCompletion")
	}
	return &OnCompletionProcessor{
		child:          child,
		onCompleteOnly: onCompleteOnly,
		onFailureOnly:  onFailureOnly,
		Mode:           AfterConsumer,
		logger:         logger,
	}, nil
}

func (x *OnCompletionProcessor) OnComplete(exchange *types.Exchange) {
	if x.onFailureOnly {
		return
	}
	x.run(exchange)
}

func (x *OnCompletionProcessor) OnFailure(exchange *types.Exchange) {
	if x.onCompleteOnly {
		return
	}
	x.run(exchange)
}

// Notify dispatches on the exchange outcome
func (x *OnCompletionProcessor) Notify(exchange *types.Exchange) {
	if exchange.IsFailed() {
		x.OnFailure(exchange)
	} else {
		x.OnComplete(exchange)
	}
}

func (x *OnCompletionProcessor) run(exchange *types.Exchange) {
	if v, _ := exchange.Property(types.PropertyOnCompletion).(bool); v {
		return
	}
	answer := exchange.Copy()
	answer.SetUnitOfWork(nil)
	answer.SetRouteStop(false)
	if err := exchange.Err(); err != nil {
		answer.SetErr(nil)
		answer.SetProperty(types.PropertyExceptionCaught, err)
	}
	if x.UseOriginalMessage {
		if original, ok := exchange.Property(types.PropertyOriginalMessage).(*types.Message); ok {
			answer.In = original.Copy()
		}
	}
	answer.SetProperty(types.PropertyOnCompletion, true)
	if x.OnWhen != nil {
		if ok, err := x.OnWhen.Matches(answer); err != nil || !ok {
			return
		}
	}
	task := func() {
		if err := types.Run(x.child, answer); err != nil && x.logger != nil {
			x.logger.Printf("onCompletion failed for exchange %s: %v", exchange.Id(), err)
		}
	}
	if x.Executor == nil {
		task()
		return
	}
	if err := x.Executor.Submit(task); err != nil {
		task()
	}
}

func (x *OnCompletionProcessor) Process(exchange *types.Exchange) error {
	x.Notify(exchange)
	return nil
}

func (x *OnCompletionProcessor) Next() []types.Processor {
	return []types.Processor{x.child}
}
