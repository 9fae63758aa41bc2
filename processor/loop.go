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
	"github.com/rulego/routego/utils/cast"
)

// LoopProcessor runs its child a number of times, or while a predicate holds.
// With Copy every iteration starts from a copy of the incoming exchange and
// the result of the last iteration wins.
//
// LoopProcessor 循环处理器：按次数或条件循环执行子处理器
type LoopProcessor struct {
	count   types.Expression
	doWhile types.Predicate
	child   types.Processor
	// Copy 每次迭代使用输入交换的副本
	Copy bool
	// MaxIterations guards doWhile loops, 0 means unbounded
	MaxIterations int
}

// NewLoopProcessor exactly one of count and doWhile is expected
func NewLoopProcessor(count types.Expression, doWhile types.Predicate, child types.Processor) *LoopProcessor {
	return &LoopProcessor{count: count, doWhile: doWhile, child: child}
}

func (x *LoopProcessor) Process(exchange *types.Exchange) error {
	if x.doWhile != nil {
		return x.processWhile(exchange)
	}
	v, err := x.count.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		err = types.NewExchangeError(exchange, err, "loop count %v is not a number", v)
		exchange.SetErr(err)
		return err
	}
	exchange.SetProperty(types.PropertyLoopSize, n)
	var original *types.Exchange
	if x.Copy {
		original = exchange.Copy()
	}
	for i := 0; i < n && ContinueProcessing(exchange); i++ {
		x.iterate(exchange, original, i)
	}
	return exchange.Err()
}

func (x *LoopProcessor) processWhile(exchange *types.Exchange) error {
	var original *types.Exchange
	if x.Copy {
		original = exchange.Copy()
	}
	for i := 0; ContinueProcessing(exchange); i++ {
		if x.MaxIterations > 0 && i >= x.MaxIterations {
			break
		}
		ok, err := x.doWhile.Matches(exchange)
		if err != nil {
			exchange.SetErr(err)
			return err
		}
		if !ok {
			break
		}
		x.iterate(exchange, original, i)
	}
	return exchange.Err()
}

func (x *LoopProcessor) iterate(exchange, original *types.Exchange, index int) {
	if original == nil {
		exchange.SetProperty(types.PropertyLoopIndex, index)
		_ = types.Run(x.child, exchange)
		return
	}
	current := original.Copy()
	current.SetUnitOfWork(exchange.UnitOfWork())
	current.SetProperty(types.PropertyLoopIndex, index)
	_ = types.Run(x.child, current)
	exchange.CopyResultsFrom(current)
}

func (x *LoopProcessor) Next() []types.Processor {
	return []types.Processor{x.child}
}
