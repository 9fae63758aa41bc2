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
	"sync/atomic"

	"github.com/rulego/routego/api/types"
)

// FilterProcessor runs its child only for exchanges matching the predicate
// FilterProcessor 过滤器，断言为真时才执行子处理器
type FilterProcessor struct {
	predicate types.Predicate
	child     types.Processor
	filtered  int64
}

func NewFilterProcessor(predicate types.Predicate, child types.Processor) *FilterProcessor {
	return &FilterProcessor{predicate: predicate, child: child}
}

// Matches evaluates the predicate and records the result on the exchange
func (x *FilterProcessor) Matches(exchange *types.Exchange) (bool, error) {
	matches, err := x.predicate.Matches(exchange)
	if err != nil {
		return false, err
	}
	exchange.SetProperty(types.PropertyFilterMatched, matches)
	if !matches {
		atomic.AddInt64(&x.filtered, 1)
	}
	return matches, nil
}

func (x *FilterProcessor) Process(exchange *types.Exchange) error {
	matches, err := x.Matches(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	if matches {
		return types.Run(x.child, exchange)
	}
	return nil
}

// Filtered number of exchanges that did not match
func (x *FilterProcessor) Filtered() int64 {
	return atomic.LoadInt64(&x.filtered)
}

func (x *FilterProcessor) Next() []types.Processor {
	if x.child == nil {
		return nil
	}
	return []types.Processor{x.child}
}

// ChoiceProcessor runs the child of the first matching when, or otherwise.
// ChoiceProcessor 条件分支，执行第一个匹配的 when，否则执行 otherwise
type ChoiceProcessor struct {
	whens     []*FilterProcessor
	otherwise types.Processor
}

func NewChoiceProcessor(whens []*FilterProcessor, otherwise types.Processor) *ChoiceProcessor {
	return &ChoiceProcessor{whens: whens, otherwise: otherwise}
}

func (x *ChoiceProcessor) Process(exchange *types.Exchange) error {
	for _, when := range x.whens {
		matches, err := when.Matches(exchange)
		if err != nil {
			exchange.SetErr(err)
			return err
		}
		if matches {
			return types.Run(when.child, exchange)
		}
	}
	if x.otherwise != nil {
		return types.Run(x.otherwise, exchange)
	}
	return nil
}

func (x *ChoiceProcessor) Next() []types.Processor {
	var next []types.Processor
	for _, when := range x.whens {
		next = append(next, when)
	}
	if x.otherwise != nil {
		next = append(next, x.otherwise)
	}
	return next
}

// ValidateProcessor fails exchanges not matching the predicate with a PredicateValidationError
type ValidateProcessor struct {
	predicate types.Predicate
	text      string
}

// NewValidateProcessor text describes the predicate in the error
func NewValidateProcessor(predicate types.Predicate, text string) *ValidateProcessor {
	return &ValidateProcessor{predicate: predicate, text: text}
}

func (x *ValidateProcessor) Process(exchange *types.Exchange) error {
	matches, err := x.predicate.Matches(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	if !matches {
		err = &types.PredicateValidationError{ExchangeId: exchange.Id(), Predicate: x.text}
		exchange.SetErr(err)
		return err
	}
	return nil
}
