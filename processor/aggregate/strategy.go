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

// Package aggregate implements the aggregator: exchanges sharing a
// correlation key are merged by an aggregation strategy until a completion
// condition fires, then the merged exchange is sent on.
//
// Package aggregate 聚合器：相同关联键的交换按聚合策略合并，满足完成条件后发送合并结果。
package aggregate

import (
	"fmt"
	"strings"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

const (
	// PropertyGroupedExchange list of exchanges collected by GroupedExchangeStrategy
	PropertyGroupedExchange = "GroupedExchange"
)

var (
	_ types.AggregationStrategy                = UseLatestStrategy{}
	_ types.AggregationStrategy                = UseOriginalStrategy{}
	_ types.CompletionAwareAggregationStrategy = (*GroupedExchangeStrategy)(nil)
	_ types.AggregationStrategy                = (*GroupedBodyStrategy)(nil)
	_ types.AggregationStrategy                = (*StringConcatStrategy)(nil)
)

// UseLatestStrategy keeps the newest exchange. The fault of the old exchange
// is carried over when the new one has none.
// UseLatestStrategy 使用最新的交换
type UseLatestStrategy struct{}

func (s UseLatestStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	if newExchange == nil {
		return oldExchange, nil
	}
	if oldExchange == nil {
		return newExchange, nil
	}
	if newExchange.Err() == nil && oldExchange.Err() != nil {
		newExchange.SetErr(oldExchange.Err())
		if v := oldExchange.Property(types.PropertyExceptionCaught); v != nil {
			newExchange.SetProperty(types.PropertyExceptionCaught, v)
		}
	}
	return newExchange, nil
}

// UseOriginalStrategy keeps the first exchange, or a fixed original when set.
// UseOriginalStrategy 使用原始交换
type UseOriginalStrategy struct {
	Original *types.Exchange
	// PropagateErr copy the fault of the new exchange onto the original
	PropagateErr bool
}

func (s UseOriginalStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	answer := s.Original
	if answer == nil {
		answer = oldExchange
	}
	if answer == nil {
		answer = newExchange
	}
	if s.PropagateErr && newExchange != nil && newExchange.Err() != nil && answer != newExchange {
		answer.SetErr(newExchange.Err())
	}
	return answer, nil
}

// GroupedExchangeStrategy collects the exchanges into a list. On completion
// the list becomes the body of the aggregated exchange.
// GroupedExchangeStrategy 把交换收集为列表
type GroupedExchangeStrategy struct{}

func (s *GroupedExchangeStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	if oldExchange == nil {
		answer := newExchange.Copy()
		answer.SetId(newExchange.Id())
		answer.SetProperty(PropertyGroupedExchange, []*types.Exchange{newExchange})
		return answer, nil
	}
	list, _ := oldExchange.Property(PropertyGroupedExchange).([]*types.Exchange)
	oldExchange.SetProperty(PropertyGroupedExchange, append(list[:len(list):len(list)], newExchange))
	return oldExchange, nil
}

func (s *GroupedExchangeStrategy) OnCompletion(exchange *types.Exchange) {
	if list, ok := exchange.Property(PropertyGroupedExchange).([]*types.Exchange); ok {
		exchange.SetBody(list)
		exchange.RemoveProperty(PropertyGroupedExchange)
	}
}

// GroupedBodyStrategy collects the message bodies into a []interface{} body
// GroupedBodyStrategy 把消息体收集为列表
type GroupedBodyStrategy struct{}

func (s *GroupedBodyStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	if oldExchange == nil {
		newExchange.SetBody([]interface{}{newExchange.Body()})
		return newExchange, nil
	}
	list, ok := oldExchange.Body().([]interface{})
	if !ok {
		list = []interface{}{oldExchange.Body()}
	}
	// never append into a backing array another version may share
	oldExchange.SetBody(append(list[:len(list):len(list)], newExchange.Body()))
	return oldExchange, nil
}

// StringConcatStrategy joins the bodies into one string
// StringConcatStrategy 拼接字符串消息体
type StringConcatStrategy struct {
	Delimiter string
	// Header when set, the value of this header is joined instead of the body
	Header string
}

func (s *StringConcatStrategy) value(exchange *types.Exchange) string {
	if s.Header != "" {
		return str.ToString(exchange.Header(s.Header))
	}
	return str.ToString(exchange.Body())
}

func (s *StringConcatStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	if newExchange == nil {
		return oldExchange, nil
	}
	if oldExchange == nil {
		newExchange.SetBody(s.value(newExchange))
		return newExchange, nil
	}
	var sb strings.Builder
	sb.WriteString(str.ToString(oldExchange.Body()))
	sb.WriteString(s.Delimiter)
	sb.WriteString(s.value(newExchange))
	oldExchange.SetBody(sb.String())
	return oldExchange, nil
}

// ShareUnitOfWorkStrategy wraps a strategy so that the aggregated exchange
// keeps the fault of any part, used by sub units of work.
type ShareUnitOfWorkStrategy struct {
	Delegate types.AggregationStrategy
}

func (s *ShareUnitOfWorkStrategy) Aggregate(oldExchange, newExchange *types.Exchange) (*types.Exchange, error) {
	var err error
	if newExchange != nil && newExchange.Err() != nil {
		err = newExchange.Err()
	} else if oldExchange != nil && oldExchange.Err() != nil {
		err = oldExchange.Err()
	}
	answer, aggErr := s.Delegate.Aggregate(oldExchange, newExchange)
	if aggErr != nil {
		return nil, aggErr
	}
	if answer != nil && err != nil && answer.Err() == nil {
		answer.SetErr(err)
	}
	return answer, nil
}

// Unwrap returns the delegate
func (s *ShareUnitOfWorkStrategy) Unwrap() types.AggregationStrategy {
	return s.Delegate
}

// NewStrategy creates a built in strategy by name: useLatest, useOriginal,
// groupedExchange, groupedBody, string.
// NewStrategy 按名称创建内置聚合策略
func NewStrategy(name string) (types.AggregationStrategy, error) {
	switch name {
	case "", "useLatest":
		return UseLatestStrategy{}, nil
	case "useOriginal":
		return UseOriginalStrategy{}, nil
	case "groupedExchange":
		return &GroupedExchangeStrategy{}, nil
	case "groupedBody":
		return &GroupedBodyStrategy{}, nil
	case "string":
		return &StringConcatStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %s", name)
	}
}
