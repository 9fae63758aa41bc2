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
	"sort"
	"strings"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/str"
)

// SetBodyProcessor replaces the message body with the expression value.
// It also serves the transform node.
// SetBodyProcessor 设置消息体
type SetBodyProcessor struct {
	expression types.Expression
}

func NewSetBodyProcessor(expression types.Expression) *SetBodyProcessor {
	return &SetBodyProcessor{expression: expression}
}

func (x *SetBodyProcessor) Process(exchange *types.Exchange) error {
	v, err := x.expression.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetBody(v)
	return nil
}

// SetHeaderProcessor sets a message header
type SetHeaderProcessor struct {
	name       string
	expression types.Expression
}

func NewSetHeaderProcessor(name string, expression types.Expression) *SetHeaderProcessor {
	return &SetHeaderProcessor{name: name, expression: expression}
}

func (x *SetHeaderProcessor) Process(exchange *types.Exchange) error {
	v, err := x.expression.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetHeader(x.name, v)
	return nil
}

// SetPropertyProcessor sets an exchange property
type SetPropertyProcessor struct {
	name       string
	expression types.Expression
}

func NewSetPropertyProcessor(name string, expression types.Expression) *SetPropertyProcessor {
	return &SetPropertyProcessor{name: name, expression: expression}
}

func (x *SetPropertyProcessor) Process(exchange *types.Exchange) error {
	v, err := x.expression.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetProperty(x.name, v)
	return nil
}

// RemoveHeaderProcessor removes headers by name. A pattern ending with * removes
// every header with that prefix, a lone * removes all of them.
// RemoveHeaderProcessor 删除消息头，支持 * 结尾的前缀匹配
type RemoveHeaderProcessor struct {
	pattern string
	// Exclude names kept when removing by pattern
	Exclude []string
}

func NewRemoveHeaderProcessor(pattern string) *RemoveHeaderProcessor {
	return &RemoveHeaderProcessor{pattern: pattern}
}

func (x *RemoveHeaderProcessor) Process(exchange *types.Exchange) error {
	msg := exchange.Message()
	for _, key := range matchingKeys(x.pattern, x.Exclude, msg.Headers) {
		msg.RemoveHeader(key)
	}
	return nil
}

// RemovePropertyProcessor removes properties by name or prefix pattern
type RemovePropertyProcessor struct {
	pattern string
	Exclude []string
}

func NewRemovePropertyProcessor(pattern string) *RemovePropertyProcessor {
	return &RemovePropertyProcessor{pattern: pattern}
}

func (x *RemovePropertyProcessor) Process(exchange *types.Exchange) error {
	for _, key := range matchingKeys(x.pattern, x.Exclude, exchange.Properties()) {
		exchange.RemoveProperty(key)
	}
	return nil
}

func matchingKeys(pattern string, exclude []string, values map[string]interface{}) []string {
	var keys []string
	if !strings.HasSuffix(pattern, "*") {
		if _, ok := values[pattern]; ok {
			keys = append(keys, pattern)
		}
		return keys
	}
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		excluded := false
		for _, e := range exclude {
			if e == key {
				excluded = true
				break
			}
		}
		if !excluded {
			keys = append(keys, key)
		}
	}
	return keys
}

// SortProcessor sorts the items returned by the expression and sets them as
// the body. A string value is split by the delimiter first.
// SortProcessor 排序
type SortProcessor struct {
	expression types.Expression
	comparator func(a, b interface{}) int
	// Delimiter splits string values, default ","
	Delimiter string
}

// NewSortProcessor comparator may be nil for the natural order
func NewSortProcessor(expression types.Expression, comparator func(a, b interface{}) int) *SortProcessor {
	if comparator == nil {
		comparator = cast.Compare
	}
	return &SortProcessor{expression: expression, comparator: comparator, Delimiter: ","}
}

func (x *SortProcessor) Process(exchange *types.Exchange) error {
	v, err := x.expression.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	var items []interface{}
	if s, ok := v.(string); ok {
		for _, item := range str.SplitAndTrim(s, x.Delimiter) {
			items = append(items, item)
		}
	} else {
		items = append(items, cast.ToSlice(v)...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return x.comparator(items[i], items[j]) < 0
	})
	exchange.SetBody(items)
	return nil
}
