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

package multicast

import (
	"reflect"
	"strings"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
)

// DefaultSplitDelimiter delimiter used to split string values
const DefaultSplitDelimiter = ","

// SplitOptions splitter configuration
type SplitOptions struct {
	Options
	// Delimiter for string values, "false" disables splitting of strings
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
}

// SplitterProcessor evaluates an expression and sends every value of the
// result to the output as a separate exchange.
//
// SplitterProcessor 拆分器，把表达式结果的每个元素作为独立交换发送给下游
type SplitterProcessor struct {
	*MulticastProcessor
	expression types.Expression
	delimiter  string
	output     types.Processor
}

// NewSplitterProcessor creates a splitter. strategy defaults to use latest.
func NewSplitterProcessor(expression types.Expression, output types.Processor, strategy types.AggregationStrategy, options SplitOptions, logger types.Logger) (*SplitterProcessor, error) {
	if expression == nil {
		return nil, types.NewIllegalArgumentError("split expression is required")
	}
	m, err := newMulticast(nil, strategy, options.Options, logger)
	if err != nil {
		return nil, err
	}
	x := &SplitterProcessor{
		MulticastProcessor: m,
		expression:         expression,
		delimiter:          options.Delimiter,
		output:             output,
	}
	if x.delimiter == "" {
		x.delimiter = DefaultSplitDelimiter
	}
	m.children = []types.Processor{output}
	m.pairs = x.createPairs
	return x, nil
}

func (x *SplitterProcessor) createPairs(exchange *types.Exchange) (PairSource, error) {
	value, err := x.expression.Evaluate(exchange)
	if err != nil {
		return nil, types.NewExchangeError(exchange, err, "Error evaluating split expression")
	}
	it := x.iterate(value)
	if x.Streaming {
		return &streamPairs{splitter: x, exchange: exchange, it: it}, nil
	}
	var values []interface{}
	for {
		v, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		values = append(values, v)
	}
	pairs := make([]*Pair, len(values))
	for i, v := range values {
		pairs[i] = x.newPair(exchange, i, v, i == len(values)-1)
		pairs[i].Exchange.SetProperty(types.PropertySplitSize, len(values))
	}
	return NewPairs(pairs), nil
}

func (x *SplitterProcessor) newPair(exchange *types.Exchange, index int, value interface{}, last bool) *Pair {
	c := x.NewBranchExchange(exchange)
	if msg, ok := value.(*types.Message); ok {
		c.In = msg.Copy()
	} else {
		c.SetBody(value)
	}
	c.SetProperty(types.PropertySplitIndex, index)
	c.SetProperty(types.PropertySplitComplete, last)
	return &Pair{Index: index, Processor: x.output, Exchange: c}
}

// iterate turns an expression result into an iterator
func (x *SplitterProcessor) iterate(value interface{}) types.Iterator {
	switch v := value.(type) {
	case nil:
		return &sliceIterator{}
	case types.Iterator:
		return v
	case string:
		if strings.EqualFold(x.delimiter, "false") {
			return &sliceIterator{values: []interface{}{v}}
		}
		if v == "" {
			return &sliceIterator{}
		}
		return &sliceIterator{values: cast.ToSlice(strings.Split(v, x.delimiter))}
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Chan {
		return &chanIterator{ch: rv}
	}
	return &sliceIterator{values: cast.ToSlice(value)}
}

// streamPairs pulls one value ahead so the last pair knows it completes the split
type streamPairs struct {
	splitter *SplitterProcessor
	exchange *types.Exchange
	it       types.Iterator
	index    int
	next     interface{}
	hasNext  bool
	primed   bool
}

func (s *streamPairs) Next() (*Pair, bool, error) {
	if !s.primed {
		s.primed = true
		v, ok, err := s.it.Next()
		if err != nil {
			return nil, false, err
		}
		s.next, s.hasNext = v, ok
	}
	if !s.hasNext {
		return nil, false, nil
	}
	current := s.next
	v, ok, err := s.it.Next()
	if err != nil {
		return nil, false, err
	}
	s.next, s.hasNext = v, ok
	pair := s.splitter.newPair(s.exchange, s.index, current, !ok)
	s.index++
	if !ok {
		pair.Exchange.SetProperty(types.PropertySplitSize, s.index)
	}
	return pair, true, nil
}

type sliceIterator struct {
	values []interface{}
	i      int
}

func (it *sliceIterator) Next() (interface{}, bool, error) {
	if it.i >= len(it.values) {
		return nil, false, nil
	}
	v := it.values[it.i]
	it.i++
	return v, true, nil
}

type chanIterator struct {
	ch reflect.Value
}

func (it *chanIterator) Next() (interface{}, bool, error) {
	v, ok := it.ch.Recv()
	if !ok {
		return nil, false, nil
	}
	return v.Interface(), true, nil
}
