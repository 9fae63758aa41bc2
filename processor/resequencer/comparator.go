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

// Package resequencer puts exchanges back in order, either in batches sorted
// by an expression or as a stream of sequence numbers.
//
// Package resequencer 重排序处理器，支持批量排序和按序列号的流式重排
package resequencer

import (
	"errors"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
)

// ErrMessageRejected the exchange would be delivered out of order
var ErrMessageRejected = errors.New("message rejected")

// Comparator orders expression values
type Comparator interface {
	Compare(a, b interface{}) int
}

// SequenceComparator a comparator that also knows which value directly follows another
// SequenceComparator 序列比较器，可以判断两个值是否连续
type SequenceComparator interface {
	Comparator
	// Successor reports whether b directly follows a
	Successor(a, b interface{}) bool
	// IsValid reports whether value can be compared
	IsValid(value interface{}) bool
}

// NaturalComparator numbers numerically, times chronologically, others by string value
type NaturalComparator struct{}

func (NaturalComparator) Compare(a, b interface{}) int {
	return cast.Compare(a, b)
}

// ReverseComparator inverts a comparator
type ReverseComparator struct {
	Comparator
}

func (r ReverseComparator) Compare(a, b interface{}) int {
	return r.Comparator.Compare(b, a)
}

// DefaultSequenceComparator integer sequence numbers, b follows a iff b == a+1
type DefaultSequenceComparator struct{}

func (DefaultSequenceComparator) Compare(a, b interface{}) int {
	x, y := cast.ToInt64(a), cast.ToInt64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func (DefaultSequenceComparator) Successor(a, b interface{}) bool {
	return cast.ToInt64(b)-cast.ToInt64(a) == 1
}

func (DefaultSequenceComparator) IsValid(value interface{}) bool {
	if value == nil {
		return false
	}
	_, err := cast.ToInt64E(value)
	return err == nil
}

// element an exchange with its evaluated sequence value
type element struct {
	seq      uint64
	value    interface{}
	exchange *types.Exchange
}
