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

var (
	_ types.Processor = (*WrapProcessor)(nil)
	_ types.Navigate  = (*WrapProcessor)(nil)
)

// WrapProcessor runs the processor a policy wrapped around target. It never is
// a channel itself, so the policy node always gets its own channel.
// WrapProcessor 策略包装处理器
type WrapProcessor struct {
	wrapped types.Processor
	target  types.Processor
}

// NewWrapProcessor wrapped nil falls back to target
func NewWrapProcessor(wrapped, target types.Processor) *WrapProcessor {
	if wrapped == nil {
		wrapped = target
	}
	return &WrapProcessor{wrapped: wrapped, target: target}
}

func (x *WrapProcessor) Process(exchange *types.Exchange) error {
	return types.Run(x.wrapped, exchange)
}

// Wrapped the processor returned by the policy
func (x *WrapProcessor) Wrapped() types.Processor {
	return x.wrapped
}

func (x *WrapProcessor) Next() []types.Processor {
	return []types.Processor{x.target}
}

func (x *WrapProcessor) String() string {
	return "Wrap"
}
