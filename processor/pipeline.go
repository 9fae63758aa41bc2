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
	"context"
	"time"

	"github.com/rulego/routego/api/types"
)

var (
	_ types.Processor = (*Pipeline)(nil)
	_ types.Navigate  = (*Pipeline)(nil)
)

// Pipeline runs processors in order on the same exchange. It stops at the
// first fault or when the exchange is marked to stop routing.
// Pipeline 管道，按顺序执行处理器，遇到错误或停止标记时终止
type Pipeline struct {
	processors []types.Processor
}

// NewPipeline creates a pipeline, nil processors are skipped
func NewPipeline(processors ...types.Processor) *Pipeline {
	list := make([]types.Processor, 0, len(processors))
	for _, p := range processors {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Pipeline{processors: list}
}

// Compose returns nil for no processor, the processor itself for one, a Pipeline otherwise
// Compose 组合处理器：无则返回nil，一个则直接返回，多个返回管道
func Compose(processors ...types.Processor) types.Processor {
	pipeline := NewPipeline(processors...)
	switch len(pipeline.processors) {
	case 0:
		return nil
	case 1:
		return pipeline.processors[0]
	default:
		return pipeline
	}
}

func (x *Pipeline) Process(exchange *types.Exchange) error {
	for _, p := range x.processors {
		if !ContinueProcessing(exchange) {
			break
		}
		_ = types.Run(p, exchange)
	}
	return exchange.Err()
}

func (x *Pipeline) Next() []types.Processor {
	return x.processors
}

func (x *Pipeline) String() string {
	return "Pipeline"
}

// StepProcessor a pipeline with an id, exposed as the StepId property while it runs
// StepProcessor 步骤，带标识的管道
type StepProcessor struct {
	*Pipeline
	id string
}

func NewStepProcessor(id string, processors ...types.Processor) *StepProcessor {
	return &StepProcessor{Pipeline: NewPipeline(processors...), id: id}
}

func (x *StepProcessor) Process(exchange *types.Exchange) error {
	previous := exchange.Property(types.PropertyStepId)
	exchange.SetProperty(types.PropertyStepId, x.id)
	err := x.Pipeline.Process(exchange)
	if previous != nil {
		exchange.SetProperty(types.PropertyStepId, previous)
	} else {
		exchange.RemoveProperty(types.PropertyStepId)
	}
	return err
}

func (x *StepProcessor) Id() string {
	return x.id
}

func (x *StepProcessor) String() string {
	return "Step[" + x.id + "]"
}

// ContinueProcessing reports whether the next processor may run. A cancelled
// exchange context becomes the exchange fault.
func ContinueProcessing(exchange *types.Exchange) bool {
	if exchange.IsFailed() || exchange.IsRouteStop() {
		return false
	}
	if err := exchange.Context().Err(); err != nil {
		exchange.SetErr(err)
		return false
	}
	return true
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
