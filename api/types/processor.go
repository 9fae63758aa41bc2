/*
 * Copyright 2023 The RuleGo Authors.
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

package types

import (
	"context"
)

// Processor is the unit of execution.
// Process runs synchronously. A fault is both recorded on the exchange and
// returned, so that callers may use either the exchange or the returned error.
//
// Processor 执行单元。Process 同步执行，错误同时记录在交换上并返回。
type Processor interface {
	Process(exchange *Exchange) error
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(exchange *Exchange) error

func (f ProcessorFunc) Process(exchange *Exchange) error {
	if err := f(exchange); err != nil {
		exchange.SetErr(err)
		return err
	}
	return exchange.Err()
}

// AsyncCallback is invoked when an asynchronous processor has finished.
// doneSync tells whether processing completed on the calling goroutine.
type AsyncCallback func(doneSync bool)

// AsyncProcessor is the asynchronous variant of Processor.
// ProcessAsync returns true when processing completed synchronously; the
// callback is always invoked exactly once. The fault, if any, is on the exchange.
//
// AsyncProcessor 异步处理器。同步完成时返回true，回调函数总是被调用且仅调用一次。
type AsyncProcessor interface {
	Processor
	ProcessAsync(exchange *Exchange, callback AsyncCallback) bool
}

// Channel is the runtime wrapper of a processor that adds interceptors and an
// error handler.
// Channel 通道，为处理器添加拦截器和错误处理器
type Channel interface {
	Processor
	// NodeId the id of the node this channel wraps
	NodeId() string
	// NextProcessor the wrapped processor
	NextProcessor() Processor
	// Output the wrapped processor decorated with interceptors
	Output() Processor
	// ErrorHandler the installed error handler, nil when absent
	ErrorHandler() Processor
}

// Navigate exposes the child processors of a composite processor
type Navigate interface {
	Next() []Processor
}

// Service is a processor or endpoint with a lifecycle.
// Service 有生命周期的服务
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// IdAware processors receive the id of the node they were created from
type IdAware interface {
	SetId(id string)
	Id() string
}

// Run processes the exchange and normalizes the outcome: a returned error is
// recorded on the exchange, and the exchange fault is returned.
// Run 执行处理器并统一错误结果
func Run(p Processor, exchange *Exchange) error {
	if p == nil {
		return exchange.Err()
	}
	if err := p.Process(exchange); err != nil && exchange.Err() == nil {
		exchange.SetErr(err)
	}
	return exchange.Err()
}

// ProcessAsync calls the asynchronous variant when available, otherwise
// processes synchronously and invokes the callback.
func ProcessAsync(p Processor, exchange *Exchange, callback AsyncCallback) bool {
	if ap, ok := p.(AsyncProcessor); ok {
		return ap.ProcessAsync(exchange, callback)
	}
	_ = Run(p, exchange)
	callback(true)
	return true
}

// Await runs an asynchronous processor and blocks until its callback fires.
// Await 同步等待异步处理器完成
func Await(p AsyncProcessor, exchange *Exchange) error {
	done := make(chan struct{})
	if sync := p.ProcessAsync(exchange, func(doneSync bool) {
		if !doneSync {
			close(done)
		}
	}); !sync {
		<-done
	}
	return exchange.Err()
}

// ServiceHelper helpers to start and stop processors that implement Service
var ServiceHelper = serviceHelper{}

type serviceHelper struct{}

// Start starts every Service in the list, stopping at the first error
func (serviceHelper) Start(ctx context.Context, services ...interface{}) error {
	for _, s := range services {
		if svc, ok := s.(Service); ok {
			if err := svc.Start(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops every Service in reverse order and returns the first error
func (serviceHelper) Stop(ctx context.Context, services ...interface{}) error {
	var first error
	for i := len(services) - 1; i >= 0; i-- {
		if svc, ok := services[i].(Service); ok {
			if err := svc.Stop(ctx); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
