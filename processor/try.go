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

// TryProcessor runs the try block, hands a fault to the first matching catch
// and always runs finally. A fault raised in finally replaces the original one.
//
// TryProcessor 执行 try 块，错误交给第一个匹配的 catch 处理，finally 总会执行
type TryProcessor struct {
	body    types.Processor
	catches []*CatchProcessor
	finally types.Processor
}

func NewTryProcessor(body types.Processor, catches []*CatchProcessor, finally types.Processor) *TryProcessor {
	return &TryProcessor{body: body, catches: catches, finally: finally}
}

func (x *TryProcessor) Process(exchange *types.Exchange) error {
	_ = types.Run(x.body, exchange)
	if err := exchange.Err(); err != nil {
		if c := x.findCatch(exchange, err); c != nil {
			exchange.SetErr(nil)
			exchange.SetProperty(types.PropertyExceptionCaught, err)
			_ = types.Run(c.body, exchange)
		}
	}
	if x.finally != nil {
		fault := exchange.Err()
		stop := exchange.IsRouteStop()
		exchange.SetErr(nil)
		exchange.SetRouteStop(false)
		_ = types.Run(x.finally, exchange)
		if exchange.Err() == nil {
			exchange.SetErr(fault)
		}
		if stop {
			exchange.SetRouteStop(true)
		}
	}
	return exchange.Err()
}

// findCatch prefers catches naming specific error types over catch-all ones
func (x *TryProcessor) findCatch(exchange *types.Exchange, err error) *CatchProcessor {
	for _, catchAll := range []bool{false, true} {
		for _, c := range x.catches {
			if c.IsCatchAll() == catchAll && c.Catches(exchange, err) {
				return c
			}
		}
	}
	return nil
}

func (x *TryProcessor) Next() []types.Processor {
	next := []types.Processor{x.body}
	for _, c := range x.catches {
		next = append(next, c)
	}
	if x.finally != nil {
		next = append(next, x.finally)
	}
	return next
}

// CatchAllErrorType the error type name matching every error
const CatchAllErrorType = "error"

// CatchProcessor handles faults of the listed error types. No type means any error.
// CatchProcessor 捕获指定类型的错误，未指定类型时捕获所有错误
type CatchProcessor struct {
	errorTypes []string
	registry   *types.ErrorTypeRegistry
	onWhen     types.Predicate
	body       types.Processor
}

func NewCatchProcessor(errorTypes []string, registry *types.ErrorTypeRegistry, onWhen types.Predicate, body types.Processor) *CatchProcessor {
	if registry == nil {
		registry = types.NewErrorTypeRegistry()
	}
	return &CatchProcessor{errorTypes: errorTypes, registry: registry, onWhen: onWhen, body: body}
}

// IsCatchAll reports whether the catch handles any error
func (x *CatchProcessor) IsCatchAll() bool {
	if len(x.errorTypes) == 0 {
		return true
	}
	for _, name := range x.errorTypes {
		if name == CatchAllErrorType {
			return true
		}
	}
	return false
}

// Catches reports whether err, or an error it wraps, is one of the caught types
func (x *CatchProcessor) Catches(exchange *types.Exchange, err error) bool {
	if !x.matchesType(err) {
		return false
	}
	if x.onWhen == nil {
		return true
	}
	ok, e := x.onWhen.Matches(exchange)
	return e == nil && ok
}

func (x *CatchProcessor) matchesType(err error) bool {
	if len(x.errorTypes) == 0 {
		return true
	}
	for _, e := range types.Chain(err) {
		for _, name := range x.errorTypes {
			if x.registry.Matches(name, e) {
				return true
			}
		}
	}
	return false
}

// Process runs the catch block on its own
func (x *CatchProcessor) Process(exchange *types.Exchange) error {
	return types.Run(x.body, exchange)
}
