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

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/str"
)

// WireTapProcessor sends a copy of the exchange to a tap endpoint on another
// goroutine. The original exchange continues untouched.
//
// WireTapProcessor 窃听器，在另一个协程中把交换的副本发送到目标端点，原交换继续执行
type WireTapProcessor struct {
	target   types.Processor
	executor types.Executor
	// Copy tap a copy of the exchange, otherwise a new empty exchange
	Copy bool
	// NewBody optional body of the tapped exchange
	NewBody types.Expression
	// OnPrepare optional processor applied to the tapped exchange before sending
	OnPrepare types.Processor
	logger    types.Logger
	uri       string
}

// NewWireTapProcessor target is usually a send or toD processor for uri
func NewWireTapProcessor(uri string, target types.Processor, executor types.Executor, logger types.Logger) *WireTapProcessor {
	return &WireTapProcessor{uri: uri, target: target, executor: executor, Copy: true, logger: logger}
}

func (x *WireTapProcessor) Process(exchange *types.Exchange) error {
	if !ContinueProcessing(exchange) {
		return exchange.Err()
	}
	tap, err := x.configure(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	err = x.executor.Submit(func() {
		if err := types.Run(x.target, tap); err != nil && x.logger != nil {
			x.logger.Printf("wireTap to %s failed for exchange %s: %v", x.uri, tap.Id(), err)
		}
	})
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	return nil
}

func (x *WireTapProcessor) configure(exchange *types.Exchange) (*types.Exchange, error) {
	var tap *types.Exchange
	if x.Copy {
		tap = exchange.CorrelatedCopy()
	} else {
		tap = types.NewExchange(exchange.Context(), nil)
		tap.SetProperty(types.PropertyCorrelationId, exchange.Id())
	}
	tap.Pattern = types.InOnly
	tap.SetUnitOfWork(nil)
	if x.NewBody != nil {
		body, err := x.NewBody.Evaluate(exchange)
		if err != nil {
			return nil, err
		}
		tap.SetBody(body)
	}
	if x.OnPrepare != nil {
		if err := types.Run(x.OnPrepare, tap); err != nil {
			return nil, err
		}
	}
	return tap, nil
}

func (x *WireTapProcessor) Next() []types.Processor {
	return []types.Processor{x.target}
}

// RoutingSlipProcessor routes the exchange through the endpoints listed in
// the slip expression, one after another.
// RoutingSlipProcessor 路由单，依次把交换发送到表达式给出的端点
type RoutingSlipProcessor struct {
	expression    types.Expression
	delimiter     string
	ignoreInvalid bool
	producers     *ProducerCache
}

func NewRoutingSlipProcessor(expression types.Expression, delimiter string, ignoreInvalidEndpoints bool, resolver types.EndpointResolver) *RoutingSlipProcessor {
	if delimiter == "" {
		delimiter = ","
	}
	return &RoutingSlipProcessor{
		expression:    expression,
		delimiter:     delimiter,
		ignoreInvalid: ignoreInvalidEndpoints,
		producers:     NewProducerCache(resolver),
	}
}

func (x *RoutingSlipProcessor) Process(exchange *types.Exchange) error {
	v, err := x.expression.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	return x.walk(exchange, EndpointUris(v, x.delimiter))
}

// walk sends the exchange to each uri in turn
func (x *RoutingSlipProcessor) walk(exchange *types.Exchange, uris []string) error {
	for _, uri := range uris {
		if !ContinueProcessing(exchange) {
			break
		}
		if _, err := x.producers.Acquire(exchange.Context(), uri); err != nil {
			if x.ignoreInvalid {
				continue
			}
			exchange.SetErr(err)
			return err
		}
		exchange.SetProperty(types.PropertySlipEndpoint, uri)
		_ = x.producers.Send(uri, exchange)
	}
	return exchange.Err()
}

func (x *RoutingSlipProcessor) Start(ctx context.Context) error {
	return x.producers.Start(ctx)
}

func (x *RoutingSlipProcessor) Stop(ctx context.Context) error {
	return x.producers.Stop(ctx)
}

// DynamicRouterProcessor evaluates its expression again after every step and
// routes the exchange to the returned endpoints, until the expression returns
// nothing. The last endpoint is available as the SlipEndpoint property.
// DynamicRouterProcessor 动态路由，每一步之后重新计算下一个端点，直到表达式为空
type DynamicRouterProcessor struct {
	*RoutingSlipProcessor
}

func NewDynamicRouterProcessor(expression types.Expression, delimiter string, ignoreInvalidEndpoints bool, resolver types.EndpointResolver) *DynamicRouterProcessor {
	return &DynamicRouterProcessor{NewRoutingSlipProcessor(expression, delimiter, ignoreInvalidEndpoints, resolver)}
}

func (x *DynamicRouterProcessor) Process(exchange *types.Exchange) error {
	for ContinueProcessing(exchange) {
		v, err := x.expression.Evaluate(exchange)
		if err != nil {
			exchange.SetErr(err)
			return err
		}
		uris := EndpointUris(v, x.delimiter)
		if len(uris) == 0 {
			break
		}
		if err := x.walk(exchange, uris); err != nil {
			return err
		}
	}
	return exchange.Err()
}

// EndpointUris turns an expression value into endpoint uris: a delimited
// string, or a slice of values converted to strings. Blank entries are dropped.
func EndpointUris(value interface{}, delimiter string) []string {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok {
		return str.SplitAndTrim(s, delimiter)
	}
	var uris []string
	for _, item := range cast.ToSlice(value) {
		if s, ok := item.(string); ok && delimiter != "" {
			uris = append(uris, str.SplitAndTrim(s, delimiter)...)
			continue
		}
		if s := cast.ToString(item); s != "" {
			uris = append(uris, s)
		}
	}
	return uris
}
