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
	"github.com/rulego/routego/utils/str"
)

var (
	_ types.Processor = (*EnrichProcessor)(nil)
	_ types.Service   = (*EnrichProcessor)(nil)
)

// EnrichProcessor sends a request-reply copy of the exchange to a resource
// endpoint and merges the reply into the exchange with the aggregation
// strategy. Without strategy the reply replaces the message.
// EnrichProcessor 内容增强，调用资源端点并用聚合策略合并结果
type EnrichProcessor struct {
	uri       types.Expression
	producers *ProducerCache
	strategy  types.AggregationStrategy
	// AggregateOnException passes failed replies to the strategy instead of failing the exchange
	AggregateOnException bool
	// IgnoreInvalidEndpoint skips the enrichment when the uri is empty or cannot be resolved
	IgnoreInvalidEndpoint bool
}

func NewEnrichProcessor(uri types.Expression, resolver types.EndpointResolver, strategy types.AggregationStrategy) *EnrichProcessor {
	return &EnrichProcessor{uri: uri, producers: NewProducerCache(resolver), strategy: strategy}
}

func (x *EnrichProcessor) Process(exchange *types.Exchange) error {
	v, err := x.uri.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	uri := str.ToString(v)
	if uri == "" {
		if x.IgnoreInvalidEndpoint {
			return nil
		}
		err = types.NewExchangeError(exchange, nil, "enrich endpoint uri is empty")
		exchange.SetErr(err)
		return err
	}
	if _, err := x.producers.Acquire(exchange.Context(), uri); err != nil {
		if x.IgnoreInvalidEndpoint {
			return nil
		}
		exchange.SetErr(err)
		return err
	}
	resource := exchange.Copy()
	resource.Pattern = types.InOut
	_ = x.producers.Send(uri, resource)
	if resource.IsFailed() && !x.AggregateOnException {
		exchange.SetErr(resource.Err())
		return resource.Err()
	}
	if x.strategy == nil {
		exchange.CopyResultsFrom(resource)
		return exchange.Err()
	}
	result, err := x.strategy.Aggregate(exchange, resource)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	if result != nil && result != exchange {
		exchange.CopyResultsFrom(result)
	}
	return exchange.Err()
}

func (x *EnrichProcessor) Start(ctx context.Context) error {
	return x.producers.Start(ctx)
}

func (x *EnrichProcessor) Stop(ctx context.Context) error {
	return x.producers.Stop(ctx)
}
