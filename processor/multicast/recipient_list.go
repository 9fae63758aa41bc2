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
	"context"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

// RecipientListOptions recipient list configuration
type RecipientListOptions struct {
	Options
	// Delimiter separates uris in string values, default ","
	Delimiter string `json:"delimiter" mapstructure:"delimiter"`
	// IgnoreInvalidEndpoints skips uris that cannot be resolved
	IgnoreInvalidEndpoints bool `json:"ignoreInvalidEndpoints" mapstructure:"ignoreInvalidEndpoints"`
}

var _ types.Service = (*RecipientListProcessor)(nil)

// RecipientListProcessor sends the exchange to the endpoints computed by an
// expression and aggregates the replies.
//
// RecipientListProcessor 动态收件人列表
type RecipientListProcessor struct {
	*MulticastProcessor
	expression types.Expression
	options    RecipientListOptions
	producers  *processor.ProducerCache
}

// NewRecipientListProcessor creates a recipient list resolving endpoints with resolver
func NewRecipientListProcessor(expression types.Expression, resolver types.EndpointResolver, strategy types.AggregationStrategy, options RecipientListOptions, logger types.Logger) (*RecipientListProcessor, error) {
	if expression == nil {
		return nil, types.NewIllegalArgumentError("recipient list expression is required")
	}
	m, err := newMulticast(nil, strategy, options.Options, logger)
	if err != nil {
		return nil, err
	}
	if options.Delimiter == "" {
		options.Delimiter = DefaultSplitDelimiter
	}
	x := &RecipientListProcessor{
		MulticastProcessor: m,
		expression:         expression,
		options:            options,
		producers:          processor.NewProducerCache(resolver),
	}
	m.pairs = x.createPairs
	return x, nil
}

func (x *RecipientListProcessor) createPairs(exchange *types.Exchange) (PairSource, error) {
	value, err := x.expression.Evaluate(exchange)
	if err != nil {
		return nil, types.NewExchangeError(exchange, err, "Error evaluating recipient list expression")
	}
	uris := processor.EndpointUris(value, x.options.Delimiter)
	pairs := make([]*Pair, 0, len(uris))
	for _, uri := range uris {
		producer, err := x.producers.Acquire(exchange.Context(), uri)
		if err != nil {
			if x.options.IgnoreInvalidEndpoints {
				types.LogAt(x.logger, "DEBUG", "recipient list %s ignores invalid endpoint %s: %v", x.id, uri, err)
				continue
			}
			return nil, err
		}
		c := x.NewBranchExchange(exchange)
		c.SetProperty(types.PropertyRecipientListEndpoint, uri)
		c.SetProperty(types.PropertyToEndpoint, uri)
		pairs = append(pairs, &Pair{Index: len(pairs), Processor: producer, Exchange: c})
	}
	return NewPairs(pairs), nil
}

// Producers number of cached producers
func (x *RecipientListProcessor) Producers() int {
	return x.producers.Size()
}

func (x *RecipientListProcessor) Start(ctx context.Context) error {
	return x.producers.Start(ctx)
}

func (x *RecipientListProcessor) Stop(ctx context.Context) error {
	return x.producers.Stop(ctx)
}
