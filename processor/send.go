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
	"sync"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/str"
)

var (
	_ types.Processor = (*SendProcessor)(nil)
	_ types.Service   = (*SendProcessor)(nil)
)

// SendProcessor sends the exchange to a static endpoint
// SendProcessor 发送交换到固定端点
type SendProcessor struct {
	endpoint types.Endpoint
	mu       sync.Mutex
	producer types.Producer
}

func NewSendProcessor(endpoint types.Endpoint) *SendProcessor {
	return &SendProcessor{endpoint: endpoint}
}

func (x *SendProcessor) Endpoint() types.Endpoint {
	return x.endpoint
}

func (x *SendProcessor) Start(ctx context.Context) error {
	_, err := x.acquire(ctx)
	return err
}

func (x *SendProcessor) Stop(ctx context.Context) error {
	x.mu.Lock()
	producer := x.producer
	x.producer = nil
	x.mu.Unlock()
	if producer != nil {
		return producer.Stop(ctx)
	}
	return nil
}

func (x *SendProcessor) acquire(ctx context.Context) (types.Producer, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.producer != nil {
		return x.producer, nil
	}
	producer, err := x.endpoint.CreateProducer()
	if err != nil {
		return nil, err
	}
	if err := producer.Start(ctx); err != nil {
		return nil, err
	}
	x.producer = producer
	return producer, nil
}

func (x *SendProcessor) Process(exchange *types.Exchange) error {
	producer, err := x.acquire(exchange.Context())
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetProperty(types.PropertyToEndpoint, x.endpoint.Uri())
	return types.Run(producer, exchange)
}

func (x *SendProcessor) String() string {
	return "sendTo(" + x.endpoint.Uri() + ")"
}

// ProducerCache keeps one started producer per endpoint uri until stopped.
// ProducerCache 按URI缓存已启动的生产者
type ProducerCache struct {
	resolver  types.EndpointResolver
	mu        sync.Mutex
	producers map[string]types.Producer
}

func NewProducerCache(resolver types.EndpointResolver) *ProducerCache {
	return &ProducerCache{resolver: resolver, producers: make(map[string]types.Producer)}
}

// Acquire returns the producer for uri, creating and starting it on first use
func (c *ProducerCache) Acquire(ctx context.Context, uri string) (types.Producer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.producers[uri]; ok {
		return p, nil
	}
	if c.resolver == nil {
		return nil, types.NewIllegalStateError("no endpoint resolver to resolve %s", uri)
	}
	endpoint, err := c.resolver.ResolveEndpoint(uri)
	if err != nil {
		return nil, err
	}
	p, err := endpoint.CreateProducer()
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	c.producers[uri] = p
	return p, nil
}

// Send sends exchange to uri and records the endpoint on the exchange
func (c *ProducerCache) Send(uri string, exchange *types.Exchange) error {
	p, err := c.Acquire(exchange.Context(), uri)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	exchange.SetProperty(types.PropertyToEndpoint, uri)
	return types.Run(p, exchange)
}

// Size number of cached producers
func (c *ProducerCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.producers)
}

func (c *ProducerCache) Start(ctx context.Context) error {
	return nil
}

// Stop stops every cached producer and empties the cache
func (c *ProducerCache) Stop(ctx context.Context) error {
	c.mu.Lock()
	producers := c.producers
	c.producers = make(map[string]types.Producer)
	c.mu.Unlock()
	var first error
	for _, p := range producers {
		if err := p.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ToDynamicProcessor sends to an endpoint computed from the exchange
// ToDynamicProcessor 发送到动态计算的端点
type ToDynamicProcessor struct {
	uri           types.Expression
	producers     *ProducerCache
	ignoreInvalid bool
}

func NewToDynamicProcessor(uri types.Expression, resolver types.EndpointResolver, ignoreInvalidEndpoint bool) *ToDynamicProcessor {
	return &ToDynamicProcessor{uri: uri, producers: NewProducerCache(resolver), ignoreInvalid: ignoreInvalidEndpoint}
}

func (x *ToDynamicProcessor) Process(exchange *types.Exchange) error {
	v, err := x.uri.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	uri := str.ToString(v)
	if uri == "" {
		if x.ignoreInvalid {
			return nil
		}
		err = types.NewExchangeError(exchange, nil, "dynamic endpoint uri is empty")
		exchange.SetErr(err)
		return err
	}
	if _, err := x.producers.Acquire(exchange.Context(), uri); err != nil {
		if x.ignoreInvalid {
			return nil
		}
		exchange.SetErr(err)
		return err
	}
	return x.producers.Send(uri, exchange)
}

func (x *ToDynamicProcessor) Start(ctx context.Context) error {
	return x.producers.Start(ctx)
}

func (x *ToDynamicProcessor) Stop(ctx context.Context) error {
	return x.producers.Stop(ctx)
}
