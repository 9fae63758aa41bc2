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

// Package direct provides the direct: endpoint, a synchronous in-process call
// from a producer into the single consumer started on the same name.
//
// Uri format: direct:name[?block=true&timeout=30000]
//
// Package direct 同步进程内端点，生产者在调用方协程中直接调用同名消费者
package direct

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/base"
)

// Scheme uri scheme
const Scheme = "direct"

// ErrNoConsumer no consumer is started on the endpoint name
var ErrNoConsumer = errors.New("no consumers available on endpoint")

// Config endpoint parameters
type Config struct {
	// Block wait for a consumer to be started when there is none, instead of failing at once
	Block bool
	// Timeout how long to wait for a consumer in milliseconds when Block is set
	Timeout int64
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{Block: true, Timeout: 30000}
}

// Component creates direct endpoints. Endpoints are only visible within one component instance,
// each engine owns its own.
type Component struct {
	mu        sync.Mutex
	consumers map[string]*Consumer
	// changed is closed and replaced whenever a consumer registers
	changed chan struct{}
}

// New creates a direct component
func New() *Component {
	return &Component{consumers: make(map[string]*Consumer), changed: make(chan struct{})}
}

func (c *Component) Scheme() string {
	return Scheme
}

func (c *Component) CreateEndpoint(ctx types.EngineContext, uri string, remaining string, params map[string]string) (types.Endpoint, error) {
	if remaining == "" {
		return nil, types.NewIllegalArgumentError("direct endpoint %s has no name", uri)
	}
	config := DefaultConfig()
	if err := base.DecodeParams(uri, params, &config); err != nil {
		return nil, err
	}
	return &Endpoint{
		DefaultEndpoint: base.NewDefaultEndpoint(ctx, uri, remaining),
		Config:          config,
		component:       c,
	}, nil
}

// ConsumerCount number of started consumers
func (c *Component) ConsumerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

func (c *Component) addConsumer(name string, consumer *Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.consumers[name]; ok && existing != consumer {
		return types.NewIllegalStateError("a consumer is already started on direct:%s", name)
	}
	c.consumers[name] = consumer
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

func (c *Component) removeConsumer(name string, consumer *Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumers[name] == consumer {
		delete(c.consumers, name)
	}
}

func (c *Component) consumer(name string) (*Consumer, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumers[name], c.changed
}

// awaitConsumer returns the consumer of name, waiting for it up to timeout
func (c *Component) awaitConsumer(ctx context.Context, name string, block bool, timeout time.Duration) *Consumer {
	consumer, changed := c.consumer(name)
	if consumer != nil || !block || timeout <= 0 {
		return consumer
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for consumer == nil {
		select {
		case <-changed:
			consumer, changed = c.consumer(name)
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return consumer
}

// Endpoint direct:name
type Endpoint struct {
	base.DefaultEndpoint
	Config    Config
	component *Component
}

func (e *Endpoint) CreateProducer() (types.Producer, error) {
	return &Producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor types.Processor) (types.Consumer, error) {
	if processor == nil {
		return nil, types.NewIllegalArgumentError("consumer of %s has no processor", e.Uri())
	}
	return &Consumer{endpoint: e, processor: processor}, nil
}

// Producer calls the consumer in the caller goroutine
type Producer struct {
	endpoint *Endpoint
}

func (p *Producer) Endpoint() types.Endpoint {
	return p.endpoint
}

func (p *Producer) Start(ctx context.Context) error {
	return nil
}

func (p *Producer) Stop(ctx context.Context) error {
	return nil
}

func (p *Producer) Process(exchange *types.Exchange) error {
	e := p.endpoint
	timeout := time.Duration(e.Config.Timeout) * time.Millisecond
	consumer := e.component.awaitConsumer(exchange.Context(), e.Name, e.Config.Block, timeout)
	if consumer == nil {
		return types.NewExchangeError(exchange, ErrNoConsumer, "%s", e.Uri())
	}
	return consumer.process(exchange)
}

// Consumer receives exchanges sent to its name
type Consumer struct {
	base.GracefulShutdown
	endpoint  *Endpoint
	processor types.Processor
	suspended int32
}

func (c *Consumer) Endpoint() types.Endpoint {
	return c.endpoint
}

func (c *Consumer) Start(ctx context.Context) error {
	var timeout time.Duration
	if c.endpoint.Ctx != nil {
		timeout = c.endpoint.Ctx.Config().ShutdownTimeout
	}
	c.InitGracefulShutdown(c.endpoint.Logger(), timeout)
	return c.endpoint.component.addConsumer(c.endpoint.Name, c)
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.endpoint.component.removeConsumer(c.endpoint.Name, c)
	c.GracefulStop(ctx, nil)
	return nil
}

func (c *Consumer) Suspend() {
	atomic.StoreInt32(&c.suspended, 1)
}

func (c *Consumer) Resume() {
	atomic.StoreInt32(&c.suspended, 0)
}

func (c *Consumer) IsSuspended() bool {
	return atomic.LoadInt32(&c.suspended) == 1
}

func (c *Consumer) process(exchange *types.Exchange) error {
	if c.IsSuspended() || !c.BeginOp() {
		return types.NewExchangeError(exchange, ErrNoConsumer, "%s is not accepting exchanges", c.endpoint.Uri())
	}
	defer c.EndOp()
	return types.Run(c.processor, exchange)
}
