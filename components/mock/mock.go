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

// Package mock provides the mock: endpoint used to assert what a route sent.
// Endpoints with the same name share their expectations and received exchanges.
//
// Package mock 测试用端点，记录收到的交换并校验期望
package mock

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/components/base"
)

// Scheme uri scheme
const Scheme = "mock"

// DefaultAssertTimeout how long AssertIsSatisfied waits by default
const DefaultAssertTimeout = 10 * time.Second

// Component creates mock endpoints
type Component struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// New creates a mock component
func New() *Component {
	return &Component{endpoints: make(map[string]*Endpoint)}
}

func (c *Component) Scheme() string {
	return Scheme
}

func (c *Component) CreateEndpoint(ctx types.EngineContext, uri string, remaining string, params map[string]string) (types.Endpoint, error) {
	if remaining == "" {
		return nil, types.NewIllegalArgumentError("mock endpoint %s has no name", uri)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if endpoint, ok := c.endpoints[remaining]; ok {
		return endpoint, nil
	}
	endpoint := &Endpoint{
		DefaultEndpoint: base.NewDefaultEndpoint(ctx, Scheme+":"+remaining, remaining),
		expectedCount:   -1,
		changed:         make(chan struct{}),
	}
	c.endpoints[remaining] = endpoint
	return endpoint, nil
}

// Endpoint returns the mock endpoint of name, creating it when missing
func (c *Component) Endpoint(name string) *Endpoint {
	endpoint, _ := c.CreateEndpoint(nil, Scheme+":"+name, name, nil)
	return endpoint.(*Endpoint)
}

// ResetAll resets every mock endpoint
func (c *Component) ResetAll() {
	c.mu.Lock()
	endpoints := make([]*Endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		endpoints = append(endpoints, e)
	}
	c.mu.Unlock()
	for _, e := range endpoints {
		e.Reset()
	}
}

// Endpoint records every exchange it receives
type Endpoint struct {
	base.DefaultEndpoint
	mu       sync.Mutex
	received []*types.Exchange
	// changed closed and replaced on every received exchange
	changed         chan struct{}
	expectedCount   int
	expectedBodies  []interface{}
	anyOrder        bool
	expectedHeaders map[string]interface{}
	whenAnyReceived types.Processor
	whenExchangeN   map[int]types.Processor
}

func (e *Endpoint) CreateProducer() (types.Producer, error) {
	return &Producer{endpoint: e}, nil
}

func (e *Endpoint) CreateConsumer(processor types.Processor) (types.Consumer, error) {
	return nil, base.NotSupported(e.Uri(), "consumers")
}

// ExpectedMessageCount expects exactly n exchanges
func (e *Endpoint) ExpectedMessageCount(n int) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedCount = n
	return e
}

// ExpectedBodiesReceived expects these bodies in this order, and as many exchanges as bodies
func (e *Endpoint) ExpectedBodiesReceived(bodies ...interface{}) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expectedBodies = bodies
	e.anyOrder = false
	e.expectedCount = len(bodies)
	return e
}

// ExpectedBodiesReceivedInAnyOrder expects these bodies in any order
func (e *Endpoint) ExpectedBodiesReceivedInAnyOrder(bodies ...interface{}) *Endpoint {
	e.ExpectedBodiesReceived(bodies...)
	e.mu.Lock()
	e.anyOrder = true
	e.mu.Unlock()
	return e
}

// ExpectedHeaderReceived expects every received exchange to carry the header value
func (e *Endpoint) ExpectedHeaderReceived(name string, value interface{}) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expectedHeaders == nil {
		e.expectedHeaders = make(map[string]interface{})
	}
	e.expectedHeaders[name] = value
	return e
}

// WhenAnyExchangeReceived runs processor on every received exchange, e.g. to reply or fail
func (e *Endpoint) WhenAnyExchangeReceived(processor types.Processor) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whenAnyReceived = processor
	return e
}

// WhenExchangeReceived runs processor on the index-th received exchange, starting at 1
func (e *Endpoint) WhenExchangeReceived(index int, processor types.Processor) *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.whenExchangeN == nil {
		e.whenExchangeN = make(map[int]types.Processor)
	}
	e.whenExchangeN[index] = processor
	return e
}

// Reset clears expectations and received exchanges
func (e *Endpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = nil
	e.expectedCount = -1
	e.expectedBodies = nil
	e.anyOrder = false
	e.expectedHeaders = nil
	e.whenAnyReceived = nil
	e.whenExchangeN = nil
}

// ReceivedCount number of received exchanges
func (e *Endpoint) ReceivedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.received)
}

// ReceivedExchanges copies of the received exchanges
func (e *Endpoint) ReceivedExchanges() []*types.Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*types.Exchange(nil), e.received...)
}

// ReceivedBodies bodies of the received exchanges in arrival order
func (e *Endpoint) ReceivedBodies() []interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	bodies := make([]interface{}, 0, len(e.received))
	for _, ex := range e.received {
		bodies = append(bodies, ex.Body())
	}
	return bodies
}

func (e *Endpoint) receive(exchange *types.Exchange) types.Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = append(e.received, exchange.Copy())
	close(e.changed)
	e.changed = make(chan struct{})
	if p, ok := e.whenExchangeN[len(e.received)]; ok {
		return p
	}
	return e.whenAnyReceived
}

// Await waits until at least n exchanges were received, or the timeout expires.
func (e *Endpoint) Await(n int, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		e.mu.Lock()
		count := len(e.received)
		changed := e.changed
		e.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		}
	}
}

// AssertIsSatisfied waits up to timeout for the expected count, then checks every expectation.
// A timeout <= 0 uses DefaultAssertTimeout.
func (e *Endpoint) AssertIsSatisfied(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAssertTimeout
	}
	e.mu.Lock()
	expected := e.expectedCount
	e.mu.Unlock()
	if expected > 0 {
		e.Await(expected, timeout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if expected >= 0 && len(e.received) != expected {
		return fmt.Errorf("%s received %d exchanges, expected %d", e.Uri(), len(e.received), expected)
	}
	if e.expectedBodies != nil {
		bodies := make([]interface{}, 0, len(e.received))
		for _, ex := range e.received {
			bodies = append(bodies, ex.Body())
		}
		if !e.bodiesMatch(bodies) {
			return fmt.Errorf("%s received bodies %v, expected %v", e.Uri(), bodies, e.expectedBodies)
		}
	}
	for name, value := range e.expectedHeaders {
		for i, ex := range e.received {
			if !reflect.DeepEqual(ex.Header(name), value) {
				return fmt.Errorf("%s exchange %d has header %s=%v, expected %v", e.Uri(), i+1, name, ex.Header(name), value)
			}
		}
	}
	return nil
}

func (e *Endpoint) bodiesMatch(bodies []interface{}) bool {
	if len(bodies) != len(e.expectedBodies) {
		return false
	}
	if !e.anyOrder {
		return reflect.DeepEqual(bodies, e.expectedBodies)
	}
	used := make([]bool, len(bodies))
	for _, want := range e.expectedBodies {
		found := false
		for i, got := range bodies {
			if !used[i] && reflect.DeepEqual(got, want) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Producer records exchanges sent to the endpoint
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
	if processor := p.endpoint.receive(exchange); processor != nil {
		return processor.Process(exchange)
	}
	return nil
}
