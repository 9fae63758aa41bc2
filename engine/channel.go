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

package engine

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/utils/runtime"
)

const (
	channelCreated int32 = iota
	channelInitialized
	channelSealed
)

var (
	_ types.Channel   = (*DefaultChannel)(nil)
	_ types.Processor = (*DefaultChannel)(nil)
	_ types.Navigate  = (*DefaultChannel)(nil)
)

// DefaultChannel sits in front of every node processor of a route. It owns the
// node processor, the interceptors wrapped around it and the error handler
// guarding the interceptor chain. A node is wrapped by exactly one channel.
//
// DefaultChannel 节点通道：包装节点处理器、拦截器以及错误处理器，每个节点只会被包装一次
type DefaultChannel struct {
	route         *Route
	node          *types.NodeDefinition
	nextProcessor types.Processor
	output        types.Processor
	errorHandler  types.Processor
	interceptors  []types.InterceptStrategy
	state         int32
}

func newDefaultChannel(route *Route, node *types.NodeDefinition) *DefaultChannel {
	return &DefaultChannel{route: route, node: node}
}

// NodeId id of the wrapped node
func (c *DefaultChannel) NodeId() string {
	return c.node.Id
}

// Node the wrapped node definition
func (c *DefaultChannel) Node() *types.NodeDefinition {
	return c.node
}

// NextProcessor the bare node processor
func (c *DefaultChannel) NextProcessor() types.Processor {
	return c.nextProcessor
}

// Output the node processor wrapped in the interceptors
func (c *DefaultChannel) Output() types.Processor {
	return c.output
}

// ErrorHandler the error handler around the output, nil when the node has none
func (c *DefaultChannel) ErrorHandler() types.Processor {
	return c.errorHandler
}

// Interceptors in the order they were applied, outermost first
func (c *DefaultChannel) Interceptors() []types.InterceptStrategy {
	return c.interceptors
}

func (c *DefaultChannel) Next() []types.Processor {
	return []types.Processor{c.nextProcessor}
}

// initChannel wraps next in the interceptors. The interceptors are sorted by
// Order, keeping the given order among equals, and the first one ends up outermost.
func (c *DefaultChannel) initChannel(next types.Processor, interceptors []types.InterceptStrategy) error {
	if !atomic.CompareAndSwapInt32(&c.state, channelCreated, channelInitialized) {
		return types.NewIllegalStateError("channel of node %s is already initialized", c.node.Id)
	}
	sorted := make([]types.InterceptStrategy, len(interceptors))
	copy(sorted, interceptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	ctx := types.InterceptContext{
		RouteId: c.route.RouteId(),
		Route:   c.route.definition,
		Node:    c.node,
		Config:  c.route.config,
	}
	target := next
	for i := len(sorted) - 1; i >= 0; i-- {
		wrapped, err := sorted[i].WrapProcessorInInterceptors(ctx, target, next)
		if err != nil {
			return err
		}
		if wrapped != nil {
			target = wrapped
		}
	}
	c.nextProcessor = next
	c.interceptors = sorted
	c.output = target
	return nil
}

// setErrorHandler is only allowed between initChannel and postInitChannel
func (c *DefaultChannel) setErrorHandler(errorHandler types.Processor) error {
	if atomic.LoadInt32(&c.state) != channelInitialized {
		return types.NewIllegalStateError("error handler of node %s must be set after the channel is initialized and before it is sealed", c.node.Id)
	}
	c.errorHandler = errorHandler
	return nil
}

func (c *DefaultChannel) postInitChannel() {
	atomic.StoreInt32(&c.state, channelSealed)
}

// guardedOutput the output with panics turned into faults, handed to the error handler
func (c *DefaultChannel) guardedOutput() types.Processor {
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		return c.runGuarded(c.output, exchange)
	})
}

func (c *DefaultChannel) runGuarded(p types.Processor, exchange *types.Exchange) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = runtime.Recovered(e)
			types.LogAt(c.route.logger, "ERROR", "route %s node %s panic: %v", c.route.RouteId(), c.node.Id, err)
			exchange.SetErr(err)
		}
	}()
	return types.Run(p, exchange)
}

func (c *DefaultChannel) Process(exchange *types.Exchange) error {
	if c.errorHandler != nil {
		return c.runGuarded(c.errorHandler, exchange)
	}
	return c.runGuarded(c.output, exchange)
}

func (c *DefaultChannel) String() string {
	return fmt.Sprintf("Channel[%s]", c.node)
}
