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

// Package builder a fluent Go DSL producing route definitions.
//
// Package builder 流式构建路由定义
//
// Blocks such as Filter, Split or Choice take the nodes added after them as
// outputs until End is called. When, Otherwise, DoCatch, DoFinally and
// OnFallback close the previous branch of their block themselves, and End
// closes the branch together with its block.
//
// Usage:
// 使用方法：
//
//	b := builder.New()
//	b.From("direct:orders").RouteId("orders").
//		Choice().
//			When("${header.priority} == 'high'").To("mock:fast").
//			Otherwise().To("mock:slow").
//		End().
//		Log("done ${body}")
//	routes, err := b.Routes()
package builder

import (
	"strconv"

	"github.com/rulego/routego/api/types"
)

// Options node configuration
type Options = types.Configuration

// RoutesBuilder collects the routes of a builder
// RoutesBuilder 路由集合构建器
type RoutesBuilder struct {
	routes []*RouteBuilder
}

func New() *RoutesBuilder {
	return &RoutesBuilder{}
}

// From starts a new route consuming from uri
func (b *RoutesBuilder) From(uri string) *RouteBuilder {
	r := &RouteBuilder{def: &types.RouteDefinition{From: uri}, last: types.NoParent}
	b.routes = append(b.routes, r)
	return r
}

// Routes freezes and returns every route, or the first error met while building
func (b *RoutesBuilder) Routes() ([]*types.RouteDefinition, error) {
	defs := make([]*types.RouteDefinition, 0, len(b.routes))
	for _, r := range b.routes {
		def, err := r.Build()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RouteBuilder builds one route
// RouteBuilder 路由构建器
type RouteBuilder struct {
	def *types.RouteDefinition
	// stack open blocks, the innermost last
	stack []types.NodeId
	last  types.NodeId
	err   error
}

// NewRoute builds a single route consuming from uri
func NewRoute(uri string) *RouteBuilder {
	return New().From(uri)
}

// Build freezes the definition
func (r *RouteBuilder) Build() (*types.RouteDefinition, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := r.def.Freeze(); err != nil {
		return nil, err
	}
	return r.def, nil
}

func (r *RouteBuilder) fail(err error) *RouteBuilder {
	if r.err == nil {
		r.err = err
	}
	return r
}

func (r *RouteBuilder) RouteId(id string) *RouteBuilder {
	r.def.Id = id
	return r
}

func (r *RouteBuilder) Description(description string) *RouteBuilder {
	r.def.Description = description
	return r
}

func (r *RouteBuilder) Group(group string) *RouteBuilder {
	r.def.Group = group
	return r
}

// ErrorHandler the route error handler
func (r *RouteBuilder) ErrorHandler(def *types.ErrorHandlerDefinition) *RouteBuilder {
	r.def.ErrorHandler = def
	return r
}

// DeadLetterChannel sends exhausted exchanges to uri
func (r *RouteBuilder) DeadLetterChannel(uri string, redelivery *types.RedeliveryPolicyDefinition) *RouteBuilder {
	return r.ErrorHandler(&types.ErrorHandlerDefinition{Type: types.DeadLetterChannel, DeadLetterUri: uri, Redelivery: redelivery})
}

func (r *RouteBuilder) NoErrorHandler() *RouteBuilder {
	return r.ErrorHandler(&types.ErrorHandlerDefinition{Type: types.NoErrorHandler})
}

func (r *RouteBuilder) Tracing() *RouteBuilder {
	r.def.Tracing = "true"
	return r
}

func (r *RouteBuilder) MessageHistory() *RouteBuilder {
	r.def.MessageHistory = "true"
	return r
}

func (r *RouteBuilder) StreamCaching() *RouteBuilder {
	r.def.StreamCaching = "true"
	return r
}

// Delayer delays every node by millis
func (r *RouteBuilder) Delayer(millis int64) *RouteBuilder {
	r.def.Delayer = strconv.FormatInt(millis, 10)
	return r
}

func (r *RouteBuilder) AutoStartup(autoStartup bool) *RouteBuilder {
	r.def.AutoStartup = strconv.FormatBool(autoStartup)
	return r
}

func (r *RouteBuilder) StartupOrder(order int) *RouteBuilder {
	r.def.StartupOrder = order
	return r
}

// ShutdownRoute Default or Defer
func (r *RouteBuilder) ShutdownRoute(option string) *RouteBuilder {
	r.def.ShutdownRoute = option
	return r
}

// ShutdownRunningTask CompleteCurrentTaskOnly or CompleteAllTasks
func (r *RouteBuilder) ShutdownRunningTask(option string) *RouteBuilder {
	r.def.ShutdownRunningTask = option
	return r
}

// RoutePolicy references route policies bound in the bean registry
func (r *RouteBuilder) RoutePolicy(refs ...string) *RouteBuilder {
	r.def.RoutePolicyRefs = append(r.def.RoutePolicyRefs, refs...)
	return r
}

// RouteInterceptStrategy references interceptors applied to every node of the route
func (r *RouteBuilder) RouteInterceptStrategy(refs ...string) *RouteBuilder {
	r.def.InterceptStrategyRefs = append(r.def.InterceptStrategyRefs, refs...)
	return r
}

// Property sets a route property, usable as ${route.key}
func (r *RouteBuilder) Property(key, value string) *RouteBuilder {
	if r.def.Properties == nil {
		r.def.Properties = make(map[string]string)
	}
	r.def.Properties[key] = value
	return r
}

func (r *RouteBuilder) parent() types.NodeId {
	if len(r.stack) == 0 {
		return types.NoParent
	}
	return r.stack[len(r.stack)-1]
}

func (r *RouteBuilder) top() *types.NodeDefinition {
	if len(r.stack) == 0 {
		return nil
	}
	return &r.def.Nodes[r.stack[len(r.stack)-1]]
}

func (r *RouteBuilder) lastNode() *types.NodeDefinition {
	if r.last == types.NoParent {
		r.fail(types.NewIllegalStateError("no node added yet to route %s", r.def.Id))
		return nil
	}
	return &r.def.Nodes[r.last]
}

// Node adds a node of kind to the current block
func (r *RouteBuilder) Node(kind types.NodeKind, options Options) *RouteBuilder {
	if r.err != nil {
		return r
	}
	if options == nil {
		options = Options{}
	}
	id, err := r.def.AddNode(types.NodeDefinition{Kind: kind, Configuration: options})
	if err != nil {
		return r.fail(err)
	}
	if err := r.def.AddOutput(r.parent(), id); err != nil {
		return r.fail(err)
	}
	r.last = id
	return r
}

// Block adds a node of kind and makes it the current block
func (r *RouteBuilder) Block(kind types.NodeKind, options Options) *RouteBuilder {
	r.Node(kind, options)
	if r.err == nil {
		r.stack = append(r.stack, r.last)
	}
	return r
}

// End closes the current block. Closing a branch also closes its enclosing
// choice, try or circuit breaker.
func (r *RouteBuilder) End() *RouteBuilder {
	if r.err != nil {
		return r
	}
	if len(r.stack) == 0 {
		return r.fail(types.NewIllegalStateError("End called without an open block in route %s", r.def.Id))
	}
	closed := r.top()
	r.stack = r.stack[:len(r.stack)-1]
	switch closed.Kind {
	case types.KindWhen, types.KindOtherwise, types.KindCatch, types.KindFinally, types.KindOnFallback:
		if len(r.stack) > 0 {
			r.stack = r.stack[:len(r.stack)-1]
		}
	}
	return r
}

// branch closes an open sibling branch, checks the enclosing block and opens a new branch
func (r *RouteBuilder) branch(container types.NodeKind, kind types.NodeKind, options Options) *RouteBuilder {
	if r.err != nil {
		return r
	}
	if n := len(r.stack); n > 1 && r.top().Kind != container && r.def.Nodes[r.stack[n-2]].Kind == container {
		r.stack = r.stack[:n-1]
	}
	if top := r.top(); top == nil || top.Kind != container {
		return r.fail(types.NewIllegalStateError("%s must be inside %s in route %s", kind, container, r.def.Id))
	}
	return r.Block(kind, options)
}

// Id sets the id of the last added node
func (r *RouteBuilder) Id(id string) *RouteBuilder {
	if n := r.lastNode(); n != nil {
		n.Id = id
	}
	return r
}

// Option sets a configuration value of the last added node
func (r *RouteBuilder) Option(key string, value interface{}) *RouteBuilder {
	if n := r.lastNode(); n != nil {
		n.Configuration[key] = value
	}
	return r
}

// Disabled disables the last added node
func (r *RouteBuilder) Disabled() *RouteBuilder {
	if n := r.lastNode(); n != nil {
		n.Disabled = "true"
	}
	return r
}

// InheritErrorHandler whether the outputs of the last added node are guarded by the route error handler
func (r *RouteBuilder) InheritErrorHandler(inherit bool) *RouteBuilder {
	if n := r.lastNode(); n != nil {
		n.InheritErrorHandler = &inherit
	}
	return r
}

// NodeInterceptStrategy references interceptors applied to the last added node only
func (r *RouteBuilder) NodeInterceptStrategy(refs ...string) *RouteBuilder {
	if n := r.lastNode(); n != nil {
		n.InterceptStrategyRefs = append(n.InterceptStrategyRefs, refs...)
	}
	return r
}
