/*
 * Copyright 2024 The RuleGo Authors.
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

// Package engine compiles route definitions into processor graphs and runs them.
//
// Package engine 将路由定义编译为处理器图并运行。
//
// The engine package is responsible for:
// engine 包负责：
//   - Reifying every node kind into its processor (ReifierRegistry, ProcessorReifier)
//     将每种节点类型转换为处理器（ReifierRegistry、ProcessorReifier）
//   - Wrapping processors in channels with interceptors and error handlers (DefaultChannel)
//     使用拦截器和错误处理器包装处理器（DefaultChannel）
//   - Managing the lifecycle of routes, endpoints and executors (RouteEngine, Route, ExecutorServiceManager)
//     管理路由、端点以及线程池的生命周期（RouteEngine、Route、ExecutorServiceManager）
//   - Parsing the JSON route DSL
//     解析 JSON 路由DSL
//
// Architecture Overview:
// 架构概述：
//
//	A RouteEngine owns the routes compiled from frozen RouteDefinitions. Each
//	Route consumes from its From endpoint; the consumer hands exchanges to the
//	unit of work processor, which runs the channels of the top level nodes.
//	Children of a node are reified depth first and wrapped in their own channel.
//
//	RouteEngine 持有由冻结的 RouteDefinition 编译而来的路由。每个路由从 From 端点消费，
//	消费者将交换交给工作单元处理器，再依次执行顶层节点的通道。
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/interceptor"
	"github.com/rulego/routego/components"
	"github.com/rulego/routego/language"
	"github.com/rulego/routego/language/expr"
	"github.com/rulego/routego/language/js"
	"github.com/rulego/routego/language/simple"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/saga"
)

const (
	engineStopped int32 = iota
	engineStarted
	engineStopping
)

// engineOwner owner of the executors created by the engine itself
const engineOwner = "routeEngine"

var (
	_ types.EngineContext    = (*RouteEngine)(nil)
	_ types.RouteController  = (*RouteEngine)(nil)
	_ types.EndpointResolver = (*RouteEngine)(nil)
)

// RoutesBuilder produces route definitions, e.g. the fluent builder
type RoutesBuilder interface {
	Routes() ([]*types.RouteDefinition, error)
}

// RouteEngine compiles and runs routes.
// RouteEngine 路由引擎
type RouteEngine struct {
	config      types.Config
	reifiers    *ReifierRegistry
	executors   *ExecutorServiceManager
	sagaService *saga.InMemorySagaService
	producers   *processor.ProducerCache

	mu        sync.RWMutex
	endpoints map[string]types.Endpoint
	routes    map[string]*Route
	state     int32
	// compilations numbers the executor owners of compiled routes
	compilations int64
}

// New creates an engine with a new reifier registry
func New(opts ...types.Option) *RouteEngine {
	return NewRouteEngine(types.NewConfig(opts...), NewReifierRegistry())
}

// NewRouteEngine creates an engine using reifiers to reify custom node kinds.
// Missing collaborators of config get their defaults.
func NewRouteEngine(config types.Config, reifiers *ReifierRegistry) *RouteEngine {
	if config.Logger == nil {
		config.Logger = types.DefaultLogger()
	}
	if config.Registry == nil {
		config.Registry = NewBeanRegistry()
	}
	if config.Languages == nil {
		config.Languages = language.NewRegistry(expr.New(), simple.New(), js.New(config),
			language.Constant{}, language.Header{}, language.Property{})
	}
	if config.Components == nil {
		config.Components = components.NewDefaultRegistry()
	}
	if config.ErrorTypes == nil {
		config.ErrorTypes = types.NewErrorTypeRegistry()
	}
	if config.OnDebug != nil {
		strategies := make([]types.InterceptStrategy, 0, len(config.InterceptStrategies)+1)
		strategies = append(strategies, config.InterceptStrategies...)
		config.InterceptStrategies = append(strategies, &interceptor.Debug{})
	}
	if reifiers == nil {
		reifiers = NewReifierRegistry()
	}
	e := &RouteEngine{
		config:    config,
		reifiers:  reifiers,
		executors: NewExecutorServiceManager(config),
		endpoints: make(map[string]types.Endpoint),
		routes:    make(map[string]*Route),
	}
	e.producers = processor.NewProducerCache(e)
	e.sagaService = saga.NewInMemorySagaService(e, types.NewLogger(config.Logger))
	return e
}

// Config the engine configuration with its defaults applied
func (e *RouteEngine) Config() types.Config {
	return e.config
}

// Registry the bean registry
func (e *RouteEngine) Registry() types.BeanRegistry {
	return e.config.Registry
}

// Reifiers the reifier registry used to compile routes
func (e *RouteEngine) Reifiers() *ReifierRegistry {
	return e.reifiers
}

func (e *RouteEngine) ExecutorServiceManager() *ExecutorServiceManager {
	return e.executors
}

// SagaService the saga service used by saga nodes without sagaServiceRef
func (e *RouteEngine) SagaService() saga.Service {
	return e.sagaService
}

// IsStarted 引擎是否已启动
func (e *RouteEngine) IsStarted() bool {
	return atomic.LoadInt32(&e.state) == engineStarted
}

// AddRoute compiles def and adds the route, replacing a route with the same
// id. When the engine is started the route is started unless autoStartup is false.
// AddRoute 添加路由
func (e *RouteEngine) AddRoute(ctx context.Context, def *types.RouteDefinition) (*Route, error) {
	route, err := e.compileRoute(def)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	old := e.routes[route.id]
	e.routes[route.id] = route
	e.mu.Unlock()
	if old != nil {
		if err := old.Stop(ctx); err != nil {
			types.LogAt(route.logger, "WARN", "Error stopping replaced route %s: %v", old.id, err)
		}
	}
	if e.IsStarted() && route.autoStartup {
		if err := route.Start(ctx); err != nil {
			return route, err
		}
	}
	return route, nil
}

// AddRouteFromDSL parses a JSON route and adds it
func (e *RouteEngine) AddRouteFromDSL(ctx context.Context, dsl []byte) (*Route, error) {
	def, err := ParseRoute(dsl)
	if err != nil {
		return nil, err
	}
	return e.AddRoute(ctx, def)
}

// AddRoutes adds every route of builder, stopping at the first error
func (e *RouteEngine) AddRoutes(ctx context.Context, builder RoutesBuilder) error {
	defs, err := builder.Routes()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := e.AddRoute(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRoute stops and removes a route
func (e *RouteEngine) RemoveRoute(ctx context.Context, routeId string) error {
	e.mu.Lock()
	route, ok := e.routes[routeId]
	delete(e.routes, routeId)
	e.mu.Unlock()
	if !ok {
		return &types.LookupError{Name: routeId, Type: "Route", Msg: "route not found"}
	}
	return route.Stop(ctx)
}

// Route the route with id
func (e *RouteEngine) Route(routeId string) (*Route, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	route, ok := e.routes[routeId]
	return route, ok
}

// Routes every route, by startup order then id
func (e *RouteEngine) Routes() []*Route {
	e.mu.RLock()
	routes := make([]*Route, 0, len(e.routes))
	for _, r := range e.routes {
		routes = append(routes, r)
	}
	e.mu.RUnlock()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].startupOrder != routes[j].startupOrder {
			return routes[i].startupOrder < routes[j].startupOrder
		}
		return routes[i].id < routes[j].id
	})
	return routes
}

// Start starts the components, then every autoStartup route in startup order
// Start 启动引擎
func (e *RouteEngine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, engineStopped, engineStarted) {
		return nil
	}
	if err := types.ServiceHelper.Start(ctx, e.config.Components); err != nil {
		atomic.StoreInt32(&e.state, engineStopped)
		return err
	}
	e.sagaService.SetScheduler(e.executors.NewScheduledThreadPool(engineOwner, "saga", 1))
	if err := types.ServiceHelper.Start(ctx, e.sagaService, e.producers); err != nil {
		atomic.StoreInt32(&e.state, engineStopped)
		return err
	}
	for _, route := range e.Routes() {
		if !route.autoStartup {
			continue
		}
		if err := e.StartRoute(ctx, route.id); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops the Default routes together and then the Defer routes in
// reverse startup order, then the components and every executor.
// Stop 停止引擎
func (e *RouteEngine) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, engineStarted, engineStopping) {
		return nil
	}
	defer atomic.StoreInt32(&e.state, engineStopped)

	routes := e.Routes()
	var deferred []*Route
	g, gctx := errgroup.WithContext(ctx)
	for i := len(routes) - 1; i >= 0; i-- {
		route := routes[i]
		if route.shutdownRoute == ShutdownDefer {
			deferred = append(deferred, route)
			continue
		}
		g.Go(func() error {
			return route.Stop(gctx)
		})
	}
	first := g.Wait()
	for _, route := range deferred {
		if err := route.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := types.ServiceHelper.Stop(ctx, e.config.Components, e.sagaService, e.producers); err != nil && first == nil {
		first = err
	}
	e.executors.ShutdownAll()
	return first
}

// StartRoute starts a route. A route stopped before is compiled again from its definition.
func (e *RouteEngine) StartRoute(ctx context.Context, routeId string) error {
	switch atomic.LoadInt32(&e.state) {
	case engineStopped:
		return types.ErrEngineNotStarted
	case engineStopping:
		return types.ErrEngineShuttingDown
	}
	route, ok := e.Route(routeId)
	if !ok {
		return &types.LookupError{Name: routeId, Type: "Route", Msg: "route not found"}
	}
	if route.isStopped() {
		fresh, err := e.compileRoute(route.definition)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.routes[routeId] = fresh
		e.mu.Unlock()
		route = fresh
	}
	return route.Start(ctx)
}

// StopRoute stops a route, its executors are shut down
func (e *RouteEngine) StopRoute(ctx context.Context, routeId string) error {
	route, ok := e.Route(routeId)
	if !ok {
		return &types.LookupError{Name: routeId, Type: "Route", Msg: "route not found"}
	}
	return route.Stop(ctx)
}

func (e *RouteEngine) SuspendRoute(routeId string) error {
	route, ok := e.Route(routeId)
	if !ok {
		return &types.LookupError{Name: routeId, Type: "Route", Msg: "route not found"}
	}
	return route.Suspend(context.Background())
}

func (e *RouteEngine) ResumeRoute(routeId string) error {
	route, ok := e.Route(routeId)
	if !ok {
		return &types.LookupError{Name: routeId, Type: "Route", Msg: "route not found"}
	}
	return route.Resume(context.Background())
}

// Endpoint resolves uri, see ResolveEndpoint
func (e *RouteEngine) Endpoint(uri string) (types.Endpoint, error) {
	return e.ResolveEndpoint(uri)
}

// ResolveEndpoint returns the endpoint for uri, creating it with the
// component of its scheme on first use. Endpoints are cached by normalized uri.
// ResolveEndpoint 解析端点
func (e *RouteEngine) ResolveEndpoint(uri string) (types.Endpoint, error) {
	key, err := components.NormalizeUri(uri)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	endpoint, ok := e.endpoints[key]
	e.mu.RUnlock()
	if ok {
		return endpoint, nil
	}
	scheme, remaining, params, err := components.ParseUri(uri)
	if err != nil {
		return nil, err
	}
	component, ok := e.config.Components.ResolveComponent(scheme)
	if !ok {
		return nil, &types.LookupError{Name: scheme, Type: "Component", Msg: "no component for endpoint " + uri}
	}
	endpoint, err = component.CreateEndpoint(e, uri, remaining, params)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.endpoints[key]; ok {
		return existing, nil
	}
	e.endpoints[key] = endpoint
	return endpoint, nil
}

// Send sends exchange to uri on the caller goroutine
// Send 发送交换到端点
func (e *RouteEngine) Send(ctx context.Context, uri string, exchange *types.Exchange) error {
	switch atomic.LoadInt32(&e.state) {
	case engineStopped:
		return types.ErrEngineNotStarted
	case engineStopping:
		return types.ErrEngineShuttingDown
	}
	if ctx != nil {
		exchange.SetContext(ctx)
	}
	return e.producers.Send(uri, exchange)
}

// Request sends an InOut exchange with body and headers to uri and returns it
// once processed
func (e *RouteEngine) Request(ctx context.Context, uri string, body interface{}, headers map[string]interface{}) (*types.Exchange, error) {
	exchange := types.NewExchange(ctx, body)
	exchange.Pattern = types.InOut
	for k, v := range headers {
		exchange.SetHeader(k, v)
	}
	err := e.Send(ctx, uri, exchange)
	return exchange, err
}
