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
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/errorhandler"
	"github.com/rulego/routego/processor/saga"
)

// RouteStatus 路由状态
type RouteStatus string

const (
	RouteStopped   RouteStatus = "Stopped"
	RouteStarted   RouteStatus = "Started"
	RouteSuspended RouteStatus = "Suspended"
)

const (
	// ShutdownDefault routes are stopped together
	ShutdownDefault = "Default"
	// ShutdownDefer routes are stopped after the Default ones
	ShutdownDefer = "Defer"
	// CompleteCurrentTaskOnly the consumer is stopped first, then inflight exchanges are awaited
	CompleteCurrentTaskOnly = "CompleteCurrentTaskOnly"
	// CompleteAllTasks inflight exchanges are awaited before the consumer stops
	CompleteAllTasks = "CompleteAllTasks"
)

var (
	_ types.RouteInfo = (*Route)(nil)
	_ types.Processor = (*Route)(nil)
)

// Route is a compiled route: the channels and processors created from its
// definition, the consumer feeding it and the services and executors it owns.
// A stopped route is not restarted; the engine compiles the definition again.
//
// Route 编译后的路由
type Route struct {
	id         string
	// owner of the executors created for this compilation of the route
	owner      string
	definition *types.RouteDefinition
	config     types.Config
	engine     *RouteEngine

	registry     types.BeanRegistry
	languages    types.LanguageResolver
	resolver     types.EndpointResolver
	reifiers     *ReifierRegistry
	executors    *ExecutorServiceManager
	placeholders *placeholders
	logger       types.Logger
	sagaService  saga.Service

	// interceptors route scoped: definition references, route options and intercept nodes
	interceptors        []types.InterceptStrategy
	interceptFroms      []*interceptDefinition
	sendInterceptors    []*sendInterceptor
	policies            []types.RoutePolicy
	exceptions          *errorhandler.ExceptionPolicyResolver
	redelivery          *errorhandler.RedeliveryPolicy
	errorHandlerFactory types.ErrorHandlerFactory
	onCompletions       []*processor.OnCompletionProcessor
	channels            map[types.NodeId]*DefaultChannel
	services            []types.Service
	eventDriven         []types.Processor
	processor           types.Processor
	endpoint            types.Endpoint

	autoStartup         bool
	startupOrder        int
	shutdownRoute       string
	shutdownRunningTask string

	mu       sync.Mutex
	status   RouteStatus
	consumer types.Consumer
	stopped  bool
	inflight int64
}

func newRoute(engine *RouteEngine, def *types.RouteDefinition) *Route {
	config := engine.config
	r := &Route{
		id:           def.Id,
		owner:        def.Id + "#" + strconv.FormatInt(atomic.AddInt64(&engine.compilations, 1), 10),
		definition:   def,
		config:       config,
		engine:       engine,
		registry:     config.Registry,
		languages:    config.Languages,
		reifiers:     engine.reifiers,
		executors:    engine.executors,
		placeholders: newPlaceholders(config, def),
		logger:       types.NewLogger(config.Logger),
		sagaService:  engine.sagaService,
		exceptions:   errorhandler.NewExceptionPolicyResolver(config.ErrorTypes),
		channels:     make(map[types.NodeId]*DefaultChannel),
		status:       RouteStopped,
	}
	r.resolver = &interceptingResolver{route: r, next: engine}
	return r
}

func (r *Route) RouteId() string {
	return r.id
}

func (r *Route) Definition() *types.RouteDefinition {
	return r.definition
}

func (r *Route) Config() types.Config {
	return r.config
}

func (r *Route) Controller() types.RouteController {
	return r.engine
}

func (r *Route) InflightCount() int {
	return int(atomic.LoadInt64(&r.inflight))
}

// Status 路由状态
func (r *Route) Status() RouteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Endpoint the endpoint the route consumes from
func (r *Route) Endpoint() types.Endpoint {
	return r.endpoint
}

// Consumer the running consumer, nil when the route is stopped
func (r *Route) Consumer() types.Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumer
}

// Processor the entry processor of the route
func (r *Route) Processor() types.Processor {
	return r.processor
}

// EventDrivenProcessors the channels of the top level nodes, in order
func (r *Route) EventDrivenProcessors() []types.Processor {
	return r.eventDriven
}

// Channel the channel wrapping the node with id, nil when the node has none
func (r *Route) Channel(nodeId string) *DefaultChannel {
	node := r.definition.NodeById(nodeId)
	if node == nil {
		return nil
	}
	return r.channels[node.Index()]
}

// ErrorHandlerType the error handler type the route resolved
func (r *Route) ErrorHandlerType() types.ErrorHandlerType {
	if f, ok := r.errorHandlerFactory.(*routeErrorHandlerFactory); ok {
		return f.Type()
	}
	return types.DefaultErrorHandler
}

// AutoStartup whether the engine starts the route when it starts
func (r *Route) AutoStartup() bool {
	return r.autoStartup
}

// StartupOrder routes start in ascending order and stop in reverse
func (r *Route) StartupOrder() int {
	return r.startupOrder
}

// Process runs exchange through the route in a unit of work
func (r *Route) Process(exchange *types.Exchange) error {
	atomic.AddInt64(&r.inflight, 1)
	if exchange.FromRouteId == "" {
		exchange.FromRouteId = r.id
	}
	for _, p := range r.policies {
		p.OnExchangeBegin(r, exchange)
	}
	err := func() error {
		// the exchange no longer counts as inflight when the policies see it done
		defer atomic.AddInt64(&r.inflight, -1)
		return types.Run(r.processor, exchange)
	}()
	for _, p := range r.policies {
		p.OnExchangeDone(r, exchange)
	}
	return err
}

func (r *Route) addService(p types.Processor) {
	if s, ok := p.(types.Service); ok {
		r.services = append(r.services, s)
	}
}

func (r *Route) claimChannel(node *types.NodeDefinition, channel *DefaultChannel) error {
	if _, ok := r.channels[node.Index()]; ok {
		return types.NewIllegalStateError("%s is already wrapped in a channel", node)
	}
	r.channels[node.Index()] = channel
	return nil
}

// interceptorsFor global, then route, then node local interceptors
func (r *Route) interceptorsFor(node *types.NodeDefinition) ([]types.InterceptStrategy, error) {
	var list []types.InterceptStrategy
	list = append(list, r.config.InterceptStrategies...)
	list = append(list, r.interceptors...)
	for _, ref := range node.InterceptStrategyRefs {
		s, err := types.LookupByNameAndType[types.InterceptStrategy](r.registry, ref)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

// entry wraps the composed processors with the onCompletion bookkeeping and the unit of work
func (r *Route) entry(composed types.Processor) types.Processor {
	if len(r.onCompletions) == 0 {
		return processor.NewUnitOfWorkProcessor(composed, r.logger)
	}
	withCompletions := types.ProcessorFunc(func(exchange *types.Exchange) error {
		uow := exchange.UnitOfWork()
		for _, oc := range r.onCompletions {
			if oc.Mode == processor.AfterConsumer && uow != nil {
				uow.AddSynchronization(oc)
			}
		}
		_ = types.Run(composed, exchange)
		for _, oc := range r.onCompletions {
			if oc.Mode == processor.BeforeConsumer {
				oc.Notify(exchange)
			}
		}
		return exchange.Err()
	})
	return processor.NewUnitOfWorkProcessor(withCompletions, r.logger)
}

// Start starts the services of the route, then its consumer
func (r *Route) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RouteStopped {
		return nil
	}
	if r.stopped {
		return types.NewIllegalStateError("route %s was stopped and must be recreated", r.id)
	}
	services := make([]interface{}, 0, len(r.services))
	for _, s := range r.services {
		services = append(services, s)
	}
	if err := types.ServiceHelper.Start(ctx, services...); err != nil {
		_ = types.ServiceHelper.Stop(ctx, services...)
		return err
	}
	consumer, err := r.endpoint.CreateConsumer(r)
	if err == nil {
		err = consumer.Start(ctx)
	}
	if err != nil {
		_ = types.ServiceHelper.Stop(ctx, services...)
		return err
	}
	r.consumer = consumer
	r.status = RouteStarted
	for _, p := range r.policies {
		p.OnStart(r)
	}
	types.LogAt(r.logger, "INFO", "Route: %s started and consuming from: %s", r.id, r.endpoint.Uri())
	return nil
}

// Stop stops the consumer and waits for inflight exchanges as configured by
// shutdownRunningTask, at most ShutdownTimeout, then stops the services and
// the executors owned by the route.
func (r *Route) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RouteStopped {
		if !r.stopped {
			r.executors.Shutdown(r.owner)
			r.stopped = true
		}
		return nil
	}
	timeout := r.config.ShutdownTimeout
	var first error
	if r.shutdownRunningTask == CompleteAllTasks {
		r.awaitInflight(ctx, timeout)
		first = r.stopConsumer(ctx)
	} else {
		first = r.stopConsumer(ctx)
		r.awaitInflight(ctx, timeout)
	}
	services := make([]interface{}, 0, len(r.services))
	for _, s := range r.services {
		services = append(services, s)
	}
	if err := types.ServiceHelper.Stop(ctx, services...); err != nil && first == nil {
		first = err
	}
	r.executors.Shutdown(r.owner)
	r.status = RouteStopped
	r.stopped = true
	for _, p := range r.policies {
		p.OnStop(r)
	}
	types.LogAt(r.logger, "INFO", "Route: %s is stopped, was consuming from: %s", r.id, r.endpoint.Uri())
	return first
}

func (r *Route) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Route) stopConsumer(ctx context.Context) error {
	if r.consumer == nil {
		return nil
	}
	err := r.consumer.Stop(ctx)
	r.consumer = nil
	return err
}

func (r *Route) awaitInflight(ctx context.Context, timeout time.Duration) {
	if r.InflightCount() == 0 {
		return
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for r.InflightCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			types.LogAt(r.logger, "WARN", "Timeout occurred during graceful shutdown of route %s. Forcing it to stop with %d inflight exchanges", r.id, r.InflightCount())
			return
		case <-ticker.C:
		}
	}
}

// Suspend pauses a suspendable consumer, other consumers are stopped
func (r *Route) Suspend(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RouteStarted {
		return types.NewIllegalStateError("route %s is not started", r.id)
	}
	if s, ok := r.consumer.(types.SuspendableConsumer); ok {
		s.Suspend()
	} else if err := r.stopConsumer(ctx); err != nil {
		return err
	}
	r.status = RouteSuspended
	return nil
}

// Resume resumes a suspended route
func (r *Route) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RouteSuspended {
		return types.NewIllegalStateError("route %s is not suspended", r.id)
	}
	if s, ok := r.consumer.(types.SuspendableConsumer); ok {
		s.Resume()
	} else {
		consumer, err := r.endpoint.CreateConsumer(r)
		if err == nil {
			err = consumer.Start(ctx)
		}
		if err != nil {
			return err
		}
		r.consumer = consumer
	}
	r.status = RouteStarted
	return nil
}
