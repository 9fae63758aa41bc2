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
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/builtin/interceptor"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/errorhandler"
	"github.com/rulego/routego/utils/cast"
)

// routeScopedKinds top level nodes registered on the route before the other
// nodes are reified, in this order
var routeScopedKinds = []types.NodeKind{
	types.KindOnException, types.KindOnCompletion, types.KindIntercept,
	types.KindInterceptFrom, types.KindInterceptSendToEndpoint,
}

// compileRoute freezes def and compiles it into a route ready to start.
// Any error aborts the creation, the returned error is a RouteCreationError.
// compileRoute 编译路由定义
func (e *RouteEngine) compileRoute(def *types.RouteDefinition) (*Route, error) {
	if def == nil {
		return nil, &types.RouteCreationError{Err: types.NewIllegalArgumentError("route definition is nil")}
	}
	if err := def.Freeze(); err != nil {
		return nil, &types.RouteCreationError{RouteId: def.Id, Err: err}
	}
	if def.Id == "" {
		return nil, &types.RouteCreationError{Err: types.NewIllegalArgumentError("route id is empty")}
	}
	route := newRoute(e, def)
	if nodeId, err := route.compile(); err != nil {
		e.executors.Shutdown(route.owner)
		return nil, &types.RouteCreationError{RouteId: def.Id, NodeId: nodeId, Err: err}
	}
	return route, nil
}

// compile returns the id of the node that failed, if any
func (r *Route) compile() (string, error) {
	if err := r.configureOptions(); err != nil {
		return "", err
	}
	if r.definition.From == "" {
		return "", types.NewIllegalArgumentError("route %s has no from endpoint", r.id)
	}
	endpoint, err := r.resolver.ResolveEndpoint(r.definition.From)
	if err != nil {
		return "", err
	}
	r.endpoint = endpoint
	if err := r.configurePolicies(); err != nil {
		return "", err
	}
	if err := r.configureInterceptors(); err != nil {
		return "", err
	}
	if r.definition.ErrorHandler != nil {
		r.redelivery = errorhandler.NewRedeliveryPolicy(r.definition.ErrorHandler.Redelivery, nil)
	} else if r.config.ErrorHandler != nil {
		r.redelivery = errorhandler.NewRedeliveryPolicy(r.config.ErrorHandler.Redelivery, nil)
	} else {
		r.redelivery = errorhandler.DefaultRedeliveryPolicy()
	}
	factory, err := newRouteErrorHandlerFactory(r)
	if err != nil {
		return "", err
	}
	r.errorHandlerFactory = factory

	var outputs []*types.NodeDefinition
	for _, id := range r.definition.Outputs {
		outputs = append(outputs, r.definition.Node(id))
	}
	for _, kind := range routeScopedKinds {
		for _, node := range outputs {
			if node.Kind != kind {
				continue
			}
			if _, err := r.makeProcessor(node); err != nil {
				return node.Id, err
			}
		}
	}
	for _, node := range outputs {
		if isRouteScoped(node.Kind) {
			continue
		}
		p, err := r.makeProcessor(node)
		if err != nil {
			return node.Id, err
		}
		if p != nil {
			r.eventDriven = append(r.eventDriven, p)
		}
	}

	var composed types.Processor
	switch len(r.eventDriven) {
	case 0:
		return "", types.NewIllegalArgumentError("route %s has no outputs", r.id)
	case 1:
		composed = r.eventDriven[0]
	default:
		composed = processor.NewPipeline(r.eventDriven...)
	}
	for i := len(r.interceptFroms) - 1; i >= 0; i-- {
		composed = r.interceptFroms[i].wrap(composed)
	}
	r.processor = r.entry(composed)
	for _, p := range r.policies {
		p.OnInit(r)
	}
	return "", nil
}

func (r *Route) makeProcessor(node *types.NodeDefinition) (types.Processor, error) {
	reifier, err := newProcessorReifier(r, node)
	if err != nil {
		return nil, err
	}
	return reifier.makeProcessor()
}

func isRouteScoped(kind types.NodeKind) bool {
	for _, k := range routeScopedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// configureOptions startup and shutdown options of the route
func (r *Route) configureOptions() error {
	def := r.definition
	autoStartup, err := r.placeholders.resolveString(def.AutoStartup)
	if err != nil {
		return err
	}
	r.autoStartup = cast.ParseBool(autoStartup, true)
	r.startupOrder = def.StartupOrder

	switch def.ShutdownRoute {
	case "":
		r.shutdownRoute = ShutdownDefault
	case ShutdownDefault, ShutdownDefer:
		r.shutdownRoute = def.ShutdownRoute
	default:
		return types.NewIllegalArgumentError("unknown shutdownRoute %s", def.ShutdownRoute)
	}
	switch def.ShutdownRunningTask {
	case "":
		r.shutdownRunningTask = CompleteCurrentTaskOnly
	case CompleteCurrentTaskOnly, CompleteAllTasks:
		r.shutdownRunningTask = def.ShutdownRunningTask
	default:
		return types.NewIllegalArgumentError("unknown shutdownRunningTask %s", def.ShutdownRunningTask)
	}
	return nil
}

func (r *Route) configurePolicies() error {
	for _, ref := range r.definition.RoutePolicyRefs {
		policy, err := types.LookupByNameAndType[types.RoutePolicy](r.registry, ref)
		if err != nil {
			return err
		}
		r.policies = append(r.policies, policy)
	}
	return nil
}

// configureInterceptors route scoped interceptors: the referenced ones, then
// the ones enabled by the route options
func (r *Route) configureInterceptors() error {
	for _, ref := range r.definition.InterceptStrategyRefs {
		s, err := types.LookupByNameAndType[types.InterceptStrategy](r.registry, ref)
		if err != nil {
			return err
		}
		r.interceptors = append(r.interceptors, s)
	}
	def := r.definition
	enabled := func(option string) (bool, error) {
		v, err := r.placeholders.resolveString(option)
		return cast.ParseBool(v, false), err
	}
	if ok, err := enabled(def.Tracing); err != nil {
		return err
	} else if ok {
		var opts []interceptor.TracingOption
		if provider, err := types.FindSingleByType[trace.TracerProvider](r.registry); err == nil {
			opts = append(opts, interceptor.WithTracerProvider(provider))
		}
		r.interceptors = append(r.interceptors, interceptor.NewTracing(opts...))
	}
	if ok, err := enabled(def.MessageHistory); err != nil {
		return err
	} else if ok {
		r.interceptors = append(r.interceptors, interceptor.NewMessageHistory())
	}
	if ok, err := enabled(def.StreamCaching); err != nil {
		return err
	} else if ok {
		r.interceptors = append(r.interceptors, interceptor.NewStreamCaching())
	}
	delayer, err := r.placeholders.resolveString(def.Delayer)
	if err != nil {
		return err
	}
	if delayer != "" {
		millis, err := cast.ToInt64E(delayer)
		if err != nil {
			return types.NewIllegalArgumentError("invalid delayer %s on route %s", delayer, r.id)
		}
		if millis > 0 {
			r.interceptors = append(r.interceptors, interceptor.NewDelayer(time.Duration(millis)*time.Millisecond))
		}
	}
	return nil
}
