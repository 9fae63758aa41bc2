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
	"regexp"
	"strings"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/errorhandler"
	"github.com/rulego/routego/utils/maps"
)

// routeScoped route level nodes must be direct outputs of the route
func (r *ProcessorReifier) routeScoped() error {
	if r.node.Parent != types.NoParent {
		return types.NewIllegalArgumentError("%s must be defined at route level, not as an output of %s",
			r.node, r.route.definition.Node(r.node.Parent))
	}
	return nil
}

// onException: exceptions, onWhen, handled, continued, retryWhile,
// redeliveryPolicy, useOriginalMessage. The outputs run once redelivery is
// exhausted. Registers a policy with the route error handler and creates no processor.
type onExceptionReifier struct {
	*ProcessorReifier
}

func (r *onExceptionReifier) CreateProcessor() (types.Processor, error) {
	if err := r.routeScoped(); err != nil {
		return nil, err
	}
	policy := &errorhandler.ExceptionPolicy{
		Id:                 r.node.Id,
		ErrorTypes:         r.Strings("exceptions"),
		UseOriginalMessage: r.Bool("useOriginalMessage", false),
	}
	var err error
	if policy.OnWhen, err = r.Predicate("onWhen"); err != nil {
		return nil, err
	}
	if policy.Handled, err = r.Predicate("handled"); err != nil {
		return nil, err
	}
	if policy.Continued, err = r.Predicate("continued"); err != nil {
		return nil, err
	}
	if policy.Handled != nil && policy.Continued != nil {
		return nil, types.NewIllegalArgumentError("handled and continued cannot both be configured on %s", r.node)
	}
	if policy.RetryWhile, err = r.Predicate("retryWhile"); err != nil {
		return nil, err
	}
	if r.Has("redeliveryPolicy") {
		var def types.RedeliveryPolicyDefinition
		if err := maps.Map2Struct(r.config["redeliveryPolicy"], &def); err != nil {
			return nil, types.NewIllegalArgumentError("invalid redeliveryPolicy of %s: %v", r.node, err)
		}
		policy.Redelivery = errorhandler.NewRedeliveryPolicy(&def, r.route.redelivery)
	}
	if policy.Processor, err = r.CreateChildProcessor(false); err != nil {
		return nil, err
	}
	r.route.exceptions.Add(policy)
	return nil, nil
}

// onCompletion: onCompleteOnly, onFailureOnly, onWhen, mode, useOriginalMessage,
// parallelProcessing, executorServiceRef. Creates no processor, the block is
// attached to the unit of work of every exchange entering the route.
type onCompletionReifier struct {
	*ProcessorReifier
}

func (r *onCompletionReifier) CreateProcessor() (types.Processor, error) {
	if err := r.routeScoped(); err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	x, err := processor.NewOnCompletionProcessor(child, r.Bool("onCompleteOnly", false), r.Bool("onFailureOnly", false), r.Logger())
	if err != nil {
		return nil, types.NewIllegalArgumentError("%v %s", err, r.node)
	}
	if x.OnWhen, err = r.Predicate("onWhen"); err != nil {
		return nil, err
	}
	switch mode := processor.OnCompletionMode(r.Text("mode")); mode {
	case "":
	case processor.AfterConsumer, processor.BeforeConsumer:
		x.Mode = mode
	default:
		return nil, types.NewIllegalArgumentError("unknown onCompletion mode %s on %s", mode, r.node)
	}
	x.UseOriginalMessage = r.Bool("useOriginalMessage", false)
	if x.Executor, err = r.Executor(r.Text("executorServiceRef"), "onCompletion", r.Bool("parallelProcessing", false)); err != nil {
		return nil, err
	}
	r.route.onCompletions = append(r.route.onCompletions, x)
	return nil, nil
}

// intercept: onWhen. The outputs run before every node of the route compiled
// after it, then routing continues unless they failed or stopped the route.
type interceptReifier struct {
	*ProcessorReifier
}

func (r *interceptReifier) CreateProcessor() (types.Processor, error) {
	if err := r.routeScoped(); err != nil {
		return nil, err
	}
	onWhen, err := r.Predicate("onWhen")
	if err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	r.route.interceptors = append(r.route.interceptors, &interceptDefinition{child: child, onWhen: onWhen})
	return nil, nil
}

type interceptDefinition struct {
	child  types.Processor
	onWhen types.Predicate
	// endpoint recorded as InterceptedEndpoint, interceptFrom only
	endpoint string
}

func (i *interceptDefinition) Order() int {
	return 0
}

func (i *interceptDefinition) WrapProcessorInInterceptors(_ types.InterceptContext, target types.Processor, _ types.Processor) (types.Processor, error) {
	return i.wrap(target), nil
}

// wrap runs the child before target when onWhen matches
func (i *interceptDefinition) wrap(target types.Processor) types.Processor {
	return types.ProcessorFunc(func(exchange *types.Exchange) error {
		ok, err := matchesOnWhen(i.onWhen, exchange)
		if err != nil {
			exchange.SetErr(err)
			return err
		}
		if !ok {
			return types.Run(target, exchange)
		}
		if i.endpoint != "" {
			exchange.SetProperty(types.PropertyInterceptedEndpoint, i.endpoint)
		}
		if err := types.Run(i.child, exchange); err != nil || exchange.IsRouteStop() {
			return err
		}
		return types.Run(target, exchange)
	})
}

func matchesOnWhen(onWhen types.Predicate, exchange *types.Exchange) (bool, error) {
	if onWhen == nil {
		return true, nil
	}
	return onWhen.Matches(exchange)
}

// interceptFrom: uri, onWhen. The outputs run when an exchange enters the
// route, provided the from endpoint matches uri. An empty uri matches any.
type interceptFromReifier struct {
	*ProcessorReifier
}

func (r *interceptFromReifier) CreateProcessor() (types.Processor, error) {
	if err := r.routeScoped(); err != nil {
		return nil, err
	}
	from := r.route.definition.From
	matches, err := matchEndpoint(from, r.Text("uri"))
	if err != nil {
		return nil, types.NewIllegalArgumentError("%v on %s", err, r.node)
	}
	onWhen, err := r.Predicate("onWhen")
	if err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	if matches {
		r.route.interceptFroms = append(r.route.interceptFroms, &interceptDefinition{child: child, onWhen: onWhen, endpoint: from})
	}
	return nil, nil
}

// interceptSendToEndpoint: uri, onWhen, skipSendToOriginalEndpoint, afterUri.
// The outputs run before every send of the route to an endpoint matching uri.
type interceptSendToEndpointReifier struct {
	*ProcessorReifier
}

func (r *interceptSendToEndpointReifier) CreateProcessor() (types.Processor, error) {
	if err := r.routeScoped(); err != nil {
		return nil, err
	}
	i := &sendInterceptor{pattern: r.Text("uri"), skip: r.Bool("skipSendToOriginalEndpoint", false)}
	if i.pattern == "" {
		return nil, types.NewIllegalArgumentError("uri must be configured on %s", r.node)
	}
	if _, err := matchEndpoint("", i.pattern); err != nil {
		return nil, types.NewIllegalArgumentError("%v on %s", err, r.node)
	}
	var err error
	if i.onWhen, err = r.Predicate("onWhen"); err != nil {
		return nil, err
	}
	if i.child, err = r.CreateChildProcessor(true); err != nil {
		return nil, err
	}
	if after := r.Text("afterUri"); after != "" {
		// resolved on the engine so the after endpoint is not intercepted itself
		endpoint, err := r.route.engine.ResolveEndpoint(after)
		if err != nil {
			return nil, err
		}
		i.after = processor.NewSendProcessor(endpoint)
		r.route.addService(i.after)
	}
	r.route.sendInterceptors = append(r.route.sendInterceptors, i)
	return nil, nil
}

// matchEndpoint matches uri against pattern: equal, a prefix ending with *,
// or a regular expression matching the whole uri. An empty pattern or * matches any.
func matchEndpoint(uri, pattern string) (bool, error) {
	if pattern == "" || pattern == "*" || uri == pattern {
		return true, nil
	}
	wildcard := strings.HasSuffix(pattern, "*")
	if wildcard && strings.HasPrefix(uri, strings.TrimSuffix(pattern, "*")) {
		return true, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		if wildcard {
			return false, nil
		}
		return false, fmt.Errorf("invalid endpoint pattern %q: %w", pattern, err)
	}
	return re.MatchString(uri), nil
}

type sendInterceptor struct {
	pattern string
	onWhen  types.Predicate
	child   types.Processor
	skip    bool
	after   types.Processor
}

// interceptingResolver resolves endpoints through next and wraps those matched
// by the interceptSendToEndpoint nodes of the route
type interceptingResolver struct {
	route *Route
	next  types.EndpointResolver
}

func (r *interceptingResolver) ResolveEndpoint(uri string) (types.Endpoint, error) {
	endpoint, err := r.next.ResolveEndpoint(uri)
	if err != nil || len(r.route.sendInterceptors) == 0 {
		return endpoint, err
	}
	var matched []*sendInterceptor
	for _, i := range r.route.sendInterceptors {
		if ok, _ := matchEndpoint(endpoint.Uri(), i.pattern); ok {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		return endpoint, nil
	}
	return &interceptSendEndpoint{Endpoint: endpoint, interceptors: matched}, nil
}

type interceptSendEndpoint struct {
	types.Endpoint
	interceptors []*sendInterceptor
}

func (e *interceptSendEndpoint) CreateProducer() (types.Producer, error) {
	producer, err := e.Endpoint.CreateProducer()
	if err != nil {
		return nil, err
	}
	return &interceptSendProducer{Producer: producer, endpoint: e}, nil
}

// interceptSendProducer runs the matching interceptors, then sends unless one
// of them skips the original endpoint, then sends to their after endpoints
type interceptSendProducer struct {
	types.Producer
	endpoint *interceptSendEndpoint
}

func (p *interceptSendProducer) Endpoint() types.Endpoint {
	return p.endpoint
}

func (p *interceptSendProducer) Process(exchange *types.Exchange) error {
	skip := false
	var after []types.Processor
	for _, i := range p.endpoint.interceptors {
		ok, err := matchesOnWhen(i.onWhen, exchange)
		if err != nil {
			exchange.SetErr(err)
			return err
		}
		if !ok {
			continue
		}
		exchange.SetProperty(types.PropertyInterceptedEndpoint, p.endpoint.Uri())
		if err := types.Run(i.child, exchange); err != nil || exchange.IsRouteStop() {
			return err
		}
		skip = skip || i.skip
		if i.after != nil {
			after = append(after, i.after)
		}
	}
	if !skip {
		if err := types.Run(p.Producer, exchange); err != nil {
			return err
		}
	}
	for _, a := range after {
		if err := types.Run(a, exchange); err != nil {
			return err
		}
	}
	return nil
}
