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

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/language"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/aggregate"
	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/maps"
	"github.com/rulego/routego/utils/str"
)

// ProcessorReifier is the base of every reifier. It holds the route being
// compiled and the node being reified, with placeholders of the node
// configuration already resolved, and knows how to create the children of the
// node and wrap them in channels.
//
// ProcessorReifier 节点转换器基类，负责创建子处理器以及通道包装
type ProcessorReifier struct {
	route  *Route
	node   *types.NodeDefinition
	config types.Configuration
}

func newProcessorReifier(route *Route, node *types.NodeDefinition) (*ProcessorReifier, error) {
	config, err := route.placeholders.resolveConfiguration(node.Configuration)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.Id, err)
	}
	return &ProcessorReifier{route: route, node: node, config: config}, nil
}

// Route the route being compiled
func (r *ProcessorReifier) Route() *Route {
	return r.route
}

// Node the node being reified
func (r *ProcessorReifier) Node() *types.NodeDefinition {
	return r.node
}

// Configuration the node configuration with placeholders resolved
func (r *ProcessorReifier) Configuration() types.Configuration {
	return r.config
}

// Logger the engine logger
func (r *ProcessorReifier) Logger() types.Logger {
	return r.route.logger
}

// Decode decodes the node configuration into out, weakly typed
// Decode 把节点配置解析到结构体
func (r *ProcessorReifier) Decode(out interface{}) error {
	if len(r.config) == 0 {
		return nil
	}
	if err := maps.Map2Struct(r.config, out); err != nil {
		return types.NewIllegalArgumentError("invalid configuration of %s: %v", r.node, err)
	}
	return nil
}

// Has reports whether key is configured
func (r *ProcessorReifier) Has(key string) bool {
	v, ok := r.config[key]
	return ok && v != nil
}

// Text the configured value of key as a string
func (r *ProcessorReifier) Text(key string) string {
	if !r.Has(key) {
		return ""
	}
	return str.ToString(r.config[key])
}

// Bool the configured value of key, def when absent or not a boolean
func (r *ProcessorReifier) Bool(key string, def bool) bool {
	if !r.Has(key) {
		return def
	}
	v, err := cast.ToBoolE(r.config[key])
	if err != nil {
		return def
	}
	return v
}

// ExpressionDefinition reads key as an expression. The value is either the
// expression text, in the language named by "<key>Language" or the node
// "language" option, or an object with language and expression fields.
// Other scalars become constants.
func (r *ProcessorReifier) ExpressionDefinition(key string) (types.ExpressionDefinition, bool, error) {
	var def types.ExpressionDefinition
	if !r.Has(key) {
		return def, false, nil
	}
	switch v := r.config[key].(type) {
	case string:
		def.Expression = v
		def.Language = r.Text(key + "Language")
		if def.Language == "" {
			def.Language = r.Text("language")
		}
	case types.ExpressionDefinition:
		def = v
	case *types.ExpressionDefinition:
		def = *v
	case map[string]interface{}, types.Configuration, map[string]string:
		if err := maps.Map2Struct(v, &def); err != nil {
			return def, false, types.NewIllegalArgumentError("invalid expression %s of %s: %v", key, r.node, err)
		}
	default:
		def.Language = "constant"
		def.Expression = str.ToString(v)
	}
	return def, !def.IsEmpty(), nil
}

// Expression the expression configured under key, nil when absent
// Expression 获取节点配置的表达式
func (r *ProcessorReifier) Expression(key string) (types.Expression, error) {
	return r.expression(key, "")
}

// SimpleExpression like Expression, text without a language is a simple template such as direct:${header.to}
func (r *ProcessorReifier) SimpleExpression(key string) (types.Expression, error) {
	return r.expression(key, "simple")
}

func (r *ProcessorReifier) expression(key string, defaultLanguage string) (types.Expression, error) {
	def, ok, err := r.ExpressionDefinition(key)
	if err != nil || !ok {
		return nil, err
	}
	if def.Language == "" {
		def.Language = defaultLanguage
	}
	e, err := language.NewExpression(r.route.languages, def)
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid expression %s of %s: %v", key, r.node, err)
	}
	return e, nil
}

// MandatoryExpression like Expression, absence is an IllegalArgument error
func (r *ProcessorReifier) MandatoryExpression(key string) (types.Expression, error) {
	e, err := r.Expression(key)
	if err == nil && e == nil {
		err = types.NewIllegalArgumentError("%s must be configured on %s", key, r.node)
	}
	return e, err
}

// Predicate the predicate configured under key, nil when absent. Booleans are constant predicates.
func (r *ProcessorReifier) Predicate(key string) (types.Predicate, error) {
	if !r.Has(key) {
		return nil, nil
	}
	switch v := r.config[key].(type) {
	case bool:
		return constantPredicate(v), nil
	case string:
		if b, err := cast.ToBoolE(v); err == nil && (v == "true" || v == "false") {
			return constantPredicate(b), nil
		}
	}
	def, ok, err := r.ExpressionDefinition(key)
	if err != nil || !ok {
		return nil, err
	}
	p, err := language.NewPredicate(r.route.languages, def)
	if err != nil {
		return nil, types.NewIllegalArgumentError("invalid predicate %s of %s: %v", key, r.node, err)
	}
	return p, nil
}

// MandatoryPredicate like Predicate, absence is an IllegalArgument error
func (r *ProcessorReifier) MandatoryPredicate(key string) (types.Predicate, error) {
	p, err := r.Predicate(key)
	if err == nil && p == nil {
		err = types.NewIllegalArgumentError("%s must be configured on %s", key, r.node)
	}
	return p, err
}

func constantPredicate(v bool) types.Predicate {
	return types.PredicateFunc(func(*types.Exchange) (bool, error) {
		return v, nil
	})
}

// Bean looks up ref in the bean registry
func (r *ProcessorReifier) Bean(ref string) (interface{}, error) {
	bean, ok := r.route.registry.Lookup(ref)
	if !ok {
		return nil, &types.LookupError{Name: ref, Msg: "no bean could be found in the registry for " + r.node.String()}
	}
	return bean, nil
}

// Endpoint resolves uri through the engine
func (r *ProcessorReifier) Endpoint(uri string) (types.Endpoint, error) {
	if uri == "" {
		return nil, types.NewIllegalArgumentError("uri must be configured on %s", r.node)
	}
	return r.route.resolver.ResolveEndpoint(uri)
}

// AggregationStrategy resolves ref as a bean, then as a built-in strategy
// name. An empty ref returns nil so the processor applies its default.
func (r *ProcessorReifier) AggregationStrategy(ref string) (types.AggregationStrategy, error) {
	if ref == "" {
		return nil, nil
	}
	if bean, ok := r.route.registry.Lookup(ref); ok {
		switch s := bean.(type) {
		case types.AggregationStrategy:
			return s, nil
		case func(oldExchange, newExchange *types.Exchange) (*types.Exchange, error):
			return types.AggregationStrategyFunc(s), nil
		}
		return nil, &types.LookupError{Name: ref, Type: "AggregationStrategy", Msg: fmt.Sprintf("found bean of type %T", bean)}
	}
	if s, err := aggregate.NewStrategy(ref); err == nil {
		return s, nil
	}
	return nil, &types.LookupError{Name: ref, Type: "AggregationStrategy", Msg: "no bean or built-in strategy with this name"}
}

func (r *ProcessorReifier) executorName(purpose string) string {
	return r.route.id + "." + r.node.Id + "." + purpose
}

// Executor returns the executor named ref: an executor bound in the bean
// registry, which the route never shuts down, or a new pool built from the
// thread pool profile with that id and owned by the route. Without ref a pool
// from the default profile is created when parallel is set, otherwise nil is
// returned and the caller runs tasks synchronously.
//
// Executor 获取节点执行器：引用的执行器不会被关闭，按配置创建的执行器随路由停止而关闭
func (r *ProcessorReifier) Executor(ref string, purpose string, parallel bool) (types.Executor, error) {
	if ref != "" {
		if bean, ok := r.route.registry.Lookup(ref); ok {
			executor, ok := bean.(types.Executor)
			if !ok {
				return nil, &types.LookupError{Name: ref, Type: "Executor", Msg: fmt.Sprintf("found bean of type %T", bean)}
			}
			return executor, nil
		}
		if profile, ok := r.route.executors.ThreadPoolProfile(ref); ok {
			return r.route.executors.NewThreadPool(r.route.owner, r.executorName(purpose), profile), nil
		}
		return nil, &types.LookupError{Name: ref, Type: "Executor", Msg: "no executor bean or thread pool profile with this name for " + r.node.String()}
	}
	if parallel {
		return r.route.executors.NewDefaultThreadPool(r.route.owner, r.executorName(purpose)), nil
	}
	return nil, nil
}

// ScheduledExecutor like Executor for scheduled executors. Without ref nil is
// returned and the processor creates its own scheduler.
func (r *ProcessorReifier) ScheduledExecutor(ref string, purpose string) (types.ScheduledExecutorService, error) {
	if ref == "" {
		return nil, nil
	}
	if bean, ok := r.route.registry.Lookup(ref); ok {
		executor, ok := bean.(types.ScheduledExecutorService)
		if !ok {
			return nil, &types.LookupError{Name: ref, Type: "ScheduledExecutorService", Msg: fmt.Sprintf("found bean of type %T", bean)}
		}
		return executor, nil
	}
	if profile, ok := r.route.executors.ThreadPoolProfile(ref); ok {
		return r.route.executors.NewScheduledThreadPool(r.route.owner, r.executorName(purpose), profile.PoolSize), nil
	}
	return nil, &types.LookupError{Name: ref, Type: "ScheduledExecutorService", Msg: "no executor bean or thread pool profile with this name for " + r.node.String()}
}

// CreateChildProcessor creates the processor of the node outputs, asking the
// engine ProcessorFactory first. A missing child is an IllegalArgument error
// when mandatory.
// CreateChildProcessor 创建子处理器
func (r *ProcessorReifier) CreateChildProcessor(mandatory bool) (types.Processor, error) {
	var children types.Processor
	if factory := r.route.config.ProcessorFactory; factory != nil {
		p, err := factory.CreateChildProcessor(r.route, r.node, mandatory)
		if err != nil {
			return nil, err
		}
		children = p
	}
	if children == nil {
		p, err := r.CreateOutputsProcessor()
		if err != nil {
			return nil, err
		}
		children = p
	}
	if children == nil && mandatory {
		return nil, types.NewIllegalArgumentError("definition has no children on %s", r.node)
	}
	return children, nil
}

// CreateOutputsProcessor reifies every output of the node
func (r *ProcessorReifier) CreateOutputsProcessor() (types.Processor, error) {
	return r.createOutputsProcessorOf(r.outputs())
}

// createOutputsProcessorOf reifies outputs depth first and wraps each in a
// channel. Several outputs become a pipeline, a single one is returned as is.
func (r *ProcessorReifier) createOutputsProcessorOf(outputs []*types.NodeDefinition) (types.Processor, error) {
	var list []types.Processor
	for _, output := range outputs {
		p, err := r.reify(output)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		channel, err := r.wrapChannel(p, output, r.node.InheritErrorHandler)
		if err != nil {
			return nil, err
		}
		list = append(list, channel)
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return processor.NewPipeline(list...), nil
	}
}

func (r *ProcessorReifier) outputs() []*types.NodeDefinition {
	return r.route.definition.Children(r.node.Index())
}

// outputsOf returns the outputs of one of kinds, or with include false the other ones
func (r *ProcessorReifier) outputsOf(include bool, kinds ...types.NodeKind) []*types.NodeDefinition {
	var found []*types.NodeDefinition
	for _, output := range r.outputs() {
		matched := false
		for _, k := range kinds {
			if output.Kind == k {
				matched = true
				break
			}
		}
		if matched == include {
			found = append(found, output)
		}
	}
	return found
}

// reify creates the processor of another node without wrapping it
func (r *ProcessorReifier) reify(node *types.NodeDefinition) (types.Processor, error) {
	base, err := newProcessorReifier(r.route, node)
	if err != nil {
		return nil, err
	}
	return base.createProcessor()
}

// createProcessor disabled nodes have no processor. The engine ProcessorFactory
// is asked first, then the reifier registry.
func (r *ProcessorReifier) createProcessor() (types.Processor, error) {
	disabled, err := r.route.placeholders.resolveString(r.node.Disabled)
	if err != nil {
		return nil, err
	}
	if cast.ParseBool(disabled, false) {
		return nil, nil
	}
	var p types.Processor
	if factory := r.route.config.ProcessorFactory; factory != nil {
		if p, err = factory.CreateProcessor(r.route, r.node); err != nil {
			return nil, err
		}
	}
	if p == nil {
		reifier, err := r.route.reifiers.Reifier(r)
		if err != nil {
			return nil, err
		}
		if p, err = reifier.CreateProcessor(); err != nil {
			return nil, err
		}
	}
	if p == nil {
		return nil, nil
	}
	if aware, ok := p.(types.IdAware); ok && aware.Id() == "" {
		aware.SetId(r.node.Id)
	}
	r.route.addService(p)
	return p, nil
}

// makeProcessor creates the processor of a top level node and wraps it in its channel
// makeProcessor 创建顶层节点处理器并包装通道
func (r *ProcessorReifier) makeProcessor() (types.Processor, error) {
	p, err := r.createProcessor()
	if err != nil || p == nil {
		return nil, err
	}
	return r.wrapProcessor(p)
}

// wrapProcessor returns channels unchanged
func (r *ProcessorReifier) wrapProcessor(p types.Processor) (types.Processor, error) {
	if _, ok := p.(types.Channel); ok {
		return p, nil
	}
	return r.wrapChannel(p, nil, r.node.InheritErrorHandler)
}

// wrapChannel wraps p in the channel of child, or of the reifier node when
// child is nil. The interceptors are the global, route and node local ones;
// whether the route error handler guards the channel is decided on the
// reifier node, see wrapErrorHandler.
// wrapChannel 包装通道：拦截器以及错误处理器
func (r *ProcessorReifier) wrapChannel(p types.Processor, child *types.NodeDefinition, inherit *bool) (types.Processor, error) {
	if _, ok := p.(types.Channel); ok {
		return p, nil
	}
	node := r.node
	if child != nil {
		node = child
	}
	channel := newDefaultChannel(r.route, node)
	if err := r.route.claimChannel(node, channel); err != nil {
		return nil, err
	}
	interceptors, err := r.route.interceptorsFor(node)
	if err != nil {
		return nil, err
	}
	if err := channel.initChannel(p, interceptors); err != nil {
		return nil, err
	}
	if r.wrapErrorHandler(child, inherit) && (inherit == nil || *inherit) {
		errorHandler, err := r.route.errorHandlerFactory.CreateErrorHandler(r.route, channel.guardedOutput())
		if err != nil {
			return nil, err
		}
		if err := channel.setErrorHandler(errorHandler); err != nil {
			return nil, err
		}
	}
	channel.postInitChannel()
	return channel, nil
}

// wrapErrorHandler decides on the reifier node whether a channel gets the route error handler.
// Try blocks and onException handle errors themselves, circuit breakers only
// when asked to inherit, and multicast branches never. Failover targets are
// left to the load balancer unless inheritErrorHandler is set.
func (r *ProcessorReifier) wrapErrorHandler(child *types.NodeDefinition, inherit *bool) bool {
	def := r.route.definition
	id := r.node.Index()
	switch r.node.Kind {
	case types.KindTry, types.KindCatch, types.KindFinally:
		return false
	}
	if def.IsParentOfKind(id, true, types.KindTry, types.KindCatch, types.KindFinally) {
		return false
	}
	if r.node.Kind == types.KindOnException || def.IsParentOfKind(id, true, types.KindOnException) {
		return false
	}
	if r.node.Kind == types.KindCircuitBreaker || def.IsParentOfKind(id, true, types.KindCircuitBreaker) {
		return inherit != nil && *inherit && child == nil
	}
	if r.node.Kind == types.KindMulticast {
		return r.Bool("shareUnitOfWork", false) && child == nil
	}
	if r.node.Kind == types.KindLoadBalance && child != nil && r.Text("strategy") == processor.FailoverLoadBalancer {
		return r.Bool("inheritErrorHandler", false)
	}
	return true
}
