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
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/multicast"
	"github.com/rulego/routego/utils/str"
)

// to: uri
type toReifier struct {
	*ProcessorReifier
}

func (r *toReifier) CreateProcessor() (types.Processor, error) {
	endpoint, err := r.Endpoint(r.Text("uri"))
	if err != nil {
		return nil, err
	}
	return processor.NewSendProcessor(endpoint), nil
}

// toD: uri (simple template by default), ignoreInvalidEndpoint
type toDynamicReifier struct {
	*ProcessorReifier
}

func (r *toDynamicReifier) CreateProcessor() (types.Processor, error) {
	uri, err := r.SimpleExpression("uri")
	if err != nil {
		return nil, err
	}
	if uri == nil {
		return nil, types.NewIllegalArgumentError("uri must be configured on %s", r.node)
	}
	return processor.NewToDynamicProcessor(uri, r.route.resolver, r.Bool("ignoreInvalidEndpoint", false)), nil
}

// wireTap: uri, copy, newBody, onPrepareRef, executorServiceRef
type wireTapReifier struct {
	*ProcessorReifier
}

func (r *wireTapReifier) CreateProcessor() (types.Processor, error) {
	uri := r.Text("uri")
	var target types.Processor
	if str.CheckHasVar(uri) {
		expression, err := r.SimpleExpression("uri")
		if err != nil {
			return nil, err
		}
		target = processor.NewToDynamicProcessor(expression, r.route.resolver, false)
	} else {
		endpoint, err := r.Endpoint(uri)
		if err != nil {
			return nil, err
		}
		target = processor.NewSendProcessor(endpoint)
	}
	r.route.addService(target)
	executor, err := r.Executor(r.Text("executorServiceRef"), "wireTap", true)
	if err != nil {
		return nil, err
	}
	x := processor.NewWireTapProcessor(uri, target, executor, r.Logger())
	x.Copy = r.Bool("copy", true)
	if x.NewBody, err = r.Expression("newBody"); err != nil {
		return nil, err
	}
	if x.OnPrepare, err = r.processorRef("onPrepareRef"); err != nil {
		return nil, err
	}
	return x, nil
}

// routingSlip: expression, uriDelimiter, ignoreInvalidEndpoints
type routingSlipReifier struct {
	*ProcessorReifier
}

func (r *routingSlipReifier) CreateProcessor() (types.Processor, error) {
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	return processor.NewRoutingSlipProcessor(expression, r.Text("uriDelimiter"), r.Bool("ignoreInvalidEndpoints", false), r.route.resolver), nil
}

// multicastConfig options shared by multicast, split and recipientList
type multicastConfig struct {
	multicast.Options      `mapstructure:",squash"`
	StrategyRef            string `mapstructure:"strategyRef"`
	ExecutorServiceRef     string `mapstructure:"executorServiceRef"`
	OnPrepareRef           string `mapstructure:"onPrepareRef"`
	Delimiter              string `mapstructure:"delimiter"`
	IgnoreInvalidEndpoints bool   `mapstructure:"ignoreInvalidEndpoints"`
}

func (r *ProcessorReifier) multicastConfig() (multicastConfig, types.AggregationStrategy, error) {
	var config multicastConfig
	if err := r.Decode(&config); err != nil {
		return config, nil, err
	}
	if err := config.Validate(); err != nil {
		return config, nil, err
	}
	strategy, err := r.AggregationStrategy(config.StrategyRef)
	return config, strategy, err
}

// configure sets the executor and the onPrepare processor
func (r *ProcessorReifier) configureMulticast(x *multicast.MulticastProcessor, config multicastConfig) error {
	executor, err := r.Executor(config.ExecutorServiceRef, string(r.node.Kind), config.ParallelProcessing)
	if err != nil {
		return err
	}
	x.Executor = executor
	if config.OnPrepareRef != "" {
		if x.OnPrepare, err = r.processorRef("onPrepareRef"); err != nil {
			return err
		}
	}
	return nil
}

// multicast: every output is a branch
type multicastReifier struct {
	*ProcessorReifier
}

func (r *multicastReifier) CreateProcessor() (types.Processor, error) {
	config, strategy, err := r.multicastConfig()
	if err != nil {
		return nil, err
	}
	var branches []types.Processor
	for _, output := range r.outputs() {
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
		branches = append(branches, channel)
	}
	if len(branches) == 0 {
		return nil, types.NewIllegalArgumentError("definition has no children on %s", r.node)
	}
	x, err := multicast.NewMulticastProcessor(branches, strategy, config.Options, r.Logger())
	if err != nil {
		return nil, err
	}
	if err := r.configureMulticast(x, config); err != nil {
		return nil, err
	}
	return x, nil
}

// split: expression, delimiter plus the multicast options
type splitReifier struct {
	*ProcessorReifier
}

func (r *splitReifier) CreateProcessor() (types.Processor, error) {
	config, strategy, err := r.multicastConfig()
	if err != nil {
		return nil, err
	}
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	x, err := multicast.NewSplitterProcessor(expression, child, strategy, multicast.SplitOptions{
		Options:   config.Options,
		Delimiter: config.Delimiter,
	}, r.Logger())
	if err != nil {
		return nil, err
	}
	if err := r.configureMulticast(x.MulticastProcessor, config); err != nil {
		return nil, err
	}
	return x, nil
}

// recipientList: expression, delimiter, ignoreInvalidEndpoints plus the multicast options
type recipientListReifier struct {
	*ProcessorReifier
}

func (r *recipientListReifier) CreateProcessor() (types.Processor, error) {
	config, strategy, err := r.multicastConfig()
	if err != nil {
		return nil, err
	}
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	x, err := multicast.NewRecipientListProcessor(expression, r.route.resolver, strategy, multicast.RecipientListOptions{
		Options:                config.Options,
		Delimiter:              config.Delimiter,
		IgnoreInvalidEndpoints: config.IgnoreInvalidEndpoints,
	}, r.Logger())
	if err != nil {
		return nil, err
	}
	if err := r.configureMulticast(x.MulticastProcessor, config); err != nil {
		return nil, err
	}
	return x, nil
}

// pipeline: the outputs in sequence
type pipelineReifier struct {
	*ProcessorReifier
}

func (r *pipelineReifier) CreateProcessor() (types.Processor, error) {
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	if _, ok := child.(*processor.Pipeline); ok {
		return child, nil
	}
	return processor.NewPipeline(child), nil
}

// process: ref of a processor bean
type processReifier struct {
	*ProcessorReifier
}

func (r *processReifier) CreateProcessor() (types.Processor, error) {
	if r.Text("ref") == "" {
		return nil, types.NewIllegalArgumentError("ref must be configured on %s", r.node)
	}
	return r.processorRef("ref")
}

// processorRef resolves the bean named by the value of key as a processor. Absent key returns nil.
func (r *ProcessorReifier) processorRef(key string) (types.Processor, error) {
	ref := r.Text(key)
	if ref == "" {
		return nil, nil
	}
	bean, err := r.Bean(ref)
	if err != nil {
		return nil, err
	}
	switch p := bean.(type) {
	case types.Processor:
		return p, nil
	case func(exchange *types.Exchange) error:
		return types.ProcessorFunc(p), nil
	}
	return nil, &types.LookupError{Name: ref, Type: "Processor", Msg: fmt.Sprintf("found bean of type %T", bean)}
}

// loadBalance: strategy, distributionRatio, distributionRatioDelimiter, roundRobin,
// maximumFailoverAttempts, exceptions, correlationExpression. Every output is a target.
type loadBalanceReifier struct {
	*ProcessorReifier
}

func (r *loadBalanceReifier) CreateProcessor() (types.Processor, error) {
	options := processor.DefaultLoadBalanceOptions()
	if err := r.Decode(&options); err != nil {
		return nil, err
	}
	correlation, err := r.Expression("correlationExpression")
	if err != nil {
		return nil, err
	}
	var targets []types.Processor
	for _, output := range r.outputs() {
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
		targets = append(targets, channel)
	}
	x, err := processor.NewLoadBalanceProcessor(targets, correlation, options)
	if err != nil {
		return nil, types.NewIllegalArgumentError("%v on %s", err, r.node)
	}
	if r.route.config.ErrorTypes != nil {
		x.ErrorTypes = r.route.config.ErrorTypes
	}
	return x, nil
}

// dynamicRouter: expression, uriDelimiter, ignoreInvalidEndpoints
type dynamicRouterReifier struct {
	*ProcessorReifier
}

func (r *dynamicRouterReifier) CreateProcessor() (types.Processor, error) {
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	return processor.NewDynamicRouterProcessor(expression, r.Text("uriDelimiter"), r.Bool("ignoreInvalidEndpoints", false), r.route.resolver), nil
}

// enrich: uri (simple template by default), strategyRef, aggregateOnException, ignoreInvalidEndpoint
type enrichReifier struct {
	*ProcessorReifier
}

func (r *enrichReifier) CreateProcessor() (types.Processor, error) {
	uri, err := r.SimpleExpression("uri")
	if err != nil {
		return nil, err
	}
	if uri == nil {
		return nil, types.NewIllegalArgumentError("uri must be configured on %s", r.node)
	}
	strategy, err := r.AggregationStrategy(r.Text("strategyRef"))
	if err != nil {
		return nil, err
	}
	x := processor.NewEnrichProcessor(uri, r.route.resolver, strategy)
	x.AggregateOnException = r.Bool("aggregateOnException", false)
	x.IgnoreInvalidEndpoint = r.Bool("ignoreInvalidEndpoint", false)
	return x, nil
}

// step: the outputs in sequence, identified by the node id
type stepReifier struct {
	*ProcessorReifier
}

func (r *stepReifier) CreateProcessor() (types.Processor, error) {
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	return processor.NewStepProcessor(r.node.Id, child), nil
}
