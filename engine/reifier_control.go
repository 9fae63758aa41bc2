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
	"strings"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/utils/cache"
	"github.com/rulego/routego/utils/str"
)

// noop continues routing, used where a processor needs a child but the node has none
var noop = types.ProcessorFunc(func(*types.Exchange) error { return nil })

// Strings reads key as a list: an array, or a comma separated string
func (r *ProcessorReifier) Strings(key string) []string {
	if !r.Has(key) {
		return nil
	}
	var values []string
	switch v := r.config[key].(type) {
	case []string:
		values = v
	case []interface{}:
		for _, item := range v {
			values = append(values, str.ToString(item))
		}
	default:
		values = strings.Split(str.ToString(v), ",")
	}
	var result []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			result = append(result, value)
		}
	}
	return result
}

// choice: when and otherwise outputs only
type choiceReifier struct {
	*ProcessorReifier
}

func (r *choiceReifier) CreateProcessor() (types.Processor, error) {
	if others := r.outputsOf(false, types.KindWhen, types.KindOtherwise); len(others) > 0 {
		return nil, types.NewIllegalArgumentError("%s only accepts when and otherwise outputs, found %s", r.node, others[0])
	}
	otherwiseNodes := r.outputsOf(true, types.KindOtherwise)
	if len(otherwiseNodes) > 1 {
		return nil, types.NewIllegalArgumentError("%s has more than one otherwise", r.node)
	}
	var whens []*processor.FilterProcessor
	for _, node := range r.outputsOf(true, types.KindWhen) {
		p, err := r.reify(node)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		when, ok := p.(*processor.FilterProcessor)
		if !ok {
			return nil, types.NewIllegalStateError("%s did not create a filter processor", node)
		}
		whens = append(whens, when)
	}
	var otherwise types.Processor
	if len(otherwiseNodes) == 1 {
		p, err := r.reify(otherwiseNodes[0])
		if err != nil {
			return nil, err
		}
		otherwise = p
	}
	if len(whens) == 0 && otherwise == nil {
		return nil, types.NewIllegalArgumentError("%s must have at least one when or otherwise", r.node)
	}
	return processor.NewChoiceProcessor(whens, otherwise), nil
}

// when: expression
type whenReifier struct {
	*ProcessorReifier
}

func (r *whenReifier) CreateProcessor() (types.Processor, error) {
	if !r.route.definition.IsParentOfKind(r.node.Index(), false, types.KindChoice) {
		return nil, types.NewIllegalArgumentError("%s must be an output of choice", r.node)
	}
	return r.createFilter()
}

func (r *ProcessorReifier) createFilter() (*processor.FilterProcessor, error) {
	predicate, err := r.MandatoryPredicate("expression")
	if err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	return processor.NewFilterProcessor(predicate, child), nil
}

type otherwiseReifier struct {
	*ProcessorReifier
}

func (r *otherwiseReifier) CreateProcessor() (types.Processor, error) {
	if !r.route.definition.IsParentOfKind(r.node.Index(), false, types.KindChoice) {
		return nil, types.NewIllegalArgumentError("%s must be an output of choice", r.node)
	}
	return r.CreateChildProcessor(false)
}

// filter: expression
type filterReifier struct {
	*ProcessorReifier
}

func (r *filterReifier) CreateProcessor() (types.Processor, error) {
	return r.createFilter()
}

// loop: expression (count) or doWhile, copy, maxIterations
type loopReifier struct {
	*ProcessorReifier
}

func (r *loopReifier) CreateProcessor() (types.Processor, error) {
	count, err := r.Expression("expression")
	if err != nil {
		return nil, err
	}
	doWhile, err := r.Predicate("doWhile")
	if err != nil {
		return nil, err
	}
	if (count == nil) == (doWhile == nil) {
		return nil, types.NewIllegalArgumentError("%s needs exactly one of expression or doWhile", r.node)
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	var options struct {
		Copy          bool
		MaxIterations int
	}
	if err := r.Decode(&options); err != nil {
		return nil, err
	}
	loop := processor.NewLoopProcessor(count, doWhile, child)
	loop.Copy = options.Copy
	loop.MaxIterations = options.MaxIterations
	return loop, nil
}

// delay: expression (milliseconds), asyncDelayed, callerRunsWhenRejected, executorServiceRef
type delayReifier struct {
	*ProcessorReifier
}

func (r *delayReifier) CreateProcessor() (types.Processor, error) {
	delay, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child = noop
	}
	support, err := r.delaySupport("delay")
	if err != nil {
		return nil, err
	}
	return processor.NewDelayProcessor(delay, child, support), nil
}

// delaySupport asyncDelayed defaults to true. Without executorServiceRef the
// route owns a scheduler that runs continuations on timer goroutines.
func (r *ProcessorReifier) delaySupport(purpose string) (processor.DelayProcessorSupport, error) {
	support := processor.DelayProcessorSupport{
		AsyncDelayed:           r.Bool("asyncDelayed", true),
		CallerRunsWhenRejected: r.Bool("callerRunsWhenRejected", true),
	}
	if !support.AsyncDelayed {
		return support, nil
	}
	scheduler, err := r.ScheduledExecutor(r.Text("executorServiceRef"), purpose)
	if err != nil {
		return support, err
	}
	if scheduler == nil {
		scheduler = r.route.executors.NewScheduledThreadPool(r.route.owner, r.executorName(purpose), 0)
	}
	support.Scheduler = scheduler
	return support, nil
}

// try: outputs other than catch and finally are the body
type tryReifier struct {
	*ProcessorReifier
}

func (r *tryReifier) CreateProcessor() (types.Processor, error) {
	catchNodes := r.outputsOf(true, types.KindCatch)
	finallyNodes := r.outputsOf(true, types.KindFinally)
	if len(catchNodes) == 0 && len(finallyNodes) == 0 {
		return nil, types.NewIllegalArgumentError("%s must have one or more catch or finally blocks", r.node)
	}
	if len(finallyNodes) > 1 {
		return nil, types.NewIllegalArgumentError("%s has more than one finally block", r.node)
	}
	body, err := r.createOutputsProcessorOf(r.outputsOf(false, types.KindCatch, types.KindFinally))
	if err != nil {
		return nil, err
	}
	var catches []*processor.CatchProcessor
	for _, node := range catchNodes {
		p, err := r.reify(node)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		c, ok := p.(*processor.CatchProcessor)
		if !ok {
			return nil, types.NewIllegalStateError("%s did not create a catch processor", node)
		}
		catches = append(catches, c)
	}
	var finally types.Processor
	if len(finallyNodes) == 1 {
		if finally, err = r.reify(finallyNodes[0]); err != nil {
			return nil, err
		}
	}
	return processor.NewTryProcessor(body, catches, finally), nil
}

// catch: exceptions, onWhen
type catchReifier struct {
	*ProcessorReifier
}

func (r *catchReifier) CreateProcessor() (types.Processor, error) {
	if !r.route.definition.IsParentOfKind(r.node.Index(), false, types.KindTry) {
		return nil, types.NewIllegalArgumentError("%s must be an output of try", r.node)
	}
	onWhen, err := r.Predicate("onWhen")
	if err != nil {
		return nil, err
	}
	body, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	return processor.NewCatchProcessor(r.Strings("exceptions"), r.route.config.ErrorTypes, onWhen, body), nil
}

type finallyReifier struct {
	*ProcessorReifier
}

func (r *finallyReifier) CreateProcessor() (types.Processor, error) {
	if !r.route.definition.IsParentOfKind(r.node.Index(), false, types.KindTry) {
		return nil, types.NewIllegalArgumentError("%s must be an output of try", r.node)
	}
	return r.CreateChildProcessor(false)
}

type stopReifier struct {
	*ProcessorReifier
}

func (r *stopReifier) CreateProcessor() (types.Processor, error) {
	return &processor.StopProcessor{}, nil
}

// throwException: exceptionType, message (simple)
type throwExceptionReifier struct {
	*ProcessorReifier
}

func (r *throwExceptionReifier) CreateProcessor() (types.Processor, error) {
	typeName := r.Text("exceptionType")
	if typeName == "" {
		return nil, types.NewIllegalArgumentError("exceptionType must be configured on %s", r.node)
	}
	message, err := r.SimpleExpression("message")
	if err != nil {
		return nil, err
	}
	return processor.NewThrowExceptionProcessor(typeName, message), nil
}

// rollback: message, markRollbackOnly, markRollbackOnlyLast
type rollbackReifier struct {
	*ProcessorReifier
}

func (r *rollbackReifier) CreateProcessor() (types.Processor, error) {
	x := &processor.RollbackProcessor{
		Message:              r.Text("message"),
		MarkRollbackOnly:     r.Bool("markRollbackOnly", false),
		MarkRollbackOnlyLast: r.Bool("markRollbackOnlyLast", false),
	}
	if x.MarkRollbackOnly && x.MarkRollbackOnlyLast {
		return nil, types.NewIllegalArgumentError("cannot set both markRollbackOnly and markRollbackOnlyLast on %s", r.node)
	}
	return x, nil
}

// threads: poolSize, maxPoolSize, maxQueueSize, keepAliveTime, rejectedPolicy,
// callerRunsWhenRejected, executorServiceRef
type threadsReifier struct {
	*ProcessorReifier
}

func (r *threadsReifier) CreateProcessor() (types.Processor, error) {
	var options struct {
		PoolSize               int
		MaxPoolSize            int
		MaxQueueSize           int
		KeepAliveTime          int64
		RejectedPolicy         string
		ExecutorServiceRef     string
		CallerRunsWhenRejected *bool
	}
	options.MaxQueueSize = -1
	if err := r.Decode(&options); err != nil {
		return nil, err
	}
	child, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	callerRuns := options.CallerRunsWhenRejected == nil || *options.CallerRunsWhenRejected
	if options.ExecutorServiceRef != "" {
		if options.PoolSize > 0 || options.MaxPoolSize > 0 || options.MaxQueueSize >= 0 {
			return nil, types.NewIllegalArgumentError("executorServiceRef and pool options cannot both be configured on %s", r.node)
		}
		executor, err := r.Executor(options.ExecutorServiceRef, "threads", true)
		if err != nil {
			return nil, err
		}
		return processor.NewThreadsProcessor(executor, child, callerRuns), nil
	}
	profile := types.ThreadPoolProfile{
		PoolSize:       options.PoolSize,
		MaxPoolSize:    options.MaxPoolSize,
		MaxQueueSize:   options.MaxQueueSize,
		KeepAlive:      time.Duration(options.KeepAliveTime) * time.Millisecond,
		RejectedPolicy: types.RejectedPolicy(options.RejectedPolicy),
	}.Merge(r.route.executors.DefaultThreadPoolProfile())
	executor := r.route.executors.NewThreadPool(r.route.owner, r.executorName("threads"), profile)
	return processor.NewThreadsProcessor(executor, child, callerRuns), nil
}

// sampling: samplePeriod (milliseconds), messageFrequency. Outputs run for sampled exchanges.
type samplingReifier struct {
	*ProcessorReifier
}

func (r *samplingReifier) CreateProcessor() (types.Processor, error) {
	var options struct {
		SamplePeriod     int64
		MessageFrequency int64
	}
	if err := r.Decode(&options); err != nil {
		return nil, err
	}
	if options.SamplePeriod > 0 && options.MessageFrequency > 0 {
		return nil, types.NewIllegalArgumentError("samplePeriod and messageFrequency cannot both be configured on %s", r.node)
	}
	sampler := processor.NewSamplingProcessor(time.Duration(options.SamplePeriod)*time.Millisecond, options.MessageFrequency)
	child, err := r.CreateChildProcessor(false)
	if err != nil || child == nil {
		return sampler, err
	}
	return processor.NewPipeline(sampler, child), nil
}

// idempotentConsumer: expression, idempotentRepositoryRef, eager, completionEager,
// skipDuplicate, removeOnFailure
type idempotentConsumerReifier struct {
	*ProcessorReifier
}

func (r *idempotentConsumerReifier) CreateProcessor() (types.Processor, error) {
	messageId, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	var repository types.IdempotentRepository
	if ref := r.Text("idempotentRepositoryRef"); ref != "" {
		if repository, err = types.LookupByNameAndType[types.IdempotentRepository](r.route.registry, ref); err != nil {
			return nil, err
		}
	} else if c := r.route.config.Cache; c != nil {
		repository = cache.NewIdempotentRepository(c, 0)
	} else {
		repository = cache.NewMemoryIdempotentRepository()
	}
	child, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child = noop
	}
	x := processor.NewIdempotentConsumer(messageId, repository, child)
	x.Eager = r.Bool("eager", true)
	x.CompletionEager = r.Bool("completionEager", false)
	x.SkipDuplicate = r.Bool("skipDuplicate", true)
	x.RemoveOnFailure = r.Bool("removeOnFailure", true)
	return x, nil
}

// circuitBreaker: failureRatio, minimumNumberOfCalls, waitDurationInOpenState,
// permittedNumberOfCallsInHalfOpenState, slidingWindowMillis. An onFallback
// output is the fallback, the other outputs are protected.
type circuitBreakerReifier struct {
	*ProcessorReifier
}

func (r *circuitBreakerReifier) CreateProcessor() (types.Processor, error) {
	config := processor.DefaultCircuitBreakerConfiguration()
	if err := r.Decode(&config); err != nil {
		return nil, err
	}
	if config.FailureRatio <= 0 || config.FailureRatio > 1 {
		return nil, types.NewIllegalArgumentError("failureRatio of %s must be in (0, 1]", r.node)
	}
	fallbackNodes := r.outputsOf(true, types.KindOnFallback)
	if len(fallbackNodes) > 1 {
		return nil, types.NewIllegalArgumentError("%s has more than one onFallback", r.node)
	}
	child, err := r.createOutputsProcessorOf(r.outputsOf(false, types.KindOnFallback))
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, types.NewIllegalArgumentError("definition has no children on %s", r.node)
	}
	var fallback types.Processor
	if len(fallbackNodes) == 1 {
		if fallback, err = r.reify(fallbackNodes[0]); err != nil {
			return nil, err
		}
	}
	return processor.NewCircuitBreakerProcessor(r.node.Id, config, child, fallback, r.Logger()), nil
}

type onFallbackReifier struct {
	*ProcessorReifier
}

func (r *onFallbackReifier) CreateProcessor() (types.Processor, error) {
	if !r.route.definition.IsParentOfKind(r.node.Index(), false, types.KindCircuitBreaker) {
		return nil, types.NewIllegalArgumentError("%s must be an output of circuitBreaker", r.node)
	}
	return r.CreateChildProcessor(false)
}

// policy: ref of a Policy bean wrapping the outputs
type policyReifier struct {
	*ProcessorReifier
}

func (r *policyReifier) CreateProcessor() (types.Processor, error) {
	ref := r.Text("ref")
	if ref == "" {
		return nil, types.NewIllegalArgumentError("ref must be configured on %s", r.node)
	}
	policy, err := types.LookupByNameAndType[types.Policy](r.route.registry, ref)
	if err != nil {
		return nil, err
	}
	return r.wrapPolicy(policy)
}

func (r *ProcessorReifier) wrapPolicy(policy types.Policy) (types.Processor, error) {
	policy.BeforeWrap(r.route, r.node)
	child, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child = noop
	}
	wrapped, err := policy.Wrap(r.route, child)
	if err != nil {
		return nil, err
	}
	if _, ok := wrapped.(types.Channel); !ok && wrapped != nil {
		r.route.addService(wrapped)
	}
	return processor.NewWrapProcessor(wrapped, child), nil
}

// transacted: ref of a TransactedPolicy. Without ref the single TransactedPolicy
// bean is used, then the bean named PROPAGATION_REQUIRED.
type transactedReifier struct {
	*ProcessorReifier
}

func (r *transactedReifier) CreateProcessor() (types.Processor, error) {
	policy, err := r.transactedPolicy()
	if err != nil {
		return nil, err
	}
	return r.wrapPolicy(policy)
}

func (r *transactedReifier) transactedPolicy() (types.TransactedPolicy, error) {
	if ref := r.Text("ref"); ref != "" {
		return types.LookupByNameAndType[types.TransactedPolicy](r.route.registry, ref)
	}
	found := types.FindByType[types.TransactedPolicy](r.route.registry)
	if len(found) == 1 {
		for _, policy := range found {
			return policy, nil
		}
	}
	policy, err := types.LookupByNameAndType[types.TransactedPolicy](r.route.registry, types.PropagationRequired)
	if err != nil {
		return nil, types.NewIllegalArgumentError("no TransactedPolicy found for %s: found %d candidates and no bean named %s",
			r.node, len(found), types.PropagationRequired)
	}
	return policy, nil
}
