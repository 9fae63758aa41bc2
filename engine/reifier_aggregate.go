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

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/language"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/processor/aggregate"
	"github.com/rulego/routego/processor/resequencer"
	"github.com/rulego/routego/processor/saga"
	"github.com/rulego/routego/processor/throttle"
	"github.com/rulego/routego/utils/maps"
	"github.com/rulego/routego/utils/str"
)

type aggregateConfig struct {
	aggregate.Configuration `mapstructure:",squash"`
	StrategyRef                      string `mapstructure:"strategyRef"`
	ExecutorServiceRef               string `mapstructure:"executorServiceRef"`
	TimeoutCheckerExecutorServiceRef string `mapstructure:"timeoutCheckerExecutorServiceRef"`
	AggregationRepositoryRef         string `mapstructure:"aggregationRepositoryRef"`
}

// aggregate: see aggregateConfig, plus the correlationExpression,
// completionPredicate, completionSizeExpression and completionTimeoutExpression expressions
type aggregateReifier struct {
	*ProcessorReifier
}

func (r *aggregateReifier) CreateProcessor() (types.Processor, error) {
	config := aggregateConfig{Configuration: aggregate.DefaultConfiguration()}
	if err := r.Decode(&config); err != nil {
		return nil, err
	}
	correlation, err := r.MandatoryExpression("correlationExpression")
	if err != nil {
		return nil, err
	}
	if config.StrategyRef == "" {
		return nil, types.NewIllegalArgumentError("strategyRef must be configured on %s", r.node)
	}
	strategy, err := r.AggregationStrategy(config.StrategyRef)
	if err != nil {
		return nil, err
	}
	predicate, err := r.Predicate("completionPredicate")
	if err != nil {
		return nil, err
	}
	sizeExpression, err := r.Expression("completionSizeExpression")
	if err != nil {
		return nil, err
	}
	timeoutExpression, err := r.Expression("completionTimeoutExpression")
	if err != nil {
		return nil, err
	}
	_, preCompletion := strategy.(types.PreCompletionAwareAggregationStrategy)
	if !preCompletion && !config.HasCompletionCondition() && predicate == nil && sizeExpression == nil && timeoutExpression == nil {
		return nil, types.NewIllegalArgumentError("at least one of the completion options [completionTimeout, completionInterval, completionSize, completionPredicate, completionFromBatchConsumer] must be set on %s", r.node)
	}
	if config.CompletionFromBatchConsumer && config.DiscardOnAggregationFailure {
		return nil, types.NewIllegalArgumentError("cannot use both completionFromBatchConsumer and discardOnAggregationFailure on %s", r.node)
	}
	if config.CompletionInterval > 0 && (config.CompletionTimeout > 0 || timeoutExpression != nil) {
		return nil, types.NewIllegalArgumentError("only one of completionInterval or completionTimeout can be used on %s", r.node)
	}
	var repository types.AggregationRepository
	if config.AggregationRepositoryRef != "" {
		if repository, err = types.LookupByNameAndType[types.AggregationRepository](r.route.registry, config.AggregationRepositoryRef); err != nil {
			return nil, err
		}
	}
	if config.OptimisticLocking {
		if _, ok := repository.(types.OptimisticLockingAggregationRepository); !ok && repository != nil {
			return nil, types.NewIllegalArgumentError("optimistic locking on %s requires an OptimisticLockingAggregationRepository, %s is a %T",
				r.node, config.AggregationRepositoryRef, repository)
		}
		if repository == nil {
			repository = aggregate.NewMemoryAggregationRepository()
		}
	}
	output, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	if output == nil {
		output = noop
	}

	x := aggregate.NewAggregateProcessor(output, correlation, strategy, r.Logger())
	x.Configuration = config.Configuration
	x.CompletionPredicate = predicate
	x.CompletionSizeExpression = sizeExpression
	x.CompletionTimeoutExpression = timeoutExpression
	x.Repository = repository
	if x.Executor, err = r.Executor(config.ExecutorServiceRef, "aggregate", config.ParallelProcessing); err != nil {
		return nil, err
	}
	if x.TimeoutChecker, err = r.ScheduledExecutor(config.TimeoutCheckerExecutorServiceRef, "aggregateTimeoutChecker"); err != nil {
		return nil, err
	}
	if config.DeadLetterUri != "" {
		endpoint, err := r.Endpoint(config.DeadLetterUri)
		if err != nil {
			return nil, err
		}
		deadLetter := processor.NewSendProcessor(endpoint)
		r.route.addService(deadLetter)
		x.DeadLetter = deadLetter
	}
	return x, nil
}

// resequence: expression, batchConfig or streamConfig, comparatorRef
type resequenceReifier struct {
	*ProcessorReifier
}

func (r *resequenceReifier) CreateProcessor() (types.Processor, error) {
	if r.Has("batchConfig") && r.Has("streamConfig") {
		return nil, types.NewIllegalArgumentError("batchConfig and streamConfig cannot both be configured on %s", r.node)
	}
	expression, err := r.MandatoryExpression("expression")
	if err != nil {
		return nil, err
	}
	output, err := r.CreateChildProcessor(true)
	if err != nil {
		return nil, err
	}
	ref := r.Text("comparatorRef")
	if r.Has("streamConfig") {
		config := resequencer.DefaultStreamConfig()
		if err := maps.Map2Struct(r.config["streamConfig"], &config); err != nil {
			return nil, types.NewIllegalArgumentError("invalid streamConfig of %s: %v", r.node, err)
		}
		var comparator resequencer.SequenceComparator = resequencer.DefaultSequenceComparator{}
		if ref != "" {
			if comparator, err = types.LookupByNameAndType[resequencer.SequenceComparator](r.route.registry, ref); err != nil {
				return nil, err
			}
		}
		return resequencer.NewStreamResequencer(expression, comparator, output, config, r.Logger()), nil
	}
	config := resequencer.DefaultBatchConfig()
	if r.Has("batchConfig") {
		if err := maps.Map2Struct(r.config["batchConfig"], &config); err != nil {
			return nil, types.NewIllegalArgumentError("invalid batchConfig of %s: %v", r.node, err)
		}
	}
	x := resequencer.NewBatchResequencer(expression, output, config, r.Logger())
	if ref != "" {
		if x.Comparator, err = types.LookupByNameAndType[resequencer.Comparator](r.route.registry, ref); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// throttle: maximumRequestsPerPeriod, correlationExpression, timePeriodMillis,
// asyncDelayed, rejectExecution, callerRunsWhenRejected, executorServiceRef
type throttleReifier struct {
	*ProcessorReifier
}

func (r *throttleReifier) CreateProcessor() (types.Processor, error) {
	maxRequests, err := r.MandatoryExpression("maximumRequestsPerPeriod")
	if err != nil {
		return nil, err
	}
	correlation, err := r.Expression("correlationExpression")
	if err != nil {
		return nil, err
	}
	config := throttle.DefaultConfiguration()
	if err := r.Decode(&config); err != nil {
		return nil, err
	}
	output, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	x := throttle.NewThrottler(maxRequests, correlation, output, config, r.Logger())
	if config.AsyncDelayed {
		if x.Scheduler, err = r.ScheduledExecutor(r.Text("executorServiceRef"), "throttle"); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// saga: propagation, completionMode, compensation, completion, options, timeout, sagaServiceRef
type sagaReifier struct {
	*ProcessorReifier
}

func (r *sagaReifier) CreateProcessor() (types.Processor, error) {
	propagation, err := saga.ParsePropagation(r.Text("propagation"))
	if err != nil {
		return nil, err
	}
	mode, err := saga.ParseCompletionMode(r.Text("completionMode"))
	if err != nil {
		return nil, err
	}
	service := r.route.sagaService
	if ref := r.Text("sagaServiceRef"); ref != "" {
		if service, err = types.LookupByNameAndType[saga.Service](r.route.registry, ref); err != nil {
			return nil, err
		}
	}
	if service == nil {
		return nil, types.NewIllegalStateError("no saga service available for %s", r.node)
	}
	options, err := r.sagaOptions()
	if err != nil {
		return nil, err
	}
	body, err := r.CreateChildProcessor(false)
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = noop
	}
	x := saga.NewSagaProcessor(service, body, propagation, mode, r.Logger())
	x.Compensation = r.Text("compensation")
	x.Completion = r.Text("completion")
	x.Options = options
	if r.Has("timeout") {
		var timeout struct{ Timeout int64 }
		if err := r.Decode(&timeout); err != nil {
			return nil, err
		}
		x.Timeout = time.Duration(timeout.Timeout) * time.Millisecond
	}
	return x, nil
}

// sagaOptions option values are simple templates unless given as expression objects
func (r *sagaReifier) sagaOptions() (map[string]types.Expression, error) {
	raw, ok := r.config["options"]
	if !ok || raw == nil {
		return nil, nil
	}
	values, ok := raw.(map[string]interface{})
	if !ok {
		if c, isConfig := raw.(types.Configuration); isConfig {
			values = c
		} else {
			return nil, types.NewIllegalArgumentError("options of %s must be an object", r.node)
		}
	}
	options := make(map[string]types.Expression, len(values))
	for name, value := range values {
		def := types.ExpressionDefinition{Language: "simple"}
		if s, ok := value.(string); ok {
			def.Expression = s
		} else if err := maps.Map2Struct(value, &def); err != nil {
			def = types.ExpressionDefinition{Language: "constant", Expression: str.ToString(value)}
		}
		e, err := language.NewExpression(r.route.languages, def)
		if err != nil {
			return nil, types.NewIllegalArgumentError("invalid option %s of %s: %v", name, r.node, err)
		}
		if e != nil {
			options[name] = e
		}
	}
	return options, nil
}
