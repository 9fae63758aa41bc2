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

package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
	"github.com/rulego/routego/utils/cast"
	"github.com/rulego/routego/utils/pool"
	"github.com/rulego/routego/utils/str"
	"github.com/zhangyunhao116/skipset"
)

const (
	// DefaultCompletionTimeoutCheckerInterval milliseconds between two timeout checks
	DefaultCompletionTimeoutCheckerInterval = 1000
	// DefaultRecoveryInterval milliseconds between two recovery scans
	DefaultRecoveryInterval = 5000
	lockStripes             = 64
)

// Configuration options of the aggregator. Times are in milliseconds.
// Configuration 聚合器配置，时间单位为毫秒
type Configuration struct {
	// CompletionSize number of exchanges that completes a group
	CompletionSize int `json:"completionSize" mapstructure:"completionSize"`
	// CompletionTimeout inactivity time after which a group completes
	CompletionTimeout int64 `json:"completionTimeout" mapstructure:"completionTimeout"`
	// CompletionTimeoutCheckerInterval how often groups are checked for timeout, default 1000
	CompletionTimeoutCheckerInterval int64 `json:"completionTimeoutCheckerInterval" mapstructure:"completionTimeoutCheckerInterval"`
	// CompletionInterval completes every group periodically
	CompletionInterval int64 `json:"completionInterval" mapstructure:"completionInterval"`
	// CompletionFromBatchConsumer completes all groups of a batch once BatchSize exchanges arrived
	CompletionFromBatchConsumer bool `json:"completionFromBatchConsumer" mapstructure:"completionFromBatchConsumer"`
	// CompletionOnNewCorrelationGroup a new correlation key completes every other group
	CompletionOnNewCorrelationGroup bool `json:"completionOnNewCorrelationGroup" mapstructure:"completionOnNewCorrelationGroup"`
	// EagerCheckCompletion checks completion on the incoming exchange before aggregating
	EagerCheckCompletion bool `json:"eagerCheckCompletion" mapstructure:"eagerCheckCompletion"`
	// IgnoreInvalidCorrelationKeys drops exchanges without a correlation key instead of failing them
	IgnoreInvalidCorrelationKeys bool `json:"ignoreInvalidCorrelationKeys" mapstructure:"ignoreInvalidCorrelationKeys"`
	// CloseCorrelationKeyOnCompletion when set, completed keys are closed. The value bounds
	// the number of remembered keys, 0 or less means unbounded.
	CloseCorrelationKeyOnCompletion *int `json:"closeCorrelationKeyOnCompletion,omitempty" mapstructure:"closeCorrelationKeyOnCompletion"`
	// DiscardOnCompletionTimeout groups completed by timeout are dropped
	DiscardOnCompletionTimeout bool `json:"discardOnCompletionTimeout" mapstructure:"discardOnCompletionTimeout"`
	// DiscardOnAggregationFailure a group whose strategy failed is completed and dropped
	DiscardOnAggregationFailure bool `json:"discardOnAggregationFailure" mapstructure:"discardOnAggregationFailure"`
	// ForceCompletionOnStop completes every group when the aggregator stops
	ForceCompletionOnStop bool `json:"forceCompletionOnStop" mapstructure:"forceCompletionOnStop"`
	// CompleteAllOnStop stopping waits until every group has completed
	CompleteAllOnStop bool `json:"completeAllOnStop" mapstructure:"completeAllOnStop"`
	// ParallelProcessing completed exchanges are processed concurrently
	ParallelProcessing bool `json:"parallelProcessing" mapstructure:"parallelProcessing"`
	// OptimisticLocking relies on the repository to detect conflicts instead of locking
	OptimisticLocking bool `json:"optimisticLocking" mapstructure:"optimisticLocking"`
	// OptimisticLockRetryPolicy retries of conflicting aggregations
	OptimisticLockRetryPolicy OptimisticLockRetryPolicy `json:"optimisticLockRetryPolicy" mapstructure:"optimisticLockRetryPolicy"`
	// RecoveryInterval scan interval of a recoverable repository, 0 disables recovery
	RecoveryInterval int64 `json:"recoveryInterval" mapstructure:"recoveryInterval"`
	// MaximumRedeliveries recovery attempts before the exchange goes to the dead letter
	MaximumRedeliveries int `json:"maximumRedeliveries" mapstructure:"maximumRedeliveries"`
	// DeadLetterUri endpoint receiving exhausted recovered exchanges
	DeadLetterUri string `json:"deadLetterUri" mapstructure:"deadLetterUri"`
}

// DefaultConfiguration returns the default options
func DefaultConfiguration() Configuration {
	return Configuration{
		CompletionTimeoutCheckerInterval: DefaultCompletionTimeoutCheckerInterval,
		OptimisticLockRetryPolicy:        DefaultOptimisticLockRetryPolicy(),
	}
}

// HasCompletionCondition reports whether any completion option is set
func (c Configuration) HasCompletionCondition() bool {
	return c.CompletionSize > 0 || c.CompletionTimeout > 0 || c.CompletionInterval > 0 || c.CompletionFromBatchConsumer
}

// Statistics counters of an aggregator
type Statistics struct {
	TotalIn                  int64
	TotalCompleted           int64
	CompletedBySize          int64
	CompletedByStrategy      int64
	CompletedByInterval      int64
	CompletedByTimeout       int64
	CompletedByPredicate     int64
	CompletedByBatchConsumer int64
	CompletedByForce         int64
	Discarded                int64
}

type counters struct {
	totalIn, totalCompleted                                int64
	bySize, byStrategy, byInterval, byTimeout, byPredicate int64
	byConsumer, byForce, discarded                         int64
}

var (
	_ types.AsyncProcessor = (*AggregateProcessor)(nil)
	_ types.Service        = (*AggregateProcessor)(nil)
	_ types.IdAware        = (*AggregateProcessor)(nil)
)

// AggregateProcessor merges exchanges with the same correlation key and sends
// the merged exchange to its output once the group completes. The incoming
// exchange itself continues unchanged.
//
// AggregateProcessor 聚合处理器
type AggregateProcessor struct {
	Configuration
	// CompletionPredicate completes the group when it matches the aggregated exchange
	CompletionPredicate types.Predicate
	// CompletionSizeExpression overrides CompletionSize when it yields a positive number
	CompletionSizeExpression types.Expression
	// CompletionTimeoutExpression overrides CompletionTimeout when it yields a positive number
	CompletionTimeoutExpression types.Expression
	// Repository defaults to a MemoryAggregationRepository
	Repository types.AggregationRepository
	// Executor processes completed exchanges, caller runs when nil
	Executor types.Executor
	// TimeoutChecker runs the timeout and interval checks, created on start when nil
	TimeoutChecker types.ScheduledExecutorService
	// OptimisticExecutor schedules optimistic locking retries, created on start when nil
	OptimisticExecutor types.ScheduledExecutorService
	// DeadLetter receives exhausted recovered exchanges
	DeadLetter types.Processor

	id          string
	output      types.Processor
	correlation types.Expression
	strategy    types.AggregationStrategy
	logger      types.Logger

	ctx           context.Context
	running       int32
	preCompletion bool
	stripes       [lockStripes]sync.Mutex
	closed        *closedKeys
	batchKeys     *skipset.StringSet
	batchCounter  int32
	timeouts      *timeoutMap
	inProgress    sync.Map
	unconfirmed   sync.Map
	redelivery    sync.Map
	recovering    int32
	owned         []types.ExecutorService
	cancels       []func()
	stats         counters
}

// NewAggregateProcessor creates an aggregator with the default configuration.
// NewAggregateProcessor 创建聚合处理器
func NewAggregateProcessor(output types.Processor, correlation types.Expression, strategy types.AggregationStrategy, logger types.Logger) *AggregateProcessor {
	return &AggregateProcessor{
		Configuration: DefaultConfiguration(),
		output:        output,
		correlation:   correlation,
		strategy:      strategy,
		logger:        types.NewLogger(logger),
		batchKeys:     skipset.NewString(),
		ctx:           context.Background(),
	}
}

func (x *AggregateProcessor) Id() string {
	return x.id
}

func (x *AggregateProcessor) SetId(id string) {
	x.id = id
}

func (x *AggregateProcessor) Next() []types.Processor {
	return []types.Processor{x.output}
}

// Strategy the aggregation strategy
func (x *AggregateProcessor) Strategy() types.AggregationStrategy {
	return x.strategy
}

func (x *AggregateProcessor) Process(exchange *types.Exchange) error {
	return types.Await(x, exchange)
}

func (x *AggregateProcessor) ProcessAsync(exchange *types.Exchange, callback types.AsyncCallback) bool {
	atomic.AddInt64(&x.stats.totalIn, 1)
	if atomic.LoadInt32(&x.running) == 0 {
		exchange.SetErr(types.NewIllegalStateError("aggregate %s is not started", x.id))
		callback(true)
		return true
	}

	if isCompleteAllGroups(exchange) {
		removeFlagCompleteAllGroups(exchange)
		x.ForceCompletionOfAllGroups()
		callback(true)
		return true
	}

	value, err := x.correlation.Evaluate(exchange)
	if err != nil {
		exchange.SetErr(types.NewExchangeError(exchange, err, "Error evaluating correlation key"))
		callback(true)
		return true
	}
	key := str.ToString(value)
	if key == "" {
		if x.IgnoreInvalidCorrelationKeys {
			types.LogAt(x.logger, "DEBUG", "Invalid correlation key. This exchange will be ignored: %s", exchange.Id())
		} else {
			exchange.SetErr(types.NewExchangeError(exchange, nil, "Invalid correlation key"))
		}
		callback(true)
		return true
	}
	if x.closed != nil && x.closed.contains(key) {
		exchange.SetErr(&types.ClosedCorrelationKeyError{Key: key})
		callback(true)
		return true
	}

	if x.OptimisticLocking {
		return x.doInOptimisticLock(exchange, key, callback, 0, true)
	}
	_ = x.doProcess(exchange, key)
	callback(true)
	return true
}

func (x *AggregateProcessor) doInOptimisticLock(exchange *types.Exchange, key string, callback types.AsyncCallback, attempt int, sync bool) bool {
	for {
		attempt++
		err := x.doProcess(exchange, key)
		if !errors.Is(err, types.ErrOptimisticLocking) {
			callback(sync)
			return sync
		}
		types.LogAt(x.logger, "DEBUG", "optimistic locking conflict on attempt %d aggregating exchange %s with correlation key %s", attempt, exchange.Id(), key)
		if !x.OptimisticLockRetryPolicy.ShouldRetry(attempt) {
			exchange.SetErr(&types.OptimisticLockingExhaustedError{Attempts: attempt})
			callback(sync)
			return sync
		}
		if delay := x.OptimisticLockRetryPolicy.Delay(attempt); delay > 0 {
			next := attempt
			if _, err := x.OptimisticExecutor.Schedule(delay, func() {
				x.doInOptimisticLock(exchange, key, callback, next, false)
			}); err != nil {
				exchange.SetErr(err)
				callback(sync)
				return sync
			}
			return false
		}
	}
}

// lock returns the unlock function of the stripe guarding key. Optimistic
// mode does not lock.
func (x *AggregateProcessor) lock(key string) func() {
	if x.OptimisticLocking {
		return func() {}
	}
	var m *sync.Mutex
	if x.CompletionFromBatchConsumer {
		// a batch completes several keys at once
		m = &x.stripes[0]
	} else {
		m = &x.stripes[xxhash.Sum64String(key)%lockStripes]
	}
	m.Lock()
	return m.Unlock
}

type aggregation struct {
	completed []*types.Exchange
	forceAll  bool
}

// doProcess aggregates a correlated copy of exchange. Optimistic locking
// conflicts are returned so that the caller can retry, other errors are set
// on exchange.
func (x *AggregateProcessor) doProcess(exchange *types.Exchange, key string) error {
	// the aggregated output runs in its own unit of work
	c := exchange.CorrelatedCopy()
	c.SetUnitOfWork(nil)
	removeFlagCompleteAllGroups(c)
	c.Message().RemoveHeader(types.HeaderAggregationCompleteAllGroupsInclusive)

	unlock := x.lock(key)
	result, err := x.doAggregation(key, c)
	unlock()
	if errors.Is(err, types.ErrOptimisticLocking) {
		return err
	}
	if err != nil {
		exchange.SetErr(err)
	}
	if result != nil {
		if result.forceAll {
			x.forceCompletionOfAllGroups(key, types.CompletedByForce, false)
		}
		for _, agg := range result.completed {
			x.onSubmitCompletion(agg)
		}
	}

	if cast.ToBool(exchange.Header(types.HeaderAggregationCompleteAllGroupsInclusive)) {
		exchange.Message().RemoveHeader(types.HeaderAggregationCompleteAllGroupsInclusive)
		x.ForceCompletionOfAllGroups()
	}
	return nil
}

// doAggregation must run under the lock of key
func (x *AggregateProcessor) doAggregation(key string, newExchange *types.Exchange) (*aggregation, error) {
	ctx := newExchange.Context()
	original, err := x.Repository.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	oldExchange := original
	size := 1
	if oldExchange != nil {
		if _, ok := x.Repository.(*MemoryAggregationRepository); ok && x.OptimisticLocking {
			// the stored pointer is the version, strategies must not mutate it
			oldExchange = original.Copy()
		}
		size = cast.ToInt(oldExchange.Property(types.PropertyAggregatedSize)) + 1
	}

	// the flag of the incoming exchange applies to the aggregated one
	completeCurrent := isCompleteCurrentGroup(newExchange)
	removeFlagCompleteCurrentGroup(newExchange)

	result := &aggregation{}
	complete := ""
	if x.preCompletion || x.EagerCheckCompletion {
		newExchange.SetProperty(types.PropertyAggregatedSize, size)
		newExchange.SetProperty(types.PropertyAggregatedCorrelationKey, key)
		if completeCurrent {
			newExchange.SetProperty(types.HeaderAggregationCompleteCurrentGroup, true)
		}
		if x.preCompletion {
			if x.strategy.(types.PreCompletionAwareAggregationStrategy).PreComplete(oldExchange, newExchange) {
				complete = types.CompletedByStrategy
			}
		} else if complete, err = x.isCompleted(key, newExchange); err != nil {
			return nil, err
		}
		if complete == "" {
			x.trackTimeout(key, newExchange)
		}
		newExchange.RemoveProperty(types.PropertyAggregatedSize)
		newExchange.RemoveProperty(types.PropertyAggregatedCorrelationKey)
	}

	if x.preCompletion && complete != "" {
		// complete the current group before the new exchange starts the next one
		if err := x.doAggregationComplete(ctx, complete, result, key, original, oldExchange, false); err != nil {
			return nil, err
		}
		complete = ""
		oldExchange = nil
		original = nil
		size = 1
		x.trackTimeout(key, newExchange)
	}

	aggregateFailed := false
	answer, err := x.strategy.Aggregate(oldExchange, newExchange)
	if err != nil {
		aggregateFailed = true
		if !x.DiscardOnAggregationFailure {
			return nil, types.NewExchangeError(newExchange, err, "Error occurred during aggregation")
		}
		types.LogAt(x.logger, "DEBUG", "Aggregation for correlation key %s discarding aggregated exchange due to failure in AggregationStrategy caused by: %v", key, err)
		complete = types.CompletedByStrategy
		answer = oldExchange
		if answer == nil {
			return result, nil
		}
	}
	if answer == nil {
		return nil, types.NewExchangeError(newExchange, nil, "AggregationStrategy returned nil which is not allowed")
	}

	if isCompleteAllGroups(answer) {
		removeFlagCompleteAllGroups(answer)
		result.forceAll = true
	} else if x.CompletionOnNewCorrelationGroup && original == nil {
		result.forceAll = true
	}

	answer.SetProperty(types.PropertyAggregatedSize, size)

	if !x.preCompletion && !x.EagerCheckCompletion {
		if completeCurrent {
			answer.SetProperty(types.HeaderAggregationCompleteCurrentGroup, true)
		}
		if complete, err = x.isCompleted(key, answer); err != nil {
			return nil, err
		}
		if complete == "" {
			x.trackTimeout(key, newExchange)
		}
	}

	if !aggregateFailed && complete == "" {
		if err := x.repositoryAdd(ctx, key, original, answer); err != nil {
			return nil, err
		}
	} else if err := x.doAggregationComplete(ctx, complete, result, key, original, answer, aggregateFailed); err != nil {
		return nil, err
	}
	return result, nil
}

func (x *AggregateProcessor) doAggregationComplete(ctx context.Context, complete string, result *aggregation, key string, original, answer *types.Exchange, aggregateFailed bool) error {
	if complete == types.CompletedByConsumer {
		var batchKeys []string
		x.batchKeys.Range(func(value string) bool {
			batchKeys = append(batchKeys, value)
			return true
		})
		for _, batchKey := range batchKeys {
			x.batchKeys.Remove(batchKey)
			batchAnswer, batchOriginal := answer, original
			if batchKey != key {
				var err error
				if batchAnswer, err = x.Repository.Get(ctx, batchKey); err != nil {
					return err
				}
				batchOriginal = batchAnswer
			}
			if batchAnswer == nil {
				continue
			}
			batchAnswer.SetProperty(types.PropertyAggregatedCompletedBy, complete)
			out, err := x.onCompletion(ctx, batchKey, batchOriginal, batchAnswer, false, aggregateFailed)
			if err != nil {
				return err
			}
			if out != nil {
				result.completed = append(result.completed, out)
			}
		}
		return nil
	}
	if answer == nil {
		return nil
	}
	answer.SetProperty(types.PropertyAggregatedCompletedBy, complete)
	out, err := x.onCompletion(ctx, key, original, answer, false, aggregateFailed)
	if err != nil {
		return err
	}
	if out != nil {
		result.completed = append(result.completed, out)
	}
	return nil
}

func (x *AggregateProcessor) repositoryAdd(ctx context.Context, key string, original, answer *types.Exchange) error {
	if !x.OptimisticLocking {
		_, err := x.Repository.Add(ctx, key, answer)
		return err
	}
	err := x.Repository.(types.OptimisticLockingAggregationRepository).CompareAndAdd(ctx, key, original, answer)
	if errors.Is(err, types.ErrOptimisticLocking) {
		if aware, ok := x.strategy.(types.OptimisticLockingAwareAggregationStrategy); ok {
			aware.OnOptimisticLockFailure(original, answer)
		}
	}
	return err
}

func (x *AggregateProcessor) repositoryRemove(ctx context.Context, key string, original *types.Exchange) error {
	if x.OptimisticLocking {
		return x.Repository.(types.OptimisticLockingAggregationRepository).CompareAndRemove(ctx, key, original)
	}
	return x.Repository.Remove(ctx, key, original)
}

// isCompleted returns the completed-by value, or "" while the group is open.
// The checks run in order: batch consumer, complete current group flag,
// predicate, size expression, size.
func (x *AggregateProcessor) isCompleted(key string, exchange *types.Exchange) (string, error) {
	if x.CompletionFromBatchConsumer {
		x.batchKeys.Add(key)
		counter := atomic.AddInt32(&x.batchCounter, 1)
		size := cast.ToInt(exchange.Property(types.PropertyBatchSize))
		if size > 0 && int(counter) >= size {
			atomic.StoreInt32(&x.batchCounter, 0)
			return types.CompletedByConsumer, nil
		}
	}

	if isCompleteCurrentGroup(exchange) {
		removeFlagCompleteCurrentGroup(exchange)
		return types.CompletedByStrategy, nil
	}

	if x.CompletionPredicate != nil {
		ok, err := x.CompletionPredicate.Matches(exchange)
		if err != nil {
			return "", types.NewExchangeError(exchange, err, "Error evaluating completion predicate")
		}
		if ok {
			return types.CompletedByPredicate, nil
		}
	}

	size := cast.ToInt(exchange.Property(types.PropertyAggregatedSize))
	if size <= 0 {
		size = 1
	}
	sizeChecked := false
	if x.CompletionSizeExpression != nil {
		value, err := x.CompletionSizeExpression.Evaluate(exchange)
		if err != nil {
			return "", types.NewExchangeError(exchange, err, "Error evaluating completion size")
		}
		if n := cast.ToInt(value); n > 0 {
			sizeChecked = true
			if size >= n {
				return types.CompletedBySize, nil
			}
		}
	}
	if !sizeChecked && x.CompletionSize > 0 && size >= x.CompletionSize {
		return types.CompletedBySize, nil
	}
	return "", nil
}

// trackTimeout restarts the inactivity timeout of key. The expression takes
// precedence over the static value.
func (x *AggregateProcessor) trackTimeout(key string, exchange *types.Exchange) {
	if x.timeouts == nil {
		return
	}
	if x.CompletionTimeoutExpression != nil {
		if value, err := x.CompletionTimeoutExpression.Evaluate(exchange); err == nil {
			if ms := cast.ToInt64(value); ms > 0 {
				x.addToTimeoutMap(key, exchange, ms)
				return
			}
		}
	}
	if x.CompletionTimeout > 0 {
		x.addToTimeoutMap(key, exchange, x.CompletionTimeout)
	}
}

func (x *AggregateProcessor) addToTimeoutMap(key string, exchange *types.Exchange, ms int64) {
	exchange.SetProperty(types.PropertyAggregatedTimeout, ms)
	x.timeouts.put(key, exchange.Id(), time.Duration(ms)*time.Millisecond)
}

// onCompletion closes the group of key and returns the exchange to send, nil when discarded
func (x *AggregateProcessor) onCompletion(ctx context.Context, key string, original, aggregated *types.Exchange, fromTimeout, aggregateFailed bool) (*types.Exchange, error) {
	if original != nil {
		original.SetProperty(types.PropertyAggregatedCorrelationKey, key)
	}
	aggregated.SetProperty(types.PropertyAggregatedCorrelationKey, key)

	// a group completed by its first exchange was never stored
	if original != nil {
		if err := x.repositoryRemove(ctx, key, original); err != nil {
			return nil, err
		}
	}
	if !fromTimeout && x.timeouts != nil {
		x.timeouts.remove(key)
	}
	if x.closed != nil {
		x.closed.add(key)
	}
	if fromTimeout {
		if aware, ok := x.strategy.(types.TimeoutAwareAggregationStrategy); ok {
			timeout := time.Duration(-1)
			if x.CompletionTimeout > 0 {
				timeout = time.Duration(x.CompletionTimeout) * time.Millisecond
			}
			aware.Timeout(aggregated, -1, -1, timeout)
		}
	}

	if (fromTimeout && x.DiscardOnCompletionTimeout) || (aggregateFailed && x.DiscardOnAggregationFailure) {
		atomic.AddInt64(&x.stats.discarded, 1)
		types.LogAt(x.logger, "DEBUG", "Aggregation for correlation key %s discarding aggregated exchange: %s", key, aggregated.Id())
		if err := x.Repository.Confirm(ctx, aggregated.Id()); err != nil {
			types.LogAt(x.logger, "WARN", "confirming discarded exchange %s failed: %v", aggregated.Id(), err)
		}
		x.redelivery.Delete(aggregated.Id())
		return nil, nil
	}
	return aggregated, nil
}

// onSubmitCompletion hands a completed exchange to the executor. It must not
// be called while holding a stripe lock.
func (x *AggregateProcessor) onSubmitCompletion(exchange *types.Exchange) {
	id := exchange.Id()
	types.LogAt(x.logger, "DEBUG", "Aggregation complete for correlation key %v sending aggregated exchange: %s",
		exchange.Property(types.PropertyAggregatedCorrelationKey), id)
	x.inProgress.Store(id, struct{}{})
	if aware, ok := x.strategy.(types.CompletionAwareAggregationStrategy); ok {
		aware.OnCompletion(exchange)
	}
	x.count(str.ToString(exchange.Property(types.PropertyAggregatedCompletedBy)))

	task := func() {
		uow := processor.NewUnitOfWork(exchange, x.logger)
		exchange.SetUnitOfWork(uow)
		uow.AddSynchronization(&aggregateOnCompletion{aggregator: x, exchangeId: id})
		if err := types.Run(x.output, exchange); err != nil {
			types.LogAt(x.logger, "ERROR", "Error processing aggregated exchange %s: %v", id, err)
		}
		uow.Done(exchange)
	}
	if x.Executor == nil {
		task()
		return
	}
	if err := x.Executor.Submit(task); err != nil {
		task()
	}
}

func (x *AggregateProcessor) count(completedBy string) {
	atomic.AddInt64(&x.stats.totalCompleted, 1)
	switch completedBy {
	case types.CompletedByInterval:
		atomic.AddInt64(&x.stats.byInterval, 1)
	case types.CompletedByTimeout:
		atomic.AddInt64(&x.stats.byTimeout, 1)
	case types.CompletedByForce:
		atomic.AddInt64(&x.stats.byForce, 1)
	case types.CompletedByConsumer:
		atomic.AddInt64(&x.stats.byConsumer, 1)
	case types.CompletedByPredicate:
		atomic.AddInt64(&x.stats.byPredicate, 1)
	case types.CompletedBySize:
		atomic.AddInt64(&x.stats.bySize, 1)
	case types.CompletedByStrategy:
		atomic.AddInt64(&x.stats.byStrategy, 1)
	default:
		types.LogAt(x.logger, "ERROR", "Invalid value of %s property: %s", types.PropertyAggregatedCompletedBy, completedBy)
	}
}

// aggregateOnCompletion confirms a completed exchange once it has been processed
type aggregateOnCompletion struct {
	aggregator *AggregateProcessor
	exchangeId string
}

func (s *aggregateOnCompletion) OnComplete(exchange *types.Exchange) {
	x := s.aggregator
	defer x.inProgress.Delete(s.exchangeId)
	if err := x.Repository.Confirm(x.ctx, s.exchangeId); err != nil {
		types.LogAt(x.logger, "WARN", "unable to confirm exchange %s: %v", s.exchangeId, err)
		x.unconfirmed.Store(s.exchangeId, struct{}{})
	}
	x.redelivery.Delete(s.exchangeId)
}

func (s *aggregateOnCompletion) OnFailure(exchange *types.Exchange) {
	// redelivery state is kept for the next recovery attempt
	s.aggregator.inProgress.Delete(s.exchangeId)
}

func (x *AggregateProcessor) isInProgress(exchangeId string) bool {
	_, ok := x.inProgress.Load(exchangeId)
	return ok
}

// completeGroup completes the group of key under its lock. The returned
// exchange must be submitted after the lock is released.
func (x *AggregateProcessor) completeGroup(key, completedBy string, fromTimeout, discard bool) (*types.Exchange, bool) {
	unlock := x.lock(key)
	defer unlock()
	exchange, err := x.Repository.Get(x.ctx, key)
	if err != nil || exchange == nil {
		return nil, false
	}
	if !discard {
		exchange.SetProperty(types.PropertyAggregatedCompletedBy, completedBy)
	}
	answer, err := x.onCompletion(x.ctx, key, exchange, exchange, fromTimeout, discard)
	if errors.Is(err, types.ErrOptimisticLocking) {
		types.LogAt(x.logger, "DEBUG", "group %s has already been completed by another aggregator", key)
		return nil, false
	}
	if err != nil {
		types.LogAt(x.logger, "WARN", "completing group %s failed: %v", key, err)
		return nil, false
	}
	if discard {
		return nil, true
	}
	return answer, true
}

func (x *AggregateProcessor) forceCompletionOfAllGroups(exclude, completedBy string, discard bool) int {
	keys, err := x.Repository.Keys(x.ctx)
	if err != nil {
		types.LogAt(x.logger, "WARN", "listing aggregation groups failed: %v", err)
		return 0
	}
	total := 0
	for _, key := range keys {
		if key == exclude {
			continue
		}
		answer, ok := x.completeGroup(key, completedBy, false, discard)
		if ok {
			total++
		}
		if answer != nil {
			x.onSubmitCompletion(answer)
		}
	}
	if total > 0 {
		types.LogAt(x.logger, "DEBUG", "Forcing completion of all groups with %d exchanges", total)
	}
	return total
}

// ForceCompletionOfAllGroups completes every open group, returns the number of groups
// ForceCompletionOfAllGroups 强制完成所有关联组
func (x *AggregateProcessor) ForceCompletionOfAllGroups() int {
	return x.forceCompletionOfAllGroups("", types.CompletedByForce, false)
}

// ForceCompletionOfGroup completes one group, returns 1 when it existed
func (x *AggregateProcessor) ForceCompletionOfGroup(key string) int {
	answer, ok := x.completeGroup(key, types.CompletedByForce, false, false)
	if answer != nil {
		x.onSubmitCompletion(answer)
	}
	if ok {
		return 1
	}
	return 0
}

// ForceDiscardingOfAllGroups drops every open group
func (x *AggregateProcessor) ForceDiscardingOfAllGroups() int {
	return x.forceCompletionOfAllGroups("", "", true)
}

// ForceDiscardingOfGroup drops one group
func (x *AggregateProcessor) ForceDiscardingOfGroup(key string) int {
	if _, ok := x.completeGroup(key, "", false, true); ok {
		return 1
	}
	return 0
}

// checkTimeouts completes the groups whose inactivity timeout expired
func (x *AggregateProcessor) checkTimeouts() {
	for key, entry := range x.timeouts.expired(time.Now()) {
		if x.isInProgress(entry.exchangeId) {
			// retried on the next check
			x.timeouts.restore(key, entry)
			continue
		}
		types.LogAt(x.logger, "DEBUG", "Completion timeout triggered for correlation key: %s", key)
		if answer, _ := x.completeGroup(key, types.CompletedByTimeout, true, false); answer != nil {
			x.onSubmitCompletion(answer)
		}
	}
}

// completeInterval completes every group
func (x *AggregateProcessor) completeInterval() {
	if atomic.LoadInt32(&x.running) == 0 {
		return
	}
	x.forceCompletionOfAllGroups("", types.CompletedByInterval, false)
}

func (x *AggregateProcessor) restoreTimeouts() error {
	keys, err := x.Repository.Keys(x.ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		exchange, err := x.Repository.Get(x.ctx, key)
		if err != nil {
			return err
		}
		if exchange == nil {
			continue
		}
		if ms := cast.ToInt64(exchange.Property(types.PropertyAggregatedTimeout)); ms > 0 {
			x.addToTimeoutMap(key, exchange, ms)
		}
	}
	if n := x.timeouts.size(); n > 0 {
		types.LogAt(x.logger, "INFO", "Restored %d CompletionTimeout conditions", n)
	}
	return nil
}

// recover resubmits completed exchanges that were never confirmed
func (x *AggregateProcessor) recover(recoverable types.RecoverableAggregationRepository) {
	if atomic.LoadInt32(&x.running) == 0 || !atomic.CompareAndSwapInt32(&x.recovering, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&x.recovering, 0)

	snapshot := make(map[string]struct{})
	x.inProgress.Range(func(k, _ interface{}) bool {
		snapshot[k.(string)] = struct{}{}
		return true
	})
	x.unconfirmed.Range(func(k, _ interface{}) bool {
		snapshot[k.(string)] = struct{}{}
		return true
	})
	ids, err := recoverable.Scan(x.ctx)
	if err != nil {
		types.LogAt(x.logger, "WARN", "scanning for exchanges to recover failed: %v", err)
		return
	}
	for _, id := range ids {
		if atomic.LoadInt32(&x.running) == 0 {
			types.LogAt(x.logger, "INFO", "We are shutting down so stop recovering")
			return
		}
		if _, ok := snapshot[id]; ok || x.isInProgress(id) {
			if _, ok := x.unconfirmed.Load(id); ok {
				if err := recoverable.Confirm(x.ctx, id); err == nil {
					x.unconfirmed.Delete(id)
				}
			}
			continue
		}
		exchange, err := recoverable.Recover(x.ctx, id)
		if err != nil || exchange == nil {
			continue
		}
		exchange.SetErr(nil)
		exchange.SetHeader(types.HeaderRedelivered, true)
		counter := 0
		if v, ok := x.redelivery.Load(id); ok {
			counter = v.(int)
		}
		if x.MaximumRedeliveries > 0 && counter >= x.MaximumRedeliveries {
			x.moveToDeadLetter(recoverable, exchange, counter)
			continue
		}
		counter++
		x.redelivery.Store(id, counter)
		exchange.SetHeader(types.HeaderRedeliveryCounter, counter)
		if x.MaximumRedeliveries > 0 {
			exchange.SetHeader(types.HeaderRedeliveryMaxCounter, x.MaximumRedeliveries)
		}
		types.LogAt(x.logger, "DEBUG", "Delivery attempt: %d to recover aggregated exchange with id: %s", counter, id)
		x.onSubmitCompletion(exchange)
	}
}

func (x *AggregateProcessor) moveToDeadLetter(recoverable types.RecoverableAggregationRepository, exchange *types.Exchange, counter int) {
	id := exchange.Id()
	types.LogAt(x.logger, "WARN", "The recovered exchange is exhausted after %d attempts, will now be moved to dead letter channel: %s", x.MaximumRedeliveries, x.DeadLetterUri)
	exchange.SetHeader(types.HeaderRedeliveryCounter, counter)
	exchange.RemoveProperty(types.PropertyRedeliveryExhausted)
	exchange.SetRollbackOnly(false)
	if x.DeadLetter != nil {
		if err := types.Run(x.DeadLetter, exchange); err != nil {
			types.LogAt(x.logger, "ERROR", "Failed to move recovered exchange %s to dead letter channel %s: %v", id, x.DeadLetterUri, err)
			return
		}
	}
	if err := recoverable.Confirm(x.ctx, id); err != nil {
		types.LogAt(x.logger, "WARN", "unable to confirm exchange %s: %v", id, err)
	}
	x.redelivery.Delete(id)
}

func (x *AggregateProcessor) newScheduler(name string) *pool.ScheduledExecutor {
	s := pool.NewScheduledExecutor(name, nil)
	x.owned = append(x.owned, s)
	return s
}

// Start validates the configuration and starts the background checkers
// Start 校验配置并启动后台检查任务
func (x *AggregateProcessor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&x.running, 0, 1) {
		return nil
	}
	if err := x.start(); err != nil {
		atomic.StoreInt32(&x.running, 0)
		return err
	}
	return nil
}

func (x *AggregateProcessor) start() error {
	if x.correlation == nil || x.strategy == nil {
		return types.NewIllegalArgumentError("correlation expression and aggregation strategy must be set on aggregate %s", x.id)
	}
	_, x.preCompletion = x.strategy.(types.PreCompletionAwareAggregationStrategy)
	if !x.preCompletion && !x.HasCompletionCondition() && x.CompletionPredicate == nil &&
		x.CompletionSizeExpression == nil && x.CompletionTimeoutExpression == nil {
		return types.NewIllegalStateError("At least one of the completions options [completionTimeout, completionInterval, completionSize, completionPredicate, completionFromBatchConsumer] must be set")
	}
	if x.CompletionInterval > 0 && x.CompletionTimeout > 0 {
		return types.NewIllegalArgumentError("Only one of completionInterval or completionTimeout can be used, not both.")
	}
	if x.CloseCorrelationKeyOnCompletion != nil {
		x.closed = newClosedKeys(*x.CloseCorrelationKeyOnCompletion)
	}
	if x.Repository == nil {
		x.Repository = NewMemoryAggregationRepository()
	}
	if x.OptimisticLocking {
		if _, ok := x.Repository.(types.OptimisticLockingAggregationRepository); !ok {
			return types.NewIllegalArgumentError("Optimistic locking cannot be enabled without using an AggregationRepository that implements OptimisticLockingAggregationRepository")
		}
		if x.OptimisticExecutor == nil {
			x.OptimisticExecutor = x.newScheduler("AggregateOptimisticLockingExecutor")
		}
	}
	if x.Executor == nil {
		x.Executor = pool.NewCallerRunsExecutor()
	}

	if recoverable, ok := x.Repository.(types.RecoverableAggregationRepository); ok && x.RecoveryInterval > 0 {
		if x.DeadLetterUri != "" && x.MaximumRedeliveries <= 0 {
			return types.NewIllegalArgumentError("Option maximumRedeliveries must be a positive number, was: %d", x.MaximumRedeliveries)
		}
		recoverService := x.newScheduler("AggregateRecoverChecker")
		cancel, err := recoverService.ScheduleAtFixedRate(time.Second, time.Duration(x.RecoveryInterval)*time.Millisecond, func() {
			x.recover(recoverable)
		})
		if err != nil {
			return err
		}
		x.cancels = append(x.cancels, cancel)
	}

	if x.CompletionInterval > 0 || x.CompletionTimeout > 0 || x.CompletionTimeoutExpression != nil {
		if x.TimeoutChecker == nil {
			x.TimeoutChecker = x.newScheduler("AggregateTimeoutChecker")
		}
	}
	if x.CompletionInterval > 0 {
		interval := time.Duration(x.CompletionInterval) * time.Millisecond
		cancel, err := x.TimeoutChecker.ScheduleAtFixedRate(interval, interval, x.completeInterval)
		if err != nil {
			return err
		}
		x.cancels = append(x.cancels, cancel)
	}
	if x.CompletionTimeout > 0 || x.CompletionTimeoutExpression != nil {
		x.timeouts = newTimeoutMap()
		if err := x.restoreTimeouts(); err != nil {
			return err
		}
		checkInterval := x.CompletionTimeoutCheckerInterval
		if checkInterval <= 0 {
			checkInterval = DefaultCompletionTimeoutCheckerInterval
		}
		period := time.Duration(checkInterval) * time.Millisecond
		cancel, err := x.TimeoutChecker.ScheduleAtFixedRate(period, period, x.checkTimeouts)
		if err != nil {
			return err
		}
		x.cancels = append(x.cancels, cancel)
	}
	return nil
}

// Stop forces or awaits completion of the open groups when configured, then
// stops the background checkers.
// Stop 停止聚合器
func (x *AggregateProcessor) Stop(ctx context.Context) error {
	if atomic.LoadInt32(&x.running) == 0 {
		return nil
	}
	if x.ForceCompletionOnStop {
		if n := x.ForceCompletionOfAllGroups(); n > 0 {
			types.LogAt(x.logger, "INFO", "Forcing completion of all groups with %d exchanges", n)
		}
	}
	if x.ForceCompletionOnStop || x.CompleteAllOnStop {
		x.awaitCompletion(ctx)
	}
	atomic.StoreInt32(&x.running, 0)
	for _, cancel := range x.cancels {
		cancel()
	}
	x.cancels = nil
	for _, e := range x.owned {
		e.Shutdown()
	}
	if x.TimeoutChecker != nil && x.isOwned(x.TimeoutChecker) {
		x.TimeoutChecker = nil
	}
	if x.OptimisticExecutor != nil && x.isOwned(x.OptimisticExecutor) {
		x.OptimisticExecutor = nil
	}
	x.owned = nil
	if x.closed != nil {
		x.closed.clear()
	}
	x.batchKeys = skipset.NewString()
	x.redelivery = sync.Map{}
	return nil
}

func (x *AggregateProcessor) isOwned(e types.ExecutorService) bool {
	for _, o := range x.owned {
		if o == e {
			return true
		}
	}
	return false
}

// awaitCompletion waits until no group is open and no completed exchange is in flight
func (x *AggregateProcessor) awaitCompletion(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		pending := x.InProgressCompleteExchanges()
		if x.CompleteAllOnStop {
			if keys, err := x.Repository.Keys(x.ctx); err == nil {
				pending += len(keys)
			}
		}
		if pending == 0 {
			return
		}
		select {
		case <-ctx.Done():
			types.LogAt(x.logger, "WARN", "Interrupted while waiting for %d inflight exchanges to complete", pending)
			return
		case <-ticker.C:
		}
	}
}

// InProgressCompleteExchanges number of completed exchanges being processed
func (x *AggregateProcessor) InProgressCompleteExchanges() int {
	n := 0
	x.inProgress.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// ClosedCorrelationKeysCacheSize number of closed keys remembered
func (x *AggregateProcessor) ClosedCorrelationKeysCacheSize() int {
	if x.closed == nil {
		return 0
	}
	return x.closed.size()
}

// ClearClosedCorrelationKeysCache forgets every closed key
func (x *AggregateProcessor) ClearClosedCorrelationKeysCache() {
	if x.closed != nil {
		x.closed.clear()
	}
}

// Statistics returns a snapshot of the counters
func (x *AggregateProcessor) Statistics() Statistics {
	return Statistics{
		TotalIn:                  atomic.LoadInt64(&x.stats.totalIn),
		TotalCompleted:           atomic.LoadInt64(&x.stats.totalCompleted),
		CompletedBySize:          atomic.LoadInt64(&x.stats.bySize),
		CompletedByStrategy:      atomic.LoadInt64(&x.stats.byStrategy),
		CompletedByInterval:      atomic.LoadInt64(&x.stats.byInterval),
		CompletedByTimeout:       atomic.LoadInt64(&x.stats.byTimeout),
		CompletedByPredicate:     atomic.LoadInt64(&x.stats.byPredicate),
		CompletedByBatchConsumer: atomic.LoadInt64(&x.stats.byConsumer),
		CompletedByForce:         atomic.LoadInt64(&x.stats.byForce),
		Discarded:                atomic.LoadInt64(&x.stats.discarded),
	}
}

// ResetStatistics sets every counter to zero
func (x *AggregateProcessor) ResetStatistics() {
	for _, c := range []*int64{&x.stats.totalIn, &x.stats.totalCompleted, &x.stats.bySize, &x.stats.byStrategy,
		&x.stats.byInterval, &x.stats.byTimeout, &x.stats.byPredicate, &x.stats.byConsumer, &x.stats.byForce, &x.stats.discarded} {
		atomic.StoreInt64(c, 0)
	}
}

func isCompleteAllGroups(exchange *types.Exchange) bool {
	return cast.ToBool(exchange.Header(types.HeaderAggregationCompleteAllGroups)) ||
		cast.ToBool(exchange.Property(types.HeaderAggregationCompleteAllGroups))
}

func removeFlagCompleteAllGroups(exchange *types.Exchange) {
	exchange.Message().RemoveHeader(types.HeaderAggregationCompleteAllGroups)
	exchange.RemoveProperty(types.HeaderAggregationCompleteAllGroups)
}

func isCompleteCurrentGroup(exchange *types.Exchange) bool {
	return cast.ToBool(exchange.Header(types.HeaderAggregationCompleteCurrentGroup)) ||
		cast.ToBool(exchange.Property(types.HeaderAggregationCompleteCurrentGroup))
}

func removeFlagCompleteCurrentGroup(exchange *types.Exchange) {
	exchange.Message().RemoveHeader(types.HeaderAggregationCompleteCurrentGroup)
	exchange.RemoveProperty(types.HeaderAggregationCompleteCurrentGroup)
}
