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

// Package multicast sends copies of an exchange to several processors,
// sequentially or in parallel, and folds the replies with an aggregation
// strategy. The splitter and the recipient list are built on it.
//
// Package multicast 多播处理器，把交换副本发送到多个处理器并聚合结果，拆分器和收件人列表基于它实现。
package multicast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor/aggregate"
)

// Pair a branch exchange and the processor it is sent to
type Pair struct {
	Index     int
	Processor types.Processor
	Exchange  *types.Exchange
}

// PairSource yields the branches of one multicast. ok is false once exhausted.
type PairSource interface {
	Next() (pair *Pair, ok bool, err error)
}

// PairFactory creates the branches for an incoming exchange
type PairFactory func(exchange *types.Exchange) (PairSource, error)

type slicePairs struct {
	pairs []*Pair
	i     int
}

func (s *slicePairs) Next() (*Pair, bool, error) {
	if s.i >= len(s.pairs) {
		return nil, false, nil
	}
	p := s.pairs[s.i]
	s.i++
	return p, true, nil
}

// NewPairs wraps a fixed list of pairs
func NewPairs(pairs []*Pair) PairSource {
	return &slicePairs{pairs: pairs}
}

// Options shared by multicast, split and recipient list
// Options 多播、拆分和收件人列表共用的配置
type Options struct {
	// ParallelProcessing dispatches the branches on the executor
	ParallelProcessing bool `json:"parallelProcessing" mapstructure:"parallelProcessing"`
	// ParallelAggregate allows concurrent calls of the aggregation strategy
	ParallelAggregate bool `json:"parallelAggregate" mapstructure:"parallelAggregate"`
	// Streaming folds replies in completion order instead of branch order
	Streaming bool `json:"streaming" mapstructure:"streaming"`
	// StopOnException stops dispatching after the first failed branch
	StopOnException bool `json:"stopOnException" mapstructure:"stopOnException"`
	// Timeout milliseconds, parallel processing only
	Timeout int64 `json:"timeout" mapstructure:"timeout"`
	// ShareUnitOfWork branches share the unit of work of the incoming exchange
	ShareUnitOfWork bool `json:"shareUnitOfWork" mapstructure:"shareUnitOfWork"`
}

// Validate checks option combinations
func (o Options) Validate() error {
	if o.Timeout > 0 && !o.ParallelProcessing {
		return types.NewIllegalArgumentError("Timeout is used but ParallelProcessing has not been enabled.")
	}
	return nil
}

var (
	_ types.Processor = (*MulticastProcessor)(nil)
	_ types.IdAware   = (*MulticastProcessor)(nil)
)

// MulticastProcessor sends a copy of the exchange to each branch and folds the
// replies into the incoming exchange.
//
// MulticastProcessor 多播处理器
type MulticastProcessor struct {
	Options
	// Executor runs parallel branches, a goroutine per branch when nil
	Executor types.Executor
	// OnPrepare runs on each branch exchange before it is dispatched
	OnPrepare types.Processor

	id       string
	pairs    PairFactory
	children []types.Processor
	strategy types.AggregationStrategy
	logger   types.Logger
}

// NewMulticastProcessor sends to every processor in order. strategy defaults to use latest.
// NewMulticastProcessor 创建多播处理器
func NewMulticastProcessor(processors []types.Processor, strategy types.AggregationStrategy, options Options, logger types.Logger) (*MulticastProcessor, error) {
	x, err := newMulticast(nil, strategy, options, logger)
	if err != nil {
		return nil, err
	}
	x.children = processors
	x.pairs = func(exchange *types.Exchange) (PairSource, error) {
		pairs := make([]*Pair, 0, len(processors))
		for i, p := range processors {
			c := x.NewBranchExchange(exchange)
			c.SetProperty(types.PropertyMulticastIndex, i)
			c.SetProperty(types.PropertyMulticastComplete, i == len(processors)-1)
			pairs = append(pairs, &Pair{Index: i, Processor: p, Exchange: c})
		}
		return NewPairs(pairs), nil
	}
	return x, nil
}

func newMulticast(pairs PairFactory, strategy types.AggregationStrategy, options Options, logger types.Logger) (*MulticastProcessor, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		strategy = aggregate.UseLatestStrategy{}
	}
	if options.ShareUnitOfWork {
		strategy = &aggregate.ShareUnitOfWorkStrategy{Delegate: strategy}
	}
	return &MulticastProcessor{
		Options:  options,
		pairs:    pairs,
		strategy: strategy,
		logger:   types.NewLogger(logger),
	}, nil
}

func (x *MulticastProcessor) Id() string {
	return x.id
}

func (x *MulticastProcessor) SetId(id string) {
	x.id = id
}

// Strategy the aggregation strategy in use
func (x *MulticastProcessor) Strategy() types.AggregationStrategy {
	return x.strategy
}

func (x *MulticastProcessor) Next() []types.Processor {
	return x.children
}

// NewBranchExchange copies exchange for one branch. The copy gets a new id and
// shares the unit of work only when ShareUnitOfWork is set.
func (x *MulticastProcessor) NewBranchExchange(exchange *types.Exchange) *types.Exchange {
	c := exchange.CorrelatedCopy()
	if x.ShareUnitOfWork {
		c.SetUnitOfWork(exchange.UnitOfWork())
	} else {
		c.SetUnitOfWork(nil)
	}
	c.SetRouteStop(false)
	return c
}

func (x *MulticastProcessor) Process(exchange *types.Exchange) error {
	source, err := x.pairs(exchange)
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	var result *types.Exchange
	if x.ParallelProcessing {
		result, err = x.doParallel(exchange, source)
	} else {
		result, err = x.doSequential(source)
	}
	if err != nil {
		exchange.SetErr(err)
		return err
	}
	if result != nil && result != exchange {
		exchange.CopyResultsFrom(result)
		// a stopped branch must not stop the route of the incoming exchange
		exchange.SetRouteStop(false)
	}
	return exchange.Err()
}

// prepare runs OnPrepare on the branch exchange, false when it failed
func (x *MulticastProcessor) prepare(pair *Pair) bool {
	if x.OnPrepare == nil {
		return true
	}
	if err := types.Run(x.OnPrepare, pair.Exchange); err != nil && !pair.Exchange.IsFailed() {
		pair.Exchange.SetErr(err)
	}
	if pair.Exchange.IsFailed() {
		types.LogAt(x.logger, "DEBUG", "multicast %s onPrepare of branch %d failed: %v", x.id, pair.Index, pair.Exchange.Err())
		return false
	}
	return true
}

func (x *MulticastProcessor) doSequential(source PairSource) (*types.Exchange, error) {
	var result *types.Exchange
	for {
		pair, ok, err := source.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return result, nil
		}
		if x.prepare(pair) {
			_ = types.Run(pair.Processor, pair.Exchange)
		}
		if x.StopOnException && pair.Exchange.IsFailed() {
			types.LogAt(x.logger, "DEBUG", "multicast %s stops after branch %d failed: %v", x.id, pair.Index, pair.Exchange.Err())
			return pair.Exchange, nil
		}
		if result, err = x.strategy.Aggregate(result, pair.Exchange); err != nil {
			return nil, types.NewExchangeError(pair.Exchange, err, "Error occurred during aggregation")
		}
	}
}

// parallelState collects the replies of a parallel multicast
type parallelState struct {
	mu       sync.Mutex
	replies  map[int]*types.Exchange
	result   *types.Exchange
	failed   *types.Exchange
	aggErr   error
	finished bool
	stopped  int32
}

func (x *MulticastProcessor) doParallel(exchange *types.Exchange, source PairSource) (*types.Exchange, error) {
	state := &parallelState{replies: make(map[int]*types.Exchange)}
	var aggregateMu sync.Mutex
	var wg sync.WaitGroup
	total := 0
	start := time.Now()

	run := func(pair *Pair, prepared bool) {
		defer wg.Done()
		if prepared {
			_ = types.Run(pair.Processor, pair.Exchange)
		}
		if x.StopOnException && pair.Exchange.IsFailed() {
			if atomic.CompareAndSwapInt32(&state.stopped, 0, 1) {
				state.mu.Lock()
				state.failed = pair.Exchange
				state.mu.Unlock()
			}
			return
		}
		state.mu.Lock()
		if state.finished {
			state.mu.Unlock()
			return
		}
		if !x.Streaming {
			state.replies[pair.Index] = pair.Exchange
			state.mu.Unlock()
			return
		}
		state.replies[pair.Index] = nil
		old := state.result
		state.mu.Unlock()
		x.fold(state, &aggregateMu, old, pair.Exchange)
	}

	for atomic.LoadInt32(&state.stopped) == 0 {
		pair, ok, err := source.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		prepared := x.prepare(pair)
		if !prepared && x.StopOnException {
			if atomic.CompareAndSwapInt32(&state.stopped, 0, 1) {
				state.mu.Lock()
				state.failed = pair.Exchange
				state.mu.Unlock()
			}
			break
		}
		total++
		wg.Add(1)
		task := func() { run(pair, prepared) }
		if x.Executor == nil {
			go task()
		} else if err := x.Executor.Submit(task); err != nil {
			task()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timedOut := false
	if x.Timeout > 0 {
		timeout := time.Duration(x.Timeout) * time.Millisecond
		timer := time.NewTimer(timeout - time.Since(start))
		select {
		case <-done:
		case <-timer.C:
			timedOut = true
		}
		timer.Stop()
	} else {
		select {
		case <-done:
		case <-exchange.Context().Done():
			return nil, exchange.Context().Err()
		}
	}

	state.mu.Lock()
	state.finished = true
	replies := state.replies
	failed := state.failed
	state.mu.Unlock()

	if failed != nil {
		return failed, nil
	}
	if x.Streaming {
		// concurrent folds of late branches are finished by now unless timed out
		aggregateMu.Lock()
		defer aggregateMu.Unlock()
		state.mu.Lock()
		result, err := state.result, state.aggErr
		state.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if timedOut {
			x.onTimeout(result, firstMissing(replies, total), total)
		}
		return result, nil
	}

	var result *types.Exchange
	for i := 0; i < total; i++ {
		reply, ok := replies[i]
		if !ok {
			if timedOut {
				x.onTimeout(result, i, total)
			}
			break
		}
		var err error
		if result, err = x.strategy.Aggregate(result, reply); err != nil {
			return nil, types.NewExchangeError(reply, err, "Error occurred during aggregation")
		}
	}
	return result, nil
}

// fold aggregates a streamed reply. Unless ParallelAggregate is set the
// strategy is never called concurrently.
func (x *MulticastProcessor) fold(state *parallelState, aggregateMu *sync.Mutex, old, reply *types.Exchange) {
	if !x.ParallelAggregate {
		aggregateMu.Lock()
		defer aggregateMu.Unlock()
		state.mu.Lock()
		old = state.result
		state.mu.Unlock()
	}
	result, err := x.strategy.Aggregate(old, reply)
	state.mu.Lock()
	defer state.mu.Unlock()
	if err != nil {
		if state.aggErr == nil {
			state.aggErr = types.NewExchangeError(reply, err, "Error occurred during aggregation")
		}
		return
	}
	if !state.finished {
		state.result = result
	}
}

func (x *MulticastProcessor) onTimeout(result *types.Exchange, index, total int) {
	timeout := time.Duration(x.Timeout) * time.Millisecond
	types.LogAt(x.logger, "DEBUG", "multicast %s timed out after %s waiting for branch %d of %d", x.id, timeout, index, total)
	if aware, ok := x.strategy.(types.TimeoutAwareAggregationStrategy); ok {
		aware.Timeout(result, index, total, timeout)
	} else if shared, ok := x.strategy.(*aggregate.ShareUnitOfWorkStrategy); ok {
		if aware, ok := shared.Delegate.(types.TimeoutAwareAggregationStrategy); ok {
			aware.Timeout(result, index, total, timeout)
		}
	}
}

func firstMissing(replies map[int]*types.Exchange, total int) int {
	for i := 0; i < total; i++ {
		if _, ok := replies[i]; !ok {
			return i
		}
	}
	return total
}
