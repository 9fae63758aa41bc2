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

package resequencer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/processor"
)

const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 1000
)

// BatchConfig batch resequencer configuration, times in milliseconds
type BatchConfig struct {
	BatchSize              int   `json:"batchSize" mapstructure:"batchSize"`
	BatchTimeout           int64 `json:"batchTimeout" mapstructure:"batchTimeout"`
	AllowDuplicates        bool  `json:"allowDuplicates" mapstructure:"allowDuplicates"`
	Reverse                bool  `json:"reverse" mapstructure:"reverse"`
	IgnoreInvalidExchanges bool  `json:"ignoreInvalidExchanges" mapstructure:"ignoreInvalidExchanges"`
}

// DefaultBatchConfig batch of 100 or one second
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout}
}

var (
	_ types.Processor = (*BatchResequencer)(nil)
	_ types.Service   = (*BatchResequencer)(nil)
)

// BatchResequencer collects exchanges until BatchSize is reached or
// BatchTimeout elapses, then sends them to the output sorted by the
// expression value. Process returns as soon as the exchange is queued.
//
// BatchResequencer 批量重排序处理器
type BatchResequencer struct {
	BatchConfig
	Comparator Comparator

	id         string
	expression types.Expression
	output     types.Processor
	logger     types.Logger

	mu      sync.Mutex
	queue   *deque.Deque[*element]
	seq     uint64
	full    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewBatchResequencer creates a batch resequencer. The output is run in a new unit of work.
func NewBatchResequencer(expression types.Expression, output types.Processor, config BatchConfig, logger types.Logger) *BatchResequencer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}
	logger = types.NewLogger(logger)
	return &BatchResequencer{
		BatchConfig: config,
		Comparator:  NaturalComparator{},
		expression:  expression,
		output:      processor.NewUnitOfWorkProcessor(output, logger),
		logger:      logger,
		queue:       deque.New[*element](),
		full:        make(chan struct{}, 1),
	}
}

func (x *BatchResequencer) Id() string {
	return x.id
}

func (x *BatchResequencer) SetId(id string) {
	x.id = id
}

func (x *BatchResequencer) Next() []types.Processor {
	return []types.Processor{x.output}
}

func (x *BatchResequencer) Process(exchange *types.Exchange) error {
	value, err := x.expression.Evaluate(exchange)
	if err != nil || value == nil {
		if x.IgnoreInvalidExchanges {
			types.LogAt(x.logger, "DEBUG", "resequencer %s ignores invalid exchange %s", x.id, exchange.Id())
			return nil
		}
		if err == nil {
			err = types.NewExchangeError(exchange, nil, "resequence expression evaluated to nil")
		}
		exchange.SetErr(err)
		return err
	}
	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		err := types.NewIllegalStateError("resequencer %s is not started", x.id)
		exchange.SetErr(err)
		return err
	}
	x.seq++
	c := exchange.Copy()
	c.SetUnitOfWork(nil)
	x.queue.PushBack(&element{seq: x.seq, value: value, exchange: c})
	full := x.queue.Len() >= x.BatchSize
	x.mu.Unlock()
	if full {
		x.signal()
	}
	return nil
}

func (x *BatchResequencer) signal() {
	select {
	case x.full <- struct{}{}:
	default:
	}
}

// QueueSize number of exchanges waiting for their batch
func (x *BatchResequencer) QueueSize() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.queue.Len()
}

func (x *BatchResequencer) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.running {
		return nil
	}
	if x.expression == nil {
		return types.NewIllegalArgumentError("resequence expression is required")
	}
	x.running = true
	x.stop = make(chan struct{})
	x.done = make(chan struct{})
	go x.run(x.stop, x.done)
	return nil
}

// Stop sends the queued exchanges and stops the sender
func (x *BatchResequencer) Stop(ctx context.Context) error {
	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return nil
	}
	x.running = false
	close(x.stop)
	done := x.done
	x.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *BatchResequencer) run(stop, done chan struct{}) {
	defer close(done)
	timeout := time.Duration(x.BatchTimeout) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			for x.sendBatch() > 0 {
			}
			return
		case <-x.full:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		x.sendBatch()
		timer.Reset(timeout)
	}
}

// sendBatch drains up to BatchSize exchanges, sorts and sends them
func (x *BatchResequencer) sendBatch() int {
	x.mu.Lock()
	n := x.queue.Len()
	if n > x.BatchSize {
		n = x.BatchSize
	}
	batch := make([]*element, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, x.queue.PopFront())
	}
	more := x.queue.Len() >= x.BatchSize
	x.mu.Unlock()
	if more {
		x.signal()
	}
	if n == 0 {
		return 0
	}

	comparator := x.Comparator
	if x.Reverse {
		comparator = ReverseComparator{Comparator: comparator}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return comparator.Compare(batch[i].value, batch[j].value) < 0
	})
	if !x.AllowDuplicates {
		batch = dedupe(batch, comparator)
	}
	for _, e := range batch {
		if err := types.Run(x.output, e.exchange); err != nil {
			types.LogAt(x.logger, "WARN", "resequencer %s failed to deliver exchange %s: %v", x.id, e.exchange.Id(), err)
		}
	}
	return n
}

// dedupe keeps the first of each run of equal values in a sorted batch
func dedupe(batch []*element, comparator Comparator) []*element {
	out := batch[:0]
	for i, e := range batch {
		if i > 0 && comparator.Compare(out[len(out)-1].value, e.value) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}
